// Package store persists checkpoints, alerts and metrics snapshots in BadgerDB.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	apperrors "migration-guard/internal/errors"
)

// Collections used by the engines
const (
	CollectionCheckpoints = "checkpoint"
	CollectionAlerts      = "alert"
	CollectionMetrics     = "metrics"
)

// Store is the durable record store consumed by the engines. Records are
// JSON documents addressed by collection and id.
type Store interface {
	Put(ctx context.Context, collection, id string, value interface{}) error
	Get(ctx context.Context, collection, id string, out interface{}) error
	Delete(ctx context.Context, collection, id string) error
	// List calls fn with the raw JSON of every record in collection, in key order
	List(ctx context.Context, collection string, fn func(id string, data []byte) error) error
	Close() error
}

// Config for opening a BadgerStore
type Config struct {
	Path     string
	InMemory bool
}

// BadgerStore implements Store on top of BadgerDB
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) a badger database
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, apperrors.NewConfigurationError("store path is required for persistent store", "store.path")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// OpenInMemory opens a throwaway store, mainly for tests
func OpenInMemory() (*BadgerStore, error) {
	return Open(Config{InMemory: true})
}

func recordKey(collection, id string) []byte {
	return []byte(collection + ":" + id)
}

func collectionPrefix(collection string) []byte {
	return []byte(collection + ":")
}

// Put creates or replaces a record
func (s *BadgerStore) Put(ctx context.Context, collection, id string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", collection, id, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(collection, id), data); err != nil {
			return fmt.Errorf("set %s %s: %w", collection, id, err)
		}
		return nil
	})
}

// Get decodes a record into out, returning a not_found error when absent
func (s *BadgerStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(collection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperrors.NewNotFoundError(collection, id)
		}
		if err != nil {
			return fmt.Errorf("get %s %s: %w", collection, id, err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// Delete removes a record; deleting a missing record is not an error
func (s *BadgerStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(recordKey(collection, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete %s %s: %w", collection, id, err)
		}
		return nil
	})
}

// List iterates every record of a collection
func (s *BadgerStore) List(ctx context.Context, collection string, fn func(id string, data []byte) error) error {
	prefix := collectionPrefix(collection)

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			id := string(item.Key()[len(prefix):])
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s %s: %w", collection, id, err)
			}
			if err := fn(id, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// ListAs decodes every record of a collection into T and keeps those
// accepted by keep (nil keeps all). Records that fail to decode are skipped.
func ListAs[T any](ctx context.Context, s Store, collection string, keep func(T) bool) ([]T, error) {
	result := make([]T, 0)
	err := s.List(ctx, collection, func(_ string, data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		if keep == nil || keep(v) {
			result = append(result, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
