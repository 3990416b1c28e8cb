package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalObjectStore maps buckets onto subdirectories of a base path
type LocalObjectStore struct {
	basePath string
}

// NewLocalObjectStore creates the base directory if missing
func NewLocalObjectStore(basePath string) (*LocalObjectStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local object store base path is required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store directory %s: %w", basePath, err)
	}
	return &LocalObjectStore{basePath: basePath}, nil
}

func (l *LocalObjectStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	var buckets []Bucket
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b := Bucket{Name: e.Name()}
		if info, err := e.Info(); err == nil {
			b.CreatedAt = info.ModTime().UTC()
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

func (l *LocalObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := l.resolve(bucket, prefix)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, err)
	}

	base := strings.Trim(prefix, "/")
	var out []ObjectEntry
	for _, e := range entries {
		objectPath := e.Name()
		if base != "" {
			objectPath = base + "/" + e.Name()
		}
		entry := ObjectEntry{Name: e.Name(), Path: objectPath, IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			entry.Size = info.Size()
			entry.UpdatedAt = info.ModTime().UTC()
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (l *LocalObjectStore) DownloadObject(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(bucket, objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", bucket, objectPath, err)
	}
	return data, nil
}

func (l *LocalObjectStore) UploadObject(ctx context.Context, bucket, objectPath string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(bucket, objectPath)
	if err != nil {
		return err
	}

	if !opts.Overwrite {
		if _, err := os.Stat(full); err == nil {
			return fmt.Errorf("%s/%s: %w", bucket, objectPath, ErrObjectExists)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat %s/%s: %w", bucket, objectPath, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", bucket, objectPath, err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", bucket, objectPath, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

// resolve joins bucket and key under basePath, rejecting traversal
func (l *LocalObjectStore) resolve(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	root := filepath.Join(l.basePath, bucket)
	full := filepath.Join(root, filepath.FromSlash(strings.Trim(key, "/")))
	if full != root && !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("object path %q escapes bucket %s", key, bucket)
	}
	return full, nil
}
