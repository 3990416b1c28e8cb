package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "migration-guard/internal/errors"
)

type record struct {
	ID    string `json:"id"`
	Phase string `json:"phase"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, CollectionCheckpoints, "cp-1", record{ID: "cp-1", Phase: "INITIAL", Count: 3}))

	var got record
	require.NoError(t, s.Get(ctx, CollectionCheckpoints, "cp-1", &got))
	assert.Equal(t, record{ID: "cp-1", Phase: "INITIAL", Count: 3}, got)

	// update replaces
	require.NoError(t, s.Put(ctx, CollectionCheckpoints, "cp-1", record{ID: "cp-1", Phase: "INITIAL", Count: 4}))
	require.NoError(t, s.Get(ctx, CollectionCheckpoints, "cp-1", &got))
	assert.Equal(t, 4, got.Count)
}

func TestBadgerStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	var got record
	err := s.Get(context.Background(), CollectionAlerts, "nope", &got)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestBadgerStore_ListIsScopedToCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, CollectionCheckpoints, "a", record{ID: "a", Phase: "INITIAL"}))
	require.NoError(t, s.Put(ctx, CollectionCheckpoints, "b", record{ID: "b", Phase: "DATA_MIGRATED"}))
	require.NoError(t, s.Put(ctx, CollectionAlerts, "c", record{ID: "c"}))

	all, err := ListAs[record](ctx, s, CollectionCheckpoints, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := ListAs(ctx, s, CollectionCheckpoints, func(r record) bool { return r.Phase == "DATA_MIGRATED" })
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].ID)

	var ids []string
	require.NoError(t, s.List(ctx, CollectionAlerts, func(id string, _ []byte) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Equal(t, []string{"c"}, ids)
}

func TestBadgerStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, CollectionMetrics, "m", record{ID: "m"}))
	require.NoError(t, s.Delete(ctx, CollectionMetrics, "m"))
	require.NoError(t, s.Delete(ctx, CollectionMetrics, "m"))

	var got record
	assert.True(t, apperrors.IsNotFound(s.Get(ctx, CollectionMetrics, "m", &got)))
}

func TestBadgerStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, CollectionAlerts, "a1", record{ID: "a1"}))
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	var got record
	require.NoError(t, reopened.Get(ctx, CollectionAlerts, "a1", &got))
	assert.Equal(t, "a1", got.ID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
}
