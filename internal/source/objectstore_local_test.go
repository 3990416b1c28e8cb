package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/config"
)

func TestLocalObjectStore_RoundTrip(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalObjectStore(base)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.UploadObject(ctx, "media", "img/logo.png", []byte("png"), UploadOptions{}))
	require.NoError(t, store.UploadObject(ctx, "media", "readme.txt", []byte("hello"), UploadOptions{}))

	buckets, err := store.ListBuckets(ctx)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "media", buckets[0].Name)

	root, err := store.ListObjects(ctx, "media", "")
	require.NoError(t, err)
	require.Len(t, root, 2)
	assert.Equal(t, "img", root[0].Path)
	assert.True(t, root[0].IsDir)
	assert.Equal(t, int64(5), root[1].Size)

	nested, err := store.ListObjects(ctx, "media", "img")
	require.NoError(t, err)
	require.Len(t, nested, 1)
	assert.Equal(t, "img/logo.png", nested[0].Path)

	data, err := store.DownloadObject(ctx, "media", "img/logo.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	err = store.UploadObject(ctx, "media", "readme.txt", []byte("again"), UploadOptions{})
	assert.ErrorIs(t, err, ErrObjectExists)
	require.NoError(t, store.UploadObject(ctx, "media", "readme.txt", []byte("again"), UploadOptions{Overwrite: true}))

	_, err = os.Stat(filepath.Join(base, "media", "readme.txt.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalObjectStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.DownloadObject(ctx, "media", "../../etc/passwd")
	assert.Error(t, err)
	_, err = store.ListObjects(ctx, "..", "")
	assert.Error(t, err)
}

func TestNewObjectStore_Providers(t *testing.T) {
	ctx := context.Background()

	store, err := NewObjectStore(ctx, config.ObjectStorageConfig{Provider: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryObjectStore{}, store)

	store, err = NewObjectStore(ctx, config.ObjectStorageConfig{Provider: "local", Local: &config.LocalConfig{BasePath: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &LocalObjectStore{}, store)

	store, err = NewObjectStore(ctx, config.ObjectStorageConfig{
		Provider: "s3",
		S3:       &config.S3Config{Region: "us-east-1", AccessKey: "k", SecretKey: "s"},
	})
	require.NoError(t, err)
	assert.IsType(t, &S3ObjectStore{}, store)

	_, err = NewObjectStore(ctx, config.ObjectStorageConfig{Provider: "ftp"})
	assert.Error(t, err)
}
