package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/errors"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := writeSource(t, "hello world")
	objectPath := "user_files/abc_hello.txt"
	require.NoError(t, store.Upload(ctx, src, objectPath))

	exists, err := store.Exists(ctx, objectPath)
	require.NoError(t, err)
	assert.True(t, exists)

	dst := filepath.Join(t.TempDir(), "nested", "downloaded.txt")
	require.NoError(t, store.Download(ctx, objectPath, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	require.NoError(t, store.Delete(ctx, objectPath))
	exists, err = store.Exists(ctx, objectPath)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, objectPath))
}

func TestLocalStorage_UploadOverwrites(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, writeSource(t, "first"), "a/b.txt"))
	require.NoError(t, store.Upload(ctx, writeSource(t, "second"), "a/b.txt"))

	dst := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, store.Download(ctx, "a/b.txt", dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = store.Download(context.Background(), "nonexistent/object.txt", filepath.Join(t.TempDir(), "x"))
	assert.True(t, errors.Is(err, ErrObjectNotFound))
	assert.Equal(t, errors.CodeObjectNotFound, errors.GetCode(err))
}

func TestLocalStorage_UploadMissingSource(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = store.Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), "x.txt")
	assert.Equal(t, errors.CodeUploadFailed, errors.GetCode(err))
	assert.Equal(t, errors.ErrCategoryStorage, errors.GetCategory(err))
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := writeSource(t, "x")
	for _, p := range []string{"user_files/a.txt", "user_files/b.txt", "thumbnails/a.png"} {
		require.NoError(t, store.Upload(ctx, src, p))
	}

	objects, err := store.ListObjects(ctx, "user_files")
	require.NoError(t, err)
	sort.Strings(objects)
	assert.Equal(t, []string{"user_files/a.txt", "user_files/b.txt"}, objects)

	objects, err = store.ListObjects(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Exists(context.Background(), "../outside.txt")
	assert.Error(t, err)
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Upload(ctx, writeSource(t, "x"), "a.txt"), context.Canceled)
}
