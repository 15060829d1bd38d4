// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/lake"
	"github.com/JakeFAU/hidden-spot/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "lake")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutGetList(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	key := "silver/reviews/store_id=abc/dt=2025-01-01/run_id=r1/reviews.jsonl"
	require.NoError(t, store.Put(ctx, "silver", key, "application/x-ndjson", []byte("{}\n")))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(tempDir, "silver", filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(raw))

	got, err := store.Get(ctx, "silver", key)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	ok, err := store.Exists(ctx, "silver", key)
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := store.List(ctx, "silver", "silver/reviews/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	keys, err = store.List(ctx, "empty-bucket", "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestGetMissing(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "gold", "missing.json")
	require.ErrorIs(t, err, lake.ErrObjectNotFound)

	ok, err := store.Exists(context.Background(), "gold", "missing.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPathTraversalRejected(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	err = store.Put(context.Background(), "gold", "../../escape", "", []byte("x"))
	assert.ErrorContains(t, err, "path traversal")
}
