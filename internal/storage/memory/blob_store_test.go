package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/lake"
)

func TestBlobStorePutCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	require.NoError(t, store.Put(context.Background(), "b", "path/page.html", "text/html", payload))
	payload[0] = 'C'

	got, err := store.Get(context.Background(), "b", "path/page.html")
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
	assert.Equal(t, "text/html", store.ContentType("b", "path/page.html"))
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.Get(context.Background(), "b", "nope")
	require.ErrorIs(t, err, lake.ErrObjectNotFound)

	ok, err := store.Exists(context.Background(), "b", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlobStoreListIsSortedAndScoped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore()
	for _, key := range []string{"gold/b", "gold/a", "silver/a"} {
		require.NoError(t, store.Put(ctx, "bucket", key, "", nil))
	}
	require.NoError(t, store.Put(ctx, "other", "gold/c", "", nil))

	keys, err := store.List(ctx, "bucket", "gold/")
	require.NoError(t, err)
	assert.Equal(t, []string{"gold/a", "gold/b"}, keys)
	assert.Equal(t, 3, store.Count("bucket"))
	assert.Equal(t, 4, store.Puts())
}
