package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the same contract against every Store implementation.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	switch name {
	case "local":
		store, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)
		return store
	case "memory":
		return NewMemoryStore()
	default:
		t.Fatalf("unknown store %q", name)
		return nil
	}
}

func TestStore_Contract(t *testing.T) {
	for _, impl := range []string{"local", "memory"} {
		t.Run(impl, func(t *testing.T) {
			store := storeUnderTest(t, impl)
			ctx := context.Background()

			_, err := store.Open(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, "snap-1/idmap.txt", []byte("a:0-4\n")))

			w, err := store.Create(ctx, "snap-1/matrix.f32")
			require.NoError(t, err)
			_, err = w.Write([]byte{1, 2, 3, 4})
			require.NoError(t, err)
			_, err = w.Write([]byte{5, 6})
			require.NoError(t, err)
			require.NoError(t, w.Close())

			blob, err := store.Open(ctx, "snap-1/matrix.f32")
			require.NoError(t, err)
			assert.Equal(t, int64(6), blob.Size())

			buf := make([]byte, 3)
			n, err := blob.ReadAt(ctx, buf, 2)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			assert.Equal(t, []byte{3, 4, 5}, buf)

			r, err := blob.Reader(ctx)
			require.NoError(t, err)
			all, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, all)
			require.NoError(t, blob.Close())

			names, err := store.List(ctx, "snap-1/")
			require.NoError(t, err)
			assert.Equal(t, []string{"snap-1/idmap.txt", "snap-1/matrix.f32"}, names)

			names, err = store.List(ctx, "snap-2/")
			require.NoError(t, err)
			assert.Empty(t, names)

			require.NoError(t, store.Delete(ctx, "snap-1/matrix.f32"))
			_, err = store.Open(ctx, "snap-1/matrix.f32")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing blob is not an error.
			assert.NoError(t, store.Delete(ctx, "snap-1/matrix.f32"))
		})
	}
}

func TestStore_OverwriteReplacesContent(t *testing.T) {
	store := storeUnderTest(t, "local")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("snap-1\n")))
	require.NoError(t, store.Put(ctx, "CURRENT", []byte("snap-2\n")))

	blob, err := store.Open(ctx, "CURRENT")
	require.NoError(t, err)
	defer blob.Close()
	r, err := blob.Reader(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "snap-2\n", string(data))
}

func TestLocalStore_ListSkipsStagedBlobs(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// An unclosed Create leaves a temp file that must stay invisible.
	_, err = store.Create(ctx, "snap-1/matrix.f32")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "snap-1/idmap.txt", []byte("a:0-4\n")))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-1/idmap.txt"}, names)
}
