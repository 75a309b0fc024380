package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/codec"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Store{
		"memory": NewBlobStore(blobstore.NewMemoryStore()),
		"local":  NewBlobStore(blobstore.NewLocalStore(t.TempDir())),
		"sqlite": db,
	}
}

func TestStores(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "a")
			require.ErrorIs(t, err, ErrNotFound)

			ok, err := s.Exists(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, "a", []byte(`{"v":1}`)))
			require.NoError(t, s.Put(ctx, "_definitions/x", []byte(`{}`)))
			require.NoError(t, s.Put(ctx, "_definitions/y", []byte(`{}`)))
			require.NoError(t, s.Put(ctx, "a", []byte(`{"v":2}`)))

			doc, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(doc))

			keys, err := s.List(ctx, "_definitions/")
			require.NoError(t, err)
			assert.Equal(t, []string{"_definitions/x", "_definitions/y"}, keys)

			require.NoError(t, s.Delete(ctx, "a"))
			require.NoError(t, s.Delete(ctx, "a"))

			ok, err = s.Exists(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLoadSave(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(blobstore.NewMemoryStore())

	type doc struct {
		Name string `json:"name"`
	}

	require.NoError(t, Save(ctx, s, codec.Default, "k", doc{Name: "prices"}))

	var got doc
	require.NoError(t, Load(ctx, s, codec.Default, "k", &got))
	assert.Equal(t, "prices", got.Name)

	require.ErrorIs(t, Load(ctx, s, codec.Default, "missing", &got), ErrNotFound)
}

func TestBlobStoreListSkipsTensorMetadata(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	require.NoError(t, blobs.Put(ctx, "prices/.tensor.json", []byte(`{}`)))

	s := NewBlobStore(blobs)
	require.NoError(t, s.Put(ctx, "prices", []byte(`{}`)))

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"prices"}, keys)
}
