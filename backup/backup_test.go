package backup

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/internal/resource"
)

func seed(t *testing.T, s blobstore.BlobStore, blobs map[string]string) {
	t.Helper()

	for name, data := range blobs {
		require.NoError(t, s.Put(context.Background(), name, []byte(data)))
	}
}

func read(t *testing.T, s blobstore.BlobStore, name string) string {
	t.Helper()

	data, err := blobstore.ReadAll(context.Background(), s, name)
	require.NoError(t, err)

	return string(data)
}

func TestSyncCopiesAndSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	src := blobstore.NewMemoryStore()
	dst := blobstore.NewMemoryStore()

	seed(t, src, map[string]string{
		"prices/.tensor.json": "{}",
		"prices/c/0.0":        "aaaa",
		"prices/c/0.1":        "bbbb",
		"other/c/0":           "zz",
	})

	m := New(WithResourceController(resource.NewController(resource.Config{MaxWorkers: 2})))

	stats, err := m.Sync(ctx, src, dst, "prices/", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Copied)
	assert.Zero(t, stats.Skipped)
	assert.EqualValues(t, 10, stats.Bytes)
	assert.Equal(t, "bbbb", read(t, dst, "prices/c/0.1"))

	ok, err := blobstore.Exists(ctx, dst, "other/c/0")
	require.NoError(t, err)
	assert.False(t, ok)

	seed(t, src, map[string]string{"prices/c/0.1": "cccc"})

	stats, err = m.Sync(ctx, src, dst, "prices/", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, "cccc", read(t, dst, "prices/c/0.1"))

	mf, err := m.ReadManifest(ctx, dst, "prices/")
	require.NoError(t, err)
	assert.Len(t, mf.Blobs, 3)
}

func TestSyncDeletesRemovedBlobs(t *testing.T) {
	ctx := context.Background()
	src := blobstore.NewMemoryStore()
	dst := blobstore.NewMemoryStore()

	seed(t, src, map[string]string{"t/c/0": "a", "t/c/1": "b"})

	m := New()

	_, err := m.Sync(ctx, src, dst, "t/", nil)
	require.NoError(t, err)

	require.NoError(t, src.Delete(ctx, "t/c/1"))

	stats, err := m.Sync(ctx, src, dst, "t/", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)

	names, err := dst.List(ctx, "t/")
	require.NoError(t, err)
	assert.Equal(t, []string{"t/" + ManifestName, "t/c/0"}, names)
}

func TestSyncHonorsMatch(t *testing.T) {
	ctx := context.Background()
	src := blobstore.NewMemoryStore()
	dst := blobstore.NewMemoryStore()

	seed(t, src, map[string]string{"t/c/0": "a", "t/nested/c/0": "b"})

	match := func(name string) bool { return !strings.HasPrefix(name, "t/nested/") }

	stats, err := New().Sync(ctx, src, dst, "t/", match)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)

	// A restore in the other direction leaves blobs outside match alone.
	seed(t, dst, map[string]string{"t/c/0": "restored"})
	seed(t, src, map[string]string{"t/c/9": "local only"})

	stats, err = New().Sync(ctx, dst, src, "t/", match)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, "restored", read(t, src, "t/c/0"))
	assert.Equal(t, "b", read(t, src, "t/nested/c/0"))
}

func TestReadManifestRejectsUnknownVersion(t *testing.T) {
	s := blobstore.NewMemoryStore()
	seed(t, s, map[string]string{"t/" + ManifestName: `{"version":9,"blobs":{}}`})

	_, err := New().ReadManifest(context.Background(), s, "t/")
	require.ErrorContains(t, err, "unsupported version")
}
