package handler

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/definition"
)

var nan = math.NaN()

func newHandler(t *testing.T, settings definition.HandlerSettings) *Handler {
	t.Helper()

	h, err := New("t", Config{Store: chunkstore.New(blobstore.NewMemoryStore()), Settings: settings})
	require.NoError(t, err)

	return h
}

func grid(rows, cols array.Index, values ...float64) *array.Array {
	return array.MustNew([]string{"index", "columns"}, array.Coords{"index": rows, "columns": cols}, values)
}

func full(rows, cols array.Index, v float64) *array.Array {
	a, err := array.Full([]string{"index", "columns"}, array.Coords{"index": rows, "columns": cols}, v)
	if err != nil {
		panic(err)
	}

	return a
}

// compute returns a function that checks the planning error and runs the
// write. Call it as compute(t)(h.Store(...)).
func compute(t *testing.T) func(*Write, error) *Write {
	return func(w *Write, err error) *Write {
		t.Helper()
		require.NoError(t, err)

		_, err = w.Compute(context.Background())
		require.NoError(t, err)

		return w
	}
}

func readAll(t *testing.T, h *Handler) *array.Array {
	t.Helper()

	lazy, err := h.Read(context.Background(), nil)
	require.NoError(t, err)

	a, err := lazy.Compute(context.Background())
	require.NoError(t, err)

	return a
}

func TestAppendThenRead(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{Chunks: map[string]int{"index": 2, "columns": 2}})

	compute(t)(h.Store(ctx, full(array.IntRange(0, 3), array.IntRange(0, 3), 0), definition.Params{}))
	w := compute(t)(h.Append(ctx, full(array.Ints(3), array.IntRange(0, 4), 2), definition.Params{}))
	assert.False(t, w.Rewrite())
	assert.Equal(t, 1, w.Len(), "both dims are appended in one write")

	want := grid(array.IntRange(0, 4), array.IntRange(0, 4),
		0, 0, 0, nan,
		0, 0, 0, nan,
		0, 0, 0, nan,
		2, 2, 2, 2,
	)
	got := readAll(t, h)
	assert.True(t, want.Equal(got), "got %v", got.Values())
}

func TestAppendToMissingTensorStores(t *testing.T) {
	h := newHandler(t, definition.HandlerSettings{})
	compute(t)(h.Append(context.Background(), full(array.Ints(0), array.Ints(0), 1), definition.Params{}))
	assert.Equal(t, []float64{1}, readAll(t, h).Values())
}

func TestAppendNothingNewIsEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{})

	compute(t)(h.Store(ctx, full(array.Ints(0, 1), array.Ints(0), 1), definition.Params{}))

	w, err := h.Append(ctx, full(array.Ints(1), array.Ints(0), 9), definition.Params{})
	require.NoError(t, err)
	assert.True(t, w.Empty())

	results, err := w.Compute(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAppendKeepsUniqueCoords(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{})

	compute(t)(h.Store(ctx, full(array.Ints(0), array.Ints(0), 0), definition.Params{}))
	compute(t)(h.Append(ctx, grid(array.Ints(1, 1, 2), array.Ints(0), 10, 11, 20), definition.Params{}))

	got := readAll(t, h)
	assert.Equal(t, array.Ints(0, 1, 2), got.Coord("index"))
	assert.Equal(t, []float64{0, 10, 20}, got.Values())
}

func TestAppendSortViolationRewrites(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{SortedCoords: map[string]bool{"index": true}})

	compute(t)(h.Store(ctx, grid(array.Ints(1, 5), array.Ints(0), 1, 5), definition.Params{}))
	w := compute(t)(h.Append(ctx, grid(array.Ints(3), array.Ints(0), 3), definition.Params{}))
	assert.True(t, w.Rewrite())

	got := readAll(t, h)
	assert.Equal(t, array.Ints(1, 3, 5), got.Coord("index"))
	assert.Equal(t, []float64{1, 3, 5}, got.Values())
}

func TestStoreSortsAndMergesChunks(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{
		Chunks:       map[string]int{"index": 1, "columns": 1},
		SortedCoords: map[string]bool{"index": false},
	})

	compute(t)(h.Store(ctx, grid(array.Ints(1, 3, 2), array.Ints(0), 1, 3, 2), definition.Params{}))

	ds, err := h.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, array.Ints(3, 2, 1), ds.Coords()["index"])
	assert.Equal(t, map[string]int{"index": 3, "columns": 1}, ds.Chunks())
}

func TestUpdateRegionContainment(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{Chunks: map[string]int{"index": 2, "columns": 2}})

	compute(t)(h.Store(ctx, full(array.IntRange(0, 5), array.IntRange(0, 2), 1), definition.Params{}))
	compute(t)(h.Update(ctx, grid(array.Ints(1, 3), array.Ints(0), 7, 8), definition.Params{}))

	got := readAll(t, h)
	assert.Equal(t, []float64{1, 1, 7, 1, 1, 1, 8, 1, 1, 1}, got.Values())
}

func TestUpdateOutsideExtentIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{})

	compute(t)(h.Store(ctx, full(array.IntRange(0, 2), array.Ints(0), 1), definition.Params{}))

	w, err := h.Update(ctx, full(array.Ints(9), array.Ints(0), 5), definition.Params{})
	require.NoError(t, err)
	assert.True(t, w.Empty())
	assert.Equal(t, []float64{1, 1}, readAll(t, h).Values())
}

func TestUpdateMissingTensor(t *testing.T) {
	h := newHandler(t, definition.HandlerSettings{})

	_, err := h.Update(context.Background(), full(array.Ints(0), array.Ints(0), 5), definition.Params{})
	require.ErrorIs(t, err, chunkstore.ErrNotFound)
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{})

	compute(t)(h.Store(ctx, full(array.IntRange(0, 2), array.Ints(0), 1), definition.Params{}))
	w := compute(t)(h.Upsert(ctx, grid(array.Ints(1, 2), array.Ints(0), 5, 6), definition.Params{}))
	assert.Equal(t, 2, w.Len())

	got := readAll(t, h)
	assert.Equal(t, array.IntRange(0, 3), got.Coord("index"))
	assert.Equal(t, []float64{1, 5, 6}, got.Values())
}

func TestUpsertRewriteKeepsUpdatedValues(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{SortedCoords: map[string]bool{"index": true}})

	compute(t)(h.Store(ctx, grid(array.Ints(1, 2, 3), array.Ints(0), 1, 2, 3), definition.Params{}))
	w := compute(t)(h.Upsert(ctx, grid(array.Ints(0, 3), array.Ints(0), 0, 30), definition.Params{}))
	assert.True(t, w.Rewrite())
	assert.Equal(t, 1, w.Len())

	got := readAll(t, h)
	assert.Equal(t, array.Ints(0, 1, 2, 3), got.Coord("index"))
	assert.Equal(t, []float64{0, 1, 2, 30}, got.Values())
}

func TestRewriteKeepsRecordedChunks(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.New(blobstore.NewMemoryStore())

	first, err := New("t", Config{Store: store, Settings: definition.HandlerSettings{
		Chunks: map[string]int{"index": 1, "columns": 1},
	}})
	require.NoError(t, err)

	compute(t)(first.Store(ctx, grid(array.Ints(1, 5), array.Ints(0, 1), 1, 1, 5, 5), definition.Params{}))

	noMerge := 0
	second, err := New("t", Config{Store: store, Settings: definition.HandlerSettings{
		Chunks:                 map[string]int{"index": 4, "columns": 4},
		SortedCoords:           map[string]bool{"index": true},
		MaxUnsortDimsToRechunk: &noMerge,
	}})
	require.NoError(t, err)

	w := compute(t)(second.Append(ctx, grid(array.Ints(3), array.Ints(0, 1), 3, 3), definition.Params{}))
	assert.True(t, w.Rewrite())

	ds, err := second.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"index": 1, "columns": 1}, ds.Chunks())
	assert.Equal(t, array.Ints(1, 3, 5), ds.Coords()["index"])

	compute(t)(second.Drop(ctx, array.Coords{"index": array.Ints(3)}, definition.Params{}))

	ds, err = second.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"index": 1, "columns": 1}, ds.Chunks())
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{})

	compute(t)(h.Store(ctx, grid(array.IntRange(0, 3), array.Ints(0), 0, 1, 2), definition.Params{}))
	compute(t)(h.Drop(ctx, array.Coords{"index": array.Ints(1)}, definition.Params{}))

	got := readAll(t, h)
	assert.Equal(t, array.Ints(0, 2), got.Coord("index"))
	assert.Equal(t, []float64{0, 2}, got.Values())
}

func TestDeferredWrite(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{})

	w, err := h.Store(ctx, full(array.Ints(0), array.Ints(0), 1), definition.Params{})
	require.NoError(t, err)

	ok, err := h.Exist(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "nothing is written before Compute")

	_, err = w.Compute(ctx)
	require.NoError(t, err)

	ok, err = h.Exist(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttrsAndDelete(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, definition.HandlerSettings{})

	compute(t)(h.Store(ctx, full(array.Ints(0), array.Ints(0), 1), definition.Params{}))
	require.NoError(t, h.SetAttrs(ctx, map[string]any{"unit": "usd"}))

	attrs, err := h.GetAttrs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "usd", attrs["unit"])

	require.NoError(t, h.Delete(ctx))

	_, err = h.Read(ctx, nil)
	require.ErrorIs(t, err, chunkstore.ErrNotFound)
}

func TestClosedHandler(t *testing.T) {
	h := newHandler(t, definition.HandlerSettings{})
	require.NoError(t, h.Close())

	_, err := h.Exist(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestNewRejectsUnknownCompression(t *testing.T) {
	_, err := New("t", Config{Settings: definition.HandlerSettings{Compression: "brotli"}})
	require.Error(t, err)
}
