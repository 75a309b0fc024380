package array

import (
	"context"
	"math"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

func grid(rows, cols Index, values ...float64) *Array {
	return MustNew([]string{"index", "columns"}, Coords{"index": rows, "columns": cols}, values)
}

func TestNewValidatesShape(t *testing.T) {
	_, err := New([]string{"a"}, Coords{"a": Ints(1, 2)}, []float64{1})
	require.ErrorIs(t, err, ErrShape)

	_, err = New([]string{"a", "a"}, Coords{"a": Ints(1)}, []float64{1})
	require.ErrorIs(t, err, ErrDim)

	_, err = New([]string{"b"}, Coords{}, nil)
	require.ErrorIs(t, err, ErrDim)
}

func TestLabelOrderingAndJSON(t *testing.T) {
	assert.Equal(t, -1, Int(1).Compare(Int(2)))
	assert.Equal(t, 1, String("b").Compare(String("a")))
	assert.Equal(t, -1, Int(99).Compare(String("0")), "kinds sort before values")

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, l := range []Label{Int(-7), String("x"), Time(ts)} {
		b, err := json.Marshal(l)
		require.NoError(t, err)

		var got Label
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, l, got)
	}
}

func TestIndexHelpers(t *testing.T) {
	idx := Ints(3, 1, 3, 2, 1)

	assert.Equal(t, []bool{false, false, true, false, true}, idx.Duplicated())
	assert.True(t, idx.HasDuplicates())
	assert.Equal(t, Ints(3, 2), Ints(3, 5, 2).Difference(Ints(5)))
	assert.Equal(t, Ints(1, 2, 3), Ints(1, 2).Union(Ints(2, 3)))
	assert.True(t, Ints(1, 2, 2, 5).IsSorted(Ascending))
	assert.False(t, Ints(1, 3, 2).IsSorted(Ascending))
	assert.True(t, Ints(5, 3, 1).IsSorted(Descending))
	assert.Equal(t, []int{1, 2, 0}, Ints(3, 1, 2).Argsort(Ascending))
	assert.Equal(t, 1, Ints(1, 3, 5).Search(Int(4)))
	assert.Equal(t, -1, Ints(1, 3, 5).Search(Int(0)))
}

func TestSelAndDrop(t *testing.T) {
	a := grid(Ints(0, 1, 2), Strings("a", "b"), 1, 2, 3, 4, 5, 6)

	got, err := a.Sel(Coords{"index": Ints(2, 0)})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 1, 2}, got.Values())

	_, err = a.Sel(Coords{"index": Ints(9)})
	require.ErrorIs(t, err, ErrLabelNotFound)

	dropped, err := a.DropSel(Coords{"columns": Strings("a", "zz")})
	require.NoError(t, err)
	assert.Equal(t, Strings("b"), dropped.Coord("columns"))
	assert.Equal(t, []float64{2, 4, 6}, dropped.Values())
}

func TestReindexFillsMissing(t *testing.T) {
	a := grid(Ints(0, 1), Ints(0, 1), 1, 2, 3, 4)

	got, err := a.Reindex(Coords{"index": Ints(1, 5)}, -1)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, -1, -1}, got.Values())
	assert.Equal(t, Ints(0, 1), got.Coord("columns"))
}

func TestReindexPad(t *testing.T) {
	a := MustNew([]string{"t"}, Coords{"t": Ints(1, 4, 6)}, []float64{10, 40, 60})

	got, err := a.ReindexPad(Coords{"t": Ints(0, 1, 2, 5, 7)})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.At(0)))
	assert.Equal(t, []float64{10, 10, 40, 60}, got.Values()[1:])
}

func TestTranspose(t *testing.T) {
	a := grid(Ints(0, 1), Ints(0, 1, 2), 1, 2, 3, 4, 5, 6)

	got, err := a.Transpose([]string{"columns", "index"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, got.Values())
	assert.Equal(t, []int{3, 2}, got.Shape())
}

func TestConcatOuterJoinsOtherDims(t *testing.T) {
	a := grid(Ints(0, 1), Ints(0, 1), 1, 2, 3, 4)
	b := grid(Ints(2), Ints(1, 2), 5, 6)

	got, err := Concat("index", nan, a, b)
	require.NoError(t, err)

	want := grid(Ints(0, 1, 2), Ints(0, 1, 2),
		1, 2, nan,
		3, 4, nan,
		nan, 5, 6,
	)
	assert.True(t, want.Equal(got), "got %v", got.Values())

	cols, err := Concat("columns", 0, a, grid(Ints(0, 1), Ints(2), 7, 8))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 7, 3, 4, 8}, cols.Values())
}

func TestOverlay(t *testing.T) {
	base := grid(Ints(0, 1), Ints(0, 1), 1, 2, 3, 4)
	top := grid(Ints(1, 7), Ints(1), nan, 9)

	skip, err := base.Overlay(top, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, skip.Values())

	cover, err := base.Overlay(top, false)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(cover.At(1, 1)))
	assert.Equal(t, 3.0, cover.At(1, 0))
}

func TestCombineFirst(t *testing.T) {
	a := MustNew([]string{"x"}, Coords{"x": Ints(0, 1)}, []float64{nan, 2})
	b := MustNew([]string{"x"}, Coords{"x": Ints(0, 2)}, []float64{10, 30})

	got, err := a.CombineFirst(b)
	require.NoError(t, err)
	assert.Equal(t, Ints(0, 1, 2), got.Coord("x"))
	assert.Equal(t, []float64{10, 2, 30}, got.Values())
}

func TestFFillWithLimit(t *testing.T) {
	a := grid(Ints(0, 1, 2, 3), Ints(0, 1),
		1, nan,
		nan, 5,
		nan, nan,
		nan, nan,
	)

	all, err := a.FFill("index", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1}, []float64{all.At(0, 0), all.At(1, 0), all.At(2, 0), all.At(3, 0)})
	assert.True(t, math.IsNaN(all.At(0, 1)))

	one, err := a.FFill("index", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, one.At(1, 0))
	assert.True(t, math.IsNaN(one.At(2, 0)))
	assert.Equal(t, 5.0, one.At(2, 1))
}

func TestWhereAlignsMask(t *testing.T) {
	a := grid(Ints(0, 1), Ints(0, 1), 1, 2, 3, 4)
	mask := MustNew([]string{"columns"}, Coords{"columns": Ints(1)}, []float64{1})

	got, err := a.Where(mask, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 0, 4}, got.Values())
}

func TestBinaryBroadcastsAndInnerJoins(t *testing.T) {
	a := grid(Ints(0, 1, 2), Ints(0), 1, 2, 3)
	b := MustNew([]string{"index"}, Coords{"index": Ints(2, 1)}, []float64{10, 20})

	got := Binary(a, b, func(x, y float64) float64 { return x + y })
	assert.Equal(t, Ints(1, 2), got.Coord("index"))
	assert.Equal(t, []float64{22, 13}, got.Values())

	s := Binary(a, Scalar(1), func(x, y float64) float64 { return x * y })
	assert.True(t, a.Equal(s))
}

func TestJSONRoundTripKeepsNaN(t *testing.T) {
	a := grid(Ints(0), Strings("a", "b"), 1, nan)

	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(b), "null")

	var got Array
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, a.Equal(&got))
}

func TestLazyComputesOnce(t *testing.T) {
	calls := 0
	l := NewLazy(func(context.Context) (*Array, error) {
		calls++
		return Scalar(1), nil
	})

	for range 3 {
		got, err := l.Compute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1.0, got.At())
	}

	assert.Equal(t, 1, calls)
}
