package testutil

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensordb/array"
)

// Dims are the dimensions of the grids built by this package.
var Dims = []string{"index", "columns"}

// NaN is a missing cell.
var NaN = math.NaN()

// Grid builds a 2D array over index rows and columns cols from row-major values.
// It panics on a shape mismatch.
func Grid(rows, cols array.Index, values ...float64) *array.Array {
	return array.MustNew(Dims, array.Coords{"index": rows, "columns": cols}, values)
}

// Full builds a 2D array with every cell set to v.
func Full(rows, cols array.Index, v float64) *array.Array {
	a, err := array.Full(Dims, array.Coords{"index": rows, "columns": cols}, v)
	if err != nil {
		panic(err)
	}

	return a
}

// Compute materializes src and fails the test on error.
func Compute(t testing.TB, src array.Source) *array.Array {
	t.Helper()
	require.NotNil(t, src)

	a, err := src.Compute(context.Background())
	require.NoError(t, err)

	return a
}

// RequireArrayEqual fails the test unless got equals want, NaN cells included.
func RequireArrayEqual(t testing.TB, want, got *array.Array) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %v\n got %v", want, got)
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// FillUniform fills dst with uniform values in [0, 1).
func (r *RNG) FillUniform(dst []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range dst {
		dst[i] = r.rand.Float64()
	}
}

// UniformGrid returns a rows x cols grid labeled 0..rows-1 and "c0".."cN"
// holding uniform values in [0, 1).
func (r *RNG) UniformGrid(rows, cols int) *array.Array {
	values := make([]float64, rows*cols)
	r.FillUniform(values)

	return Grid(array.IntRange(0, int64(rows)), ColumnLabels(cols), values...)
}

// SprinkleNaN sets each cell of a to NaN with probability rate and returns
// the number of cells changed.
func (r *RNG) SprinkleNaN(a *array.Array, rate float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	values := a.Values()

	for i := range values {
		if r.rand.Float64() < rate {
			values[i] = math.NaN()
			n++
		}
	}

	return n
}

// Shuffle returns a random permutation of idx.
func (r *RNG) Shuffle(idx array.Index) array.Index {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := idx.Clone()
	r.rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	return out
}

// ColumnLabels returns the string labels "c0".."c<n-1>".
func ColumnLabels(n int) array.Index {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("c%d", i)
	}

	return array.Strings(labels...)
}
