// Package array implements labeled N-dimensional float64 arrays.
//
// An Array has named dimensions, one Index of labels per dimension and a
// dense row-major buffer of values. NaN marks a missing value. Alignment
// between arrays is always done by label, never by position.
package array

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrShape is returned when data does not match the coordinate sizes.
	ErrShape = errors.New("array: shape mismatch")
	// ErrDim is returned when a dimension is unknown or duplicated.
	ErrDim = errors.New("array: invalid dimension")
	// ErrLabelNotFound is returned when a selected label does not exist.
	ErrLabelNotFound = errors.New("array: label not found")
)

// Array is a labeled dense array. The zero value is not usable; build arrays
// with New, Full or Scalar.
type Array struct {
	dims    []string
	coords  Coords
	shape   []int
	strides []int
	data    []float64
}

// New builds an array over dims and coords. Every dim needs an index in
// coords and len(data) must equal the product of the index lengths.
// The array takes ownership of data.
func New(dims []string, coords Coords, data []float64) (*Array, error) {
	a, err := alloc(dims, coords, false)
	if err != nil {
		return nil, err
	}

	if len(data) != a.cells() {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), a.shape)
	}

	a.data = data

	return a, nil
}

// MustNew is like New but panics on error.
func MustNew(dims []string, coords Coords, data []float64) *Array {
	a, err := New(dims, coords, data)
	if err != nil {
		panic(err)
	}

	return a
}

// Full builds an array filled with v.
func Full(dims []string, coords Coords, v float64) (*Array, error) {
	a, err := alloc(dims, coords, true)
	if err != nil {
		return nil, err
	}

	if v != 0 {
		for i := range a.data {
			a.data[i] = v
		}
	}

	return a, nil
}

// Scalar builds a zero-dimensional array holding v.
func Scalar(v float64) *Array {
	a, _ := alloc(nil, Coords{}, true)
	a.data[0] = v

	return a
}

func alloc(dims []string, coords Coords, withData bool) (*Array, error) {
	a := &Array{
		dims:    slices.Clone(dims),
		coords:  make(Coords, len(dims)),
		shape:   make([]int, len(dims)),
		strides: make([]int, len(dims)),
	}

	size := 1

	for i, d := range dims {
		if slices.Index(dims, d) != i {
			return nil, fmt.Errorf("%w: %q repeated", ErrDim, d)
		}

		idx, ok := coords[d]
		if !ok {
			return nil, fmt.Errorf("%w: no coordinates for %q", ErrDim, d)
		}

		a.coords[d] = idx
		a.shape[i] = len(idx)
		size *= len(idx)
	}

	stride := 1
	for i := len(dims) - 1; i >= 0; i-- {
		a.strides[i] = stride
		stride *= a.shape[i]
	}

	if withData {
		a.data = make([]float64, size)
	}

	return a, nil
}

func (a *Array) cells() int {
	n := 1
	for _, s := range a.shape {
		n *= s
	}

	return n
}

// Dims returns the dimension names in storage order.
func (a *Array) Dims() []string { return slices.Clone(a.dims) }

// NDim returns the number of dimensions.
func (a *Array) NDim() int { return len(a.dims) }

// Axis returns the position of dim, or -1 when the array has no such dim.
func (a *Array) Axis(dim string) int { return slices.Index(a.dims, dim) }

// HasDim reports whether dim is one of the array dimensions.
func (a *Array) HasDim(dim string) bool { return a.Axis(dim) >= 0 }

// Coord returns the index of dim. The result must not be modified.
func (a *Array) Coord(dim string) Index { return a.coords[dim] }

// Coords returns a copy of all coordinates.
func (a *Array) Coords() Coords { return a.coords.Clone() }

// Shape returns the size of every dimension.
func (a *Array) Shape() []int { return slices.Clone(a.shape) }

// Sizes maps dimension names to their sizes.
func (a *Array) Sizes() map[string]int {
	out := make(map[string]int, len(a.dims))
	for i, d := range a.dims {
		out[d] = a.shape[i]
	}

	return out
}

// Size returns the number of cells.
func (a *Array) Size() int { return len(a.data) }

// Empty reports whether any dimension has zero length.
func (a *Array) Empty() bool { return len(a.data) == 0 }

// Values returns the row-major buffer. The result must not be modified.
func (a *Array) Values() []float64 { return a.data }

// Strides returns the row-major strides of the buffer.
func (a *Array) Strides() []int { return slices.Clone(a.strides) }

// At returns the value at the given positions.
func (a *Array) At(pos ...int) float64 { return a.data[a.offset(pos)] }

// Set stores v at the given positions.
func (a *Array) Set(v float64, pos ...int) { a.data[a.offset(pos)] = v }

// Loc returns the value at the given labels, keyed by dim.
func (a *Array) Loc(labels map[string]Label) (float64, error) {
	pos := make([]int, len(a.dims))

	for i, d := range a.dims {
		l, ok := labels[d]
		if !ok {
			return 0, fmt.Errorf("%w: missing label for %q", ErrDim, d)
		}

		p := slices.Index(a.coords[d], l)
		if p < 0 {
			return 0, fmt.Errorf("%w: %s=%s", ErrLabelNotFound, d, l)
		}

		pos[i] = p
	}

	return a.data[a.offset(pos)], nil
}

func (a *Array) offset(pos []int) int {
	off := 0
	for i, p := range pos {
		off += p * a.strides[i]
	}

	return off
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{
		dims:    slices.Clone(a.dims),
		coords:  a.coords.Clone(),
		shape:   slices.Clone(a.shape),
		strides: slices.Clone(a.strides),
		data:    slices.Clone(a.data),
	}
}

// Equal reports whether both arrays have the same dims, coords and values.
// NaN cells compare equal to each other.
func (a *Array) Equal(o *Array) bool {
	if a == nil || o == nil {
		return a == o
	}

	if !slices.Equal(a.dims, o.dims) {
		return false
	}

	for _, d := range a.dims {
		if !a.coords[d].Equal(o.coords[d]) {
			return false
		}
	}

	for i, v := range a.data {
		w := o.data[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}

	return true
}

// CountNaN returns the number of missing cells.
func (a *Array) CountNaN() int {
	n := 0

	for _, v := range a.data {
		if math.IsNaN(v) {
			n++
		}
	}

	return n
}

func (a *Array) String() string {
	return fmt.Sprintf("Array(dims=%v, shape=%v)", a.dims, a.shape)
}
