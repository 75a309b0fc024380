// Package reconcile plans incremental writes of labeled arrays against the
// coordinates of an already stored tensor.
//
// Planning is pure: it never touches storage. PlanAppend decides between
// per-dimension appends and a full rewrite; PlanUpdate computes the minimal
// contiguous region covering the touched labels.
package reconcile

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/tensordb/array"
)

// ErrDims is returned when incoming data does not have the stored dimensions.
var ErrDims = errors.New("reconcile: dimension mismatch")

// DefaultMaxUnsortDimsToRechunk is the default reorder threshold below which
// reordered dims are processed as one unit.
const DefaultMaxUnsortDimsToRechunk = 1

// Policy holds the coordinate rules of a tensor.
type Policy struct {
	// Unique overrides DefaultUnique per dim.
	Unique map[string]bool
	// DefaultUnique applies to dims missing from Unique.
	DefaultUnique bool
	// Sorted declares the order of sorted dims.
	Sorted map[string]array.Order
	// MaxUnsortDimsToRechunk bounds how many reordered dims may be merged
	// into a single chunk. Zero disables the behaviour.
	MaxUnsortDimsToRechunk int
}

// DefaultPolicy returns a policy with every dim unique and none sorted.
func DefaultPolicy() Policy {
	return Policy{
		DefaultUnique:          true,
		MaxUnsortDimsToRechunk: DefaultMaxUnsortDimsToRechunk,
	}
}

// IsUnique reports whether dim must not hold duplicate labels.
func (p Policy) IsUnique(dim string) bool {
	if v, ok := p.Unique[dim]; ok {
		return v
	}

	return p.DefaultUnique
}

// Layout describes the coordinates and chunking of a stored tensor.
type Layout struct {
	Dims   []string
	Coords array.Coords
	Chunks map[string]int
}

// Prepared is incoming data after the coordinate rules were applied.
type Prepared struct {
	Data *array.Array
	// Reordered lists the sorted dims whose order had to change.
	Reordered []string
	// Merged lists the reordered dims that must be written as one chunk.
	Merged []string
}

// Prepare drops duplicate labels on unique dims, keeping the first
// occurrence, and reorders sorted dims to their declared direction.
func (p Policy) Prepare(a *array.Array) (*Prepared, error) {
	out := a

	for _, dim := range a.Dims() {
		if !p.IsUnique(dim) {
			continue
		}

		dup := out.Coord(dim).Duplicated()
		if !slices.Contains(dup, true) {
			continue
		}

		keep := make([]bool, len(dup))
		for i, d := range dup {
			keep[i] = !d
		}

		var err error
		if out, err = out.Filter(dim, keep); err != nil {
			return nil, err
		}
	}

	prep := &Prepared{}
	sel := make(map[string][]int)

	for _, dim := range slices.Sorted(maps.Keys(p.Sorted)) {
		if !out.HasDim(dim) {
			continue
		}

		idx := out.Coord(dim)
		if idx.IsSorted(p.Sorted[dim]) {
			continue
		}

		sel[dim] = idx.Argsort(p.Sorted[dim])
		prep.Reordered = append(prep.Reordered, dim)
	}

	if len(sel) > 0 {
		var err error
		if out, err = out.ISel(sel); err != nil {
			return nil, err
		}
	}

	if p.MaxUnsortDimsToRechunk > 0 && len(prep.Reordered) > 0 && len(prep.Reordered) <= p.MaxUnsortDimsToRechunk {
		prep.Merged = slices.Clone(prep.Reordered)
	}

	prep.Data = out

	return prep, nil
}

// validSortedAppend reports whether appending delta after current keeps a
// sorted dim sorted. Dims without a declared order always pass.
func (p Policy) validSortedAppend(dim string, current, delta array.Index) bool {
	order, ok := p.Sorted[dim]
	if !ok || len(current) == 0 || len(delta) == 0 {
		return true
	}

	last, _ := current.Last()

	return last.Compare(delta[0])*int(order) <= 0
}

func checkDims(layout Layout, a *array.Array) error {
	if a.NDim() != len(layout.Dims) {
		return fmt.Errorf("%w: got %v, stored %v", ErrDims, a.Dims(), layout.Dims)
	}

	for _, d := range layout.Dims {
		if !a.HasDim(d) {
			return fmt.Errorf("%w: got %v, stored %v", ErrDims, a.Dims(), layout.Dims)
		}
	}

	return nil
}
