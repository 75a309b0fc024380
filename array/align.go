package array

import (
	"fmt"
	"math"
	"slices"
)

// gather builds an array with a's dims over coords where output position j
// of axis k reads source position pos[k][j]. A negative position yields fill.
func (a *Array) gather(coords Coords, pos [][]int, fill float64) *Array {
	out, _ := alloc(a.dims, coords, true)
	if len(out.data) == 0 {
		return out
	}

	idx := make([]int, len(a.dims))

	for flat := range out.data {
		off, missing := 0, false

		for k, i := range idx {
			p := pos[k][i]
			if p < 0 {
				missing = true
				break
			}

			off += p * a.strides[k]
		}

		if missing {
			out.data[flat] = fill
		} else {
			out.data[flat] = a.data[off]
		}

		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < out.shape[k] {
				break
			}

			idx[k] = 0
		}
	}

	return out
}

func identity(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}

	return p
}

// ISel selects positions per dimension. Dimensions absent from sel are kept whole.
func (a *Array) ISel(sel map[string][]int) (*Array, error) {
	coords := make(Coords, len(a.dims))
	pos := make([][]int, len(a.dims))

	for k, d := range a.dims {
		p, ok := sel[d]
		if !ok {
			coords[d] = a.coords[d]
			pos[k] = identity(a.shape[k])

			continue
		}

		for _, i := range p {
			if i < 0 || i >= a.shape[k] {
				return nil, fmt.Errorf("%w: position %d out of range for %q", ErrShape, i, d)
			}
		}

		coords[d] = a.coords[d].Take(p)
		pos[k] = p
	}

	for d := range sel {
		if !a.HasDim(d) {
			return nil, fmt.Errorf("%w: %q", ErrDim, d)
		}
	}

	return a.gather(coords, pos, math.NaN()), nil
}

// Range is a half-open position interval [Start, Stop) along one dimension.
type Range struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

// Len returns the number of positions in the range.
func (r Range) Len() int { return max(r.Stop-r.Start, 0) }

// Slice selects a position range along each given dim.
func (a *Array) Slice(ranges map[string]Range) (*Array, error) {
	sel := make(map[string][]int, len(ranges))

	for d, r := range ranges {
		p := make([]int, 0, r.Len())
		for i := r.Start; i < r.Stop; i++ {
			p = append(p, i)
		}

		sel[d] = p
	}

	return a.ISel(sel)
}

// Sel selects labels per dimension. Every label must exist.
func (a *Array) Sel(labels Coords) (*Array, error) {
	sel := make(map[string][]int, len(labels))

	for d, want := range labels {
		if !a.HasDim(d) {
			return nil, fmt.Errorf("%w: %q", ErrDim, d)
		}

		have := a.coords[d].Positions()
		p := make([]int, len(want))

		for i, l := range want {
			j, ok := have[l]
			if !ok {
				return nil, fmt.Errorf("%w: %s=%s", ErrLabelNotFound, d, l)
			}

			p[i] = j
		}

		sel[d] = p
	}

	return a.ISel(sel)
}

// Filter keeps the positions of dim where keep is true.
func (a *Array) Filter(dim string, keep []bool) (*Array, error) {
	p := make([]int, 0, len(keep))
	for i, k := range keep {
		if k {
			p = append(p, i)
		}
	}

	return a.ISel(map[string][]int{dim: p})
}

// DropSel removes the given labels. Labels that do not exist are ignored.
func (a *Array) DropSel(labels Coords) (*Array, error) {
	sel := make(map[string][]int, len(labels))

	for d, drop := range labels {
		if !a.HasDim(d) {
			return nil, fmt.Errorf("%w: %q", ErrDim, d)
		}

		keep := a.coords[d].IsIn(drop)
		p := make([]int, 0, len(keep))

		for i, in := range keep {
			if !in {
				p = append(p, i)
			}
		}

		sel[d] = p
	}

	return a.ISel(sel)
}

// Reindex conforms the array to target coordinates. Labels missing from the
// array are filled with fill; dims absent from target keep their coordinates.
func (a *Array) Reindex(target Coords, fill float64) (*Array, error) {
	coords := make(Coords, len(a.dims))
	pos := make([][]int, len(a.dims))

	for k, d := range a.dims {
		want, ok := target[d]
		if !ok {
			coords[d] = a.coords[d]
			pos[k] = identity(a.shape[k])

			continue
		}

		have := a.coords[d].Positions()
		p := make([]int, len(want))

		for i, l := range want {
			j, ok := have[l]
			if !ok {
				j = -1
			}

			p[i] = j
		}

		coords[d] = want
		pos[k] = p
	}

	for d := range target {
		if !a.HasDim(d) {
			return nil, fmt.Errorf("%w: %q", ErrDim, d)
		}
	}

	return a.gather(coords, pos, fill), nil
}

// ReindexPad conforms the array to target coordinates, propagating the last
// label at or before each missing target label. Source indexes of the
// reindexed dims must be sorted ascending.
func (a *Array) ReindexPad(target Coords) (*Array, error) {
	coords := make(Coords, len(a.dims))
	pos := make([][]int, len(a.dims))

	for k, d := range a.dims {
		want, ok := target[d]
		if !ok {
			coords[d] = a.coords[d]
			pos[k] = identity(a.shape[k])

			continue
		}

		src := a.coords[d]
		if !src.IsSorted(Ascending) {
			return nil, fmt.Errorf("array: pad reindex needs %q sorted ascending", d)
		}

		p := make([]int, len(want))
		for i, l := range want {
			p[i] = src.Search(l)
		}

		coords[d] = want
		pos[k] = p
	}

	return a.gather(coords, pos, math.NaN()), nil
}

// Transpose reorders the dimensions.
func (a *Array) Transpose(dims []string) (*Array, error) {
	if len(dims) != len(a.dims) {
		return nil, fmt.Errorf("%w: transpose to %v from %v", ErrDim, dims, a.dims)
	}

	if slices.Equal(dims, a.dims) {
		return a, nil
	}

	perm := make([]int, len(dims))

	for i, d := range dims {
		perm[i] = a.Axis(d)
		if perm[i] < 0 {
			return nil, fmt.Errorf("%w: %q", ErrDim, d)
		}
	}

	out, err := alloc(dims, a.coords, true)
	if err != nil {
		return nil, err
	}

	idx := make([]int, len(dims))

	for flat := range out.data {
		off := 0
		for k, i := range idx {
			off += i * a.strides[perm[k]]
		}

		out.data[flat] = a.data[off]

		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < out.shape[k] {
				break
			}

			idx[k] = 0
		}
	}

	return out, nil
}

// Concat joins arrays along dim. Other dimensions are outer joined and
// cells introduced by the join take fill. All arrays must share the same
// dimension set; the result uses the first array's dimension order.
func Concat(dim string, fill float64, arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}

	first := arrays[0]
	axis := first.Axis(dim)

	if axis < 0 {
		return nil, fmt.Errorf("%w: %q", ErrDim, dim)
	}

	union := make(Coords, len(first.dims))

	for _, d := range first.dims {
		if d == dim {
			continue
		}

		idx := first.coords[d]
		for _, o := range arrays[1:] {
			idx = idx.Union(o.coords[d])
		}

		union[d] = idx
	}

	parts := make([]*Array, len(arrays))
	joined := Index{}

	for i, o := range arrays {
		t, err := o.Transpose(first.dims)
		if err != nil {
			return nil, err
		}

		if t, err = t.Reindex(union, fill); err != nil {
			return nil, err
		}

		parts[i] = t
		joined = append(joined, t.coords[dim]...)
	}

	coords := union.Clone()
	coords[dim] = joined

	out, err := alloc(first.dims, coords, true)
	if err != nil {
		return nil, err
	}

	outer := 1
	for k := range axis {
		outer *= out.shape[k]
	}

	inner := out.strides[axis]
	dst := 0

	for o := range outer {
		for _, p := range parts {
			n := p.shape[axis] * inner
			copy(out.data[dst:dst+n], p.data[o*n:(o+1)*n])
			dst += n
		}
	}

	return out, nil
}

// Overlay writes top onto a copy of a. Only cells whose labels exist in both
// arrays are touched; with skipNaN, missing values of top keep a's value.
func (a *Array) Overlay(top *Array, skipNaN bool) (*Array, error) {
	if len(top.dims) != len(a.dims) {
		return nil, fmt.Errorf("%w: overlay %v onto %v", ErrDim, top.dims, a.dims)
	}

	t, err := top.Transpose(a.dims)
	if err != nil {
		return nil, err
	}

	aligned, err := t.Reindex(a.coords, math.NaN())
	if err != nil {
		return nil, err
	}

	covered := make([][]bool, len(a.dims))
	for k, d := range a.dims {
		covered[k] = a.coords[d].IsIn(t.coords[d])
	}

	out := a.Clone()
	idx := make([]int, len(a.dims))

	for flat := range out.data {
		inside := true

		for k, i := range idx {
			if !covered[k][i] {
				inside = false
				break
			}
		}

		if inside {
			v := aligned.data[flat]
			if !skipNaN || !math.IsNaN(v) {
				out.data[flat] = v
			}
		}

		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < out.shape[k] {
				break
			}

			idx[k] = 0
		}
	}

	return out, nil
}

// CombineFirst returns the union of both arrays, taking a's value wherever it
// is present and o's value elsewhere.
func (a *Array) CombineFirst(o *Array) (*Array, error) {
	t, err := o.Transpose(a.dims)
	if err != nil {
		return nil, err
	}

	union := make(Coords, len(a.dims))
	for _, d := range a.dims {
		union[d] = a.coords[d].Union(t.coords[d])
	}

	base, err := t.Reindex(union, math.NaN())
	if err != nil {
		return nil, err
	}

	return base.Overlay(a, true)
}
