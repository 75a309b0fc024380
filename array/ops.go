package array

import (
	"fmt"
	"math"
	"slices"
)

// Map applies fn to every cell.
func (a *Array) Map(fn func(float64) float64) *Array {
	out := a.Clone()
	for i, v := range out.data {
		out.data[i] = fn(v)
	}

	return out
}

// FillNaN replaces missing cells with v.
func (a *Array) FillNaN(v float64) *Array {
	return a.Map(func(x float64) float64 {
		if math.IsNaN(x) {
			return v
		}

		return x
	})
}

// FFill propagates the last present value forward along dim. A positive limit
// bounds the number of consecutive missing cells filled.
func (a *Array) FFill(dim string, limit int) (*Array, error) {
	axis := a.Axis(dim)
	if axis < 0 {
		return nil, fmt.Errorf("%w: %q", ErrDim, dim)
	}

	out := a.Clone()
	n := out.shape[axis]
	stride := out.strides[axis]

	if n == 0 || len(out.data) == 0 {
		return out, nil
	}

	lanes := len(out.data) / n

	for lane := range lanes {
		// lane enumerates every position with the axis coordinate fixed at 0.
		base := (lane/stride)*stride*n + lane%stride
		last, run := math.NaN(), 0

		for i := range n {
			off := base + i*stride
			v := out.data[off]

			if !math.IsNaN(v) {
				last, run = v, 0
				continue
			}

			run++
			if !math.IsNaN(last) && (limit <= 0 || run <= limit) {
				out.data[off] = last
			}
		}
	}

	return out, nil
}

// Where keeps the cells where cond is true and replaces the rest with other.
// cond is aligned by label; cells without a matching label count as false.
// A cell of cond is true when it is neither zero nor NaN.
func (a *Array) Where(cond *Array, other float64) (*Array, error) {
	mask, err := cond.alignTo(a)
	if err != nil {
		return nil, err
	}

	out := a.Clone()
	for i, m := range mask.data {
		if m == 0 || math.IsNaN(m) {
			out.data[i] = other
		}
	}

	return out, nil
}

// alignTo broadcasts and reindexes a onto target's dims and coords. Dims of
// a that target lacks are rejected.
func (a *Array) alignTo(target *Array) (*Array, error) {
	pos := make([][]int, len(target.dims))

	for _, d := range a.dims {
		if !target.HasDim(d) {
			return nil, fmt.Errorf("%w: %q not in %v", ErrDim, d, target.dims)
		}
	}

	for k, d := range target.dims {
		if !a.HasDim(d) {
			continue
		}

		have := a.coords[d].Positions()
		p := make([]int, target.shape[k])

		for i, l := range target.coords[d] {
			j, ok := have[l]
			if !ok {
				j = -1
			}

			p[i] = j
		}

		pos[k] = p
	}

	return a.project(target.dims, target.coords, pos), nil
}

// project evaluates a on a result grid. pos[k] maps result positions of
// axis k to positions of the same dim in a; nil pos[k] marks a dim a lacks.
func (a *Array) project(dims []string, coords Coords, pos [][]int) *Array {
	out, _ := alloc(dims, coords, true)
	if len(out.data) == 0 {
		return out
	}

	srcStride := make([]int, len(dims))

	for k, d := range dims {
		if ax := a.Axis(d); ax >= 0 {
			srcStride[k] = a.strides[ax]
		}
	}

	idx := make([]int, len(dims))

	for flat := range out.data {
		off, missing := 0, false

		for k, i := range idx {
			if pos[k] == nil {
				continue
			}

			p := pos[k][i]
			if p < 0 {
				missing = true
				break
			}

			off += p * srcStride[k]
		}

		if missing {
			out.data[flat] = math.NaN()
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

// Binary combines two arrays cell by cell. Shared dims are inner joined by
// label in a's order; dims present in only one operand are broadcast. The
// result has a's dims followed by the dims only b has.
func Binary(a, b *Array, fn func(x, y float64) float64) *Array {
	dims := slices.Clone(a.dims)
	for _, d := range b.dims {
		if !slices.Contains(dims, d) {
			dims = append(dims, d)
		}
	}

	coords := make(Coords, len(dims))
	pa := make([][]int, len(dims))
	pb := make([][]int, len(dims))

	for k, d := range dims {
		ia, inA := a.coords[d]
		ib, inB := b.coords[d]

		switch {
		case inA && inB:
			shared := ia
			if !ia.Equal(ib) {
				shared = ia.Filter(ia.IsIn(ib))
			}

			coords[d] = shared
			pa[k] = positionsOf(ia, shared)
			pb[k] = positionsOf(ib, shared)
		case inA:
			coords[d] = ia
			pa[k] = identity(len(ia))
		default:
			coords[d] = ib
			pb[k] = identity(len(ib))
		}
	}

	x := a.project(dims, coords, pa)
	y := b.project(dims, coords, pb)

	for i := range x.data {
		x.data[i] = fn(x.data[i], y.data[i])
	}

	return x
}

func positionsOf(src, want Index) []int {
	have := src.Positions()
	p := make([]int, len(want))

	for i, l := range want {
		p[i] = have[l]
	}

	return p
}
