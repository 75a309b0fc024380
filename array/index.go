package array

import (
	"slices"
	"sort"
	"time"
)

// Order is the declared sort direction of a dimension.
type Order int8

const (
	// Ascending sorts labels from lowest to highest.
	Ascending Order = 1
	// Descending sorts labels from highest to lowest.
	Descending Order = -1
)

// Index is the ordered sequence of labels of one dimension.
type Index []Label

// Coords maps dimension names to their indexes.
type Coords map[string]Index

// Ints builds an index of integer labels.
func Ints(vs ...int64) Index {
	idx := make(Index, len(vs))
	for i, v := range vs {
		idx[i] = Int(v)
	}

	return idx
}

// IntRange builds an integer index [start, stop).
func IntRange(start, stop int64) Index {
	if stop <= start {
		return Index{}
	}

	idx := make(Index, 0, stop-start)
	for v := start; v < stop; v++ {
		idx = append(idx, Int(v))
	}

	return idx
}

// Strings builds an index of string labels.
func Strings(vs ...string) Index {
	idx := make(Index, len(vs))
	for i, v := range vs {
		idx[i] = String(v)
	}

	return idx
}

// Times builds an index of timestamp labels.
func Times(ts ...time.Time) Index {
	idx := make(Index, len(ts))
	for i, t := range ts {
		idx[i] = Time(t)
	}

	return idx
}

// Len returns the number of labels.
func (x Index) Len() int { return len(x) }

// Clone returns a copy of the index.
func (x Index) Clone() Index { return slices.Clone(x) }

// Last returns the last label.
func (x Index) Last() (Label, bool) {
	if len(x) == 0 {
		return Label{}, false
	}

	return x[len(x)-1], true
}

// Positions maps each label to the position of its first occurrence.
func (x Index) Positions() map[Label]int {
	pos := make(map[Label]int, len(x))
	for i, l := range x {
		if _, ok := pos[l]; !ok {
			pos[l] = i
		}
	}

	return pos
}

// Duplicated marks every occurrence of a label except the first one.
func (x Index) Duplicated() []bool {
	seen := make(map[Label]struct{}, len(x))
	dup := make([]bool, len(x))

	for i, l := range x {
		if _, ok := seen[l]; ok {
			dup[i] = true
			continue
		}

		seen[l] = struct{}{}
	}

	return dup
}

// HasDuplicates reports whether any label occurs more than once.
func (x Index) HasDuplicates() bool {
	return slices.Contains(x.Duplicated(), true)
}

// IsIn marks the labels of x that are present in other.
func (x Index) IsIn(other Index) []bool {
	set := other.Positions()
	in := make([]bool, len(x))

	for i, l := range x {
		_, in[i] = set[l]
	}

	return in
}

// Difference returns the labels of x that are absent from other, in x's order.
func (x Index) Difference(other Index) Index {
	in := x.IsIn(other)
	out := make(Index, 0, len(x))

	for i, l := range x {
		if !in[i] {
			out = append(out, l)
		}
	}

	return out
}

// Union returns x followed by the labels of other that x does not contain.
func (x Index) Union(other Index) Index {
	return append(x.Clone(), other.Difference(x)...)
}

// Filter returns the labels at positions where keep is true.
func (x Index) Filter(keep []bool) Index {
	out := make(Index, 0, len(x))
	for i, l := range x {
		if keep[i] {
			out = append(out, l)
		}
	}

	return out
}

// Take returns the labels at the given positions.
func (x Index) Take(pos []int) Index {
	out := make(Index, len(pos))
	for i, p := range pos {
		out[i] = x[p]
	}

	return out
}

// Equal reports whether both indexes hold the same labels in the same order.
func (x Index) Equal(o Index) bool { return slices.Equal(x, o) }

// IsSorted reports whether the index is monotonic in the given order.
// Ties are allowed.
func (x Index) IsSorted(order Order) bool {
	for i := 1; i < len(x); i++ {
		if x[i-1].Compare(x[i])*int(order) > 0 {
			return false
		}
	}

	return true
}

// Argsort returns the stable permutation that sorts the index in the given order.
func (x Index) Argsort(order Order) []int {
	perm := make([]int, len(x))
	for i := range perm {
		perm[i] = i
	}

	sort.SliceStable(perm, func(a, b int) bool {
		return x[perm[a]].Compare(x[perm[b]])*int(order) < 0
	})

	return perm
}

// Search returns the position of the last label less than or equal to l in an
// ascending index, or -1 when every label is greater.
func (x Index) Search(l Label) int {
	i := sort.Search(len(x), func(i int) bool { return x[i].Compare(l) > 0 })
	return i - 1
}

// Clone returns a deep copy of the coordinates.
func (c Coords) Clone() Coords {
	out := make(Coords, len(c))
	for k, v := range c {
		out[k] = v.Clone()
	}

	return out
}
