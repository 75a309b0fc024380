package reconcile

import (
	"maps"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tensordb/array"
)

// UpdatePlan is the outcome of PlanUpdate.
type UpdatePlan struct {
	// Region is the position range written per stored dim.
	Region map[string]array.Range
	// Data holds the incoming values restricted to stored labels, in the
	// stored dimension order.
	Data *array.Array
	// Complete is set when Data was reindexed to the full stored coordinates
	// of some dims; its missing cells then overwrite stored values.
	Complete bool
	// Chunks is the stored chunk layout the region write must use.
	Chunks map[string]int

	touched map[string]*roaring.Bitmap
}

// Empty reports whether the update touches no stored cell.
func (p *UpdatePlan) Empty() bool { return p.Data == nil }

// Touched returns the stored positions of dim that carry incoming labels.
func (p *UpdatePlan) Touched(dim string) []uint32 {
	if bm, ok := p.touched[dim]; ok {
		return bm.ToArray()
	}

	return nil
}

// Merge folds the plan's data into the stored values of the region.
//
// Without complete dims, incoming missing values keep the stored value.
// With complete dims, every cell covered by the incoming labels is replaced.
func (p *UpdatePlan) Merge(region *array.Array) (*array.Array, error) {
	return region.Overlay(p.Data, !p.Complete)
}

// PlanUpdate plans overwriting stored cells with incoming values.
//
// Incoming labels absent from the stored coordinates are discarded; an
// update never grows the tensor. If any dim ends up empty the plan is empty.
// Dims listed in completeDims are reindexed to the full stored coordinates
// with NaN for absent labels.
func PlanUpdate(existing Layout, incoming *array.Array, policy Policy, completeDims []string) (*UpdatePlan, error) {
	if err := checkDims(existing, incoming); err != nil {
		return nil, err
	}

	prep, err := policy.Prepare(incoming)
	if err != nil {
		return nil, err
	}

	data := prep.Data
	plan := &UpdatePlan{Chunks: maps.Clone(existing.Chunks)}

	for _, dim := range existing.Dims {
		keep := data.Coord(dim).IsIn(existing.Coords[dim])
		if slices.Contains(keep, false) {
			if data, err = data.Filter(dim, keep); err != nil {
				return nil, err
			}
		}
	}

	if data.Empty() {
		return plan, nil
	}

	if len(completeDims) > 0 {
		target := make(array.Coords, len(completeDims))
		for _, dim := range completeDims {
			if idx, ok := existing.Coords[dim]; ok {
				target[dim] = idx
			}
		}

		if data, err = data.Reindex(target, math.NaN()); err != nil {
			return nil, err
		}

		plan.Complete = true
	}

	if data, err = data.Transpose(existing.Dims); err != nil {
		return nil, err
	}

	plan.Data = data
	plan.Region = make(map[string]array.Range, len(existing.Dims))
	plan.touched = make(map[string]*roaring.Bitmap, len(existing.Dims))

	for _, dim := range existing.Dims {
		bm := roaring.New()

		for pos, in := range existing.Coords[dim].IsIn(data.Coord(dim)) {
			if in {
				bm.Add(uint32(pos))
			}
		}

		plan.touched[dim] = bm
		plan.Region[dim] = array.Range{
			Start: int(bm.Minimum()),
			Stop:  int(bm.Maximum()) + 1,
		}
	}

	return plan, nil
}
