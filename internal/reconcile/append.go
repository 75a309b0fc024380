package reconcile

import (
	"fmt"
	"maps"

	"github.com/hupe1980/tensordb/array"
)

// Block is the data appended along one dimension.
type Block struct {
	// Dim is the dimension the block extends.
	Dim string
	// Data holds the block in the stored dimension order.
	Data *array.Array
	// Origin is the position of the block's first cell in the grown tensor.
	Origin map[string]int
}

// AppendPlan is the outcome of PlanAppend.
type AppendPlan struct {
	// Rewrite is set when appending would break a sorted dim; the whole
	// tensor has to be stored again from Complete.
	Rewrite bool
	// Blocks are applied in order. Each block covers the coordinates grown
	// by the blocks before it.
	Blocks []Block
	// Coords are the coordinates after all blocks were applied.
	Coords array.Coords
	// Chunks is the stored chunk layout, reused for every block.
	Chunks map[string]int
	// Fill is the value of cells introduced by the append.
	Fill float64

	prepared *Prepared
}

// Empty reports whether there is nothing to append.
func (p *AppendPlan) Empty() bool { return len(p.Blocks) == 0 }

// Dims returns the appended dimensions in application order.
func (p *AppendPlan) Dims() []string {
	dims := make([]string, len(p.Blocks))
	for i, b := range p.Blocks {
		dims[i] = b.Dim
	}

	return dims
}

// Prepared returns the pre-filtered incoming data.
func (p *AppendPlan) Prepared() *Prepared { return p.prepared }

// Complete concatenates the stored data with every block, producing the
// full tensor that a rewrite has to store.
func (p *AppendPlan) Complete(existing *array.Array) (*array.Array, error) {
	out := existing

	for _, b := range p.Blocks {
		var err error
		if out, err = array.Concat(b.Dim, p.Fill, out, b.Data); err != nil {
			return nil, fmt.Errorf("reconcile: concat along %q: %w", b.Dim, err)
		}
	}

	return out, nil
}

// PlanAppend plans appending incoming to a tensor laid out as existing.
//
// Dims are visited in incoming's order. For every dim with new labels a
// block is built over the new labels of that dim and the complete
// coordinates of the other dims at that point, so later blocks cover the
// labels introduced by earlier ones. Cells without incoming data take fill.
func PlanAppend(existing Layout, incoming *array.Array, policy Policy, fill float64) (*AppendPlan, error) {
	if err := checkDims(existing, incoming); err != nil {
		return nil, err
	}

	prep, err := policy.Prepare(incoming)
	if err != nil {
		return nil, err
	}

	plan := &AppendPlan{
		Coords:   existing.Coords.Clone(),
		Chunks:   maps.Clone(existing.Chunks),
		Fill:     fill,
		prepared: prep,
	}

	data := prep.Data

	for _, dim := range data.Dims() {
		current := plan.Coords[dim]

		delta := data.Coord(dim).Difference(current)
		if len(delta) == 0 {
			continue
		}

		if !policy.validSortedAppend(dim, current, delta) {
			plan.Rewrite = true
		}

		target := plan.Coords.Clone()
		target[dim] = delta

		block, err := data.Reindex(target, fill)
		if err != nil {
			return nil, err
		}

		if block, err = block.Transpose(existing.Dims); err != nil {
			return nil, err
		}

		origin := make(map[string]int, len(existing.Dims))
		origin[dim] = len(current)

		plan.Blocks = append(plan.Blocks, Block{Dim: dim, Data: block, Origin: origin})
		plan.Coords[dim] = append(current.Clone(), delta...)
	}

	return plan, nil
}
