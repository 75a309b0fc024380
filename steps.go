package tensordb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/definition"
	"github.com/hupe1980/tensordb/formula"
)

// Reindex fill methods.
const (
	methodNone = ""
	methodPad  = "pad"
	methodFill = "ffill"
)

func (c *Client) readFromFormula(ctx context.Context, p Params) (Params, error) {
	if p.Formula == "" {
		return Params{}, fmt.Errorf("%w: empty formula", formula.ErrMalformedFormula)
	}

	lazy, err := c.evalFormula(ctx, p)
	if err != nil {
		return Params{}, err
	}

	return Params{NewData: lazy}, nil
}

func (c *Client) evalFormula(ctx context.Context, p Params) (*array.Lazy, error) {
	start := time.Now()
	refs, _ := formula.Refs(p.Formula)

	lazy, err := c.formulas.Eval(ctx, p.Formula, formula.Options{
		Statements: p.UseExecOrDefault(),
		Bindings:   p.Bindings,
		Arrays:     p.ArrayBindings,
		NewData:    p.NewData,
	}, c.source)

	c.metrics.RecordFormula(len(refs), time.Since(start), err)
	c.logger.LogFormula(ctx, p.Formula, len(refs), err)

	return lazy, err
}

// reindex conforms new_data to the coordinates of the tensor at
// reindex_path. Unless the running action is store, only labels from the
// last stored label on are kept.
func (c *Client) reindex(ctx context.Context, sc stepContext, p Params) (Params, error) {
	if p.NewData == nil {
		return Params{}, nil
	}

	if p.ReindexPath == "" {
		return Params{}, errors.New("reindex: reindex_path is required")
	}

	switch p.MethodFillValue {
	case methodNone, methodPad, methodFill:
	default:
		return Params{}, fmt.Errorf("reindex: unsupported method_fill_value %q", p.MethodFillValue)
	}

	target, err := c.source(ctx, p.ReindexPath)
	if err != nil {
		return Params{}, err
	}

	lower := map[string]array.Label{}

	if sc.action != definition.ActionStore {
		ds, err := stored(ctx, sc.handler)
		if err != nil {
			return Params{}, err
		}

		if ds != nil {
			coords := ds.Coords()
			for _, dim := range p.CoordsToReindex {
				if last, ok := coords[dim].Last(); ok {
					lower[dim] = last
				}
			}
		}
	}

	src, dims, method := p.NewData, p.CoordsToReindex, p.MethodFillValue

	return Params{NewData: array.NewLazy(func(ctx context.Context) (*array.Array, error) {
		t, err := target.Compute(ctx)
		if err != nil {
			return nil, err
		}

		coords := make(array.Coords, len(dims))

		for _, dim := range dims {
			if !t.HasDim(dim) {
				return nil, fmt.Errorf("%w: %q not in %s", array.ErrDim, dim, p.ReindexPath)
			}

			idx := t.Coord(dim)
			if last, ok := lower[dim]; ok {
				keep := make([]bool, len(idx))
				for i, l := range idx {
					keep[i] = l.Compare(last) >= 0
				}

				idx = idx.Filter(keep)
			}

			coords[dim] = idx
		}

		data, err := src.Compute(ctx)
		if err != nil {
			return nil, err
		}

		if method == methodNone {
			return data.Reindex(coords, math.NaN())
		}

		return data.ReindexPad(coords)
	})}, nil
}

func fillna(p Params) (Params, error) {
	if p.NewData == nil {
		return Params{}, nil
	}

	value := math.NaN()
	if p.Value != nil {
		value = *p.Value
	}

	src := p.NewData

	return Params{NewData: array.NewLazy(func(ctx context.Context) (*array.Array, error) {
		data, err := src.Compute(ctx)
		if err != nil {
			return nil, err
		}

		return data.FillNaN(value), nil
	})}, nil
}

// ffill forward fills new_data along dim. Unless the running action is
// store, the last stored value before the first new label seeds the fill.
func (c *Client) ffill(ctx context.Context, sc stepContext, p Params) (Params, error) {
	if p.NewData == nil {
		return Params{}, nil
	}

	if p.Dim == "" {
		return Params{}, errors.New("ffill: dim is required")
	}

	limit := 0
	if p.Limit != nil {
		limit = *p.Limit
	}

	src, dim := p.NewData, p.Dim

	var seed func(ctx context.Context, first array.Label) (*array.Array, error)

	if sc.action != definition.ActionStore {
		ds, err := stored(ctx, sc.handler)
		if err != nil {
			return Params{}, err
		}

		if ds != nil {
			seed = func(ctx context.Context, first array.Label) (*array.Array, error) {
				idx, ok := ds.Coords()[dim]
				if !ok {
					return nil, fmt.Errorf("%w: %q not stored", array.ErrDim, dim)
				}

				last := -1
				for i, l := range idx {
					if l.Less(first) {
						last = i
					}
				}

				if last < 0 {
					return nil, nil
				}

				return ds.ReadRegion(ctx, map[string]array.Range{dim: {Start: last, Stop: last + 1}})
			}
		}
	}

	return Params{NewData: array.NewLazy(func(ctx context.Context) (*array.Array, error) {
		data, err := src.Compute(ctx)
		if err != nil {
			return nil, err
		}

		if !data.HasDim(dim) {
			return nil, fmt.Errorf("%w: %q", array.ErrDim, dim)
		}

		joined := data

		if first, ok := firstLabel(data.Coord(dim)); ok && seed != nil {
			prev, err := seed(ctx, first)
			if err != nil {
				return nil, err
			}

			if prev != nil {
				if joined, err = array.Concat(dim, math.NaN(), prev, data); err != nil {
					return nil, err
				}
			}
		}

		filled, err := joined.FFill(dim, limit)
		if err != nil {
			return nil, err
		}

		out, err := filled.Sel(data.Coords())
		if err != nil {
			return nil, err
		}

		return out.Transpose(data.Dims())
	})}, nil
}

func firstLabel(idx array.Index) (array.Label, bool) {
	if len(idx) == 0 {
		return array.Label{}, false
	}

	return idx[0], true
}

// replaceValues keeps the cells of new_data where the tensor at
// replace_path is true and sets the others to value.
func (c *Client) replaceValues(ctx context.Context, p Params) (Params, error) {
	if p.NewData == nil {
		return Params{}, nil
	}

	if p.ReplacePath == "" {
		return Params{}, errors.New("replace_values: replace_path is required")
	}

	mask, err := c.source(ctx, p.ReplacePath)
	if err != nil {
		return Params{}, err
	}

	value := math.NaN()
	if p.Value != nil {
		value = *p.Value
	}

	src := p.NewData

	return Params{NewData: array.NewLazy(func(ctx context.Context) (*array.Array, error) {
		data, err := src.Compute(ctx)
		if err != nil {
			return nil, err
		}

		m, err := mask.Compute(ctx)
		if err != nil {
			return nil, err
		}

		sel := make(array.Coords, m.NDim())
		for _, dim := range m.Dims() {
			if data.HasDim(dim) {
				sel[dim] = data.Coord(dim)
			}
		}

		if m, err = m.Sel(sel); err != nil {
			return nil, err
		}

		return data.Where(m, value)
	})}, nil
}
