package definition

import (
	"maps"
	"slices"

	"github.com/hupe1980/tensordb/array"
)

// Params are the keyword parameters of actions and steps. Unset fields are
// nil or empty; Merge relies on that to tell set fields from unset ones.
type Params struct {
	// NewData is the data written by an action or transformed by a step.
	NewData array.Source `json:"-"`
	// Compute materializes writes immediately. Defaults to true.
	Compute *bool `json:"compute,omitempty"`
	// FillValue is the value of cells introduced by an append. Defaults to NaN.
	FillValue *float64 `json:"fill_value,omitempty"`
	// CompleteUpdateDims are reindexed to the full stored coordinates on update.
	CompleteUpdateDims []string `json:"complete_update_dims,omitempty"`
	// Coords selects labels for read and drop.
	Coords array.Coords `json:"coords,omitempty"`

	Formula string `json:"formula,omitempty"`
	// UseExec evaluates Formula as a statement program.
	UseExec *bool `json:"use_exec,omitempty"`
	// Bindings are extra scalar names visible to formulas.
	Bindings map[string]float64 `json:"bindings,omitempty"`
	// ArrayBindings are extra tensor-valued names visible to formulas. Like
	// NewData they are passed by callers only.
	ArrayBindings map[string]array.Source `json:"-"`

	Dim   string   `json:"dim,omitempty"`
	Limit *int     `json:"limit,omitempty"`
	Value *float64 `json:"value,omitempty"`

	ReindexPath     string   `json:"reindex_path,omitempty"`
	CoordsToReindex []string `json:"coords_to_reindex,omitempty"`
	// MethodFillValue selects the reindex fill method: "" or "ffill"/"pad".
	MethodFillValue string `json:"method_fill_value,omitempty"`

	ReplacePath string `json:"replace_path,omitempty"`

	Attrs map[string]any `json:"attrs,omitempty"`
	// Force makes delete_file also remove the creation document of the tensor.
	Force *bool `json:"force,omitempty"`
}

// Merge returns p overlaid with the fields set in over.
func (p Params) Merge(over Params) Params {
	out := p

	if over.NewData != nil {
		out.NewData = over.NewData
	}

	if over.Compute != nil {
		out.Compute = over.Compute
	}

	if over.FillValue != nil {
		out.FillValue = over.FillValue
	}

	if over.CompleteUpdateDims != nil {
		out.CompleteUpdateDims = slices.Clone(over.CompleteUpdateDims)
	}

	if over.Coords != nil {
		out.Coords = over.Coords.Clone()
	}

	if over.Formula != "" {
		out.Formula = over.Formula
	}

	if over.UseExec != nil {
		out.UseExec = over.UseExec
	}

	if over.Bindings != nil {
		out.Bindings = maps.Clone(p.Bindings)
		if out.Bindings == nil {
			out.Bindings = make(map[string]float64, len(over.Bindings))
		}

		maps.Copy(out.Bindings, over.Bindings)
	}

	if over.ArrayBindings != nil {
		out.ArrayBindings = maps.Clone(p.ArrayBindings)
		if out.ArrayBindings == nil {
			out.ArrayBindings = make(map[string]array.Source, len(over.ArrayBindings))
		}

		maps.Copy(out.ArrayBindings, over.ArrayBindings)
	}

	if over.Dim != "" {
		out.Dim = over.Dim
	}

	if over.Limit != nil {
		out.Limit = over.Limit
	}

	if over.Value != nil {
		out.Value = over.Value
	}

	if over.ReindexPath != "" {
		out.ReindexPath = over.ReindexPath
	}

	if over.CoordsToReindex != nil {
		out.CoordsToReindex = slices.Clone(over.CoordsToReindex)
	}

	if over.MethodFillValue != "" {
		out.MethodFillValue = over.MethodFillValue
	}

	if over.ReplacePath != "" {
		out.ReplacePath = over.ReplacePath
	}

	if over.Attrs != nil {
		out.Attrs = maps.Clone(over.Attrs)
	}

	if over.Force != nil {
		out.Force = over.Force
	}

	return out
}

// ComputeOrDefault reports whether writes are materialized immediately.
func (p Params) ComputeOrDefault() bool { return p.Compute == nil || *p.Compute }

// UseExecOrDefault reports whether Formula is a statement program.
func (p Params) UseExecOrDefault() bool { return p.UseExec != nil && *p.UseExec }

// ForceOrDefault reports whether Force is set.
func (p Params) ForceOrDefault() bool { return p.Force != nil && *p.Force }

// Ptr returns a pointer to v. Handy for optional Params fields.
func Ptr[T any](v T) *T { return &v }
