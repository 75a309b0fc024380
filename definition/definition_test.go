package definition

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/docstore"
	"github.com/hupe1980/tensordb/lock"
)

const formulaDefinition = `{
	"handler": {"chunks": {"index": 2}, "sorted_coords": {"index": true}, "synchronizer": "thread"},
	"store": {"data_methods": ["read_from_formula", ["fillna", {"value": 0}]], "compute": false},
	"read": {"customized_method": "read_from_formula"},
	"read_from_formula": {"formula": "` + "`a` + 1" + `"}
}`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(formulaDefinition))
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"index": 2}, d.Handler.Chunks)
	assert.Equal(t, lock.KindThread, *d.Handler.Synchronizer)

	store := d.Settings(ActionStore)
	require.Len(t, store.Pipeline, 2)
	assert.Equal(t, Ref(StepReadFromFormula), store.Pipeline[0])
	assert.Equal(t, StepFillNA, store.Pipeline[1].Step)
	assert.Equal(t, 0.0, *store.Pipeline[1].Params.Value)
	assert.False(t, store.ComputeOrDefault())

	assert.Equal(t, StepReadFromFormula, d.Settings(ActionRead).Override)
	assert.Equal(t, "`a` + 1", d.StepParams(StepReadFromFormula).Formula)
	assert.Equal(t, store.Params, d.StepParams(Step(ActionStore)))

	policy := d.Handler.Policy()
	assert.Equal(t, array.Ascending, policy.Sorted["index"])
	assert.True(t, policy.DefaultUnique)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	for name, doc := range map[string]string{
		"top level":     `{"stroe": {}}`,
		"action field":  `{"store": {"data_method": []}}`,
		"handler field": `{"handler": {"chunk": {}}}`,
		"step name":     `{"store": {"data_methods": ["fillnaa"]}}`,
		"override":      `{"read": {"customized_method": "eval"}}`,
		"pair params":   `{"store": {"data_methods": [["fillna", {"valeu": 1}]]}}`,
		"synchronizer":  `{"handler": {"synchronizer": "global"}}`,
		"compression":   `{"handler": {"compression": "brotli"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}

	_, err := Parse([]byte(`{"stroe": {}}`))
	require.ErrorIs(t, err, ErrUnknownKey)

	_, err = Parse([]byte(`{"store": {"data_methods": ["fillnaa"]}}`))
	require.ErrorIs(t, err, ErrUnknownStep)
}

func TestDefinitionJSONRoundTrip(t *testing.T) {
	d, err := Parse([]byte(formulaDefinition))
	require.NoError(t, err)

	b, err := json.Marshal(d)
	require.NoError(t, err)

	again, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, d, again)
}

func TestPipelineOnlyDefinitionRoundTrip(t *testing.T) {
	d, err := Parse([]byte(`{
		"append": {"data_methods": [["ffill", {"dim": "index"}]], "fill_value": -1},
		"upsert": {"compute": false}
	}`))
	require.NoError(t, err)

	b, err := json.Marshal(d)
	require.NoError(t, err)

	again, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, d, again)
	assert.Empty(t, again.Settings(ActionAppend).Override)
	assert.Equal(t, -1.0, *again.Settings(ActionAppend).FillValue)
	assert.False(t, again.Settings(ActionUpsert).ComputeOrDefault())

	d, err = Parse([]byte(`{"read": {"customized_method": ""}}`))
	require.NoError(t, err)
	assert.Empty(t, d.Settings(ActionRead).Override)
}

func TestParseYAML(t *testing.T) {
	d, err := ParseYAML([]byte(`
handler:
  max_unsort_dims_to_rechunk: 0
append:
  data_methods:
    - [ffill, {dim: index, limit: 2}]
`))
	require.NoError(t, err)
	assert.Equal(t, 0, d.Handler.Policy().MaxUnsortDimsToRechunk)

	ref := d.Settings(ActionAppend).Pipeline[0]
	assert.Equal(t, StepFFill, ref.Step)
	assert.Equal(t, "index", ref.Params.Dim)
	assert.Equal(t, 2, *ref.Params.Limit)
}

func TestParamsMerge(t *testing.T) {
	base := Params{Formula: "`a`", Dim: "index", Bindings: map[string]float64{"x": 1}}
	over := Params{Dim: "columns", Compute: Ptr(false), Bindings: map[string]float64{"y": 2}}

	got := base.Merge(over)
	assert.Equal(t, "`a`", got.Formula)
	assert.Equal(t, "columns", got.Dim)
	assert.False(t, got.ComputeOrDefault())
	assert.Equal(t, map[string]float64{"x": 1, "y": 2}, got.Bindings)
	assert.Equal(t, map[string]float64{"x": 1}, base.Bindings, "merge does not alias")

	w := array.Scalar(2)
	got = base.Merge(Params{ArrayBindings: map[string]array.Source{"w": w}})
	assert.Same(t, w, got.ArrayBindings["w"])
	assert.Nil(t, base.ArrayBindings)
}

func TestSteps(t *testing.T) {
	s, err := ParseStep("store")
	require.NoError(t, err)
	assert.True(t, s.Internal())

	s, err = ParseStep("ffill")
	require.NoError(t, err)
	assert.False(t, s.Internal())

	_, err = ParseAction("ffill")
	require.ErrorIs(t, err, ErrUnknownAction)

	assert.True(t, ActionUpsert.Writes())
	assert.False(t, ActionRead.Writes())
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(docstore.NewBlobStore(blobstore.NewMemoryStore()), nil)

	_, err := r.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	d, err := Parse([]byte(formulaDefinition))
	require.NoError(t, err)
	require.NoError(t, r.Add(ctx, "formula", d))

	ids, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"formula"}, ids)

	require.NoError(t, r.Create(ctx, "by/ref", DefinitionRef{ID: "formula"}, map[string]any{"owner": "research"}))
	require.NoError(t, r.Create(ctx, "inline", DefinitionRef{Inline: &Definition{}}, nil))
	require.NoError(t, r.Create(ctx, "dangling", DefinitionRef{ID: "nope"}, nil))

	got, err := r.Resolve(ctx, "by/ref")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	c, err := r.Creation(ctx, "by/ref")
	require.NoError(t, err)
	assert.Equal(t, "research", c.Metadata["owner"])

	got, err = r.Resolve(ctx, "inline")
	require.NoError(t, err)
	assert.Empty(t, got.Actions)

	_, err = r.Resolve(ctx, "dangling")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(ctx, "never")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := r.Created(ctx, "inline")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.Forget(ctx, "inline"))

	ok, err = r.Created(ctx, "inline")
	require.NoError(t, err)
	assert.False(t, ok)
}
