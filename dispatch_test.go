package tensordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/definition"
	"github.com/hupe1980/tensordb/formula"
	"github.com/hupe1980/tensordb/testutil"
)

var cols = array.Strings("a", "b")

func TestReadOverrideEvaluatesFormula(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	create(t, c, "t1", nil)
	create(t, c, "t2", &definition.Definition{
		Actions: map[definition.Action]definition.ActionSettings{
			definition.ActionRead: {Override: definition.StepReadFromFormula},
		},
		Steps: map[definition.Step]definition.Params{
			definition.StepReadFromFormula: {Formula: "`t1` + 1"},
		},
	})

	_, err := c.Store(ctx, "t1", testutil.Full(array.IntRange(0, 3), cols, 0), Params{})
	require.NoError(t, err)

	testutil.RequireArrayEqual(t, testutil.Full(array.IntRange(0, 3), cols, 1), read(t, c, "t2"))

	ok, err := c.Exist(ctx, "t2")
	require.NoError(t, err)
	assert.False(t, ok, "the formula tensor stores nothing")
}

func TestOverrideNamingAnAction(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	create(t, c, "t", &definition.Definition{
		Actions: map[definition.Action]definition.ActionSettings{
			definition.ActionAppend: {Override: definition.Step(definition.ActionUpsert)},
		},
	})

	_, err := c.Store(ctx, "t", testutil.Grid(array.Ints(0, 1), array.Strings("a"), 1, 2), Params{})
	require.NoError(t, err)

	_, err = c.Append(ctx, "t", testutil.Grid(array.Ints(1, 2), array.Strings("a"), 20, 30), Params{})
	require.NoError(t, err)

	testutil.RequireArrayEqual(t, testutil.Grid(array.Ints(0, 1, 2), array.Strings("a"), 1, 20, 30), read(t, c, "t"))
}

func TestOverrideCycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	create(t, c, "t", &definition.Definition{
		Actions: map[definition.Action]definition.ActionSettings{
			definition.ActionAppend: {Override: definition.Step(definition.ActionUpsert)},
			definition.ActionUpsert: {Override: definition.Step(definition.ActionAppend)},
		},
	})

	_, err := c.Append(ctx, "t", testutil.Full(array.Ints(0), array.Strings("a"), 1), Params{})
	require.ErrorIs(t, err, ErrDispatchCycle)
}

func TestPinnedParamsWin(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	create(t, c, "t", &definition.Definition{
		Actions: map[definition.Action]definition.ActionSettings{
			definition.ActionStore:  {Params: Params{Compute: definition.Ptr(false)}},
			definition.ActionAppend: {Params: Params{FillValue: definition.Ptr(-1.0)}},
		},
	})

	out, err := c.Store(ctx, "t", testutil.Full(array.Ints(0, 1), array.Strings("a"), 0), Params{Compute: definition.Ptr(true)})
	require.NoError(t, err)
	assert.Empty(t, out.Results)

	ok, err := c.Exist(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok, "the write is deferred")

	_, err = out.Write.Compute(ctx)
	require.NoError(t, err)

	_, err = c.Append(ctx, "t", testutil.Full(array.Ints(2), array.Strings("a", "b"), 1), Params{FillValue: definition.Ptr(99.0)})
	require.NoError(t, err)

	want := testutil.Grid(array.Ints(0, 1, 2), array.Strings("a", "b"),
		0, -1,
		0, -1,
		1, 1,
	)
	testutil.RequireArrayEqual(t, want, read(t, c, "t"))
}

func TestStorePipeline(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	nan := testutil.NaN

	create(t, c, "src", nil)
	create(t, c, "t", &definition.Definition{
		Actions: map[definition.Action]definition.ActionSettings{
			definition.ActionStore: {Pipeline: []definition.StepRef{
				definition.Ref(definition.StepReadFromFormula),
				definition.RefWith(definition.StepFillNA, Params{Value: definition.Ptr(0.0)}),
			}},
		},
		Steps: map[definition.Step]definition.Params{
			definition.StepReadFromFormula: {Formula: "`src` * 2"},
		},
	})

	_, err := c.Store(ctx, "src", testutil.Grid(array.Ints(0, 1), cols, 1, nan, nan, 4), Params{})
	require.NoError(t, err)

	_, err = c.Store(ctx, "t", nil, Params{})
	require.NoError(t, err)

	testutil.RequireArrayEqual(t, testutil.Grid(array.Ints(0, 1), cols, 2, 0, 0, 8), read(t, c, "t"))
}

func TestPipelineInternalStep(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	create(t, c, "t", &definition.Definition{
		Actions: map[definition.Action]definition.ActionSettings{
			definition.ActionAppend: {Pipeline: []definition.StepRef{
				definition.RefWith(definition.Step(definition.ActionSetAttrs), Params{Attrs: map[string]any{"source": "feed"}}),
			}},
		},
	})

	_, err := c.Store(ctx, "t", testutil.Full(array.Ints(0), array.Strings("a"), 1), Params{})
	require.NoError(t, err)

	_, err = c.Append(ctx, "t", testutil.Full(array.Ints(1), array.Strings("a"), 2), Params{})
	require.NoError(t, err)

	attrs, err := c.GetAttrs(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "feed", attrs["source"])
	testutil.RequireArrayEqual(t, testutil.Grid(array.Ints(0, 1), array.Strings("a"), 1, 2), read(t, c, "t"))
}

func TestUnknownStepIsRejected(t *testing.T) {
	_, err := definition.Parse([]byte(`{"store": {"data_methods": ["interpolate"]}}`))
	require.ErrorIs(t, err, definition.ErrUnknownStep)
}

func TestStatementFormulas(t *testing.T) {
	ctx := context.Background()
	program := "x = `t1` > 0\nnew_data = where(x, 1, 0)"

	c := newClient(t)
	create(t, c, "t1", nil)

	_, err := c.Store(ctx, "t1", testutil.Grid(array.Ints(0, 1), cols, 1, -1, 0, 2), Params{})
	require.NoError(t, err)

	_, err = c.ReadFromFormula(ctx, program, Params{UseExec: definition.Ptr(true)})
	require.ErrorIs(t, err, formula.ErrStatementsDisabled)

	trusted := newClientOn(t, c.blobs, WithStatementFormulas(true))

	lazy, err := trusted.ReadFromFormula(ctx, program, Params{UseExec: definition.Ptr(true)})
	require.NoError(t, err)
	testutil.RequireArrayEqual(t, testutil.Grid(array.Ints(0, 1), cols, 1, 0, 0, 1), testutil.Compute(t, lazy))
}

func TestFormulaErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.ReadFromFormula(ctx, "`missing` + 1", Params{})
	require.ErrorIs(t, err, ErrDefinitionNotFound)

	_, err = c.ReadFromFormula(ctx, "`a", Params{})
	require.ErrorIs(t, err, formula.ErrMalformedFormula)

	create(t, c, "t", &definition.Definition{
		Actions: map[definition.Action]definition.ActionSettings{
			definition.ActionRead: {Override: definition.StepReadFromFormula},
		},
	})

	_, err = c.Read(ctx, "t", Params{})
	require.ErrorIs(t, err, formula.ErrMalformedFormula, "no formula configured")
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	backups := blobstore.NewMemoryStore()
	c := newClient(t, WithBackupStore(backups))
	create(t, c, "t", nil)

	_, err := c.Backup(ctx, "t")
	require.ErrorIs(t, err, ErrDataNotFound, "nothing to back up")

	original := testutil.Grid(array.Ints(0, 1), cols, 1, 2, 3, 4)

	_, err = c.Store(ctx, "t", original, Params{})
	require.NoError(t, err)

	stats, err := c.Backup(ctx, "t")
	require.NoError(t, err)
	assert.Positive(t, stats.Copied)

	ok, err := chunkstore.New(backups).Exists(ctx, "t")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.Store(ctx, "t", testutil.Full(array.Ints(0, 1, 2), cols, 9), Params{})
	require.NoError(t, err)

	_, err = c.UpdateFromBackup(ctx, "t")
	require.NoError(t, err)

	testutil.RequireArrayEqual(t, original, read(t, c, "t"))

	create(t, c, "other", nil)

	_, err = c.UpdateFromBackup(ctx, "other")
	require.ErrorIs(t, err, ErrDataNotFound)
}

func TestBackupWithoutStore(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	create(t, c, "t", nil)

	_, err := c.Backup(ctx, "t")
	require.ErrorIs(t, err, ErrNoBackupStore)
}

func newClientOn(t *testing.T, blobs blobstore.BlobStore, optFns ...Option) *Client {
	t.Helper()

	c, err := New(blobs, optFns...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	return c
}
