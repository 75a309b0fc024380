package tensordb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/backup"
	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/definition"
	"github.com/hupe1980/tensordb/handler"
)

// Outcome is the result of an action. Which fields are set depends on the
// action.
type Outcome struct {
	// Data is the lazily read tensor of read actions and data steps.
	Data array.Source
	// Write is the write of a write action. It is already materialized
	// unless Compute was false.
	Write *handler.Write
	// Results are the committed writes when Write was materialized.
	Results []*chunkstore.Result
	// Exists is the answer of exist.
	Exists bool
	// Attrs are the attributes returned by get_attrs.
	Attrs map[string]any
	// Backup summarizes backup and update_from_backup.
	Backup *backup.Stats
}

// stepContext is what a pipeline step knows about the running action.
type stepContext struct {
	path    string
	action  definition.Action
	def     *definition.Definition
	handler *handler.Handler
}

// Do runs action on path as customized by the definition of path:
//
//   - an override method replaces the action entirely. Overrides naming
//     another action dispatch that action on the same path.
//   - otherwise the action's pipeline runs first and its new_data feeds the
//     action.
//   - the action runs with the caller's params overlaid by the params the
//     definition pins for it.
func (c *Client) Do(ctx context.Context, path string, action definition.Action, p Params) (*Outcome, error) {
	start := time.Now()

	out, err := c.dispatch(ctx, path, action, p, nil)
	err = actionError(path, action, err)

	took := time.Since(start)
	c.metrics.RecordAction(action, took, err)
	c.logger.LogAction(ctx, path, action, took, err)

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) dispatch(ctx context.Context, path string, action definition.Action, p Params, visited []definition.Action) (*Outcome, error) {
	if _, err := definition.ParseAction(string(action)); err != nil {
		return nil, err
	}

	if slices.Contains(visited, action) {
		return nil, fmt.Errorf("%w: %v -> %s", ErrDispatchCycle, visited, action)
	}

	visited = append(visited, action)

	def, err := c.registry.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	h, release, err := c.handlers.Acquire(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	sc := stepContext{path: path, action: action, def: def, handler: h}
	settings := def.Settings(action)

	switch {
	case settings.Override != "":
		if a, ok := settings.Override.Action(); ok {
			return c.dispatch(ctx, path, a, p, visited)
		}

		out, err := c.runStep(ctx, sc, settings.Override, def.StepParams(settings.Override).Merge(p))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", settings.Override, err)
		}

		return &Outcome{Data: out.NewData}, nil
	case len(settings.Pipeline) > 0:
		bag, err := c.pipeline(ctx, sc, settings.Pipeline, p)
		if err != nil {
			return nil, err
		}

		return c.perform(ctx, h, action, bag.Merge(settings.Params))
	default:
		return c.perform(ctx, h, action, p.Merge(settings.Params))
	}
}

// pipeline threads a bag of params through refs. A bare reference takes its
// params from the definition, a pair carries them literally; the bag wins
// over both. Internal steps run the default action of the path and leave
// the bag untouched.
func (c *Client) pipeline(ctx context.Context, sc stepContext, refs []definition.StepRef, p Params) (Params, error) {
	bag := p

	for _, ref := range refs {
		params := sc.def.StepParams(ref.Step)
		if ref.Params != nil {
			params = *ref.Params
		}

		call := params.Merge(bag)

		if a, ok := ref.Step.Action(); ok {
			if _, err := c.perform(ctx, sc.handler, a, call); err != nil {
				return Params{}, fmt.Errorf("%s: %w", ref.Step, err)
			}

			continue
		}

		out, err := c.runStep(ctx, sc, ref.Step, call)
		if err != nil {
			return Params{}, fmt.Errorf("%s: %w", ref.Step, err)
		}

		bag = bag.Merge(out)
	}

	return bag, nil
}

// runStep runs a data step. The returned params are merged into the
// pipeline bag.
func (c *Client) runStep(ctx context.Context, sc stepContext, step definition.Step, p Params) (Params, error) {
	switch step {
	case definition.StepReadFromFormula:
		return c.readFromFormula(ctx, p)
	case definition.StepReindex:
		return c.reindex(ctx, sc, p)
	case definition.StepFillNA:
		return fillna(p)
	case definition.StepFFill:
		return c.ffill(ctx, sc, p)
	case definition.StepReplaceValues:
		return c.replaceValues(ctx, p)
	default:
		return Params{}, fmt.Errorf("%w: %q is not a data step", definition.ErrUnknownStep, step)
	}
}

// perform runs the default implementation of action.
func (c *Client) perform(ctx context.Context, h *handler.Handler, action definition.Action, p Params) (*Outcome, error) {
	var (
		w   *handler.Write
		err error
	)

	switch action {
	case definition.ActionStore:
		w, err = h.Store(ctx, p.NewData, p)
	case definition.ActionAppend:
		w, err = h.Append(ctx, p.NewData, p)
	case definition.ActionUpdate:
		w, err = h.Update(ctx, p.NewData, p)
	case definition.ActionUpsert:
		w, err = h.Upsert(ctx, p.NewData, p)
	case definition.ActionDrop:
		w, err = h.Drop(ctx, p.Coords, p)
	case definition.ActionRead:
		data, err := h.Read(ctx, p.Coords)
		if err != nil {
			return nil, err
		}

		return &Outcome{Data: data}, nil
	case definition.ActionBackup:
		stats, err := c.backup(ctx, h)
		if err != nil {
			return nil, err
		}

		return &Outcome{Backup: stats}, nil
	case definition.ActionUpdateFromBackup:
		stats, err := c.restore(ctx, h)
		if err != nil {
			return nil, err
		}

		return &Outcome{Backup: stats}, nil
	case definition.ActionExist:
		ok, err := h.Exist(ctx)
		if err != nil {
			return nil, err
		}

		return &Outcome{Exists: ok}, nil
	case definition.ActionClose:
		return &Outcome{}, c.handlers.Close(h.Path())
	case definition.ActionDeleteFile:
		return &Outcome{}, c.deleteFile(ctx, h, p)
	case definition.ActionSetAttrs:
		return &Outcome{}, h.SetAttrs(ctx, p.Attrs)
	case definition.ActionGetAttrs:
		attrs, err := h.GetAttrs(ctx)
		if err != nil {
			return nil, err
		}

		return &Outcome{Attrs: attrs}, nil
	default:
		return nil, fmt.Errorf("%w: %q", definition.ErrUnknownAction, action)
	}

	if err != nil {
		return nil, err
	}

	return c.materialize(ctx, h.Path(), action, w, p)
}

// materialize computes w unless the caller deferred it.
func (c *Client) materialize(ctx context.Context, path string, action definition.Action, w *handler.Write, p Params) (*Outcome, error) {
	out := &Outcome{Write: w}

	if !p.ComputeOrDefault() || w.Empty() {
		return out, nil
	}

	results, err := w.Compute(ctx)
	if err != nil {
		return nil, err
	}

	out.Results = results

	chunks, bytes := 0, int64(0)
	for _, r := range results {
		chunks += r.ChunksWritten
		bytes += r.BytesWritten
	}

	c.metrics.RecordWrite(chunks, bytes, w.Rewrite())

	if w.Rewrite() {
		c.logger.LogRewrite(ctx, path, action)
	}

	c.logger.LogWrite(ctx, path, action, results)

	return out, nil
}

func (c *Client) deleteFile(ctx context.Context, h *handler.Handler, p Params) error {
	if err := h.Delete(ctx); err != nil {
		return err
	}

	c.handlers.Evict(h.Path())

	if p.ForceOrDefault() {
		return c.registry.Forget(ctx, h.Path())
	}

	return nil
}

func owned(path string) func(string) bool {
	return func(name string) bool { return chunkstore.Owns(path, name) }
}

func (c *Client) backup(ctx context.Context, h *handler.Handler) (*backup.Stats, error) {
	if c.backups == nil {
		return nil, ErrNoBackupStore
	}

	ok, err := h.Exist(ctx)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", chunkstore.ErrNotFound, h.Path())
	}

	return c.mirror.Sync(ctx, c.blobs, c.backups, blobstore.Dir(h.Path()), owned(h.Path()))
}

func (c *Client) restore(ctx context.Context, h *handler.Handler) (*backup.Stats, error) {
	if c.backups == nil {
		return nil, ErrNoBackupStore
	}

	ok, err := chunkstore.New(c.backups).Exists(ctx, h.Path())
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: no backup of %s", chunkstore.ErrNotFound, h.Path())
	}

	var stats *backup.Stats

	err = h.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		stats, err = c.mirror.Sync(ctx, c.backups, c.blobs, blobstore.Dir(h.Path()), owned(h.Path()))

		return err
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// source returns the data of path as its read action yields it.
func (c *Client) source(ctx context.Context, path string) (array.Source, error) {
	out, err := c.Do(ctx, path, definition.ActionRead, Params{})
	if err != nil {
		return nil, err
	}

	if out.Data == nil {
		return nil, fmt.Errorf("%w: read of %s returned no data", ErrDataNotFound, path)
	}

	return out.Data, nil
}

// stored opens the data of the running action's path, or returns nil when
// nothing was written yet.
func stored(ctx context.Context, h *handler.Handler) (*chunkstore.Dataset, error) {
	ds, err := h.Open(ctx)
	if errors.Is(err, chunkstore.ErrNotFound) {
		return nil, nil
	}

	return ds, err
}
