// Package handler binds the storage of one tensor path to its coordinate
// policy and implements the default actions on top of chunkstore.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sync/atomic"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/definition"
	"github.com/hupe1980/tensordb/internal/reconcile"
	"github.com/hupe1980/tensordb/lock"
)

// ErrClosed is returned by a handler after Close.
var ErrClosed = errors.New("handler: closed")

// Handler is the storage accessor of one tensor path.
type Handler struct {
	path        string
	store       *chunkstore.Store
	settings    definition.HandlerSettings
	policy      reconcile.Policy
	compression chunkstore.Compression
	syncer      lock.Synchronizer
	logger      *slog.Logger

	closed atomic.Bool
}

// Config holds the collaborators of a handler.
type Config struct {
	Store        *chunkstore.Store
	Settings     definition.HandlerSettings
	Synchronizer lock.Synchronizer
	Logger       *slog.Logger
}

// New creates the handler of path.
func New(path string, cfg Config) (*Handler, error) {
	compression, err := chunkstore.ParseCompression(cfg.Settings.Compression)
	if err != nil {
		return nil, err
	}

	if cfg.Settings.Compression == "" {
		compression = ""
	}

	syncer := cfg.Synchronizer
	if syncer == nil {
		syncer = lock.Nop{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Handler{
		path:        path,
		store:       cfg.Store,
		settings:    cfg.Settings,
		policy:      cfg.Settings.Policy(),
		compression: compression,
		syncer:      syncer,
		logger:      logger.With("path", path),
	}, nil
}

// Path returns the tensor path.
func (h *Handler) Path() string { return h.path }

// Settings returns the handler settings.
func (h *Handler) Settings() definition.HandlerSettings { return h.settings }

// Policy returns the coordinate policy.
func (h *Handler) Policy() reconcile.Policy { return h.policy }

// Close marks the handler closed. Closing twice is a no-op.
func (h *Handler) Close() error {
	h.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (h *Handler) Closed() bool { return h.closed.Load() }

func (h *Handler) check() error {
	if h.closed.Load() {
		return fmt.Errorf("%w: %s", ErrClosed, h.path)
	}

	return nil
}

// Exist reports whether data was written to the path.
func (h *Handler) Exist(ctx context.Context) (bool, error) {
	if err := h.check(); err != nil {
		return false, err
	}

	return h.store.Exists(ctx, h.path)
}

// Open opens the stored tensor. It fails with chunkstore.ErrNotFound when
// nothing was written.
func (h *Handler) Open(ctx context.Context) (*chunkstore.Dataset, error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	return h.store.Open(ctx, h.path)
}

// Read returns the stored tensor, restricted to coords when given. The
// metadata is read immediately; chunks are read on Compute.
func (h *Handler) Read(ctx context.Context, coords array.Coords) (*array.Lazy, error) {
	ds, err := h.Open(ctx)
	if err != nil {
		return nil, err
	}

	return array.NewLazy(func(ctx context.Context) (*array.Array, error) {
		if len(coords) == 0 {
			return ds.Read(ctx)
		}

		return ds.Sel(ctx, coords)
	}), nil
}

// Store replaces the stored tensor with data.
func (h *Handler) Store(ctx context.Context, data array.Source, p definition.Params) (*Write, error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	arr, err := requireData(ctx, data)
	if err != nil {
		return nil, err
	}

	return h.store0(arr, p, nil, false)
}

// store0 plans replacing the tensor with arr. Rewrites pass the chunk sizes
// recorded for the stored tensor; otherwise the handler settings apply.
func (h *Handler) store0(arr *array.Array, p definition.Params, recorded map[string]int, rewrite bool) (*Write, error) {
	prep, err := h.policy.Prepare(arr)
	if err != nil {
		return nil, err
	}

	chunks := maps.Clone(h.settings.Chunks)
	if recorded != nil {
		chunks = maps.Clone(recorded)
	}

	if chunks == nil {
		chunks = make(map[string]int, len(prep.Merged))
	}

	// Reordered dims go into a single chunk to avoid fragmenting the axis.
	for _, dim := range prep.Merged {
		chunks[dim] = -1
	}

	req := chunkstore.Request{
		Path:         h.path,
		Mode:         chunkstore.ModeCreate,
		Data:         prep.Data,
		Chunks:       chunks,
		Compression:  h.compression,
		Attrs:        p.Attrs,
		Synchronizer: h.syncer,
	}

	h.logger.Debug("store planned", "shape", prep.Data.Shape(), "rewrite", rewrite)

	return newWrite(h.store.Write(req)).markRewrite(rewrite), nil
}

// Append adds the labels of data missing from the stored tensor. When the
// path holds no data yet the append degrades to Store.
func (h *Handler) Append(ctx context.Context, data array.Source, p definition.Params) (*Write, error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	arr, err := requireData(ctx, data)
	if err != nil {
		return nil, err
	}

	ds, err := h.store.Open(ctx, h.path)
	if errors.Is(err, chunkstore.ErrNotFound) {
		return h.store0(arr, p, nil, false)
	}

	if err != nil {
		return nil, err
	}

	plan, err := h.planAppend(ds, arr, p)
	if err != nil {
		return nil, err
	}

	if plan.Rewrite {
		existing, err := ds.Read(ctx)
		if err != nil {
			return nil, err
		}

		return h.rewrite(ds, existing, plan, p)
	}

	return h.appendWrite(plan, p), nil
}

func (h *Handler) planAppend(ds *chunkstore.Dataset, arr *array.Array, p definition.Params) (*reconcile.AppendPlan, error) {
	fill := math.NaN()
	if p.FillValue != nil {
		fill = *p.FillValue
	}

	return reconcile.PlanAppend(layoutOf(ds), arr, h.policy, fill)
}

// rewrite stores base grown by the blocks of plan, keeping the chunk sizes
// of ds.
func (h *Handler) rewrite(ds *chunkstore.Dataset, base *array.Array, plan *reconcile.AppendPlan, p definition.Params) (*Write, error) {
	complete, err := plan.Complete(base)
	if err != nil {
		return nil, err
	}

	h.logger.Info("append breaks sort order, rewriting", "dims", plan.Dims())

	return h.store0(complete, p, ds.Chunks(), true)
}

func (h *Handler) appendWrite(plan *reconcile.AppendPlan, p definition.Params) *Write {
	if plan.Empty() {
		return emptyWrite()
	}

	blocks := make([]chunkstore.AppendBlock, len(plan.Blocks))
	for i, b := range plan.Blocks {
		blocks[i] = chunkstore.AppendBlock{Dim: b.Dim, Data: b.Data, Origin: b.Origin}
	}

	req := chunkstore.Request{
		Path:         h.path,
		Mode:         chunkstore.ModeAppend,
		Blocks:       blocks,
		Chunks:       plan.Chunks,
		Attrs:        p.Attrs,
		Synchronizer: h.syncer,
	}

	h.logger.Debug("append planned", "dims", plan.Dims())

	return newWrite(h.store.Write(req))
}

// Update overwrites stored cells with data. Labels outside the stored
// extent are ignored.
func (h *Handler) Update(ctx context.Context, data array.Source, p definition.Params) (*Write, error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	arr, err := requireData(ctx, data)
	if err != nil {
		return nil, err
	}

	ds, err := h.store.Open(ctx, h.path)
	if err != nil {
		return nil, err
	}

	plan, err := reconcile.PlanUpdate(layoutOf(ds), arr, h.policy, p.CompleteUpdateDims)
	if err != nil {
		return nil, err
	}

	return h.updateWrite(ctx, ds, plan, p)
}

func (h *Handler) updateWrite(ctx context.Context, ds *chunkstore.Dataset, plan *reconcile.UpdatePlan, p definition.Params) (*Write, error) {
	if plan.Empty() {
		return emptyWrite(), nil
	}

	region, err := ds.ReadRegion(ctx, plan.Region)
	if err != nil {
		return nil, err
	}

	merged, err := plan.Merge(region)
	if err != nil {
		return nil, err
	}

	req := chunkstore.Request{
		Path:         h.path,
		Mode:         chunkstore.ModeRegion,
		Data:         merged,
		Region:       plan.Region,
		Chunks:       plan.Chunks,
		Attrs:        p.Attrs,
		Synchronizer: h.syncer,
	}

	h.logger.Debug("update planned", "region", plan.Region)

	return newWrite(h.store.Write(req)), nil
}

// Upsert updates the stored labels of data and appends the rest. Both are
// planned against the same stored tensor. When the append has to rewrite
// the tensor, the rewrite starts from the updated values and replaces the
// region write.
func (h *Handler) Upsert(ctx context.Context, data array.Source, p definition.Params) (*Write, error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	arr, err := requireData(ctx, data)
	if err != nil {
		return nil, err
	}

	ds, err := h.store.Open(ctx, h.path)
	if errors.Is(err, chunkstore.ErrNotFound) {
		return h.store0(arr, p, nil, false)
	}

	if err != nil {
		return nil, err
	}

	update, err := reconcile.PlanUpdate(layoutOf(ds), arr, h.policy, p.CompleteUpdateDims)
	if err != nil {
		return nil, err
	}

	appendPlan, err := h.planAppend(ds, arr, p)
	if err != nil {
		return nil, err
	}

	if appendPlan.Rewrite {
		existing, err := ds.Read(ctx)
		if err != nil {
			return nil, err
		}

		if !update.Empty() {
			if existing, err = update.Merge(existing); err != nil {
				return nil, err
			}
		}

		return h.rewrite(ds, existing, appendPlan, p)
	}

	updateW, err := h.updateWrite(ctx, ds, update, p)
	if err != nil {
		return nil, err
	}

	return joinWrites(updateW, h.appendWrite(appendPlan, p)), nil
}

// Drop removes the labels in coords and stores the remaining tensor.
func (h *Handler) Drop(ctx context.Context, coords array.Coords, p definition.Params) (*Write, error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	ds, err := h.store.Open(ctx, h.path)
	if err != nil {
		return nil, err
	}

	existing, err := ds.Read(ctx)
	if err != nil {
		return nil, err
	}

	rest, err := existing.DropSel(coords)
	if err != nil {
		return nil, err
	}

	return h.store0(rest, p, ds.Chunks(), true)
}

// SetAttrs merges attrs into the stored attributes.
func (h *Handler) SetAttrs(ctx context.Context, attrs map[string]any) error {
	if err := h.check(); err != nil {
		return err
	}

	unlock, err := h.syncer.Lock(ctx, h.path)
	if err != nil {
		return err
	}

	return errors.Join(h.store.SetAttrs(ctx, h.path, attrs), unlock())
}

// GetAttrs returns the stored attributes.
func (h *Handler) GetAttrs(ctx context.Context) (map[string]any, error) {
	ds, err := h.Open(ctx)
	if err != nil {
		return nil, err
	}

	return ds.Attrs(), nil
}

// Delete removes the stored data.
func (h *Handler) Delete(ctx context.Context) error {
	if err := h.check(); err != nil {
		return err
	}

	unlock, err := h.syncer.Lock(ctx, h.path)
	if err != nil {
		return err
	}

	return errors.Join(h.store.Delete(ctx, h.path), unlock())
}

// Exclusive runs fn while holding the write lock of the path.
func (h *Handler) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := h.check(); err != nil {
		return err
	}

	unlock, err := h.syncer.Lock(ctx, h.path)
	if err != nil {
		return err
	}

	return errors.Join(fn(ctx), unlock())
}

// ErrNoData is returned when a write action gets no data.
var ErrNoData = errors.New("handler: no data to write")

func requireData(ctx context.Context, src array.Source) (*array.Array, error) {
	arr, err := array.Materialize(ctx, src)
	if err != nil {
		return nil, err
	}

	if arr == nil {
		return nil, ErrNoData
	}

	return arr, nil
}

func layoutOf(ds *chunkstore.Dataset) reconcile.Layout {
	return reconcile.Layout{Dims: ds.Dims(), Coords: ds.Coords(), Chunks: ds.Chunks()}
}
