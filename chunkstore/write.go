package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/lock"
)

// Mode selects how a Request changes the stored tensor.
type Mode uint8

const (
	// ModeCreate replaces the tensor with Data.
	ModeCreate Mode = iota
	// ModeRegion overwrites the cells of Region with Data.
	ModeRegion
	// ModeAppend grows the tensor by Blocks.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeRegion:
		return "region"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// AppendBlock is the data grown along one dim.
type AppendBlock struct {
	Dim  string
	Data *array.Array
	// Origin is the position of the block's first cell. Dims not listed start at 0.
	Origin map[string]int
}

// Request describes one write.
type Request struct {
	Path string
	Mode Mode

	// Data is the content written by ModeCreate and ModeRegion.
	Data *array.Array
	// Region holds the position range per dim written by ModeRegion.
	Region map[string]array.Range
	// Blocks are applied in order by ModeAppend.
	Blocks []AppendBlock

	// Chunks requests chunk sizes. ModeCreate resolves missing or
	// non-positive sizes to the extent of the dim; the other modes fail
	// with ErrChunkMismatch when a size differs from the stored one.
	Chunks map[string]int
	// Compression of a created tensor. Empty selects the store default.
	Compression Compression
	// Fill is the value of cells never written. Nil means NaN.
	Fill *float64
	// Attrs are merged into the stored attributes.
	Attrs map[string]any

	// Synchronizer guards the path while the write runs.
	Synchronizer lock.Synchronizer
}

// Result summarizes a finished write.
type Result struct {
	Path          string
	Mode          Mode
	ChunksWritten int
	BytesWritten  int64
	Meta          *Meta
	// Touched holds the row-major ids of the written chunks in the final grid.
	Touched *roaring.Bitmap
}

// Write is a deferred write. Nothing is stored until Compute runs; repeated
// calls return the first outcome.
type Write struct {
	store *Store
	req   Request

	once   sync.Once
	result *Result
	err    error
}

// Write prepares req without touching storage.
func (s *Store) Write(req Request) *Write {
	return &Write{store: s, req: req}
}

// Request returns the prepared request.
func (w *Write) Request() Request { return w.req }

// Compute runs the write under the request's synchronizer. A failed write
// leaves the tensor as it was.
func (w *Write) Compute(ctx context.Context) (*Result, error) {
	w.once.Do(func() {
		w.result, w.err = w.store.run(ctx, w.req)
	})

	return w.result, w.err
}

func (s *Store) run(ctx context.Context, req Request) (_ *Result, err error) {
	syncer := req.Synchronizer
	if syncer == nil {
		syncer = lock.Nop{}
	}

	unlock, err := syncer.Lock(ctx, req.Path)
	if err != nil {
		return nil, err
	}

	defer func() {
		err = errors.Join(err, unlock())
	}()

	tx := &txn{store: s, path: req.Path, journal: newJournal()}

	var res *Result

	switch req.Mode {
	case ModeCreate:
		res, err = tx.create(ctx, req)
	case ModeRegion:
		res, err = tx.region(ctx, req)
	case ModeAppend:
		res, err = tx.append(ctx, req)
	default:
		return nil, fmt.Errorf("chunkstore: unknown write mode %s", req.Mode)
	}

	if err != nil {
		if n := tx.journal.len(); n > 0 {
			s.logger.Warn("rolling back write", "path", req.Path, "mode", req.Mode.String(), "keys", n, "error", err)

			if rerr := tx.journal.rollback(ctx, s.blobs, s.logger); rerr != nil {
				err = errors.Join(err, fmt.Errorf("chunkstore: rollback: %w", rerr))
			}
		}

		return nil, err
	}

	s.logger.Debug("write committed", "path", req.Path, "mode", req.Mode.String(), "chunks", res.ChunksWritten, "bytes", res.BytesWritten)

	return res, nil
}

type txn struct {
	store   *Store
	path    string
	journal *journal

	chunks atomic.Int64
	bytes  atomic.Int64
}

func (tx *txn) result(mode Mode, m *Meta) *Result {
	return &Result{
		Path:          tx.path,
		Mode:          mode,
		ChunksWritten: int(tx.chunks.Load()),
		BytesWritten:  tx.bytes.Load(),
		Meta:          m.clone(),
		Touched:       tx.touched(m),
	}
}

func (tx *txn) touched(m *Meta) *roaring.Bitmap {
	bm := roaring.New()
	prefix := blobstore.Dir(blobstore.Join(tx.path, chunkPrefix))

	tx.journal.mu.Lock()
	defer tx.journal.mu.Unlock()

	for _, key := range tx.journal.order {
		name, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}

		if id, ok := chunkID(m, name); ok {
			bm.Add(id)
		}
	}

	return bm
}

func (tx *txn) put(ctx context.Context, key string, data []byte) error {
	if err := tx.store.blobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("chunkstore: write %s: %w", key, err)
	}

	tx.chunks.Add(1)
	tx.bytes.Add(int64(len(data)))

	return nil
}

func (tx *txn) commitMeta(ctx context.Context, m *Meta) error {
	key := metaKey(tx.path)

	prev, err := blobstore.ReadAll(ctx, tx.store.blobs, key)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}

	tx.journal.record(key, prev)

	return tx.store.writeMeta(ctx, tx.path, m)
}

// writeBox writes src, a dense block placed at srcOrigin, into every chunk it
// overlaps. With merge set the stored chunk content is kept around src;
// otherwise cells outside src take the fill value. existing lists the chunk
// keys present before a create.
func (tx *txn) writeBox(ctx context.Context, m *Meta, src []float64, b box, merge bool, existing map[string]bool) error {
	chunkShape := m.chunkShape()
	srcShape := b.shape()
	g, gctx := tx.store.group(ctx)

	for _, cell := range chunksIn(b, chunkShape) {
		key := chunkKey(tx.path, cell.idx)

		g.Go(func() error {
			var (
				raw    []byte
				values []float64
				err    error
			)

			switch {
			case merge:
				if raw, values, _, err = tx.store.loadChunk(gctx, m, key); err != nil {
					return err
				}
			case existing[key]:
				// Replaced chunks may use another compression; keep their bytes only.
				if raw, err = blobstore.ReadAll(gctx, tx.store.blobs, key); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
					return err
				}
			}

			tx.journal.record(key, raw)

			if values == nil {
				values = make([]float64, product(chunkShape))
				fill := m.Fill()

				for i := range values {
					values[i] = fill
				}
			}

			copyBox(values, cell.origin, chunkShape, src, b.lo, srcShape, cell.overlap)

			data, err := encodeChunk(m, values)
			if err != nil {
				return err
			}

			return tx.put(gctx, key, data)
		})
	}

	return g.Wait()
}

func (tx *txn) create(ctx context.Context, req Request) (*Result, error) {
	if req.Data == nil {
		return nil, fmt.Errorf("chunkstore: create %s: no data", tx.path)
	}

	data := req.Data
	dims := data.Dims()
	shape := data.Shape()

	m := &Meta{
		Version:     FormatVersion,
		Dims:        dims,
		Coords:      data.Coords(),
		Chunks:      resolveChunks(dims, shape, req.Chunks),
		FillValue:   req.Fill,
		Compression: req.Compression,
		Attrs:       maps.Clone(req.Attrs),
	}

	if m.Compression == "" {
		m.Compression = tx.store.compression
	}

	if m.FillValue != nil && math.IsNaN(*m.FillValue) {
		m.FillValue = nil
	}

	old, err := tx.store.readMeta(ctx, tx.path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if old != nil && m.Attrs == nil {
		m.Attrs = maps.Clone(old.Attrs)
	}

	keys, err := tx.store.blobs.List(ctx, blobstore.Dir(blobstore.Join(tx.path, chunkPrefix)))
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(keys))
	for _, k := range keys {
		existing[k] = true
	}

	b := box{lo: make([]int, len(shape)), hi: shape}
	if err := tx.writeBox(ctx, m, data.Values(), b, false, existing); err != nil {
		return nil, err
	}

	if err := tx.commitMeta(ctx, m); err != nil {
		return nil, err
	}

	// Chunks of the replaced tensor outside the new grid.
	for _, k := range keys {
		if tx.journal.seen(k) {
			continue
		}

		if err := tx.store.blobs.Delete(ctx, k); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			tx.store.logger.Warn("stale chunk not deleted", "key", k, "error", err)
		}
	}

	return tx.result(ModeCreate, m), nil
}

func (tx *txn) open(ctx context.Context, req Request) (*Meta, error) {
	m, err := tx.store.readMeta(ctx, tx.path)
	if err != nil {
		return nil, err
	}

	if !ChunksEqual(m.Chunks, positive(req.Chunks)) {
		return nil, fmt.Errorf("%w: stored %v, requested %v", ErrChunkMismatch, m.Chunks, req.Chunks)
	}

	if len(req.Attrs) > 0 {
		if m.Attrs == nil {
			m.Attrs = make(map[string]any, len(req.Attrs))
		}

		maps.Copy(m.Attrs, req.Attrs)
	}

	return m, nil
}

// positive drops the entries of a chunk layout that ask for a whole dim.
func positive(chunks map[string]int) map[string]int {
	out := make(map[string]int, len(chunks))
	for d, n := range chunks {
		if n > 0 {
			out[d] = n
		}
	}

	return out
}

func (tx *txn) region(ctx context.Context, req Request) (*Result, error) {
	m, err := tx.open(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Data == nil {
		return nil, fmt.Errorf("chunkstore: region write %s: no data", tx.path)
	}

	data, err := req.Data.Transpose(m.Dims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}

	shape := m.Shape()
	dataShape := data.Shape()
	b := box{lo: make([]int, len(shape)), hi: make([]int, len(shape))}

	for i, dim := range m.Dims {
		r, ok := req.Region[dim]
		if !ok {
			r = array.Range{Start: 0, Stop: shape[i]}
		}

		if r.Start < 0 || r.Stop > shape[i] || r.Len() != dataShape[i] {
			return nil, fmt.Errorf("%w: %q range [%d, %d) of size %d, data size %d", ErrShapeMismatch, dim, r.Start, r.Stop, shape[i], dataShape[i])
		}

		b.lo[i], b.hi[i] = r.Start, r.Stop
	}

	if err := tx.writeBox(ctx, m, data.Values(), b, true, nil); err != nil {
		return nil, err
	}

	if err := tx.commitMeta(ctx, m); err != nil {
		return nil, err
	}

	return tx.result(ModeRegion, m), nil
}

func (tx *txn) append(ctx context.Context, req Request) (*Result, error) {
	m, err := tx.open(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, blk := range req.Blocks {
		axis := slices.Index(m.Dims, blk.Dim)
		if axis < 0 {
			return nil, fmt.Errorf("%w: %q", array.ErrDim, blk.Dim)
		}

		data, err := blk.Data.Transpose(m.Dims)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
		}

		shape := m.Shape()
		dataShape := data.Shape()
		b := box{lo: make([]int, len(shape)), hi: make([]int, len(shape))}

		for i, dim := range m.Dims {
			b.lo[i] = blk.Origin[dim]
			b.hi[i] = b.lo[i] + dataShape[i]

			if i == axis {
				if b.lo[i] != shape[i] {
					return nil, fmt.Errorf("%w: block along %q starts at %d, extent is %d", ErrShapeMismatch, dim, b.lo[i], shape[i])
				}

				continue
			}

			if b.lo[i] != 0 || b.hi[i] != shape[i] {
				return nil, fmt.Errorf("%w: block along %q covers [%d, %d) of %q with size %d", ErrShapeMismatch, blk.Dim, b.lo[i], b.hi[i], dim, shape[i])
			}
		}

		// Grow first so the chunk grid of the block is addressed against the new extent.
		m.Coords[blk.Dim] = append(m.Coords[blk.Dim].Clone(), data.Coord(blk.Dim)...)

		if err := tx.writeBox(ctx, m, data.Values(), b, true, nil); err != nil {
			return nil, err
		}
	}

	if err := tx.commitMeta(ctx, m); err != nil {
		return nil, err
	}

	return tx.result(ModeAppend, m), nil
}
