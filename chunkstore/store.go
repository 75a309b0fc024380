// Package chunkstore stores labeled arrays as grids of compressed chunks in a
// blobstore.BlobStore.
//
// A tensor at path p is laid out as
//
//	p/.tensor.json   metadata: dims, coords, chunk sizes, fill value, attrs
//	p/c/<i>.<j>...   one blob per chunk, little-endian float64 in row-major order
//
// Chunks always hold the full chunk shape; cells past the extent hold the
// fill value. Metadata is written after the chunks, so a reader never sees
// coordinates whose chunks are missing.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/codec"
	"github.com/hupe1980/tensordb/internal/resource"
)

var (
	// ErrNotFound is returned when no tensor is stored at a path.
	ErrNotFound = errors.New("chunkstore: tensor not found")
	// ErrChunkMismatch is returned when a write names chunk sizes that differ
	// from the stored ones.
	ErrChunkMismatch = errors.New("chunkstore: chunk sizes differ from stored chunks")
	// ErrShapeMismatch is returned when written data does not fit its target.
	ErrShapeMismatch = errors.New("chunkstore: shape mismatch")
)

// Store reads and writes chunked tensors.
type Store struct {
	blobs       blobstore.BlobStore
	codec       codec.Codec
	rc          *resource.Controller
	logger      *slog.Logger
	compression Compression
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec of metadata documents.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithResourceController bounds chunk IO concurrency.
func WithResourceController(rc *resource.Controller) Option {
	return func(s *Store) {
		s.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithDefaultCompression sets the compression of tensors created without one.
func WithDefaultCompression(c Compression) Option {
	return func(s *Store) {
		s.compression = c
	}
}

// New creates a Store over blobs.
func New(blobs blobstore.BlobStore, optFns ...Option) *Store {
	s := &Store{
		blobs:       blobs,
		codec:       codec.Default,
		logger:      slog.New(slog.DiscardHandler),
		compression: CompressionLZ4,
	}

	for _, fn := range optFns {
		fn(s)
	}

	return s
}

// Blobs returns the underlying blob store.
func (s *Store) Blobs() blobstore.BlobStore { return s.blobs }

func (s *Store) readMeta(ctx context.Context, path string) (*Meta, error) {
	data, err := blobstore.ReadAll(ctx, s.blobs, metaKey(path))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return nil, err
	}

	var m Meta
	if err := s.codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("chunkstore: decode metadata of %s: %w", path, err)
	}

	if m.Coords == nil {
		m.Coords = array.Coords{}
	}

	for _, d := range m.Dims {
		if m.Coords[d] == nil {
			m.Coords[d] = array.Index{}
		}
	}

	return &m, nil
}

func (s *Store) writeMeta(ctx context.Context, path string, m *Meta) error {
	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("chunkstore: encode metadata of %s: %w", path, err)
	}

	return s.blobs.Put(ctx, metaKey(path), data)
}

// Open returns the tensor stored at path.
func (s *Store) Open(ctx context.Context, path string) (*Dataset, error) {
	m, err := s.readMeta(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Dataset{store: s, path: path, meta: m}, nil
}

// Exists reports whether a tensor is stored at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	return blobstore.Exists(ctx, s.blobs, metaKey(path))
}

// Delete removes the tensor at path. Deleting a missing tensor is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	// Metadata goes first so a partially deleted tensor reads as absent.
	if err := s.blobs.Delete(ctx, metaKey(path)); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}

	return blobstore.DeletePrefix(ctx, s.blobs, blobstore.Dir(path))
}

// SetAttrs merges attrs into the attributes of the tensor at path.
func (s *Store) SetAttrs(ctx context.Context, path string, attrs map[string]any) error {
	m, err := s.readMeta(ctx, path)
	if err != nil {
		return err
	}

	if m.Attrs == nil {
		m.Attrs = make(map[string]any, len(attrs))
	}

	maps.Copy(m.Attrs, attrs)

	return s.writeMeta(ctx, path, m)
}

// loadChunk returns the framed bytes and decoded values of a chunk.
// Missing chunks report ok=false.
func (s *Store) loadChunk(ctx context.Context, m *Meta, key string) (raw []byte, values []float64, ok bool, err error) {
	raw, err = blobstore.ReadAll(ctx, s.blobs, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, false, nil
		}

		return nil, nil, false, err
	}

	data, err := decompressFrame(raw, m.Compression)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%s: %w", key, err)
	}

	values, err = decodeValues(data, product(m.chunkShape()))
	if err != nil {
		return nil, nil, false, fmt.Errorf("%s: %w", key, err)
	}

	return raw, values, true, nil
}

func encodeChunk(m *Meta, values []float64) ([]byte, error) {
	return compressFrame(encodeValues(values), m.Compression)
}

func (s *Store) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.rc.MaxWorkers())

	return g, gctx
}

// Dataset is an opened tensor. It reflects the metadata at open time.
type Dataset struct {
	store *Store
	path  string
	meta  *Meta
}

var _ array.Source = (*Dataset)(nil)

// Path returns the tensor path.
func (d *Dataset) Path() string { return d.path }

// Meta returns a copy of the metadata.
func (d *Dataset) Meta() *Meta { return d.meta.clone() }

// Dims returns the stored dim order.
func (d *Dataset) Dims() []string { return slices.Clone(d.meta.Dims) }

// Coords returns a copy of the stored coordinates.
func (d *Dataset) Coords() array.Coords { return d.meta.Coords.Clone() }

// Chunks returns the resolved chunk sizes.
func (d *Dataset) Chunks() map[string]int { return maps.Clone(d.meta.Chunks) }

// Attrs returns a copy of the attributes.
func (d *Dataset) Attrs() map[string]any { return maps.Clone(d.meta.Attrs) }

// Shape returns the extent of every dim.
func (d *Dataset) Shape() []int { return d.meta.Shape() }

// Compute reads the whole tensor.
func (d *Dataset) Compute(ctx context.Context) (*array.Array, error) { return d.Read(ctx) }

// Read reads the whole tensor.
func (d *Dataset) Read(ctx context.Context) (*array.Array, error) {
	shape := d.meta.Shape()
	region := make(map[string]array.Range, len(shape))

	for i, dim := range d.meta.Dims {
		region[dim] = array.Range{Start: 0, Stop: shape[i]}
	}

	return d.ReadRegion(ctx, region)
}

// ReadRegion reads the cells in the given position ranges. Dims missing from
// region are read whole.
func (d *Dataset) ReadRegion(ctx context.Context, region map[string]array.Range) (*array.Array, error) {
	m := d.meta
	shape := m.Shape()
	b := box{lo: make([]int, len(shape)), hi: slices.Clone(shape)}
	coords := make(array.Coords, len(shape))

	for i, dim := range m.Dims {
		if r, ok := region[dim]; ok {
			if r.Start < 0 || r.Stop > shape[i] || r.Start > r.Stop {
				return nil, fmt.Errorf("%w: range [%d, %d) outside %q of size %d", ErrShapeMismatch, r.Start, r.Stop, dim, shape[i])
			}

			b.lo[i], b.hi[i] = r.Start, r.Stop
		}

		coords[dim] = m.Coords[dim][b.lo[i]:b.hi[i]].Clone()
	}

	out, err := array.Full(m.Dims, coords, m.Fill())
	if err != nil {
		return nil, err
	}

	if out.Empty() {
		return out, nil
	}

	chunkShape := m.chunkShape()
	values := out.Values()
	outShape := b.shape()

	g, gctx := d.store.group(ctx)

	for _, cell := range chunksIn(b, chunkShape) {
		g.Go(func() error {
			_, chunk, ok, err := d.store.loadChunk(gctx, m, chunkKey(d.path, cell.idx))
			if err != nil || !ok {
				return err
			}

			copyBox(values, b.lo, outShape, chunk, cell.origin, chunkShape, cell.overlap)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// Sel reads the cells at the given labels. Dims missing from labels are read
// whole. Unknown labels fail with array.ErrLabelNotFound.
func (d *Dataset) Sel(ctx context.Context, labels array.Coords) (*array.Array, error) {
	region := make(map[string]array.Range, len(labels))
	rel := make(map[string][]int, len(labels))

	for dim, want := range labels {
		idx, ok := d.meta.Coords[dim]
		if !ok {
			return nil, fmt.Errorf("%w: %q", array.ErrDim, dim)
		}

		positions := idx.Positions()
		pos := make([]int, len(want))
		lo, hi := math.MaxInt, -1

		for i, l := range want {
			p, ok := positions[l]
			if !ok {
				return nil, fmt.Errorf("%w: %s=%s", array.ErrLabelNotFound, dim, l)
			}

			pos[i] = p
			lo, hi = min(lo, p), max(hi, p)
		}

		if len(want) == 0 {
			lo, hi = 0, -1
		}

		region[dim] = array.Range{Start: lo, Stop: hi + 1}
		for i := range pos {
			pos[i] -= lo
		}

		rel[dim] = pos
	}

	out, err := d.ReadRegion(ctx, region)
	if err != nil {
		return nil, err
	}

	return out.ISel(rel)
}
