// Package backup mirrors tensor blobs between two blob stores.
//
// Sync copies every blob of a prefix from a source to a destination store
// and deletes destination blobs the source no longer has. The destination
// keeps a manifest with the CRC32C checksum of every mirrored blob, so
// blobs that did not change since the last sync are not uploaded again.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/codec"
	"github.com/hupe1980/tensordb/internal/hash"
	"github.com/hupe1980/tensordb/internal/resource"
)

// ManifestName is the blob name of the manifest below a synced prefix.
const ManifestName = ".backup-manifest.json"

const manifestVersion = 1

// Manifest records the checksums of the blobs mirrored into a destination.
type Manifest struct {
	Version  int               `json:"version"`
	SyncedAt time.Time         `json:"synced_at"`
	Blobs    map[string]uint32 `json:"blobs"`
}

// Stats summarize one Sync.
type Stats struct {
	Copied  int
	Skipped int
	Deleted int
	Bytes   int64
}

// Mirror copies blobs between stores.
type Mirror struct {
	rc     *resource.Controller
	codec  codec.Codec
	logger *slog.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithResourceController bounds concurrency and throttles copies.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Mirror) {
		m.rc = rc
	}
}

// WithCodec sets the manifest codec.
func WithCodec(c codec.Codec) Option {
	return func(m *Mirror) {
		m.codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) {
		m.logger = l
	}
}

// New creates a Mirror.
func New(optFns ...Option) *Mirror {
	m := &Mirror{
		codec:  codec.Default,
		logger: slog.New(slog.DiscardHandler),
	}

	for _, fn := range optFns {
		fn(m)
	}

	return m
}

func manifestKey(prefix string) string {
	return blobstore.Join(prefix, ManifestName)
}

// ReadManifest returns the manifest of prefix in s, or an empty manifest
// when s was never synced.
func (m *Mirror) ReadManifest(ctx context.Context, s blobstore.BlobStore, prefix string) (*Manifest, error) {
	data, err := blobstore.ReadAll(ctx, s, manifestKey(prefix))
	if errors.Is(err, blobstore.ErrNotFound) {
		return &Manifest{Version: manifestVersion, Blobs: map[string]uint32{}}, nil
	}

	if err != nil {
		return nil, err
	}

	var mf Manifest
	if err := m.codec.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("backup: manifest %s: %w", manifestKey(prefix), err)
	}

	if mf.Version != manifestVersion {
		return nil, fmt.Errorf("backup: manifest %s: unsupported version %d", manifestKey(prefix), mf.Version)
	}

	if mf.Blobs == nil {
		mf.Blobs = map[string]uint32{}
	}

	return &mf, nil
}

// Sync mirrors the blobs below prefix accepted by match from src into dst.
// A nil match accepts every blob.
func (m *Mirror) Sync(ctx context.Context, src, dst blobstore.BlobStore, prefix string, match func(name string) bool) (*Stats, error) {
	if match == nil {
		match = func(string) bool { return true }
	}

	accept := func(name string) bool {
		return !strings.HasSuffix(name, "/"+ManifestName) && name != ManifestName && match(name)
	}

	names, err := list(ctx, src, prefix, accept)
	if err != nil {
		return nil, err
	}

	stale, err := list(ctx, dst, prefix, accept)
	if err != nil {
		return nil, err
	}

	prev, err := m.ReadManifest(ctx, dst, prefix)
	if err != nil {
		return nil, err
	}

	var (
		stats   Stats
		copied  atomic.Int64
		skipped atomic.Int64
		written atomic.Int64
		mu      sync.Mutex
		next    = make(map[string]uint32, len(names))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.rc.MaxWorkers())

	for _, name := range names {
		g.Go(func() error {
			data, err := blobstore.ReadAll(gctx, src, name)
			if err != nil {
				return fmt.Errorf("backup: read %s: %w", name, err)
			}

			sum := hash.CRC32C(data)

			mu.Lock()
			next[name] = sum
			mu.Unlock()

			if old, ok := prev.Blobs[name]; ok && old == sum {
				skipped.Add(1)
				return nil
			}

			// Reading through the limiter throttles the upload rate.
			data, err = io.ReadAll(resource.NewRateLimitedReader(gctx, bytes.NewReader(data), m.rc))
			if err != nil {
				return err
			}

			if err := dst.Put(gctx, name, data); err != nil {
				return fmt.Errorf("backup: write %s: %w", name, err)
			}

			copied.Add(1)
			written.Add(int64(len(data)))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, name := range stale {
		if _, ok := next[name]; ok {
			continue
		}

		if err := dst.Delete(ctx, name); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("backup: delete %s: %w", name, err)
		}

		stats.Deleted++
	}

	data, err := m.codec.Marshal(&Manifest{Version: manifestVersion, SyncedAt: time.Now().UTC(), Blobs: next})
	if err != nil {
		return nil, err
	}

	if err := dst.Put(ctx, manifestKey(prefix), data); err != nil {
		return nil, fmt.Errorf("backup: write manifest: %w", err)
	}

	stats.Copied = int(copied.Load())
	stats.Skipped = int(skipped.Load())
	stats.Bytes = written.Load()

	m.logger.DebugContext(ctx, "backup synced",
		"prefix", prefix,
		"copied", stats.Copied,
		"skipped", stats.Skipped,
		"deleted", stats.Deleted,
		"bytes", stats.Bytes,
	)

	return &stats, nil
}

func list(ctx context.Context, s blobstore.BlobStore, prefix string, accept func(string) bool) ([]string, error) {
	all, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(all))

	for _, name := range all {
		if accept(name) {
			names = append(names, name)
		}
	}

	return names, nil
}
