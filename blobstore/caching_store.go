package blobstore

import (
	"context"
	"io"

	"github.com/hupe1980/tensordb/internal/cache"
	"github.com/hupe1980/tensordb/internal/resource"
)

// DefaultMaxCachedBlobSize bounds the blobs kept by a CachingStore.
const DefaultMaxCachedBlobSize = 8 << 20

// CachingStore wraps a BlobStore and keeps whole blobs in memory.
//
// Chunks and metadata are small and read whole, so the cache works per blob.
// Writes and deletes through the store invalidate the cached copy; writes
// that bypass it are not observed.
type CachingStore struct {
	inner   BlobStore
	cache   *cache.LRU[string, []byte]
	maxBlob int64
}

// CachingOption configures a CachingStore.
type CachingOption func(*cachingOptions)

type cachingOptions struct {
	maxBlob int64
	rc      *resource.Controller
}

// WithMaxBlobSize sets the largest blob that is cached.
func WithMaxBlobSize(n int64) CachingOption {
	return func(o *cachingOptions) {
		o.maxBlob = n
	}
}

// WithResourceController charges cached bytes against rc.
func WithResourceController(rc *resource.Controller) CachingOption {
	return func(o *cachingOptions) {
		o.rc = rc
	}
}

// NewCachingStore creates a CachingStore holding at most capacity bytes.
func NewCachingStore(inner BlobStore, capacity int64, optFns ...CachingOption) *CachingStore {
	opts := cachingOptions{maxBlob: DefaultMaxCachedBlobSize}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &CachingStore{
		inner:   inner,
		maxBlob: opts.maxBlob,
		cache: cache.New[string, []byte](capacity,
			cache.WithSizeFunc[string](func(b []byte) int64 { return int64(len(b)) }),
			cache.WithController[string, []byte](opts.rc),
		),
	}
}

// Stats returns the hit and miss counters of the cache.
func (s *CachingStore) Stats() (hits, misses int64) { return s.cache.Stats() }

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.cache.Get(name); ok {
		return &memoryBlob{data: data}, nil
	}

	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	if b.Size() > s.maxBlob {
		return b, nil
	}

	defer b.Close()

	data := make([]byte, b.Size())
	if len(data) > 0 {
		if _, err := b.ReadAt(ctx, data, 0); err != nil && err != io.EOF {
			return nil, err
		}
	}

	s.cache.Set(name, data)

	return &memoryBlob{data: data}, nil
}

func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.cache.Delete(name)

	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}

	return &invalidatingBlob{WritableBlob: w, name: name, cache: s.cache}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Delete(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Delete(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type invalidatingBlob struct {
	WritableBlob
	name  string
	cache *cache.LRU[string, []byte]
}

func (w *invalidatingBlob) Close() error {
	err := w.WritableBlob.Close()
	w.cache.Delete(w.name)

	return err
}
