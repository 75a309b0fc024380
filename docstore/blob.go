package docstore

import (
	"context"
	"errors"
	"strings"

	"github.com/hupe1980/tensordb/blobstore"
)

const docSuffix = ".json"

// BlobStore keeps every document as one blob named <key>.json.
type BlobStore struct {
	blobs blobstore.BlobStore
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore creates a document store over blobs.
func NewBlobStore(blobs blobstore.BlobStore) *BlobStore {
	return &BlobStore{blobs: blobs}
}

func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	doc, err := blobstore.ReadAll(ctx, s.blobs, key+docSuffix)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNotFound
	}

	return doc, err
}

func (s *BlobStore) Put(ctx context.Context, key string, doc []byte) error {
	return s.blobs.Put(ctx, key+docSuffix, doc)
}

func (s *BlobStore) Delete(ctx context.Context, key string) error {
	err := s.blobs.Delete(ctx, key+docSuffix)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil
	}

	return err
}

func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return blobstore.Exists(ctx, s.blobs, key+docSuffix)
}

func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(names))

	for _, name := range names {
		if key, ok := strings.CutSuffix(name, docSuffix); ok && !strings.HasSuffix(key, "/.tensor") {
			keys = append(keys, key)
		}
	}

	return keys, nil
}
