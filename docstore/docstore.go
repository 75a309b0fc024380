// Package docstore keeps small metadata documents, such as tensor definitions,
// next to the tensors they describe.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/tensordb/codec"
)

// ErrNotFound is returned when no document is stored under a key.
var ErrNotFound = errors.New("docstore: document not found")

// Store is a key/document store. Keys are slash separated paths.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, doc []byte) error
	// Delete removes a document. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the sorted keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Load decodes the document stored under key into v.
func Load(ctx context.Context, s Store, c codec.Codec, key string, v any) error {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := c.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", key, err)
	}

	return nil
}

// Save encodes v and stores it under key.
func Save(ctx context.Context, s Store, c codec.Codec, key string, v any) error {
	doc, err := c.Marshal(v)
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", key, err)
	}

	return s.Put(ctx, key, doc)
}
