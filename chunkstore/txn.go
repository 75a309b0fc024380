package chunkstore

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/tensordb/blobstore"
)

// journal remembers the content every key had before a write touched it, so a
// failed write can put the tensor back the way it was.
type journal struct {
	mu    sync.Mutex
	prev  map[string][]byte
	order []string
}

func newJournal() *journal {
	return &journal{prev: make(map[string][]byte)}
}

// record stores the previous content of key. A nil raw marks a key that did
// not exist. Only the first record of a key counts.
func (j *journal) record(key string, raw []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.prev[key]; ok {
		return
	}

	j.prev[key] = raw
	j.order = append(j.order, key)
}

func (j *journal) seen(key string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, ok := j.prev[key]

	return ok
}

func (j *journal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return len(j.order)
}

// rollback restores the recorded keys in reverse order. It keeps going after
// errors and returns all of them joined.
func (j *journal) rollback(ctx context.Context, blobs blobstore.BlobStore, logger *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)

	j.mu.Lock()
	order := slices.Clone(j.order)
	j.mu.Unlock()

	var errs []error

	for _, key := range slices.Backward(order) {
		var err error

		if raw := j.prev[key]; raw == nil {
			err = blobs.Delete(ctx, key)
			if errors.Is(err, blobstore.ErrNotFound) {
				err = nil
			}
		} else {
			err = blobs.Put(ctx, key, raw)
		}

		if err != nil {
			logger.Error("rollback failed", "key", key, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
