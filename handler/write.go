package handler

import (
	"context"
	"sync"

	"github.com/hupe1980/tensordb/chunkstore"
)

// Write is the deferred outcome of a write action. It holds zero or more
// storage writes that run in order on Compute.
type Write struct {
	parts   []*chunkstore.Write
	rewrite bool

	once    sync.Once
	results []*chunkstore.Result
	err     error
}

func newWrite(w *chunkstore.Write) *Write {
	return &Write{parts: []*chunkstore.Write{w}}
}

func emptyWrite() *Write { return &Write{} }

func joinWrites(ws ...*Write) *Write {
	out := &Write{}
	for _, w := range ws {
		out.parts = append(out.parts, w.parts...)
		out.rewrite = out.rewrite || w.rewrite
	}

	return out
}

func (w *Write) markRewrite(rewrite bool) *Write {
	w.rewrite = rewrite
	return w
}

// Empty reports whether there is nothing to write.
func (w *Write) Empty() bool { return len(w.parts) == 0 }

// Rewrite reports whether the write replaces the whole tensor because an
// incremental write was not possible.
func (w *Write) Rewrite() bool { return w.rewrite }

// Len returns the number of storage writes.
func (w *Write) Len() int { return len(w.parts) }

// Compute runs the storage writes in order, stopping at the first failure.
// Repeated calls return the first outcome.
func (w *Write) Compute(ctx context.Context) ([]*chunkstore.Result, error) {
	w.once.Do(func() {
		for _, p := range w.parts {
			res, err := p.Compute(ctx)
			if err != nil {
				w.err = err
				return
			}

			w.results = append(w.results, res)
		}
	})

	return w.results, w.err
}
