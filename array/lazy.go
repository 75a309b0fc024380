package array

import (
	"context"
	"sync"
)

// Source is anything that can materialize an array on demand.
type Source interface {
	Compute(ctx context.Context) (*Array, error)
}

// Compute returns a itself.
func (a *Array) Compute(context.Context) (*Array, error) { return a, nil }

// Lazy is a deferred array. The thunk runs at most once; later calls return
// the memoized result.
type Lazy struct {
	once sync.Once
	fn   func(ctx context.Context) (*Array, error)
	arr  *Array
	err  error
}

// NewLazy wraps fn in a Lazy.
func NewLazy(fn func(ctx context.Context) (*Array, error)) *Lazy {
	return &Lazy{fn: fn}
}

// Compute runs the thunk on first use.
func (l *Lazy) Compute(ctx context.Context) (*Array, error) {
	l.once.Do(func() {
		l.arr, l.err = l.fn(ctx)
		l.fn = nil
	})

	return l.arr, l.err
}

// Materialize computes src, returning nil for a nil source.
func Materialize(ctx context.Context, src Source) (*Array, error) {
	if src == nil {
		return nil, nil
	}

	return src.Compute(ctx)
}
