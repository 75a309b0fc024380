package handler

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/hupe1980/tensordb/internal/cache"
)

// Factory creates the handler of a path.
type Factory func(ctx context.Context, path string) (*Handler, error)

// Usage describes how a cached handler was used.
type Usage struct {
	FirstAccess time.Time
	Uses        int64
}

type entry struct {
	handler *Handler
	usage   Usage

	// refs counts the Acquire calls not yet released. An evicted entry is
	// closed when the last one is released.
	refs    int
	evicted bool
}

// Manager caches one handler per path. With a positive capacity the least
// recently used handler is evicted when the cache is full. Evicted handlers
// are closed once no caller holds them through Acquire.
type Manager struct {
	mu      sync.Mutex
	entries *cache.LRU[string, *entry]
	factory Factory
	now     func() time.Time
}

// NewManager creates a Manager. A capacity of zero or less is unbounded.
func NewManager(capacity int, factory Factory) *Manager {
	limit := int64(capacity)
	if capacity <= 0 {
		limit = math.MaxInt64
	}

	return &Manager{
		entries: cache.New(limit, cache.WithOnEvict(func(_ string, e *entry) {
			// Runs with m.mu held.
			e.evicted = true
			if e.refs == 0 {
				_ = e.handler.Close()
			}
		})),
		factory: factory,
		now:     time.Now,
	}
}

// Get returns the cached handler of path, creating it on first access.
// The handler may be closed by a later eviction; callers that keep using it
// across other lookups should use Acquire.
func (m *Manager) Get(ctx context.Context, path string) (*Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(ctx, path)
	if err != nil {
		return nil, err
	}

	return e.handler, nil
}

// Acquire returns the handler of path like Get and pins it: an eviction
// before release leaves it open until release is called. Release is
// idempotent.
func (m *Manager) Acquire(ctx context.Context, path string) (*Handler, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	e.refs++

	var once sync.Once

	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			e.refs--
			if e.refs == 0 && e.evicted {
				_ = e.handler.Close()
			}
		})
	}

	return e.handler, release, nil
}

func (m *Manager) lookup(ctx context.Context, path string) (*entry, error) {
	if e, ok := m.entries.Get(path); ok && !e.handler.Closed() {
		e.usage.Uses++
		return e, nil
	}

	h, err := m.factory(ctx, path)
	if err != nil {
		return nil, err
	}

	e := &entry{handler: h, usage: Usage{FirstAccess: m.now(), Uses: 1}}
	m.entries.Set(path, e)

	return e, nil
}

// Usage returns the usage of the cached handler of path.
func (m *Manager) Usage(path string) (Usage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Peek(path)
	if !ok {
		return Usage{}, false
	}

	return e.usage, true
}

// Evict closes and forgets the handler of path. It reports whether one was cached.
func (m *Manager) Evict(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entries.Delete(path)
}

// Close closes the handler of path if cached.
func (m *Manager) Close(path string) error {
	m.Evict(path)
	return nil
}

// CloseAll closes every cached handler.
func (m *Manager) CloseAll() error {
	var errs []error

	for _, path := range m.entries.Keys() {
		if err := m.Close(path); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Paths returns the cached paths from most to least recently used.
func (m *Manager) Paths() []string { return m.entries.Keys() }

// Len returns the number of cached handlers.
func (m *Manager) Len() int { return m.entries.Len() }
