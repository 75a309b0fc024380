package lock

import (
	"context"
	"sync"
)

// ThreadSynchronizer serializes goroutines of one process by name.
type ThreadSynchronizer struct {
	opts Options

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewThreadSynchronizer creates a ThreadSynchronizer.
func NewThreadSynchronizer(optFns ...Option) *ThreadSynchronizer {
	return &ThreadSynchronizer{
		opts:  newOptions(optFns),
		slots: make(map[string]*slot),
	}
}

func (s *ThreadSynchronizer) acquireSlot(name string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[name]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		s.slots[name] = sl
	}

	sl.refs++

	return sl
}

func (s *ThreadSynchronizer) releaseSlot(name string, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, name)
	}
}

// Lock blocks until name is free.
func (s *ThreadSynchronizer) Lock(ctx context.Context, name string) (Unlock, error) {
	sl := s.acquireSlot(name)

	wait, cancel := s.opts.waitContext(ctx)
	defer cancel()

	select {
	case sl.ch <- struct{}{}:
	case <-wait.Done():
		s.releaseSlot(name, sl)
		return nil, waitErr(ctx, wait, name)
	}

	var once sync.Once

	return func() error {
		once.Do(func() {
			<-sl.ch
			s.releaseSlot(name, sl)
		})

		return nil
	}, nil
}
