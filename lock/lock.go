// Package lock provides named synchronizers guarding physical tensor writes.
//
// A Synchronizer serializes writers of the same name, usually a tensor path:
//
//   - [Nop]: no synchronization
//   - [ThreadSynchronizer]: goroutines of one process
//   - [ProcessSynchronizer]: processes of one host, through flock(2) on lock files
//   - [DynamoDBSynchronizer]: processes of many hosts, through leases in a DynamoDB table
//
// Lock blocks until the lock is held, the configured timeout elapses
// ([ErrLockTimeout]) or ctx is done.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock: timeout")

// Unlock releases a held lock.
type Unlock func() error

// Synchronizer hands out exclusive locks by name.
type Synchronizer interface {
	Lock(ctx context.Context, name string) (Unlock, error)
}

// Kind names a synchronizer implementation.
type Kind string

const (
	KindNone        Kind = ""
	KindThread      Kind = "thread"
	KindProcess     Kind = "process"
	KindDistributed Kind = "distributed"
)

// Nop is a Synchronizer that never blocks.
type Nop struct{}

// Lock returns immediately.
func (Nop) Lock(context.Context, string) (Unlock, error) {
	return func() error { return nil }, nil
}

// Set holds the synchronizers available to a client, one per kind.
type Set struct {
	Thread      Synchronizer
	Process     Synchronizer
	Distributed Synchronizer
}

// ByKind returns the synchronizer registered for kind.
func (s Set) ByKind(kind Kind) (Synchronizer, error) {
	var sync Synchronizer

	switch kind {
	case KindNone:
		return Nop{}, nil
	case KindThread:
		sync = s.Thread
	case KindProcess:
		sync = s.Process
	case KindDistributed:
		sync = s.Distributed
	default:
		return nil, fmt.Errorf("lock: unknown synchronizer %q", kind)
	}

	if sync == nil {
		return nil, fmt.Errorf("lock: synchronizer %q is not configured", kind)
	}

	return sync, nil
}

// Options configure the waiting behaviour of a synchronizer.
type Options struct {
	// Timeout bounds how long Lock waits. Zero waits until ctx is done.
	Timeout time.Duration
	// RetryInterval is the poll interval of polling synchronizers.
	RetryInterval time.Duration
}

// Option configures Options.
type Option func(*Options)

// WithTimeout bounds how long Lock waits.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRetryInterval sets the poll interval.
func WithRetryInterval(d time.Duration) Option {
	return func(o *Options) {
		o.RetryInterval = d
	}
}

func newOptions(optFns []Option) Options {
	opts := Options{RetryInterval: 10 * time.Millisecond}
	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// waitContext derives the context bounding one Lock call.
func (o Options) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeoutCause(ctx, o.Timeout, ErrLockTimeout)
}

// waitErr maps the end of a wait to ErrLockTimeout or the caller's ctx error.
func waitErr(parent, wait context.Context, name string) error {
	if err := parent.Err(); err != nil {
		return err
	}

	if errors.Is(context.Cause(wait), ErrLockTimeout) {
		return fmt.Errorf("%w: %s", ErrLockTimeout, name)
	}

	return wait.Err()
}

// poll calls try until it reports success, fails, or wait is done.
func poll(parent context.Context, o Options, name string, try func() (bool, error)) error {
	wait, cancel := o.waitContext(parent)
	defer cancel()

	ticker := time.NewTicker(o.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := try()
		if err != nil {
			return err
		}

		if ok {
			return nil
		}

		select {
		case <-wait.Done():
			return waitErr(parent, wait, name)
		case <-ticker.C:
		}
	}
}
