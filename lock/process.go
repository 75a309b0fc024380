package lock

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hupe1980/tensordb/internal/hash"
)

// ProcessSynchronizer serializes processes sharing a host through lock
// files in a directory. Goroutines of the same process are serialized too.
type ProcessSynchronizer struct {
	dir    string
	opts   Options
	thread *ThreadSynchronizer
}

// NewProcessSynchronizer creates a ProcessSynchronizer keeping its lock files in dir.
func NewProcessSynchronizer(dir string, optFns ...Option) (*ProcessSynchronizer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &ProcessSynchronizer{
		dir:    dir,
		opts:   newOptions(optFns),
		thread: NewThreadSynchronizer(optFns...),
	}, nil
}

// lockPath maps a name to a file name that is safe on every platform.
func (s *ProcessSynchronizer) lockPath(name string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name)

	sum := hash.CRC32C([]byte(name))
	suffix := hex.EncodeToString([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})

	return filepath.Join(s.dir, safe+"."+suffix+".lock")
}

// Lock blocks until no other process or goroutine holds name.
func (s *ProcessSynchronizer) Lock(ctx context.Context, name string) (Unlock, error) {
	unlockThread, err := s.thread.Lock(ctx, name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.lockPath(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = unlockThread()
		return nil, err
	}

	err = poll(ctx, s.opts, name, func() (bool, error) {
		return tryLockFile(f)
	})
	if err != nil {
		_ = f.Close()
		_ = unlockThread()

		return nil, err
	}

	var (
		once     sync.Once
		closeErr error
	)

	return func() error {
		once.Do(func() {
			if err := unlockFile(f); err != nil {
				closeErr = err
			}

			if err := f.Close(); err != nil && closeErr == nil {
				closeErr = err
			}

			_ = unlockThread()
		})

		return closeErr
	}, nil
}
