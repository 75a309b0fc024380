package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/tensordb/internal/fs"
)

const tmpPattern = ".tmp-*"

// LocalStore implements BlobStore on a directory of the local file system.
//
// Writes go to a temporary file in the target directory and are renamed into
// place on completion, so readers never observe partially written blobs.
type LocalStore struct {
	root string
	fs   fs.FileSystem
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithFileSystem replaces the file system used by the store.
func WithFileSystem(fsys fs.FileSystem) LocalOption {
	return func(s *LocalStore) {
		s.fs = fsys
	}
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string, optFns ...LocalOption) *LocalStore {
	s := &LocalStore{root: root, fs: fs.Default}
	for _, fn := range optFns {
		fn(s)
	}

	return s
}

// Root returns the directory of the store.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open opens a blob for reading.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	f, err := s.fs.OpenFile(s.path(name), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if info.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}

	return &localBlob{f: f, size: info.Size()}, nil
}

// Create creates a blob that becomes visible when closed.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	target := s.path(name)
	dir := filepath.Dir(target)

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, tmp, err := s.fs.CreateTemp(dir, tmpPattern)
	if err != nil {
		return nil, err
	}

	return &localWritableBlob{fs: s.fs, f: f, tmp: tmp, target: target}, nil
}

// Put writes a blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		_ = w.(*localWritableBlob).abort()
		return err
	}

	if err := w.Sync(); err != nil {
		_ = w.(*localWritableBlob).abort()
		return err
	}

	return w.Close()
}

// Delete removes a blob.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := s.fs.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// List returns the blobs whose slash separated name starts with prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	// Start at the deepest directory fully named by the prefix.
	start := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = prefix[:i]
	}

	var names []string

	var walk func(rel string) error

	walk = func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := s.fs.ReadDir(s.path(rel))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}

			return err
		}

		for _, e := range entries {
			name := Join(rel, e.Name())
			if e.IsDir() {
				if strings.HasPrefix(name+"/", prefix) || strings.HasPrefix(prefix, name+"/") {
					if err := walk(name); err != nil {
						return err
					}
				}

				continue
			}

			if isTemp(e.Name()) {
				continue
			}

			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}

		return nil
	}

	if err := walk(start); err != nil {
		return nil, err
	}

	slices.Sort(names)

	return names, nil
}

func isTemp(base string) bool {
	return strings.HasPrefix(base, ".tmp-")
}

type localBlob struct {
	f    fs.File
	size int64
}

func (b *localBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if len(p) == 0 {
		return 0, nil
	}

	if off < 0 || off >= b.size {
		return 0, io.EOF
	}

	return b.f.ReadAt(p, off)
}

func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if off >= b.size {
		return nil, io.EOF
	}

	length = min(length, b.size-off)

	return io.NopCloser(io.NewSectionReader(b.f, off, length)), nil
}

func (b *localBlob) Size() int64 { return b.size }

func (b *localBlob) Close() error { return b.f.Close() }

type localWritableBlob struct {
	fs     fs.FileSystem
	f      fs.File
	tmp    string
	target string
	failed bool
	closed bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.failed = true
	}

	return n, err
}

func (w *localWritableBlob) Sync() error {
	if err := w.f.Sync(); err != nil {
		w.failed = true
		return err
	}

	return nil
}

// Close publishes the blob, unless a previous write failed.
func (w *localWritableBlob) Close() error {
	if w.closed {
		return nil
	}

	if w.failed {
		return w.abort()
	}

	w.closed = true

	if err := w.f.Close(); err != nil {
		_ = w.fs.Remove(w.tmp)
		return err
	}

	if err := w.fs.Rename(w.tmp, w.target); err != nil {
		_ = w.fs.Remove(w.tmp)
		return err
	}

	return nil
}

func (w *localWritableBlob) abort() error {
	if w.closed {
		return nil
	}

	w.closed = true
	_ = w.f.Close()

	return w.fs.Remove(w.tmp)
}
