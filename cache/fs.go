package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/loomci/loom/log"
)

// FS is a filesystem-backed store: one gzipped tarball per key under a
// root directory. Saves go through a temp file and a rename, guarded by
// a per-key lock that makes the exists-check-then-save sequence atomic.
type FS struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FS{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FS) Lookup(ctx context.Context, key string) (*Entry, error) {
	info, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &AccessError{Key: key, Err: err}
	}

	return &Entry{Key: key, Size: info.Size(), CreatedAt: info.ModTime()}, nil
}

func (s *FS) Restore(ctx context.Context, key, dir string) error {
	f, err := os.Open(s.path(key))
	if err != nil {
		return &AccessError{Key: key, Err: err}
	}
	defer f.Close()

	if err := unpack(f, dir); err != nil {
		return &AccessError{Key: key, Err: err}
	}

	log.FromContext(ctx).Debug("restored cache entry", "key", key)
	return nil
}

func (s *FS) Save(ctx context.Context, key, dir string, paths []string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	target := s.path(key)
	if _, err := os.Stat(target); err == nil {
		// earliest writer wins
		log.FromContext(ctx).Debug("cache key already claimed", "key", key)
		return nil
	}

	tmp, err := os.CreateTemp(s.root, ".save-*")
	if err != nil {
		return &AccessError{Key: key, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := pack(dir, paths, tmp); err != nil {
		tmp.Close()
		return &AccessError{Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &AccessError{Key: key, Err: err}
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return &AccessError{Key: key, Err: err}
	}

	if info, err := os.Stat(target); err == nil {
		log.FromContext(ctx).Debug("saved cache entry", "key", key, "size", humanize.Bytes(uint64(info.Size())))
	}
	return nil
}

func (s *FS) path(key string) string {
	return filepath.Join(s.root, objectName(key))
}

func (s *FS) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}
