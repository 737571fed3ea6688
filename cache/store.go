// Package cache is a content-addressed store for restorable build
// artifacts. Entries are immutable: the first successful save for a key
// wins and later saves for the same key are no-ops. Every failure mode
// on the read path degrades to a cache miss; a job never fails because
// the cache misbehaved.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"
)

type Entry struct {
	Key       string
	Size      int64
	CreatedAt time.Time
}

// Store is the key/value contract over a cache backend. Lookup returns
// (nil, nil) on a miss. Save captures paths relative to dir into a new
// entry under key unless the key is already claimed.
type Store interface {
	Lookup(ctx context.Context, key string) (*Entry, error)
	Restore(ctx context.Context, key, dir string) error
	Save(ctx context.Context, key, dir string, paths []string) error
}

// AccessError wraps a backend failure. Callers recover it locally by
// treating the operation as a miss.
type AccessError struct {
	Key string
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cache access for %q: %s", e.Key, e.Err.Error())
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Key derives a deterministic cache key from a logical prefix and the
// declared inputs, scoped to the host OS and architecture.
func Key(prefix string, inputs ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(runtime.GOOS))
	h.Write([]byte{0})
	h.Write([]byte(runtime.GOARCH))
	for _, input := range inputs {
		h.Write([]byte{0})
		h.Write(input)
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(h.Sum(nil))[:16])
}

// KeyFiles derives a key by hashing the contents of the named files
// under dir. A missing or unreadable file is an AccessError: the caller
// has no stable key and should skip both restore and save.
func KeyFiles(prefix, dir string, files []string) (string, error) {
	inputs := make([][]byte, 0, len(files))
	for _, f := range files {
		contents, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return "", &AccessError{Key: prefix, Err: err}
		}
		inputs = append(inputs, contents)
	}
	return Key(prefix, inputs...), nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// object name for a key, safe for filesystems and object stores
func objectName(key string) string {
	return unsafeChars.ReplaceAllString(key, "-") + ".tar.gz"
}
