package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	contents, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(contents)
}

func TestFS_SaveLookupRestore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	work := t.TempDir()
	writeFile(t, work, "vendor/lib/a.txt", "alpha")
	writeFile(t, work, "vendor/b.txt", "bravo")

	miss, err := store.Lookup(ctx, "deps-v1")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, store.Save(ctx, "deps-v1", work, []string{"vendor"}))

	entry, err := store.Lookup(ctx, "deps-v1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "deps-v1", entry.Key)
	assert.Positive(t, entry.Size)

	fresh := t.TempDir()
	require.NoError(t, store.Restore(ctx, "deps-v1", fresh))
	assert.Equal(t, "alpha", readFile(t, fresh, "vendor/lib/a.txt"))
	assert.Equal(t, "bravo", readFile(t, fresh, "vendor/b.txt"))
}

func TestFS_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	first := t.TempDir()
	writeFile(t, first, "out.txt", "first")
	require.NoError(t, store.Save(ctx, "build-key", first, []string{"out.txt"}))

	second := t.TempDir()
	writeFile(t, second, "out.txt", "second")
	require.NoError(t, store.Save(ctx, "build-key", second, []string{"out.txt"}))

	// both saves report success but the first payload is retrievable
	restored := t.TempDir()
	require.NoError(t, store.Restore(ctx, "build-key", restored))
	assert.Equal(t, "first", readFile(t, restored, "out.txt"))
}

func TestFS_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		work := t.TempDir()
		writeFile(t, work, "out.txt", "payload")
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Save(ctx, "shared", work, []string{"out.txt"}))
		}()
	}
	wg.Wait()

	entry, err := store.Lookup(ctx, "shared")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestFS_RestoreMissingIsAccessError(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	err = store.Restore(ctx, "nope", t.TempDir())
	require.Error(t, err)

	var accessErr *AccessError
	assert.ErrorAs(t, err, &accessErr)
}

func TestFS_RestoreCorruptPayload(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFS(root)
	require.NoError(t, err)

	// an entry that is not a gzip stream
	require.NoError(t, os.WriteFile(filepath.Join(root, objectName("bad")), []byte("garbage"), 0o644))

	entry, err := store.Lookup(ctx, "bad")
	require.NoError(t, err)
	require.NotNil(t, entry)

	err = store.Restore(ctx, "bad", t.TempDir())
	var accessErr *AccessError
	assert.ErrorAs(t, err, &accessErr)
}

func TestFS_SaveMissingPath(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	err = store.Save(ctx, "k", t.TempDir(), []string{"does-not-exist"})
	var accessErr *AccessError
	assert.ErrorAs(t, err, &accessErr)
}

func TestKey_Deterministic(t *testing.T) {
	a := Key("deps", []byte("go.sum contents"))
	b := Key("deps", []byte("go.sum contents"))
	c := Key("deps", []byte("different"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "deps-")
}

func TestKeyFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.sum", "module deps")

	key, err := KeyFiles("deps", dir, []string{"go.sum"})
	require.NoError(t, err)
	assert.Contains(t, key, "deps-")

	again, err := KeyFiles("deps", dir, []string{"go.sum"})
	require.NoError(t, err)
	assert.Equal(t, key, again)

	_, err = KeyFiles("deps", dir, []string{"missing.lock"})
	var accessErr *AccessError
	assert.ErrorAs(t, err, &accessErr)
}

func TestObjectName_Normalizes(t *testing.T) {
	assert.Equal(t, "a-b_c.1-d.tar.gz", objectName("a b_c.1/d"))
}
