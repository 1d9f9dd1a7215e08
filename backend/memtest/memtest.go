// Package memtest is an in-memory Backend used by operator and datastore
// tests that need a fast, disk-free stand-in for backend/local. Objects are
// held in an LRU cache so a test can also exercise eviction behavior without
// spinning up a real filesystem.
package memtest

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/firmament-sync/firmament/backend"
)

// DefaultMaxObjects bounds the cache the same way an in-memory backend
// bounds its file LRU.
const DefaultMaxObjects = 50000

// Backend stores every object's bytes in an LRU cache keyed by its stored
// path. It never touches disk or the network.
type Backend struct {
	backend.ComposedBackend
	name string

	mu      sync.Mutex
	cache   *lru.Cache
	version int64 // monotonically increasing counter used as the version token
}

// New returns a Backend holding up to maxObjects entries; maxObjects <= 0
// uses DefaultMaxObjects.
func New(name string, maxObjects int) (*Backend, error) {
	if maxObjects <= 0 {
		maxObjects = DefaultMaxObjects
	}
	cache, err := lru.New(maxObjects)
	if err != nil {
		return nil, fmt.Errorf("memtest: initializing LRU: %w", err)
	}

	b := &Backend{name: name, cache: cache}
	b.ComposedBackend = backend.NewComposedBackend(b, backend.DefaultContentRebuildInterval)
	return b, nil
}

type entry struct {
	data    []byte
	version string
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) RemoteContentPath(hash string) string  { return "content/" + hash }
func (b *Backend) RemoteDatabasePath(name string) string { return "database-" + name }

func (b *Backend) RemoteExists(path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache.Contains(path), nil
}

func (b *Backend) RemoteDelete(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Remove(path)
	return nil
}

func (b *Backend) RemoteReadIO(path string, w io.Writer) (string, error) {
	b.mu.Lock()
	v, ok := b.cache.Get(path)
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("memtest: object not found: %s", path)
	}
	e := v.(entry)
	if _, err := w.Write(e.data); err != nil {
		return "", err
	}
	return e.version, nil
}

func (b *Backend) RemoteWriteIO(path string, r io.Reader, overVersion string, isContent bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if overVersion != "" {
		current := ""
		if v, ok := b.cache.Get(path); ok {
			current = v.(entry).version
		}
		if current != overVersion {
			return &backend.VersionError{Path: path, Err: backend.ErrVersionMismatch}
		}
	}

	version := strconv.FormatInt(atomic.AddInt64(&b.version, 1), 10)
	b.cache.Add(path, entry{data: append([]byte(nil), data...), version: version})
	return nil
}

// RemoteContentWalk yields every stored path under "content/", trimmed back
// to its hash, mirroring backend/local's disk walk.
func (b *Backend) RemoteContentWalk() (<-chan string, <-chan error) {
	hashes := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(hashes)
		defer close(errs)

		b.mu.Lock()
		keys := b.cache.Keys()
		b.mu.Unlock()

		const prefix = "content/"
		for _, k := range keys {
			path := k.(string)
			if len(path) > len(prefix) && path[:len(prefix)] == prefix {
				hashes <- path[len(prefix):]
			}
		}
		errs <- nil
	}()

	return hashes, errs
}

// Snapshot returns a copy of every object currently cached, for test
// assertions that want to inspect stored bytes directly.
func (b *Backend) Snapshot() map[string][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]byte)
	for _, k := range b.cache.Keys() {
		path := k.(string)
		v, _ := b.cache.Peek(path)
		out[path] = bytes.Clone(v.(entry).data)
	}
	return out
}
