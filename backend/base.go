package backend

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/firmament-sync/firmament"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultContentRebuildInterval is how long ComposedBackend trusts its
// cached content database before re-walking remote storage, for a backend
// that doesn't need a longer interval. Matches the base-class default.
const DefaultContentRebuildInterval = 60 * time.Second

// lowLevel is the set of methods a concrete backend implementation must
// supply; ComposedBackend builds the rest of Backend on top of them.
type lowLevel interface {
	Name() string
	RemoteReadIO(path string, w io.Writer) (version string, err error)
	RemoteWriteIO(path string, r io.Reader, overVersion string, isContent bool) error
	RemoteExists(path string) (bool, error)
	RemoteDelete(path string) error
	RemoteContentWalk() (<-chan string, <-chan error)
	RemoteContentPath(hash string) string
	RemoteDatabasePath(name string) string
}

// ComposedBackend implements every Backend method that can be built purely
// out of the remote_* primitives, so backend/local, backend/s3, and
// backend/rclonebridge only need to implement lowLevel themselves. Embed it
// by value and it fills in the rest of the Backend interface.
type ComposedBackend struct {
	impl            lowLevel
	rebuildInterval time.Duration

	mu                 sync.Mutex
	extraContentKnown  map[string]struct{}
	lastContentRebuild time.Time
}

// NewComposedBackend wraps impl with the high-level content/file-version
// methods. Concrete backends call this from their own constructor and embed
// the result. rebuildInterval governs how long ContentList trusts its cached
// content database before walking remote storage again; an object store
// backend should pass a much longer interval than a local disk, since a
// full-bucket listing is far more expensive than a directory walk.
func NewComposedBackend(impl lowLevel, rebuildInterval time.Duration) ComposedBackend {
	return ComposedBackend{impl: impl, rebuildInterval: rebuildInterval, extraContentKnown: make(map[string]struct{})}
}

func (c *ComposedBackend) Name() string { return c.impl.Name() }

func (c *ComposedBackend) ContentExists(hash string) (bool, error) {
	exists, err := c.impl.RemoteExists(c.impl.RemoteContentPath(hash))
	if err != nil {
		return false, &BackendError{Backend: c.impl.Name(), Op: "content_exists", Err: err}
	}
	return exists, nil
}

func (c *ComposedBackend) ContentUpload(hash string, diskPath string) error {
	f, err := os.Open(diskPath)
	if err != nil {
		return &BackendError{Backend: c.impl.Name(), Op: "content_upload", Err: err}
	}
	defer f.Close()

	if err := c.impl.RemoteWriteIO(c.impl.RemoteContentPath(hash), f, "", true); err != nil {
		return &BackendError{Backend: c.impl.Name(), Op: "content_upload", Err: err}
	}

	c.mu.Lock()
	c.extraContentKnown[hash] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *ComposedBackend) ContentDownload(hash string, diskPath string) error {
	f, err := os.Create(diskPath)
	if err != nil {
		return &BackendError{Backend: c.impl.Name(), Op: "content_download", Err: err}
	}
	defer f.Close()

	if _, err := c.impl.RemoteReadIO(c.impl.RemoteContentPath(hash), f); err != nil {
		return &BackendError{Backend: c.impl.Name(), Op: "content_download", Err: err}
	}
	return nil
}

func (c *ComposedBackend) ContentDelete(hash string) error {
	if err := c.impl.RemoteDelete(c.impl.RemoteContentPath(hash)); err != nil {
		return &BackendError{Backend: c.impl.Name(), Op: "content_delete", Err: err}
	}
	c.mu.Lock()
	delete(c.extraContentKnown, hash)
	c.mu.Unlock()
	return nil
}

func (c *ComposedBackend) ContentList() (map[string]struct{}, error) {
	c.mu.Lock()
	stale := time.Since(c.lastContentRebuild) > c.rebuildInterval
	c.mu.Unlock()

	if stale {
		if err := c.rebuildContentIndex(); err != nil {
			return nil, err
		}
	}

	remotePath := c.impl.RemoteDatabasePath("contents")
	exists, err := c.impl.RemoteExists(remotePath)
	if err != nil {
		return nil, &BackendError{Backend: c.impl.Name(), Op: "content_list", Err: err}
	}

	result := make(map[string]struct{})
	if exists {
		var buf bytes.Buffer
		if _, err := c.impl.RemoteReadIO(remotePath, &buf); err != nil {
			return nil, &BackendError{Backend: c.impl.Name(), Op: "content_list", Err: err}
		}
		var hashes []string
		if buf.Len() > 0 {
			if err := msgpack.Unmarshal(buf.Bytes(), &hashes); err != nil {
				return nil, &BackendError{Backend: c.impl.Name(), Op: "content_list", Err: err}
			}
		}
		for _, h := range hashes {
			result[h] = struct{}{}
		}
	}

	c.mu.Lock()
	for h := range c.extraContentKnown {
		result[h] = struct{}{}
	}
	c.mu.Unlock()
	return result, nil
}

// rebuildContentIndex walks remote storage directly and writes a fresh
// content database. It snapshots extraContentKnown before the walk and
// subtracts that snapshot afterward, not the live set, so hashes uploaded
// by a concurrent ContentUpload call while the walk is in flight stay
// marked "extra" until the next rebuild picks them up too.
func (c *ComposedBackend) rebuildContentIndex() error {
	c.mu.Lock()
	toClear := make(map[string]struct{}, len(c.extraContentKnown))
	for h := range c.extraContentKnown {
		toClear[h] = struct{}{}
	}
	c.mu.Unlock()

	hashes, errCh := c.impl.RemoteContentWalk()
	var collected []string
	for h := range hashes {
		collected = append(collected, h)
	}
	if err := <-errCh; err != nil {
		return &BackendError{Backend: c.impl.Name(), Op: "content_database_rebuild", Err: err}
	}

	packed, err := msgpack.Marshal(collected)
	if err != nil {
		return &BackendError{Backend: c.impl.Name(), Op: "content_database_rebuild", Err: err}
	}
	if err := c.impl.RemoteWriteIO(c.impl.RemoteDatabasePath("contents"), bytes.NewReader(packed), "", false); err != nil {
		return &BackendError{Backend: c.impl.Name(), Op: "content_database_rebuild", Err: err}
	}

	c.mu.Lock()
	for h := range toClear {
		delete(c.extraContentKnown, h)
	}
	c.lastContentRebuild = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *ComposedBackend) FileVersionDownload() (map[string]firmament.FileVersionData, error) {
	remotePath := c.impl.RemoteDatabasePath("file-versions")
	exists, err := c.impl.RemoteExists(remotePath)
	if err != nil {
		return nil, &BackendError{Backend: c.impl.Name(), Op: "file_version_download", Err: err}
	}
	if !exists {
		return map[string]firmament.FileVersionData{}, nil
	}

	db, _, err := c.readFileVersionDB(remotePath)
	if err != nil {
		return nil, &BackendError{Backend: c.impl.Name(), Op: "file_version_download", Err: err}
	}
	return db, nil
}

// FileVersionUpload merges entries into the remote file-version database,
// retrying the read-merge-write cycle on version conflicts. The retry count
// matches the Python implementation's 100 attempts before giving up.
func (c *ComposedBackend) FileVersionUpload(entries map[string]firmament.FileVersionData) error {
	remotePath := c.impl.RemoteDatabasePath("file-versions")

	for attempt := 0; attempt < 100; attempt++ {
		existing, version, err := c.readFileVersionDB(remotePath)
		if err != nil {
			return &BackendError{Backend: c.impl.Name(), Op: "file_version_upload", Err: err}
		}

		for path, contents := range entries {
			if _, ok := existing[path]; !ok {
				existing[path] = firmament.FileVersionData{}
			}
			for hash, meta := range contents {
				existing[path][hash] = meta
			}
		}

		packed, err := msgpack.Marshal(existing)
		if err != nil {
			return &BackendError{Backend: c.impl.Name(), Op: "file_version_upload", Err: err}
		}

		err = c.impl.RemoteWriteIO(remotePath, bytes.NewReader(packed), version, false)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionMismatch) {
			return &BackendError{Backend: c.impl.Name(), Op: "file_version_upload", Err: err}
		}
		// version changed underneath us; loop and retry the merge
	}

	return &BackendError{
		Backend: c.impl.Name(),
		Op:      "file_version_upload",
		Err:     fmt.Errorf("could not write a clean version of the file-version database after 100 attempts"),
	}
}

func (c *ComposedBackend) readFileVersionDB(remotePath string) (map[string]firmament.FileVersionData, string, error) {
	exists, err := c.impl.RemoteExists(remotePath)
	if err != nil {
		return nil, "", err
	}
	if !exists {
		return map[string]firmament.FileVersionData{}, "", nil
	}

	var buf bytes.Buffer
	version, err := c.impl.RemoteReadIO(remotePath, &buf)
	if err != nil {
		return nil, "", err
	}

	db := make(map[string]firmament.FileVersionData)
	if len(buf.Bytes()) > 0 {
		if err := msgpack.Unmarshal(buf.Bytes(), &db); err != nil {
			return nil, "", err
		}
	}
	return db, version, nil
}
