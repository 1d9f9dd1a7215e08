// Package backend defines the storage abstraction every content-addressed
// object and every per-checkout database file moves through: local disk,
// S3, and rclone-bridged remotes all satisfy the same Backend interface, so
// the operators in package operator never know which one they're talking to.
package backend

import (
	"io"

	"github.com/firmament-sync/firmament"
)

// Backend is the full surface operators and datastore wrappers use. A
// concrete implementation (package backend/local, backend/s3, ...) only
// needs to supply the low-level remote_* methods; ComposedBackend (base.go)
// builds the high-level content_*/file_version_* methods on top of them.
type Backend interface {
	// Name identifies this backend in logs and in ContentBackends entries.
	Name() string

	// RemoteReadIO reads the object stored at path into w, returning an
	// opaque version token that can be passed back to RemoteWriteIO's
	// overVersion to assert the object hasn't changed underneath.
	RemoteReadIO(path string, w io.Writer) (version string, err error)

	// RemoteWriteIO writes r to path. When overVersion is non-empty, the
	// write must fail with a VersionError if the object's current version
	// doesn't match. isContent marks this as a content-block write, which
	// some backends store differently than database writes (backend/local
	// skips its lock file, backend/s3 applies its configured storage class).
	RemoteWriteIO(path string, r io.Reader, overVersion string, isContent bool) error

	// RemoteExists reports whether path is currently stored.
	RemoteExists(path string) (bool, error)

	// RemoteDelete removes path. Deleting a path that doesn't exist is not
	// an error.
	RemoteDelete(path string) error

	// RemoteContentWalk yields every stored content hash, decrypted back from
	// its object name, by walking the backend's storage directly, bypassing
	// the cached content database.
	RemoteContentWalk() (<-chan string, <-chan error)

	// RemoteContentPath maps a content hash to the path it's stored at.
	RemoteContentPath(hash string) string

	// RemoteDatabasePath maps a database name ("contents", "file-versions")
	// to the path it's stored at.
	RemoteDatabasePath(name string) string

	// ContentExists reports whether hash is stored on this backend.
	ContentExists(hash string) (bool, error)

	// ContentUpload reads diskPath and stores it under hash.
	ContentUpload(hash string, diskPath string) error

	// ContentDownload retrieves hash's content into diskPath.
	ContentDownload(hash string, diskPath string) error

	// ContentDelete removes hash's content from this backend.
	ContentDelete(hash string) error

	// ContentList returns every content hash this backend currently holds,
	// consulting (and, if stale, rebuilding) the cached content database.
	ContentList() (map[string]struct{}, error)

	// FileVersionDownload returns every FileVersion entry this backend
	// knows about, keyed by path.
	FileVersionDownload() (map[string]firmament.FileVersionData, error)

	// FileVersionUpload merges the given entries into the backend's
	// file-version database, retrying internally on version conflicts.
	FileVersionUpload(entries map[string]firmament.FileVersionData) error
}
