package backend

import "errors"

// ErrVersionMismatch is what every VersionError matches under errors.Is; the
// low-level write path returns a VersionError when a caller's over_version
// no longer matches what's stored remotely. Callers that merge
// before retrying (FileVersionUpload) treat this as "read again and retry",
// not a fatal condition.
var ErrVersionMismatch = errors.New("backend: stored version has changed")

// VersionError wraps ErrVersionMismatch with the path that conflicted, so
// callers logging a retry loop can say which database file collided.
type VersionError struct {
	Path string
	Err  error
}

func (e *VersionError) Error() string {
	return "backend: version mismatch writing " + e.Path + ": " + e.Err.Error()
}

func (e *VersionError) Unwrap() error { return e.Err }

func (e *VersionError) Is(target error) bool { return target == ErrVersionMismatch }

// BackendError wraps any other failure a backend implementation raises
// while serving a remote_* call: network errors, permission errors,
// malformed remote state. Operators (package operator) catch BackendError
// specifically so a single flaky backend doesn't crash the whole loop.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return "backend " + e.Backend + ": " + e.Op + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error { return e.Err }
