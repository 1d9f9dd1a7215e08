// Package failtest is a test Backend that fails every operation. Operator
// tests use it to exercise the BackendError handling path without needing
// to contrive a real storage failure.
package failtest

import (
	"errors"
	"io"

	"github.com/firmament-sync/firmament/backend"
)

// Backend does what it says on the tin.
type Backend struct {
	backend.ComposedBackend
	name string
}

// New returns a Backend that fails every remote_* call.
func New(name string) *Backend {
	b := &Backend{name: name}
	b.ComposedBackend = backend.NewComposedBackend(b, backend.DefaultContentRebuildInterval)
	return b
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) RemoteContentPath(hash string) string  { return "content/" + hash }
func (b *Backend) RemoteDatabasePath(name string) string { return "database-" + name }

func (b *Backend) errFor(op string) error {
	return &backend.BackendError{Backend: b.name, Op: op, Err: errors.New("failtest.Backend does what it says on the tin")}
}

func (b *Backend) RemoteReadIO(path string, w io.Writer) (string, error) {
	return "", b.errFor("remote_read_io")
}

func (b *Backend) RemoteWriteIO(path string, r io.Reader, overVersion string, isContent bool) error {
	return b.errFor("remote_write_io")
}

func (b *Backend) RemoteExists(path string) (bool, error) {
	return false, b.errFor("remote_exists")
}

func (b *Backend) RemoteDelete(path string) error {
	return b.errFor("remote_delete")
}

func (b *Backend) RemoteContentWalk() (<-chan string, <-chan error) {
	hashes := make(chan string)
	errs := make(chan error, 1)
	close(hashes)
	errs <- b.errFor("remote_content_walk")
	close(errs)
	return hashes, errs
}
