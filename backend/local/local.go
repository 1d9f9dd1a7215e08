// Package local is a storage backend that keeps content and database files
// on a local filesystem directory. It needs no network round trip, which
// makes it the natural backend for a machine's own checkout as well as a
// convenient target in tests.
package local

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/encryptor"
)

const (
	lockSuffix = ".lock"
	tmpSuffix  = ".firmament-tmp"
)

// Backend stores content under root/content/<3-char prefix>/<encrypted id>
// and database files under root/database-<name>. Content and database file
// bodies, and content identifiers, all pass through enc before touching
// disk, so an encrypted checkout never writes a recognizable hash or
// plaintext byte to its storage root.
type Backend struct {
	backend.ComposedBackend
	name string
	root string
	enc  encryptor.Encryptor
}

// New returns a Backend rooted at root. root is created if missing; if it
// already exists and isn't empty, it must already look like a Backend root
// (hold a "content" subdirectory) rather than some unrelated directory.
func New(name, root string, enc encryptor.Encryptor) (*Backend, error) {
	contentRoot := filepath.Join(root, "content")
	if fi, err := os.Stat(contentRoot); err != nil {
		entries, readErr := os.ReadDir(root)
		if readErr == nil && len(entries) > 0 {
			return nil, &backend.BackendError{Backend: name, Op: "new", Err: fmt.Errorf("cannot initialize storage root %s: not empty", root)}
		}
		if err := os.MkdirAll(contentRoot, 0o700); err != nil {
			return nil, &backend.BackendError{Backend: name, Op: "new", Err: err}
		}
	} else if !fi.IsDir() {
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: fmt.Errorf("%s exists and is not a directory", contentRoot)}
	}

	b := &Backend{name: name, root: root, enc: enc}
	b.ComposedBackend = backend.NewComposedBackend(b, backend.DefaultContentRebuildInterval)
	return b, nil
}

// Factory adapts New to backend.Factory for use in a backend.Registry.
// options["root"] is the storage directory; an optional options
// ["encryption_key"] gives this backend its own passphrase, independent of
// any other backend in the same checkout.
func Factory() backend.Factory {
	return func(name string, options map[string]string) (backend.Backend, error) {
		root, ok := options["root"]
		if !ok || root == "" {
			return nil, &backend.BackendError{Backend: name, Op: "factory", Err: fmt.Errorf("local backend requires a \"root\" option")}
		}
		enc, err := encryptor.New(options["encryption_key"])
		if err != nil {
			return nil, &backend.BackendError{Backend: name, Op: "factory", Err: err}
		}
		return New(name, root, enc)
	}
}

func (b *Backend) Name() string { return b.name }

// RemoteContentPath shards by the encrypted identifier's first three
// characters, so the content directory never holds more than a few thousand
// entries at its top level on a checkout with millions of objects.
func (b *Backend) RemoteContentPath(hash string) string {
	encrypted, err := b.enc.EncryptIdentifier(hash)
	if err != nil {
		// EncryptIdentifier is deterministic and data-independent for both
		// AES-SIV and the null encryptor; a failure here means the cipher
		// itself is misconfigured, not a bad hash, so there's no sane
		// fallback path short of refusing to store anything.
		panic(fmt.Sprintf("local: encrypting content identifier: %v", err))
	}
	prefix := encrypted
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return filepath.Join("content", prefix, encrypted)
}

func (b *Backend) RemoteDatabasePath(name string) string {
	return "database-" + name
}

func (b *Backend) RemoteExists(path string) (bool, error) {
	_, err := os.Stat(filepath.Join(b.root, path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) RemoteDelete(path string) error {
	err := os.Remove(filepath.Join(b.root, path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *Backend) RemoteReadIO(path string, w io.Writer) (string, error) {
	full := filepath.Join(b.root, path)
	f, err := os.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := b.enc.DecryptStream(w, f); err != nil {
		return "", fmt.Errorf("local: decrypting %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	return versionToken(fi.ModTime().UnixNano()), nil
}

// RemoteWriteIO encrypts r fully into memory, then writes the result via a
// temp file and rename so a reader never sees a partially-written object.
// When isContent is false (a database write), it takes an exclusive flock
// on a sibling lock file for the write, and when overVersion is also set,
// for the stat-compare-rename critical section; content writes are
// content-addressed and never collide on the same path.
func (b *Backend) RemoteWriteIO(path string, r io.Reader, overVersion string, isContent bool) error {
	var ciphertext bytes.Buffer
	if err := b.enc.EncryptStream(&ciphertext, r); err != nil {
		return fmt.Errorf("local: encrypting %s: %w", path, err)
	}

	full := filepath.Join(b.root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return err
	}

	if isContent {
		return writeAtomic(full, &ciphertext, 0o400)
	}

	lock := flock.New(full + lockSuffix)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("local: locking %s: %w", full, err)
	}
	defer lock.Unlock()

	if overVersion != "" {
		fi, err := os.Stat(full)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		current := ""
		if err == nil {
			current = versionToken(fi.ModTime().UnixNano())
		}
		if current != overVersion {
			return &backend.VersionError{Path: path, Err: backend.ErrVersionMismatch}
		}
	}

	return writeAtomic(full, &ciphertext, 0o600)
}

func writeAtomic(full string, r io.Reader, perm os.FileMode) error {
	tmp := full + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, full)
}

// RemoteContentWalk walks the content directory directly, bypassing the
// cached content database, the same way the content-index rebuild needs to.
// It decrypts each stored name back to its plaintext content hash, silently
// skipping anything left behind by an interrupted write (a stray
// ".firmament-tmp" or ".lock" file never decrypts to a valid identifier).
func (b *Backend) RemoteContentWalk() (<-chan string, <-chan error) {
	hashes := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(hashes)
		defer close(errs)

		contentRoot := filepath.Join(b.root, "content")
		err := filepath.WalkDir(contentRoot, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if strings.HasSuffix(d.Name(), tmpSuffix) || strings.HasSuffix(d.Name(), lockSuffix) {
				return nil
			}
			hash, decErr := b.enc.DecryptIdentifier(d.Name())
			if decErr != nil {
				return nil
			}
			hashes <- hash
			return nil
		})
		errs <- err
	}()

	return hashes, errs
}

func versionToken(unixNano int64) string {
	return strconv.FormatInt(unixNano, 10)
}
