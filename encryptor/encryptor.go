// Package encryptor hides the plaintext identifiers and file bodies that
// backend implementations otherwise store and transmit as-is. Each backend
// owns its own Encryptor, built from that backend's own configured
// passphrase: the same identifier always encrypts to the same ciphertext
// under a given Encryptor, so the content-addressed lookups in package
// backend keep working without ever seeing a plaintext hash on the wire.
package encryptor

import "io"

// Encryptor transforms the identifiers (content hashes, paths) and the file
// bodies a Backend stores. EncryptIdentifier must be deterministic: the same
// input always produces the same output, so a backend can look an object up
// by its encrypted name without a side index.
type Encryptor interface {
	// EncryptIdentifier deterministically encrypts id for use as a backend
	// object name.
	EncryptIdentifier(id string) (string, error)

	// DecryptIdentifier reverses EncryptIdentifier.
	DecryptIdentifier(encrypted string) (string, error)

	// EncryptStream reads plaintext from r and writes the encrypted form to
	// w. The caller owns closing both.
	EncryptStream(w io.Writer, r io.Reader) error

	// DecryptStream reads the form written by EncryptStream from r and
	// writes the recovered plaintext to w.
	DecryptStream(w io.Writer, r io.Reader) error
}

// New returns Null when passphrase is empty, or an AES Encryptor derived
// from passphrase otherwise. It's the one place a config-driven caller
// needs to decide which Encryptor a backend's options ask for.
func New(passphrase string) (Encryptor, error) {
	if passphrase == "" {
		return Null{}, nil
	}
	return NewAES(passphrase, DefaultKeyIterations)
}
