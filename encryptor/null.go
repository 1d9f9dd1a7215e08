package encryptor

import "io"

// Null is an Encryptor that doesn't do anything. It exists so a checkout can
// be configured without a passphrase while still going through the same
// Encryptor seam every backend uses.
type Null struct{}

func (Null) EncryptIdentifier(id string) (string, error) { return id, nil }

func (Null) DecryptIdentifier(encrypted string) (string, error) { return encrypted, nil }

func (Null) EncryptStream(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	return err
}

func (Null) DecryptStream(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	return err
}
