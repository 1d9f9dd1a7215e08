package firmament

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Sum is the uniform hash calculation used for all content addressing.
func Sum(data []byte) ContentHash {
	h := sha256.Sum256(data)
	return ContentHash(hex.EncodeToString(h[:]))
}

// SumReader hashes the full contents of r without buffering it in memory.
func SumReader(r io.Reader) (ContentHash, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return ContentHash(hex.EncodeToString(h.Sum(nil))), nil
}
