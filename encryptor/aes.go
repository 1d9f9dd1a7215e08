package encryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/miscreant/miscreant.go"
	"golang.org/x/crypto/pbkdf2"
)

// NonceSize is the AES-GCM nonce length used for every chunk.
const NonceSize = 12

// TagSize is the AES-GCM authentication tag length appended to every chunk.
const TagSize = 16

// DefaultChunkSize is the amount of plaintext sealed into a single chunk.
const DefaultChunkSize = 1 << 20 // 1 MiB

// DefaultKeyIterations is the PBKDF2 iteration count used when a caller
// doesn't override it. It matches the original Python implementation so a
// passphrase derives identical keys on both sides.
const DefaultKeyIterations = 100000

// kdfSalt is fixed, matching upstream: the passphrase itself is the only
// secret input, so a per-install random salt would need its own storage.
var kdfSalt = []byte("NaCl")

// AES encrypts identifiers with AES-SIV (deterministic, so the same path
// always maps to the same ciphertext) and file bodies with chunked AES-GCM.
// Both keys are derived from a single passphrase via PBKDF2-HMAC-SHA256.
type AES struct {
	siv       cipher.AEAD
	gcm       cipher.AEAD
	chunkSize int
}

// NewAES derives the SIV and GCM keys from passphrase and builds an AES
// ready to encrypt and decrypt. iterations should be at least
// DefaultKeyIterations; it is only configurable to keep tests fast.
func NewAES(passphrase string, iterations int) (*AES, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("encryptor: key iterations must be positive, got %d", iterations)
	}

	sivKey := pbkdf2.Key([]byte(passphrase), kdfSalt, iterations, 64, sha256.New)
	siv, err := miscreant.NewAESCMACSIVAead(sivKey)
	if err != nil {
		return nil, fmt.Errorf("encryptor: building AES-SIV cipher: %w", err)
	}

	gcmKey := pbkdf2.Key([]byte(passphrase), kdfSalt, iterations, 32, sha256.New)
	block, err := aes.NewCipher(gcmKey)
	if err != nil {
		return nil, fmt.Errorf("encryptor: building AES block cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryptor: building AES-GCM: %w", err)
	}

	return &AES{siv: siv, gcm: gcm, chunkSize: DefaultChunkSize}, nil
}

// EncryptIdentifier deterministically encrypts id with AES-SIV: an empty
// nonce and no associated data, so the ciphertext is a pure function of the
// key and the identifier.
func (a *AES) EncryptIdentifier(id string) (string, error) {
	ciphertext := a.siv.Seal(nil, nil, []byte(id), nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// DecryptIdentifier reverses EncryptIdentifier.
func (a *AES) DecryptIdentifier(encrypted string) (string, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("encryptor: decoding identifier: %w", err)
	}
	plaintext, err := a.siv.Open(nil, nil, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("encryptor: decrypting identifier: %w", err)
	}
	return string(plaintext), nil
}

// EncryptStream reads r in chunkSize-sized plaintext chunks and writes each
// as [4-byte big-endian length][12-byte nonce][ciphertext and 16-byte tag]
// to w. Every chunk gets a fresh random nonce; GCM forbids reuse, and unlike
// the identifiers, file bodies have no determinism requirement to satisfy.
func (a *AES) EncryptStream(w io.Writer, r io.Reader) error {
	buf := make([]byte, a.chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if writeErr := a.encryptChunk(w, buf[:n]); writeErr != nil {
				return writeErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("encryptor: reading plaintext: %w", err)
		}
	}
}

func (a *AES) encryptChunk(w io.Writer, plaintext []byte) error {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("encryptor: generating nonce: %w", err)
	}
	ciphertext := a.gcm.Seal(nonce, nonce, plaintext, nil)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ciphertext)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("encryptor: writing chunk length: %w", err)
	}
	if _, err := w.Write(ciphertext); err != nil {
		return fmt.Errorf("encryptor: writing chunk: %w", err)
	}
	return nil
}

// DecryptStream reverses EncryptStream.
func (a *AES) DecryptStream(w io.Writer, r io.Reader) error {
	var length [4]byte
	for {
		_, err := io.ReadFull(r, length[:])
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("encryptor: reading chunk length: %w", err)
		}

		chunkLen := binary.BigEndian.Uint32(length[:])
		if chunkLen < NonceSize+TagSize {
			return fmt.Errorf("encryptor: chunk length %d too short for nonce and tag", chunkLen)
		}
		chunk := make([]byte, chunkLen)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return fmt.Errorf("encryptor: reading chunk: %w", err)
		}

		nonce, ciphertext := chunk[:NonceSize], chunk[NonceSize:]
		plaintext, err := a.gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return fmt.Errorf("encryptor: decrypting chunk: %w", err)
		}
		if _, err := w.Write(plaintext); err != nil {
			return fmt.Errorf("encryptor: writing plaintext: %w", err)
		}
	}
}
