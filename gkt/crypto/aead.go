package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

// Sealer wraps XChaCha20-Poly1305 with random 192-bit nonces.
// It protects small secrets (identity keys, key records in transit), never
// the chunked payload stream.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("crypto: invalid key size for XChaCha20-Poly1305")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts and authenticates plaintext.
// Returns: nonce (24 bytes) || ciphertext || tag (16 bytes)
func (s *Sealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	return s.aead.Seal(out, out[:chacha20poly1305.NonceSizeX], plaintext, additionalData), nil
}

// Open decrypts and verifies a value produced by Seal.
func (s *Sealer) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX+s.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	plaintext, err := s.aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Overhead returns the nonce plus tag overhead added by Seal.
func (s *Sealer) Overhead() int { return chacha20poly1305.NonceSizeX + s.aead.Overhead() }
