package crypto

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

// X25519KeyPair is an X25519 key pair used both for member identities and
// for internal tree nodes.
type X25519KeyPair struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
}

var (
	ErrInvalidPublicKey  = errors.New("crypto: invalid X25519 public key")
	ErrInvalidPrivateKey = errors.New("crypto: invalid X25519 private key")
)

// GenerateX25519 generates a new X25519 key pair from crypto/rand.
func GenerateX25519() (X25519KeyPair, error) {
	return GenerateX25519From(rand.Reader)
}

// GenerateX25519From generates a key pair reading the scalar from r.
func GenerateX25519From(r io.Reader) (X25519KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(r, priv[:]); err != nil {
		return X25519KeyPair{}, err
	}
	return X25519FromPrivate(priv[:])
}

// X25519FromPrivate rebuilds a key pair from a stored 32-byte scalar.
// The scalar is clamped per RFC 7748 before use.
func X25519FromPrivate(private []byte) (X25519KeyPair, error) {
	if len(private) != curve25519.ScalarSize {
		return X25519KeyPair{}, ErrInvalidPrivateKey
	}
	var kp X25519KeyPair
	copy(kp.PrivateKey[:], private)
	kp.PrivateKey[0] &= 248
	kp.PrivateKey[31] &= 127
	kp.PrivateKey[31] |= 64

	curve25519.ScalarBaseMult(&kp.PublicKey, &kp.PrivateKey)
	return kp, nil
}

// ParsePublicKey copies a raw 32-byte public key, rejecting the all-zero point.
func ParsePublicKey(b []byte) ([32]byte, error) {
	var pub [32]byte
	if len(b) != curve25519.PointSize {
		return pub, ErrInvalidPublicKey
	}
	copy(pub[:], b)
	if pub == ([32]byte{}) {
		return pub, ErrInvalidPublicKey
	}
	return pub, nil
}

// ECDH computes the raw X25519 shared secret (32 bytes).
// The result must go through HKDF before it is used as a key.
func ECDH(privateKey, peerPublicKey [32]byte) ([]byte, error) {
	var zero [32]byte
	if peerPublicKey == zero {
		return nil, ErrInvalidPublicKey
	}
	shared, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		// low-order point: the shared secret would be all zeros
		return nil, ErrInvalidPublicKey
	}
	return shared, nil
}
