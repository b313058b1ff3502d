package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// GroupKeySize is the size of a derived group key.
	GroupKeySize = 32
	// SaltSize is the size of the random salt drawn for every group key derivation.
	SaltSize = 16
)

var (
	groupKeyInfo = []byte("gkt/treekem/group-key/v1")
	wrapKeyInfo  = []byte("gkt/distribution/key-wrap/v1")
)

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveGroupKey turns the concatenated pairwise secrets of an internal tree
// node into its 32-byte group key.
func DeriveGroupKey(combined, salt []byte) ([]byte, error) {
	return DeriveKey(combined, salt, groupKeyInfo, GroupKeySize)
}

// DeriveWrapKey derives the key used to seal a key record for one member.
// Both public keys are bound into the context so a wrap cannot be replayed
// toward another member.
func DeriveWrapKey(sharedSecret []byte, aggregatorPub, memberPub [32]byte) ([]byte, error) {
	info := make([]byte, 0, len(wrapKeyInfo)+64)
	info = append(info, wrapKeyInfo...)
	info = append(info, aggregatorPub[:]...)
	info = append(info, memberPub[:]...)
	return DeriveKey(sharedSecret, nil, info, GroupKeySize)
}
