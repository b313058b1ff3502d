package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Fingerprint is the stable short identifier of a public key.
// It is defined as: Fingerprint = SHA-256(PublicKey).
type Fingerprint [32]byte

func FingerprintOf(publicKey []byte) Fingerprint {
	return Fingerprint(sha256.Sum256(publicKey))
}

func ParseFingerprintHex(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, err
	}
	if len(b) != 32 {
		return Fingerprint{}, errors.New("identity: invalid fingerprint length")
	}
	var fp Fingerprint
	copy(fp[:], b)
	return fp, nil
}

func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// Short returns the first 8 bytes in hex, for log lines.
func (fp Fingerprint) Short() string {
	return hex.EncodeToString(fp[:8])
}
