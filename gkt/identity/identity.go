package identity

import (
	"errors"
	"regexp"

	"github.com/TheusHen/gkt/gkt/crypto"
)

var (
	ErrInvalidMemberID = errors.New("identity: invalid member id")
)

var memberIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]{0,127}$`)

// MemberID is the opaque name a member is known by. It doubles as the
// keystore lookup key, so it is restricted to a filesystem-safe alphabet.
type MemberID string

// Validate reports whether id is usable as a keystore key.
func (id MemberID) Validate() error {
	if !memberIDPattern.MatchString(string(id)) {
		return ErrInvalidMemberID
	}
	return nil
}

func (id MemberID) String() string { return string(id) }

// Identity is a member's long-term X25519 key pair.
// The private half must never leave the local keystore.
type Identity struct {
	Member MemberID
	Keys   crypto.X25519KeyPair
}

// Generate creates a fresh identity for member.
func Generate(member MemberID) (Identity, error) {
	if err := member.Validate(); err != nil {
		return Identity{}, err
	}
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return Identity{}, err
	}
	return Identity{Member: member, Keys: kp}, nil
}

// FromPrivate rebuilds an identity from a stored private scalar.
func FromPrivate(member MemberID, private []byte) (Identity, error) {
	if err := member.Validate(); err != nil {
		return Identity{}, err
	}
	kp, err := crypto.X25519FromPrivate(private)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Member: member, Keys: kp}, nil
}

// PublicKey returns the shareable half of the identity.
func (id Identity) PublicKey() [32]byte { return id.Keys.PublicKey }

// Fingerprint returns the identity's public key fingerprint.
func (id Identity) Fingerprint() Fingerprint {
	return FingerprintOf(id.Keys.PublicKey[:])
}
