package distribution

import (
	"errors"

	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/identity"
)

var ErrUnwrap = errors.New("distribution: cannot open sealed record")

// Wrap seals rec for member, who owns memberPub.
func Wrap(aggregator crypto.X25519KeyPair, member identity.MemberID, memberPub [32]byte, rec []byte) ([]byte, error) {
	sealer, err := wrapSealer(aggregator.PrivateKey, memberPub, aggregator.PublicKey, memberPub)
	if err != nil {
		return nil, err
	}
	return sealer.Seal(rec, []byte(member))
}

// Unwrap opens a record sealed by the aggregator owning aggregatorPub.
func Unwrap(self identity.Identity, aggregatorPub [32]byte, sealed []byte) ([]byte, error) {
	sealer, err := wrapSealer(self.Keys.PrivateKey, aggregatorPub, aggregatorPub, self.Keys.PublicKey)
	if err != nil {
		return nil, err
	}
	rec, err := sealer.Open(sealed, []byte(self.Member))
	if err != nil {
		return nil, ErrUnwrap
	}
	return rec, nil
}

func wrapSealer(private, peer, aggregatorPub, memberPub [32]byte) (*crypto.Sealer, error) {
	shared, err := crypto.ECDH(private, peer)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveWrapKey(shared, aggregatorPub, memberPub)
	if err != nil {
		return nil, err
	}
	return crypto.NewSealer(key)
}
