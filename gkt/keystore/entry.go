package keystore

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/identity"
)

// Entry layout:
//
//	"GKTK" | version (1) | mode (1) | body
//
// mode plain:  body = private key (32)
// mode sealed: body = salt (16) | XChaCha20-Poly1305(argon2id(passphrase, salt), private key)
//
// The member id is bound to sealed entries as additional data, so an entry
// copied under another member's name fails to open.
const (
	entryMagic   = "GKTK"
	entryVersion = 1

	modePlain  = 0
	modeSealed = 1

	entrySaltSize = 16
	privateSize   = 32

	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 1
)

// Codec encodes identities for storage. The zero value writes plain entries.
type Codec struct {
	passphrase []byte
}

// NewCodec returns a codec that seals entries under passphrase, or writes
// plain entries when passphrase is empty.
func NewCodec(passphrase string) Codec {
	if passphrase == "" {
		return Codec{}
	}
	return Codec{passphrase: []byte(passphrase)}
}

// Sealed reports whether the codec encrypts entries.
func (c Codec) Sealed() bool { return len(c.passphrase) > 0 }

// Encode serializes id's private key.
func (c Codec) Encode(id identity.Identity) ([]byte, error) {
	head := []byte{entryMagic[0], entryMagic[1], entryMagic[2], entryMagic[3], entryVersion, modePlain}
	if !c.Sealed() {
		return append(head, id.Keys.PrivateKey[:]...), nil
	}

	head[5] = modeSealed
	salt := make([]byte, entrySaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	sealer, err := c.sealer(salt)
	if err != nil {
		return nil, err
	}
	sealed, err := sealer.Seal(id.Keys.PrivateKey[:], []byte(id.Member))
	if err != nil {
		return nil, err
	}
	out := append(head, salt...)
	return append(out, sealed...), nil
}

// Decode parses an entry written by Encode for member.
func (c Codec) Decode(member identity.MemberID, data []byte) (identity.Identity, error) {
	if len(data) < len(entryMagic)+2 || !bytes.HasPrefix(data, []byte(entryMagic)) {
		return identity.Identity{}, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if data[4] != entryVersion {
		return identity.Identity{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}
	body := data[6:]

	var private []byte
	switch data[5] {
	case modePlain:
		if len(body) != privateSize {
			return identity.Identity{}, fmt.Errorf("%w: plain entry is %d bytes", ErrCorrupt, len(body))
		}
		private = body
	case modeSealed:
		if !c.Sealed() {
			return identity.Identity{}, ErrWrongPassphrase
		}
		if len(body) < entrySaltSize {
			return identity.Identity{}, fmt.Errorf("%w: sealed entry too short", ErrCorrupt)
		}
		sealer, err := c.sealer(body[:entrySaltSize])
		if err != nil {
			return identity.Identity{}, err
		}
		private, err = sealer.Open(body[entrySaltSize:], []byte(member))
		if err != nil {
			return identity.Identity{}, ErrWrongPassphrase
		}
		if len(private) != privateSize {
			return identity.Identity{}, fmt.Errorf("%w: sealed key is %d bytes", ErrCorrupt, len(private))
		}
	default:
		return identity.Identity{}, fmt.Errorf("%w: unknown mode %d", ErrCorrupt, data[5])
	}
	return identity.FromPrivate(member, private)
}

func (c Codec) sealer(salt []byte) (*crypto.Sealer, error) {
	key := argon2.IDKey(c.passphrase, salt, argonTime, argonMemory, argonThreads, 32)
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()
	return crypto.NewSealer(key)
}
