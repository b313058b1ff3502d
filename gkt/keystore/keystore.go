// Package keystore defines where member identities live between runs.
//
// A Keystore hands out a member's long-term X25519 identity, creating and
// persisting it on first use. Backends live in subpackages: fs (one file per
// member, guarded by an advisory lock), badger (embedded key-value store)
// and memory (tests and ephemeral aggregators).
//
// Every backend guarantees that concurrent first use of the same member
// yields a single identity, and that the identity is persisted before
// LoadOrGenerate returns.
package keystore

import (
	"context"
	"errors"

	"github.com/TheusHen/gkt/gkt/identity"
)

var (
	ErrNotFound        = errors.New("keystore: identity not found")
	ErrClosed          = errors.New("keystore: closed")
	ErrCorrupt         = errors.New("keystore: corrupt entry")
	ErrWrongPassphrase = errors.New("keystore: wrong passphrase or tampered entry")
	ErrInvalidMemberID = identity.ErrInvalidMemberID
)

// Keystore is the identity storage contract.
type Keystore interface {
	// LoadOrGenerate returns the stored identity for member, generating and
	// persisting a new one when none exists. It is idempotent.
	LoadOrGenerate(ctx context.Context, member identity.MemberID) (identity.Identity, error)
	// Load returns the stored identity or ErrNotFound.
	Load(ctx context.Context, member identity.MemberID) (identity.Identity, error)
	Close() error
}
