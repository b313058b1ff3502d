// Package memory provides an in-process keystore. Identities are lost when
// the process exits.
package memory

import (
	"context"
	"sync"

	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/keystore"
)

// Store is a mutex-guarded map of identities.
type Store struct {
	mu         sync.RWMutex
	identities map[identity.MemberID]identity.Identity
	closed     bool
}

var _ keystore.Keystore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{identities: make(map[identity.MemberID]identity.Identity)}
}

// LoadOrGenerate returns member's identity, creating it on first use.
func (s *Store) LoadOrGenerate(ctx context.Context, member identity.MemberID) (identity.Identity, error) {
	if err := member.Validate(); err != nil {
		return identity.Identity{}, err
	}
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return identity.Identity{}, keystore.ErrClosed
	}
	if id, ok := s.identities[member]; ok {
		return id, nil
	}
	id, err := identity.Generate(member)
	if err != nil {
		return identity.Identity{}, err
	}
	s.identities[member] = id
	return id, nil
}

// Load returns member's identity or keystore.ErrNotFound.
func (s *Store) Load(ctx context.Context, member identity.MemberID) (identity.Identity, error) {
	if err := member.Validate(); err != nil {
		return identity.Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return identity.Identity{}, keystore.ErrClosed
	}
	id, ok := s.identities[member]
	if !ok {
		return identity.Identity{}, keystore.ErrNotFound
	}
	return id, nil
}

// Close drops every identity.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.identities = nil
	return nil
}
