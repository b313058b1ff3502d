// Package fs keeps identities as files in a directory:
//
//	<dir>/keys/<member>.key    encoded entry, mode 0600
//	<dir>/locks/<member>.lock  advisory lock taken around first use
//
// The advisory lock serializes processes sharing the directory; an
// in-process mutex serializes goroutines of one Store.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/keystore"
	"github.com/TheusHen/gkt/gkt/logging"
)

const lockRetryDelay = 10 * time.Millisecond

// Option configures a Store.
type Option func(*Store)

// WithPassphrase seals entries under passphrase.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) { s.codec = keystore.NewCodec(passphrase) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = logging.OrDiscard(l) }
}

// Store is a directory-backed keystore.
type Store struct {
	keysDir  string
	locksDir string
	codec    keystore.Codec
	log      logrus.FieldLogger

	mu      sync.Mutex
	members map[identity.MemberID]*sync.Mutex
	closed  atomic.Bool
}

var _ keystore.Keystore = (*Store)(nil)

// Open opens (creating if needed) a keystore rooted at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		keysDir:  filepath.Join(dir, "keys"),
		locksDir: filepath.Join(dir, "locks"),
		log:      logging.Discard(),
		members:  make(map[identity.MemberID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range []string{s.keysDir, s.locksDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("keystore: create %s: %w", d, err)
		}
	}
	return s, nil
}

// LoadOrGenerate returns member's identity, generating and writing it on
// first use.
func (s *Store) LoadOrGenerate(ctx context.Context, member identity.MemberID) (identity.Identity, error) {
	if err := member.Validate(); err != nil {
		return identity.Identity{}, err
	}
	if s.closed.Load() {
		return identity.Identity{}, keystore.ErrClosed
	}

	unlock, err := s.lock(ctx, member)
	if err != nil {
		return identity.Identity{}, err
	}
	defer unlock()

	id, err := s.read(member)
	if !errors.Is(err, keystore.ErrNotFound) {
		return id, err
	}

	id, err = identity.Generate(member)
	if err != nil {
		return identity.Identity{}, err
	}
	data, err := s.codec.Encode(id)
	if err != nil {
		return identity.Identity{}, err
	}
	if err := renameio.WriteFile(s.path(member), data, 0o600); err != nil {
		return identity.Identity{}, fmt.Errorf("keystore: write %s: %w", member, err)
	}
	s.log.WithFields(logrus.Fields{
		"member":      member,
		"fingerprint": id.Fingerprint().Short(),
	}).Info("generated identity")
	return id, nil
}

// Load returns member's identity or keystore.ErrNotFound.
func (s *Store) Load(_ context.Context, member identity.MemberID) (identity.Identity, error) {
	if err := member.Validate(); err != nil {
		return identity.Identity{}, err
	}
	if s.closed.Load() {
		return identity.Identity{}, keystore.ErrClosed
	}
	return s.read(member)
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) read(member identity.MemberID) (identity.Identity, error) {
	data, err := os.ReadFile(s.path(member))
	if errors.Is(err, os.ErrNotExist) {
		return identity.Identity{}, keystore.ErrNotFound
	}
	if err != nil {
		return identity.Identity{}, fmt.Errorf("keystore: read %s: %w", member, err)
	}
	return s.codec.Decode(member, data)
}

func (s *Store) path(member identity.MemberID) string {
	return filepath.Join(s.keysDir, string(member)+".key")
}

// lock takes the in-process mutex for member, then the advisory file lock.
func (s *Store) lock(ctx context.Context, member identity.MemberID) (func(), error) {
	s.mu.Lock()
	mu, ok := s.members[member]
	if !ok {
		mu = new(sync.Mutex)
		s.members[member] = mu
	}
	s.mu.Unlock()
	mu.Lock()

	fl := flock.New(filepath.Join(s.locksDir, string(member)+".lock"))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("keystore: lock %s: %w", member, err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.log.WithError(err).WithField("member", member).Warn("release identity lock")
		}
		mu.Unlock()
	}, nil
}
