// Package badger stores identities in an embedded BadgerDB.
//
// First use of a member runs in one read-write transaction. Badger's
// conflict detection aborts the loser of two concurrent first uses with
// ErrConflict; it is retried and then finds the winner's identity.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/keystore"
	"github.com/TheusHen/gkt/gkt/logging"
)

const (
	keyPrefix  = "identity/"
	maxRetries = 8
)

// Option configures a Store.
type Option func(*Store)

// WithPassphrase seals entries under passphrase.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) { s.codec = keystore.NewCodec(passphrase) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = logging.OrDiscard(l) }
}

// Store is a BadgerDB-backed keystore.
type Store struct {
	db     *badger.DB
	codec  keystore.Codec
	log    logrus.FieldLogger
	closed atomic.Bool
}

var _ keystore.Keystore = (*Store)(nil)

// Open opens (creating if needed) a database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", dir, err)
	}
	bopts := badger.DefaultOptions(dir)
	bopts.Logger = nil
	bopts.SyncWrites = true
	return open(bopts, opts)
}

// OpenInMemory opens a database that lives only in memory.
func OpenInMemory(opts ...Option) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), opts)
}

func open(bopts badger.Options, opts []Option) (*Store, error) {
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("keystore: open badger: %w", err)
	}
	s := &Store{db: db, log: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadOrGenerate returns member's identity, generating and committing it on
// first use.
func (s *Store) LoadOrGenerate(ctx context.Context, member identity.MemberID) (identity.Identity, error) {
	if err := member.Validate(); err != nil {
		return identity.Identity{}, err
	}
	if s.closed.Load() {
		return identity.Identity{}, keystore.ErrClosed
	}

	key := []byte(keyPrefix + string(member))
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return identity.Identity{}, err
		}
		var (
			id      identity.Identity
			created bool
		)
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == nil {
				data, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				id, err = s.codec.Decode(member, data)
				return err
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			id, err = identity.Generate(member)
			if err != nil {
				return err
			}
			data, err := s.codec.Encode(id)
			if err != nil {
				return err
			}
			created = true
			return txn.Set(key, data)
		})
		if errors.Is(err, badger.ErrConflict) {
			s.log.WithFields(logrus.Fields{"member": member, "attempt": attempt + 1}).
				Debug("identity transaction conflict, retrying")
			continue
		}
		if err != nil {
			return identity.Identity{}, fmt.Errorf("keystore: %s: %w", member, err)
		}
		if created {
			s.log.WithFields(logrus.Fields{
				"member":      member,
				"fingerprint": id.Fingerprint().Short(),
			}).Info("generated identity")
		}
		return id, nil
	}
	return identity.Identity{}, fmt.Errorf("keystore: %s: %w", member, badger.ErrConflict)
}

// Load returns member's identity or keystore.ErrNotFound.
func (s *Store) Load(_ context.Context, member identity.MemberID) (identity.Identity, error) {
	if err := member.Validate(); err != nil {
		return identity.Identity{}, err
	}
	if s.closed.Load() {
		return identity.Identity{}, keystore.ErrClosed
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + string(member)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return identity.Identity{}, keystore.ErrNotFound
	}
	if err != nil {
		return identity.Identity{}, fmt.Errorf("keystore: %s: %w", member, err)
	}
	return s.codec.Decode(member, data)
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
