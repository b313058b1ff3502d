package gkt

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/gkt/gkt/artifact"
	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/distribution"
	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/keystore"
	"github.com/TheusHen/gkt/gkt/logging"
	"github.com/TheusHen/gkt/gkt/metrics"
	"github.com/TheusHen/gkt/gkt/record"
	"github.com/TheusHen/gkt/gkt/stream"
	"github.com/TheusHen/gkt/gkt/tree"
)

const (
	DefaultRecordName = "group.key"
	DefaultSelf       = identity.MemberID("aggregator")
)

var (
	ErrNoMembers  = errors.New("gkt: group has no members")
	ErrNoAux      = errors.New("gkt: key record has no auxiliary length")
	ErrAuxTooLong = errors.New("gkt: recorded auxiliary length exceeds data")

	// ErrKeyConflict rejects a join that would change an existing member's key.
	ErrKeyConflict = errors.New("gkt: member already joined with a different key")
	// ErrNotAllowed rejects a join that the allow-list does not cover.
	ErrNotAllowed  = errors.New("gkt: member not allowed")
)

// Config wires an Aggregator to its collaborators. Keystore and Records
// are required.
type Config struct {
	Keystore   keystore.Keystore
	Records    *record.Store
	RecordName string
	Self       identity.MemberID
	Cipher     *stream.Cipher
	Logger     logrus.FieldLogger
	Metrics    *metrics.Collectors
	// Allow restricts remote joins to the listed members, each pinned to a
	// public key fingerprint. Nil admits any member id not yet in the group.
	Allow      map[identity.MemberID]identity.Fingerprint
}

// Aggregator owns the group key tree. It is safe for concurrent use; all
// membership changes are serialized.
type Aggregator struct {
	ks         keystore.Keystore
	records    *record.Store
	recordName string
	cipher     *stream.Cipher
	log        logrus.FieldLogger
	allow      map[identity.MemberID]identity.Fingerprint

	mu      sync.Mutex
	self    identity.Identity
	tree    *tree.Tree
	members map[identity.MemberID]memberEntry
	key     []byte
}

type memberEntry struct {
	handle tree.Handle
	public [32]byte
}

var _ distribution.Admitter = (*Aggregator)(nil)

// NewAggregator loads (or creates) the aggregator's own identity and starts
// with an empty group.
func NewAggregator(ctx context.Context, cfg Config) (*Aggregator, error) {
	if cfg.Keystore == nil || cfg.Records == nil {
		return nil, errors.New("gkt: keystore and record store are required")
	}
	if cfg.RecordName == "" {
		cfg.RecordName = DefaultRecordName
	}
	if err := record.ValidName(cfg.RecordName); err != nil {
		return nil, err
	}
	if cfg.Self == "" {
		cfg.Self = DefaultSelf
	}
	if cfg.Cipher == nil {
		cfg.Cipher = stream.New(stream.WithLogger(cfg.Logger), stream.WithMetrics(cfg.Metrics))
	}
	log := logging.OrDiscard(cfg.Logger)

	self, err := cfg.Keystore.LoadOrGenerate(ctx, cfg.Self)
	if err != nil {
		return nil, fmt.Errorf("gkt: aggregator identity: %w", err)
	}
	log.WithFields(logrus.Fields{
		"member":      self.Member,
		"fingerprint": self.Fingerprint().Short(),
	}).Info("aggregator ready")

	return &Aggregator{
		ks:         cfg.Keystore,
		records:    cfg.Records,
		recordName: cfg.RecordName,
		cipher:     cfg.Cipher,
		log:        log,
		allow:      maps.Clone(cfg.Allow),
		self:       self,
		tree:       tree.New(self.Keys, tree.WithLogger(log), tree.WithMetrics(cfg.Metrics)),
		members:    make(map[identity.MemberID]memberEntry),
	}, nil
}

// Identity returns the aggregator's own identity.
func (a *Aggregator) Identity() identity.Identity { return a.self }

// Cipher returns the cipher used by Seal.
func (a *Aggregator) Cipher() *stream.Cipher { return a.cipher }

// RecordName returns the name the group key is stored under.
func (a *Aggregator) RecordName() string { return a.recordName }

// AddMember adds a member whose identity lives in the aggregator's keystore,
// generating it on first use. The keystore is authoritative: if member is
// already in the group under another key, its leaf is replaced.
func (a *Aggregator) AddMember(ctx context.Context, member identity.MemberID) (identity.Identity, error) {
	id, err := a.ks.LoadOrGenerate(ctx, member)
	if err != nil {
		return identity.Identity{}, err
	}
	if _, err := a.admit(ctx, member, id.PublicKey(), true); err != nil {
		return identity.Identity{}, err
	}
	return id, nil
}

// Admit adds a member announcing publicKey, re-keys the group and returns
// the new key record. It serves remote joins: when an allow-list is
// configured, member must be listed with publicKey's fingerprint.
// Re-admitting a member with the same key leaves the group unchanged. A
// different key for an existing member is rejected with ErrKeyConflict
// unless the allow-list pins the new key.
func (a *Aggregator) Admit(ctx context.Context, member identity.MemberID, publicKey [32]byte) (distribution.Admission, error) {
	return a.admit(ctx, member, publicKey, false)
}

func (a *Aggregator) admit(ctx context.Context, member identity.MemberID, publicKey [32]byte, local bool) (distribution.Admission, error) {
	if err := member.Validate(); err != nil {
		return distribution.Admission{}, err
	}
	if err := ctx.Err(); err != nil {
		return distribution.Admission{}, err
	}
	// Low-order points are refused before the tree is touched.
	shared, err := crypto.ECDH(a.self.Keys.PrivateKey, publicKey)
	if err != nil {
		return distribution.Admission{}, err
	}
	zero(shared)

	a.mu.Lock()
	defer a.mu.Unlock()

	cur, known := a.members[member]
	if !local {
		if err := a.authorize(member, publicKey, cur, known); err != nil {
			a.log.WithField("member", member).WithError(err).Warn("join refused")
			return distribution.Admission{}, err
		}
	}

	if !known || cur.public != publicKey {
		if err := a.place(member, publicKey, cur, known); err != nil {
			return distribution.Admission{}, err
		}
		a.log.WithFields(logrus.Fields{
			"member":   member,
			"members":  len(a.members),
			"replaced": known,
		}).Info("member added, group re-keyed")
	}
	if a.key == nil {
		if err := a.rekey(false); err != nil {
			return distribution.Admission{}, err
		}
	}

	encoded, err := record.Save(a.key, nil)
	if err != nil {
		return distribution.Admission{}, err
	}
	return distribution.Admission{RecordName: a.recordName, Record: encoded, Members: len(a.members)}, nil
}

// Pin allows member to join with the key whose fingerprint is fp, enabling
// the allow-list if it was off. A member already in the group under another
// key is replaced on its next join.
func (a *Aggregator) Pin(member identity.MemberID, fp identity.Fingerprint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allow == nil {
		a.allow = make(map[identity.MemberID]identity.Fingerprint)
	}
	a.allow[member] = fp
}

// authorize applies the allow-list and refuses unpinned key changes.
func (a *Aggregator) authorize(member identity.MemberID, publicKey [32]byte, cur memberEntry, known bool) error {
	fp := identity.FingerprintOf(publicKey[:])
	if a.allow != nil {
		pinned, ok := a.allow[member]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotAllowed, member)
		}
		if pinned != fp {
			return fmt.Errorf("%w: %s presented key %s", ErrNotAllowed, member, fp.Short())
		}
		return nil
	}
	if known && cur.public != publicKey {
		return fmt.Errorf("%w: %s", ErrKeyConflict, member)
	}
	return nil
}

// place puts member's leaf into the tree, replacing its previous leaf, and
// re-keys. A failure after the old leaf is gone still re-keys, so the
// stored key never covers a member that left the tree.
func (a *Aggregator) place(member identity.MemberID, publicKey [32]byte, cur memberEntry, known bool) error {
	if known {
		if _, err := a.tree.RemoveHandle(cur.handle); err != nil {
			return err
		}
		delete(a.members, member)
	}
	h, err := a.tree.AddMember(publicKey)
	if err != nil {
		if known {
			return errors.Join(err, a.rekey(false))
		}
		return err
	}
	a.members[member] = memberEntry{handle: h, public: publicKey}
	return a.rekey(false)
}

// Remove drops member and re-keys the group. It reports whether member was
// part of the group.
func (a *Aggregator) Remove(member identity.MemberID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.members[member]
	if !ok {
		a.log.WithField("member", member).Debug("remove: not a member")
		return false, nil
	}
	if _, err := a.tree.RemoveHandle(cur.handle); err != nil {
		return false, err
	}
	delete(a.members, member)
	if err := a.rekey(false); err != nil {
		return true, err
	}
	a.log.WithFields(logrus.Fields{
		"member":  member,
		"members": len(a.members),
	}).Info("member removed, group re-keyed")
	return true, nil
}

// Rekey derives a fresh group key for the current membership and persists
// it, even when membership did not change.
func (a *Aggregator) Rekey() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.rekey(true); err != nil {
		return nil, err
	}
	return append([]byte(nil), a.key...), nil
}

// rekey persists the group key, reusing the key the tree cached during the
// last membership change unless fresh is set. An empty group has no key and
// its stale record is removed.
func (a *Aggregator) rekey(fresh bool) error {
	zero(a.key)
	a.key = nil
	if len(a.members) == 0 {
		if err := a.records.Delete(a.recordName); err != nil && !errors.Is(err, record.ErrNotFound) {
			return err
		}
		return nil
	}
	key, ok := a.tree.GroupKey(a.tree.Root())
	if fresh || !ok {
		var err error
		if key, err = a.tree.DeriveGroupKey(a.tree.Root()); err != nil {
			return err
		}
	}
	if err := a.records.Put(a.recordName, record.Record{Key: key}); err != nil {
		zero(key)
		return fmt.Errorf("gkt: persist group key: %w", err)
	}
	a.key = key
	return nil
}

// GroupKey returns the current group key.
func (a *Aggregator) GroupKey() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == nil {
		return nil, ErrNoMembers
	}
	return append([]byte(nil), a.key...), nil
}

// Members lists the current members in lexical order.
func (a *Aggregator) Members() []identity.MemberID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]identity.MemberID, 0, len(a.members))
	for m := range a.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tree renders the membership tree.
func (a *Aggregator) Tree() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tree.String()
}

// Seal encrypts plaintext under the current group key into an artifact
// that names the group key record.
func (a *Aggregator) Seal(plaintext []byte, opts artifact.Options) (*artifact.Artifact, error) {
	key, err := a.GroupKey()
	if err != nil {
		return nil, err
	}
	defer zero(key)
	return artifact.Seal(a.cipher, key, a.recordName, plaintext, opts)
}

// SealAux encrypts a small auxiliary payload as a single frame and records
// its sealed length in the key record.
func (a *Aggregator) SealAux(payload []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == nil {
		return nil, ErrNoMembers
	}
	frame, err := a.cipher.SealPayload(a.key, payload)
	if err != nil {
		return nil, err
	}
	if err := a.records.SetAuxLength(a.recordName, uint32(len(frame))); err != nil {
		return nil, err
	}
	return frame, nil
}

// Open decrypts an encoded artifact with the key record it names.
func Open(records *record.Store, c *stream.Cipher, encoded []byte, lost ...int) ([]byte, *stream.Report, error) {
	art, err := artifact.Decode(encoded, lost...)
	if err != nil {
		return nil, nil, err
	}
	rec, err := records.Get(art.Record)
	if err != nil {
		return nil, nil, err
	}
	return art.Open(c, rec.Key)
}

// OpenAux opens an auxiliary payload sealed by SealAux. Only the first
// recorded-length bytes of data are used; anything after them is ignored.
func OpenAux(records *record.Store, c *stream.Cipher, recordName string, data []byte) ([]byte, error) {
	rec, err := records.Get(recordName)
	if err != nil {
		return nil, err
	}
	if !rec.HasAux {
		return nil, ErrNoAux
	}
	if uint64(rec.AuxLength) > uint64(len(data)) {
		return nil, ErrAuxTooLong
	}
	return c.OpenPayload(rec.Key, data[:rec.AuxLength])
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
