package tree

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/logging"
	"github.com/TheusHen/gkt/gkt/metrics"
)

var (
	ErrUnknownHandle = errors.New("tree: unknown node handle")
	ErrNotInternal   = errors.New("tree: node is not an internal node")
	ErrNoMembers     = errors.New("tree: internal node has no children")
	ErrRootRemoval   = errors.New("tree: the root cannot be removed")
)

// Handle addresses a node in the tree's arena. Handles stay valid for the
// lifetime of the node and are never reused after removal.
type Handle int

// NoHandle is returned when no node was created or found.
const NoHandle Handle = -1

// Kind tells leaves and internal nodes apart.
type Kind uint8

const (
	Leaf Kind = iota + 1
	Internal
)

func (k Kind) String() string {
	switch k {
	case Leaf:
		return "leaf"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

type node struct {
	kind     Kind
	parent   Handle
	public   [32]byte
	keys     crypto.X25519KeyPair // internal nodes only
	children []Handle
	groupKey []byte // nil when never derived or invalidated
}

// Option configures a Tree.
type Option func(*Tree)

// WithSaltSource replaces crypto/rand as the source of derivation salts.
func WithSaltSource(r io.Reader) Option {
	return func(t *Tree) { t.salt = r }
}

// WithLogger sets the logger used for membership and derivation events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Tree) { t.log = logging.OrDiscard(l) }
}

// WithMetrics reports derivations and membership changes to m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(t *Tree) { t.metrics = m }
}

// Tree is the aggregator's view of the group.
type Tree struct {
	nodes   []*node
	root    Handle
	salt    io.Reader
	log     logrus.FieldLogger
	metrics *metrics.Collectors
}

// New creates a tree whose root is owned by rootKeys. The aggregator
// normally passes its own identity key pair here.
func New(rootKeys crypto.X25519KeyPair, opts ...Option) *Tree {
	t := &Tree{
		salt: rand.Reader,
		log:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.root = t.alloc(&node{kind: Internal, parent: NoHandle, public: rootKeys.PublicKey, keys: rootKeys})
	return t
}

// NewEphemeral creates a tree with a freshly generated root key pair.
func NewEphemeral(opts ...Option) (*Tree, error) {
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	return New(kp, opts...), nil
}

// Root returns the handle of the root node.
func (t *Tree) Root() Handle { return t.root }

// AddMember appends a leaf for publicKey under the root.
func (t *Tree) AddMember(publicKey [32]byte) (Handle, error) {
	return t.AddMemberTo(t.root, publicKey)
}

// AddMemberTo appends a leaf for publicKey under parent and recomputes
// parent's group key. Duplicate public keys are allowed and produce
// distinct children.
func (t *Tree) AddMemberTo(parent Handle, publicKey [32]byte) (Handle, error) {
	p, err := t.internal(parent)
	if err != nil {
		return NoHandle, err
	}
	// Reject low-order points before they enter the tree. The check does not
	// depend on the scalar, so it survives key rotation of parent.
	if _, err := crypto.ECDH(p.keys.PrivateKey, publicKey); err != nil {
		return NoHandle, err
	}

	h := t.alloc(&node{kind: Leaf, parent: parent, public: publicKey})
	p.children = append(p.children, h)
	t.metrics.MemberAdded()
	t.log.WithFields(logrus.Fields{
		"parent": int(parent),
		"handle": int(h),
		"member": shortHex(publicKey[:]),
	}).Debug("member added")

	return h, t.changed(parent)
}

// AddSubgroup appends a new, empty internal node under parent. The subgroup
// gets its own key pair; its public key is what parent exchanges with.
func (t *Tree) AddSubgroup(parent Handle) (Handle, error) {
	p, err := t.internal(parent)
	if err != nil {
		return NoHandle, err
	}
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return NoHandle, err
	}
	h := t.alloc(&node{kind: Internal, parent: parent, public: kp.PublicKey, keys: kp})
	p.children = append(p.children, h)
	return h, t.changed(parent)
}

// RemoveMember removes the first child of the root whose public key equals
// publicKey and recomputes the root key. It reports whether a child was
// removed; when none matches the tree is left untouched.
func (t *Tree) RemoveMember(publicKey [32]byte) (bool, error) {
	root := t.nodes[t.root]
	for _, ch := range root.children {
		if t.nodes[ch].public == publicKey {
			return t.RemoveHandle(ch)
		}
	}
	t.log.WithField("member", shortHex(publicKey[:])).Debug("remove: member not found")
	return false, nil
}

// RemoveHandle removes the node h, and its subtree when h is internal,
// then recomputes the parent's key. It reports false for unknown or
// already removed handles.
func (t *Tree) RemoveHandle(h Handle) (bool, error) {
	if h == t.root {
		return false, ErrRootRemoval
	}
	n, err := t.node(h)
	if err != nil {
		return false, nil
	}
	p := t.nodes[n.parent]
	for i, ch := range p.children {
		if ch == h {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	t.release(h)
	t.metrics.MemberRemoved()
	t.log.WithFields(logrus.Fields{
		"parent": int(n.parent),
		"handle": int(h),
	}).Debug("node removed")

	return true, t.changed(n.parent)
}

// DeriveGroupKey derives the key of node h.
//
// For a leaf this is its raw public key, which is only ever an exchange
// input and never a secret. For an internal node, nested internal children
// are derived first, then each child's public key is combined with h's
// private key in child order and the result is run through HKDF with a
// fresh salt. The new key replaces h's cached key.
func (t *Tree) DeriveGroupKey(h Handle) ([]byte, error) {
	n, err := t.node(h)
	if err != nil {
		return nil, err
	}
	if n.kind == Leaf {
		return clone(n.public[:]), nil
	}
	if len(n.children) == 0 {
		return nil, ErrNoMembers
	}

	combined := make([]byte, 0, 32*len(n.children))
	defer zero(combined)
	for _, ch := range n.children {
		c := t.nodes[ch]
		if c.kind == Internal && len(c.children) > 0 {
			if _, err := t.DeriveGroupKey(ch); err != nil {
				return nil, err
			}
		}
		shared, err := crypto.ECDH(n.keys.PrivateKey, c.public)
		if err != nil {
			return nil, fmt.Errorf("tree: exchange with child %d: %w", ch, err)
		}
		combined = append(combined, shared...)
		zero(shared)
	}

	salt := make([]byte, crypto.SaltSize)
	if _, err := io.ReadFull(t.salt, salt); err != nil {
		return nil, fmt.Errorf("tree: read salt: %w", err)
	}
	key, err := crypto.DeriveGroupKey(combined, salt)
	if err != nil {
		return nil, err
	}
	n.groupKey = key
	t.metrics.Derived()
	t.log.WithFields(logrus.Fields{
		"handle":   int(h),
		"children": len(n.children),
	}).Debug("group key derived")
	return clone(key), nil
}

// GroupKey returns the cached key of internal node h. ok is false when the
// key was never derived or a membership change invalidated it.
func (t *Tree) GroupKey(h Handle) (key []byte, ok bool) {
	n, err := t.node(h)
	if err != nil || n.kind != Internal || n.groupKey == nil {
		return nil, false
	}
	return clone(n.groupKey), true
}

// Kind returns the kind of node h.
func (t *Tree) Kind(h Handle) (Kind, error) {
	n, err := t.node(h)
	if err != nil {
		return 0, err
	}
	return n.kind, nil
}

// PublicKey returns the exchange public key of node h.
func (t *Tree) PublicKey(h Handle) ([32]byte, error) {
	n, err := t.node(h)
	if err != nil {
		return [32]byte{}, err
	}
	return n.public, nil
}

// Children returns the children of h in their stored order.
func (t *Tree) Children(h Handle) []Handle {
	n, err := t.node(h)
	if err != nil {
		return nil
	}
	return append([]Handle(nil), n.children...)
}

// Members counts the leaves in the whole tree.
func (t *Tree) Members() int {
	count := 0
	for _, n := range t.nodes {
		if n != nil && n.kind == Leaf {
			count++
		}
	}
	return count
}

// String renders the tree, one node per line, indented by depth.
func (t *Tree) String() string {
	var b strings.Builder
	t.render(&b, t.root, 0)
	return b.String()
}

func (t *Tree) render(b *strings.Builder, h Handle, level int) {
	n := t.nodes[h]
	indent := strings.Repeat("  ", level)
	if n.kind == Leaf {
		fmt.Fprintf(b, "%sleaf %d level %d: public key %s\n", indent, h, level, hex.EncodeToString(n.public[:]))
		return
	}
	gk := "<none>"
	if n.groupKey != nil {
		gk = hex.EncodeToString(n.groupKey)
	}
	fmt.Fprintf(b, "%snode %d level %d: group key %s\n", indent, h, level, gk)
	for _, ch := range n.children {
		t.render(b, ch, level+1)
	}
}

// changed handles a membership change below h: every cached key from h up
// to the root is invalidated, non-root internal nodes on that path get a
// fresh key pair so the change reaches their parents, and h's key is
// recomputed when h still has children.
func (t *Tree) changed(h Handle) error {
	for cur := h; cur != NoHandle; cur = t.nodes[cur].parent {
		n := t.nodes[cur]
		zero(n.groupKey)
		n.groupKey = nil
		if cur != t.root {
			kp, err := crypto.GenerateX25519()
			if err != nil {
				return err
			}
			n.keys = kp
			n.public = kp.PublicKey
		}
	}
	if len(t.nodes[h].children) == 0 {
		return nil
	}
	_, err := t.DeriveGroupKey(h)
	return err
}

func (t *Tree) alloc(n *node) Handle {
	t.nodes = append(t.nodes, n)
	return Handle(len(t.nodes) - 1)
}

func (t *Tree) release(h Handle) {
	n := t.nodes[h]
	for _, ch := range n.children {
		t.release(ch)
	}
	zero(n.groupKey)
	n.keys = crypto.X25519KeyPair{}
	t.nodes[h] = nil
}

func (t *Tree) node(h Handle) (*node, error) {
	if h < 0 || int(h) >= len(t.nodes) || t.nodes[h] == nil {
		return nil, ErrUnknownHandle
	}
	return t.nodes[h], nil
}

func (t *Tree) internal(h Handle) (*node, error) {
	n, err := t.node(h)
	if err != nil {
		return nil, err
	}
	if n.kind != Internal {
		return nil, ErrNotInternal
	}
	return n, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func shortHex(b []byte) string {
	if len(b) > 8 {
		b = b[:8]
	}
	return hex.EncodeToString(b)
}
