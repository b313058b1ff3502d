package tree

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/metrics"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func member(t *testing.T) [32]byte {
	t.Helper()
	kp, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return kp.PublicKey
}

func newTree(t *testing.T, opts ...Option) *Tree {
	t.Helper()
	tr, err := NewEphemeral(opts...)
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	return tr
}

func TestDeriveGroupKeyEmpty(t *testing.T) {
	tr := newTree(t)
	if _, err := tr.DeriveGroupKey(tr.Root()); !errors.Is(err, ErrNoMembers) {
		t.Fatalf("expected ErrNoMembers, got %v", err)
	}
	if _, ok := tr.GroupKey(tr.Root()); ok {
		t.Fatal("empty tree should have no cached key")
	}
}

func TestAddMemberCachesKey(t *testing.T) {
	tr := newTree(t)
	h, err := tr.AddMember(member(t))
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if k, _ := tr.Kind(h); k != Leaf {
		t.Fatalf("expected leaf, got %s", k)
	}
	key, ok := tr.GroupKey(tr.Root())
	if !ok || len(key) != crypto.GroupKeySize {
		t.Fatalf("expected cached %d-byte key, got %d ok=%v", crypto.GroupKeySize, len(key), ok)
	}
	if tr.Members() != 1 {
		t.Fatalf("expected 1 member, got %d", tr.Members())
	}
}

func TestAddMemberRejectsLowOrderPoint(t *testing.T) {
	tr := newTree(t)
	if _, err := tr.AddMember([32]byte{}); !errors.Is(err, crypto.ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
	if tr.Members() != 0 || len(tr.Children(tr.Root())) != 0 {
		t.Fatal("rejected member must not be added")
	}
}

func TestAddMemberToLeaf(t *testing.T) {
	tr := newTree(t)
	h, _ := tr.AddMember(member(t))
	if _, err := tr.AddMemberTo(h, member(t)); !errors.Is(err, ErrNotInternal) {
		t.Fatalf("expected ErrNotInternal, got %v", err)
	}
	if _, err := tr.AddMemberTo(Handle(99), member(t)); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestDuplicateMembers(t *testing.T) {
	tr := newTree(t)
	pub := member(t)
	a, err := tr.AddMember(pub)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.AddMember(pub)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("duplicate adds should produce distinct handles")
	}
	removed, err := tr.RemoveMember(pub)
	if err != nil || !removed {
		t.Fatalf("RemoveMember: removed=%v err=%v", removed, err)
	}
	children := tr.Children(tr.Root())
	if len(children) != 1 || children[0] != b {
		t.Fatalf("expected only the second duplicate to remain, got %v", children)
	}
}

func TestRemoveMemberNotFound(t *testing.T) {
	tr := newTree(t)
	tr.AddMember(member(t))
	before, _ := tr.GroupKey(tr.Root())

	removed, err := tr.RemoveMember(member(t))
	if err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if removed {
		t.Fatal("expected no removal for unknown key")
	}
	after, ok := tr.GroupKey(tr.Root())
	if !ok || !bytes.Equal(before, after) {
		t.Fatal("tree must be unchanged when no member matches")
	}
}

func TestRemoveLastMember(t *testing.T) {
	tr := newTree(t)
	pub := member(t)
	tr.AddMember(pub)
	removed, err := tr.RemoveMember(pub)
	if err != nil || !removed {
		t.Fatalf("RemoveMember: removed=%v err=%v", removed, err)
	}
	if _, ok := tr.GroupKey(tr.Root()); ok {
		t.Fatal("empty tree should not keep a cached key")
	}
}

func TestRemoveHandle(t *testing.T) {
	tr := newTree(t)
	if _, err := tr.RemoveHandle(tr.Root()); !errors.Is(err, ErrRootRemoval) {
		t.Fatalf("expected ErrRootRemoval, got %v", err)
	}
	h, _ := tr.AddMember(member(t))
	tr.AddMember(member(t))
	if ok, err := tr.RemoveHandle(h); !ok || err != nil {
		t.Fatalf("RemoveHandle: ok=%v err=%v", ok, err)
	}
	if ok, _ := tr.RemoveHandle(h); ok {
		t.Fatal("second removal of the same handle should report false")
	}
	if _, err := tr.Kind(h); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("removed handle should be unknown, got %v", err)
	}
	// Handles are not reused.
	h2, _ := tr.AddMember(member(t))
	if h2 == h {
		t.Fatal("handle reused after removal")
	}
}

// A removed member's key never equals the key derived after removal, and a
// later re-add yields yet another key.
func TestForwardSecrecyOnMembershipChange(t *testing.T) {
	tr := newTree(t)
	a, b, c := member(t), member(t), member(t)
	for _, pub := range [][32]byte{a, b, c} {
		if _, err := tr.AddMember(pub); err != nil {
			t.Fatal(err)
		}
	}
	k1, err := tr.DeriveGroupKey(tr.Root())
	if err != nil {
		t.Fatal(err)
	}

	if removed, err := tr.RemoveMember(b); err != nil || !removed {
		t.Fatalf("RemoveMember: removed=%v err=%v", removed, err)
	}
	k2, err := tr.DeriveGroupKey(tr.Root())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k1, k2) {
		t.Fatal("key unchanged after removing a member")
	}

	if _, err := tr.AddMember(member(t)); err != nil {
		t.Fatal(err)
	}
	k3, err := tr.DeriveGroupKey(tr.Root())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k3, k1) || bytes.Equal(k3, k2) {
		t.Fatal("key after re-add must differ from earlier keys")
	}
}

func TestChildOrderChangesKey(t *testing.T) {
	root, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatal(err)
	}
	a, b, c := member(t), member(t), member(t)

	build := func(order ...[32]byte) []byte {
		tr := New(root, WithSaltSource(zeroReader{}))
		for _, pub := range order {
			if _, err := tr.AddMember(pub); err != nil {
				t.Fatal(err)
			}
		}
		key, err := tr.DeriveGroupKey(tr.Root())
		if err != nil {
			t.Fatal(err)
		}
		return key
	}

	abc := build(a, b, c)
	if again := build(a, b, c); !bytes.Equal(abc, again) {
		t.Fatal("same order and salt should reproduce the key")
	}
	if cba := build(c, b, a); bytes.Equal(abc, cba) {
		t.Fatal("permuted children produced the same key")
	}
}

func TestFreshSaltPerDerivation(t *testing.T) {
	tr := newTree(t)
	tr.AddMember(member(t))
	k1, _ := tr.DeriveGroupKey(tr.Root())
	k2, _ := tr.DeriveGroupKey(tr.Root())
	if bytes.Equal(k1, k2) {
		t.Fatal("re-derivation reused a salt")
	}
	cached, _ := tr.GroupKey(tr.Root())
	if !bytes.Equal(cached, k2) {
		t.Fatal("cache should hold the latest derivation")
	}
}

func TestLeafKeyIsPublicKey(t *testing.T) {
	tr := newTree(t)
	pub := member(t)
	h, _ := tr.AddMember(pub)
	got, err := tr.DeriveGroupKey(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pub[:]) {
		t.Fatal("leaf key should be its public key")
	}
}

func TestSubgroupChangePropagates(t *testing.T) {
	tr := newTree(t)
	tr.AddMember(member(t))
	sub, err := tr.AddSubgroup(tr.Root())
	if err != nil {
		t.Fatalf("AddSubgroup: %v", err)
	}
	if _, err := tr.AddMemberTo(sub, member(t)); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.GroupKey(tr.Root()); ok {
		t.Fatal("root key should be invalidated by a subgroup change")
	}
	rootKey, err := tr.DeriveGroupKey(tr.Root())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.GroupKey(sub); !ok {
		t.Fatal("deriving the root should derive nested subgroups")
	}

	subPub, _ := tr.PublicKey(sub)
	inner := member(t)
	if _, err := tr.AddMemberTo(sub, inner); err != nil {
		t.Fatal(err)
	}
	rotated, _ := tr.PublicKey(sub)
	if rotated == subPub {
		t.Fatal("subgroup key pair should rotate on membership change")
	}
	next, err := tr.DeriveGroupKey(tr.Root())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(rootKey, next) {
		t.Fatal("root key unchanged after nested membership change")
	}
	if tr.Members() != 3 {
		t.Fatalf("expected 3 members, got %d", tr.Members())
	}
}

func TestEmptySubgroupStillContributes(t *testing.T) {
	tr := newTree(t)
	tr.AddMember(member(t))
	if _, err := tr.AddSubgroup(tr.Root()); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.DeriveGroupKey(tr.Root()); err != nil {
		t.Fatalf("empty subgroup should not block root derivation: %v", err)
	}
}

func TestRemoveSubgroupReleasesSubtree(t *testing.T) {
	tr := newTree(t)
	sub, _ := tr.AddSubgroup(tr.Root())
	leaf, _ := tr.AddMemberTo(sub, member(t))
	tr.AddMember(member(t))
	if ok, err := tr.RemoveHandle(sub); !ok || err != nil {
		t.Fatalf("RemoveHandle: ok=%v err=%v", ok, err)
	}
	if _, err := tr.Kind(leaf); !errors.Is(err, ErrUnknownHandle) {
		t.Fatal("leaf of removed subgroup should be released")
	}
	if tr.Members() != 1 {
		t.Fatalf("expected 1 member, got %d", tr.Members())
	}
}

func TestString(t *testing.T) {
	tr := newTree(t)
	tr.AddMember(member(t))
	sub, _ := tr.AddSubgroup(tr.Root())
	tr.AddMemberTo(sub, member(t))
	out := tr.String()
	if lines := strings.Count(out, "\n"); lines != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", lines, out)
	}
	if !strings.Contains(out, "    leaf") {
		t.Fatalf("nested leaf should be indented twice:\n%s", out)
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	tr := newTree(t, WithMetrics(m))
	pub := member(t)
	tr.AddMember(pub)
	tr.AddMember(member(t))
	tr.RemoveMember(pub)
	if got := testutil.ToFloat64(m.MembershipChanges.WithLabelValues("add")); got != 2 {
		t.Fatalf("expected 2 adds, got %v", got)
	}
	if got := testutil.ToFloat64(m.MembershipChanges.WithLabelValues("remove")); got != 1 {
		t.Fatalf("expected 1 remove, got %v", got)
	}
	if got := testutil.ToFloat64(m.Derivations); got != 3 {
		t.Fatalf("expected 3 derivations, got %v", got)
	}
}

func BenchmarkDeriveGroupKey64(b *testing.B) {
	tr, err := NewEphemeral()
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 64; i++ {
		kp, _ := crypto.GenerateX25519()
		tr.AddMember(kp.PublicKey)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tr.DeriveGroupKey(tr.Root()); err != nil {
			b.Fatal(err)
		}
	}
}
