// Package tree maintains group membership as a node tree and derives the
// group key from it.
//
// Nodes live in an arena and are addressed by stable Handles. A node is
// either a Leaf, which holds a member's X25519 public key, or an Internal
// node, which owns its own X25519 key pair and an ordered list of children.
// The group key of an internal node is
//
//	HKDF-SHA256(salt = 16 random bytes, info = fixed context,
//	            secret = X25519(node, child[0]) || X25519(node, child[1]) || ...)
//
// Child order is part of the key: permuting children yields a different key.
// A fresh salt is drawn on every derivation, so a key must be persisted (see
// package record) as soon as it is derived; re-deriving an unchanged tree
// produces a different, equally valid key.
//
// Trust model: a Tree is held by a single aggregator that knows every
// member's public key and the root's private key. The aggregator computes
// the key alone and distributes it out of band. Members cannot recompute the
// key independently; this is not a multi-party ratchet.
//
// A Tree is not safe for concurrent mutation.
package tree
