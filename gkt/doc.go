// Package gkt ties the group key tree, the chunked cipher and the key record
// store together behind an Aggregator.
//
// The aggregator is the single party that sees the whole membership. It
// loads member identities from a keystore (or accepts their public keys over
// the distribution protocol), keeps them as leaves of a tree rooted at its
// own key pair, re-derives the group key on every membership change and
// persists it as a key record before anything is encrypted with it.
//
// Members do not derive the key themselves; they receive the record sealed
// to their identity (see package distribution) or read it from a shared
// record store.
package gkt
