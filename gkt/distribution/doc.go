// Package distribution hands the current key record to members over QUIC.
//
// The aggregator never sends a record in the clear. It seals the record for
// the joining member with XChaCha20-Poly1305 under
//
//	HKDF-SHA256(X25519(aggregator, member), info = "gkt/distribution/key-wrap/v1")
//
// with the member id as additional data. Only the member holding the
// private key for the announced public key can open it, and a member that
// pins the aggregator's public key knows the record came from the
// aggregator.
package distribution
