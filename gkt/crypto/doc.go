// Package crypto provides the cryptographic primitives GKT is built on.
//
// Building blocks:
//   - X25519 key pairs and Diffie-Hellman (RFC 7748)
//   - Key derivation via HKDF-SHA256
//   - AES-256-CBC with PKCS#7 padding for the chunked payload cipher,
//     including a per-block recovery path for damaged frames
//   - XChaCha20-Poly1305 sealing for key material at rest and in transit
//
// CBC frames carry no authentication. Callers that need tamper evidence
// must not rely on this package's CBC helpers for it.
package crypto
