// Package artifact packages an encrypted stream with the metadata needed to
// decrypt it later: a unique id, a creation time and the name of the key
// record holding the group key.
//
// Plaintext can be LZ4-compressed before encryption, and the resulting
// stream can be spread over Reed-Solomon shards. Each shard carries its own
// CRC-32, so a damaged shard is dropped and rebuilt from parity instead of
// reaching the cipher as corruption.
package artifact
