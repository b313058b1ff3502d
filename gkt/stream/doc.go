// Package stream encrypts payloads under a group key as a sequence of
// independently decryptable frames.
//
// The plaintext is cut into chunks (1024 bytes by default). Each chunk is
// prefixed with its big-endian CRC-32 and encrypted with AES-256-CBC under
// a fresh IV:
//
//	frame  = IV(16) || AES-256-CBC(key, IV, PKCS7(CRC32(chunk) || chunk))
//	stream = frame[0] || frame[1] || ...
//
// There is no outer header. A full frame is 16 + 1040 bytes on the wire; the
// last frame takes whatever remains.
//
// Decryption never gives up on damaged input. A checksum mismatch keeps the
// decrypted chunk and flags it, a frame that fails to decrypt is recovered
// block by block with unrecoverable bytes replaced by Placeholder, and a
// trailing remainder too short to be a frame is dropped. Every outcome is
// reported per frame in a Report.
//
// The checksum only detects accidental corruption. Frames are not
// authenticated; a party without the key can still splice, reorder or drop
// frames unnoticed.
package stream
