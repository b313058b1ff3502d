// Package transfer holds the byte-level plumbing shared by the cipher and
// artifact packages: fixed-size chunking with CRC-32 corruption checksums,
// and LZ4 compression.
//
// Reed-Solomon shard protection lives in the erasure subpackage.
package transfer
