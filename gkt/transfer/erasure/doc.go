// Package erasure protects encrypted artifacts with Reed-Solomon shards.
//
// An artifact split into d data shards and p parity shards survives the loss
// of any p shards. Shards carry ciphertext only, so losing or exposing one
// reveals nothing about the plaintext.
package erasure
