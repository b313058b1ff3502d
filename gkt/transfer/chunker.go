package transfer

import (
	"hash/crc32"
)

// DefaultChunkSize is the plaintext chunk size used by the stream cipher.
const DefaultChunkSize = 1024

// ChecksumSize is the encoded size of a chunk checksum.
const ChecksumSize = 4

// Chunker splits data into fixed-size chunks.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a new chunker with the specified chunk size.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Chunk is a slice of the input together with its position and checksum.
// Data aliases the input passed to Split.
type Chunk struct {
	Index    int
	Offset   int
	Data     []byte
	Checksum uint32
}

// Split splits data into chunks. The last chunk may be shorter than the
// chunk size; empty input yields no chunks.
func (c *Chunker) Split(data []byte) []Chunk {
	chunks := make([]Chunk, 0, c.Count(len(data)))
	for i := 0; i < len(data); i += c.chunkSize {
		end := i + c.chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Offset:   i,
			Data:     chunk,
			Checksum: Checksum(chunk),
		})
	}
	return chunks
}

// Count returns how many chunks Split produces for n bytes.
func (c *Chunker) Count(n int) int {
	return (n + c.chunkSize - 1) / c.chunkSize
}

// Checksum is the CRC-32 (IEEE) of data. It detects accidental corruption
// only; it is not a MAC and offers no protection against tampering.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
