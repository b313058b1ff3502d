package erasure

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrTooManyLost       = errors.New("erasure: too many shards lost, cannot recover")
	ErrInvalidConfig     = errors.New("erasure: invalid data/parity configuration")
	ErrShardSizeMismatch = errors.New("erasure: shard sizes do not match")
)

// MaxShards bounds data+parity so shard counts fit a single byte on the wire.
const MaxShards = 255

// Codec provides Reed-Solomon encoding/decoding.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewCodec creates a codec that tolerates the loss of parityShards shards.
func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > MaxShards {
		return nil, ErrInvalidConfig
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("erasure: %w", err)
	}
	return &Codec{
		enc:          enc,
		dataShards:   dataShards,
		parityShards: parityShards,
	}, nil
}

func (c *Codec) DataShards() int   { return c.dataShards }
func (c *Codec) ParityShards() int { return c.parityShards }
func (c *Codec) TotalShards() int  { return c.dataShards + c.parityShards }

// Protect splits data into data shards and computes parity. The returned
// slice holds TotalShards equally sized shards, data first.
func (c *Codec) Protect(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		shards := make([][]byte, c.TotalShards())
		for i := range shards {
			shards[i] = []byte{}
		}
		return shards, nil
	}
	shards, err := c.enc.Split(data)
	if err != nil {
		return nil, fmt.Errorf("erasure: split: %w", err)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("erasure: encode: %w", err)
	}
	return shards, nil
}

// Verify checks if the parity shards are consistent with data shards.
func (c *Codec) Verify(shards [][]byte) (bool, error) {
	return c.enc.Verify(shards)
}

// Restore rebuilds missing data shards and joins them into the original
// size bytes. Missing shards are nil entries.
func (c *Codec) Restore(shards [][]byte, size int) ([]byte, error) {
	if len(shards) != c.TotalShards() {
		return nil, ErrInvalidConfig
	}
	if size == 0 {
		return []byte{}, nil
	}
	shardSize := -1
	present := 0
	for _, s := range shards {
		if s == nil {
			continue
		}
		present++
		if shardSize >= 0 && len(s) != shardSize {
			return nil, ErrShardSizeMismatch
		}
		shardSize = len(s)
	}
	if present < c.dataShards {
		return nil, ErrTooManyLost
	}
	if shardSize*c.dataShards < size {
		return nil, ErrShardSizeMismatch
	}
	if err := c.enc.ReconstructData(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return nil, ErrTooManyLost
		}
		return nil, fmt.Errorf("erasure: reconstruct: %w", err)
	}
	return c.join(shards, size), nil
}

func (c *Codec) join(shards [][]byte, size int) []byte {
	data := make([]byte, 0, size)
	for i := 0; i < c.dataShards && len(data) < size; i++ {
		remaining := size - len(data)
		if remaining >= len(shards[i]) {
			data = append(data, shards[i]...)
		} else {
			data = append(data, shards[i][:remaining]...)
		}
	}
	return data
}

// ShardSize calculates the shard size for a given data size.
func (c *Codec) ShardSize(dataSize int) int {
	return (dataSize + c.dataShards - 1) / c.dataShards
}

// Overhead returns the storage overhead ratio (e.g., 1.4 for 10+4 config).
func (c *Codec) Overhead() float64 {
	return float64(c.TotalShards()) / float64(c.dataShards)
}
