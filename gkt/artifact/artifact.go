package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/TheusHen/gkt/gkt/record"
	"github.com/TheusHen/gkt/gkt/stream"
	"github.com/TheusHen/gkt/gkt/transfer"
	"github.com/TheusHen/gkt/gkt/transfer/erasure"
)

const (
	// Magic identifies an encoded artifact.
	Magic   = "GKTA"
	Version = 1

	flagCompressed = 1 << 0
	flagErasure    = 1 << 1

	// MaxSize bounds both the plaintext and the stream of an artifact.
	MaxSize = math.MaxUint32
)

var (
	ErrBadMagic     = errors.New("artifact: invalid magic")
	ErrVersion      = errors.New("artifact: unsupported version")
	ErrTruncated    = errors.New("artifact: truncated")
	ErrTooLarge     = errors.New("artifact: payload too large")
	ErrLengthChange = errors.New("artifact: decrypted length does not match header")
)

// Options controls how Seal packages a payload.
type Options struct {
	Compress     bool
	Level        transfer.CompressionLevel
	DataShards   int // erasure coding is enabled when both shard counts are positive
	ParityShards int
}

// Artifact is a sealed payload and its metadata.
type Artifact struct {
	ID           uuid.UUID
	Created      time.Time
	Record       string
	Compressed   bool
	PlainLength  uint64
	DataShards   int
	ParityShards int
	Stream       []byte
}

// Erasure reports whether the stream is spread over shards.
func (a *Artifact) Erasure() bool { return a.DataShards > 0 && a.ParityShards > 0 }

// Seal compresses (optionally) and encrypts plaintext under key, recording
// recordName as the key's location.
func Seal(c *stream.Cipher, key []byte, recordName string, plaintext []byte, opts Options) (*Artifact, error) {
	if err := record.ValidName(recordName); err != nil {
		return nil, err
	}
	if uint64(len(plaintext)) > MaxSize {
		return nil, ErrTooLarge
	}
	a := &Artifact{
		ID:          uuid.New(),
		Created:     time.Now().UTC(),
		Record:      recordName,
		Compressed:  opts.Compress,
		PlainLength: uint64(len(plaintext)),
	}
	if opts.DataShards > 0 || opts.ParityShards > 0 {
		if _, err := erasure.NewCodec(opts.DataShards, opts.ParityShards); err != nil {
			return nil, err
		}
		a.DataShards, a.ParityShards = opts.DataShards, opts.ParityShards
	}

	payload := plaintext
	if opts.Compress {
		compressed, err := transfer.Compress(plaintext, opts.Level)
		if err != nil {
			return nil, err
		}
		payload = compressed
	}
	ct, err := c.Encrypt(key, payload)
	if err != nil {
		return nil, err
	}
	if uint64(len(ct)) > MaxSize {
		return nil, ErrTooLarge
	}
	a.Stream = ct
	return a, nil
}

// Open decrypts the artifact. Damaged frames are recovered as stream.Decrypt
// does; for compressed artifacts a damaged stream usually cannot be
// decompressed and yields an error together with the report.
func (a *Artifact) Open(c *stream.Cipher, key []byte) ([]byte, *stream.Report, error) {
	payload, report, err := c.Decrypt(key, a.Stream)
	if err != nil {
		return nil, nil, err
	}
	if a.Compressed {
		payload, err = transfer.Decompress(payload, int64(a.PlainLength))
		if err != nil {
			return nil, report, fmt.Errorf("artifact %s: %w", a.ID, err)
		}
	}
	if report.Reliable() && uint64(len(payload)) != a.PlainLength {
		return payload, report, ErrLengthChange
	}
	return payload, report, nil
}

// Encode serializes the artifact.
// Format:
//
//	4 bytes: magic "GKTA"
//	1 byte:  version
//	1 byte:  flags (bit 0 LZ4, bit 1 erasure)
//	16 bytes: id
//	8 bytes: created, unix nanoseconds
//	2 bytes: record name length, then the name
//	8 bytes: plaintext length
//	without erasure:
//		4 bytes: stream length, then the stream
//	with erasure:
//		1 byte:  data shards
//		1 byte:  parity shards
//		4 bytes: stream length
//		4 bytes: shard size
//		per shard: 1 byte present, 4 bytes CRC-32, shard size bytes when present
func (a *Artifact) Encode() ([]byte, error) {
	if err := record.ValidName(a.Record); err != nil {
		return nil, err
	}
	var shards [][]byte
	if a.Erasure() {
		codec, err := erasure.NewCodec(a.DataShards, a.ParityShards)
		if err != nil {
			return nil, err
		}
		if shards, err = codec.Protect(a.Stream); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, 0, a.encodedSize(shards))
	buf = append(buf, Magic...)
	buf = append(buf, Version, a.flags())
	buf = append(buf, a.ID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(a.Created.UnixNano()))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.Record)))
	buf = append(buf, a.Record...)
	buf = binary.BigEndian.AppendUint64(buf, a.PlainLength)

	if !a.Erasure() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.Stream)))
		return append(buf, a.Stream...), nil
	}

	buf = append(buf, byte(a.DataShards), byte(a.ParityShards))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.Stream)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(shards[0])))
	for _, s := range shards {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint32(buf, transfer.Checksum(s))
		buf = append(buf, s...)
	}
	return buf, nil
}

func (a *Artifact) flags() byte {
	var f byte
	if a.Compressed {
		f |= flagCompressed
	}
	if a.Erasure() {
		f |= flagErasure
	}
	return f
}

func (a *Artifact) encodedSize(shards [][]byte) int {
	size := 4 + 1 + 1 + 16 + 8 + 2 + len(a.Record) + 8
	if shards == nil {
		return size + 4 + len(a.Stream)
	}
	size += 1 + 1 + 4 + 4
	for _, s := range shards {
		size += 1 + 4 + len(s)
	}
	return size
}

// Decode parses an encoded artifact. For erasure-coded artifacts, shards
// that are absent, fail their checksum or are listed in lost are rebuilt
// from parity.
func Decode(data []byte, lost ...int) (*Artifact, error) {
	const fixed = 4 + 1 + 1 + 16 + 8 + 2
	if len(data) < fixed {
		return nil, ErrTruncated
	}
	if string(data[:4]) != Magic {
		return nil, ErrBadMagic
	}
	if data[4] != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, data[4])
	}
	flags := data[5]
	a := &Artifact{Compressed: flags&flagCompressed != 0}
	copy(a.ID[:], data[6:22])
	a.Created = time.Unix(0, int64(binary.BigEndian.Uint64(data[22:30]))).UTC()
	nameLen := int(binary.BigEndian.Uint16(data[30:32]))
	offset := fixed

	if offset+nameLen+8 > len(data) {
		return nil, ErrTruncated
	}
	a.Record = string(data[offset : offset+nameLen])
	offset += nameLen
	if err := record.ValidName(a.Record); err != nil {
		return nil, err
	}
	a.PlainLength = binary.BigEndian.Uint64(data[offset:])
	offset += 8
	if a.PlainLength > MaxSize {
		return nil, ErrTooLarge
	}

	if flags&flagErasure == 0 {
		if offset+4 > len(data) {
			return nil, ErrTruncated
		}
		streamLen := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if offset+streamLen != len(data) {
			return nil, ErrTruncated
		}
		a.Stream = append([]byte(nil), data[offset:]...)
		return a, nil
	}

	if offset+10 > len(data) {
		return nil, ErrTruncated
	}
	a.DataShards, a.ParityShards = int(data[offset]), int(data[offset+1])
	streamLen := int(binary.BigEndian.Uint32(data[offset+2:]))
	shardSize := int(binary.BigEndian.Uint32(data[offset+6:]))
	offset += 10

	codec, err := erasure.NewCodec(a.DataShards, a.ParityShards)
	if err != nil {
		return nil, err
	}
	if shardSize*codec.DataShards() < streamLen {
		return nil, fmt.Errorf("%w: shard size %d for %d bytes", erasure.ErrShardSizeMismatch, shardSize, streamLen)
	}

	skip := make(map[int]bool, len(lost))
	for _, i := range lost {
		skip[i] = true
	}
	shards := make([][]byte, codec.TotalShards())
	for i := range shards {
		if offset+5 > len(data) {
			break
		}
		present := data[offset] == 1
		sum := binary.BigEndian.Uint32(data[offset+1:])
		offset += 5
		if !present {
			continue
		}
		if offset+shardSize > len(data) {
			break
		}
		s := data[offset : offset+shardSize]
		offset += shardSize
		if skip[i] || transfer.Checksum(s) != sum {
			continue
		}
		shards[i] = append([]byte(nil), s...)
	}

	a.Stream, err = codec.Restore(shards, streamLen)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", a.ID, err)
	}
	return a, nil
}
