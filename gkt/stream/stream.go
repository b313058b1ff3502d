package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/logging"
	"github.com/TheusHen/gkt/gkt/metrics"
	"github.com/TheusHen/gkt/gkt/transfer"
)

const (
	// ChunkSize is the default plaintext chunk size.
	ChunkSize = transfer.DefaultChunkSize
	// MinFrameSize is the smallest remainder treated as a frame: an IV and
	// one cipher block.
	MinFrameSize = crypto.IVSize + crypto.BlockSize
	// Placeholder replaces plaintext bytes that could not be recovered.
	Placeholder byte = '?'
)

var (
	ErrChecksumMismatch = errors.New("stream: payload checksum mismatch")
	ErrCorruptPayload   = errors.New("stream: payload frame cannot be decrypted")
)

// Option configures a Cipher.
type Option func(*Cipher)

// WithChunkSize sets the plaintext chunk size. Both sides must agree on it.
func WithChunkSize(n int) Option {
	return func(c *Cipher) { c.chunker = transfer.NewChunker(n) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cipher) { c.log = logging.OrDiscard(l) }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Cipher) { c.metrics = m }
}

// Cipher is the chunked frame cipher. It holds no key material and is safe
// for concurrent use.
type Cipher struct {
	chunker *transfer.Chunker
	log     logrus.FieldLogger
	metrics *metrics.Collectors
}

// New creates a Cipher.
func New(opts ...Option) *Cipher {
	c := &Cipher{
		chunker: transfer.NewChunker(ChunkSize),
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChunkSize returns the plaintext chunk size.
func (c *Cipher) ChunkSize() int { return c.chunker.ChunkSize() }

// FrameSize returns the wire size of a frame carrying a full chunk.
func (c *Cipher) FrameSize() int {
	return crypto.IVSize + crypto.PaddedSize(transfer.ChecksumSize+c.chunker.ChunkSize())
}

// Encrypt encrypts plaintext under a 32-byte key. Empty plaintext yields an
// empty stream.
func (c *Cipher) Encrypt(key, plaintext []byte) ([]byte, error) {
	cbc, err := crypto.NewCBC(key)
	if err != nil {
		return nil, err
	}
	chunks := c.chunker.Split(plaintext)
	out := make([]byte, 0, len(chunks)*c.FrameSize())
	buf := make([]byte, transfer.ChecksumSize+c.chunker.ChunkSize())
	for _, ch := range chunks {
		frame, err := cbc.Seal(prefixChecksum(buf, ch.Data, ch.Checksum))
		if err != nil {
			return nil, fmt.Errorf("stream: encrypt frame %d: %w", ch.Index, err)
		}
		out = append(out, frame...)
		c.metrics.FrameEncrypted()
	}
	return out, nil
}

// Decrypt decrypts a stream produced by Encrypt with the same chunk size.
// Damaged frames are recovered as far as possible and flagged in the
// report; the only error is an invalid key.
func (c *Cipher) Decrypt(key, stream []byte) ([]byte, *Report, error) {
	cbc, err := crypto.NewCBC(key)
	if err != nil {
		return nil, nil, err
	}
	frameSize := c.FrameSize()
	report := &Report{Frames: make([]FrameResult, 0, (len(stream)+frameSize-1)/frameSize)}
	out := make([]byte, 0, len(stream))

	for off := 0; off < len(stream); {
		remaining := len(stream) - off
		if remaining < MinFrameSize {
			report.DiscardedTrailing = remaining
			c.metrics.Discarded(remaining)
			c.log.WithFields(logrus.Fields{
				"offset": off,
				"bytes":  remaining,
			}).Warn("insufficient data for a frame, discarding remainder")
			break
		}
		n := frameSize
		if remaining < n {
			n = remaining
		}
		res := FrameResult{Index: len(report.Frames), Offset: off}
		chunk := c.decryptFrame(cbc, stream[off:off+n], &res)
		res.Length = len(chunk)
		out = append(out, chunk...)
		report.Frames = append(report.Frames, res)
		c.metrics.FrameDecrypted()
		off += n
	}
	return out, report, nil
}

func (c *Cipher) decryptFrame(cbc *crypto.CBC, frame []byte, res *FrameResult) []byte {
	fields := logrus.Fields{"frame": res.Index, "offset": res.Offset}

	plain, err := cbc.Open(frame)
	if err == nil && len(plain) >= transfer.ChecksumSize {
		sum := binary.BigEndian.Uint32(plain)
		chunk := plain[transfer.ChecksumSize:]
		if transfer.Checksum(chunk) != sum {
			res.Status = StatusChecksumMismatch
			c.metrics.ChecksumMismatch()
			c.log.WithFields(fields).Warn("chunk checksum mismatch, data may be corrupted")
		}
		return chunk
	}
	if err == nil {
		err = crypto.ErrInvalidPadding
	}

	recovered, substituted := cbc.Recover(frame, Placeholder)
	res.Status = StatusDegraded
	res.Substituted = substituted
	c.metrics.Degraded()
	c.log.WithFields(fields).WithError(err).WithField("substituted_blocks", substituted).
		Warn("frame decryption failed, recovered block by block")
	if len(recovered) <= transfer.ChecksumSize {
		return nil
	}
	return recovered[transfer.ChecksumSize:]
}

// DecryptText decrypts a stream and returns it as a string with invalid
// UTF-8 sequences replaced by U+FFFD.
func (c *Cipher) DecryptText(key, stream []byte) (string, *Report, error) {
	plain, report, err := c.Decrypt(key, stream)
	if err != nil {
		return "", nil, err
	}
	return strings.ToValidUTF8(string(plain), "\uFFFD"), report, nil
}

// SealPayload encrypts payload as one checksummed frame regardless of the
// chunk size. It is used for small auxiliary payloads stored beside a
// stream, whose length is kept in the key record.
func (c *Cipher) SealPayload(key, payload []byte) ([]byte, error) {
	cbc, err := crypto.NewCBC(key)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, transfer.ChecksumSize+len(payload))
	return cbc.Seal(prefixChecksum(buf, payload, transfer.Checksum(payload)))
}

// OpenPayload reverses SealPayload. Unlike Decrypt it is strict: damage is
// reported as ErrCorruptPayload or ErrChecksumMismatch.
func (c *Cipher) OpenPayload(key, frame []byte) ([]byte, error) {
	cbc, err := crypto.NewCBC(key)
	if err != nil {
		return nil, err
	}
	plain, err := cbc.Open(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if len(plain) < transfer.ChecksumSize {
		return nil, ErrCorruptPayload
	}
	payload := plain[transfer.ChecksumSize:]
	if transfer.Checksum(payload) != binary.BigEndian.Uint32(plain) {
		return nil, ErrChecksumMismatch
	}
	return payload, nil
}

func prefixChecksum(buf, data []byte, sum uint32) []byte {
	binary.BigEndian.PutUint32(buf, sum)
	n := copy(buf[transfer.ChecksumSize:], data)
	return buf[:transfer.ChecksumSize+n]
}

var defaultCipher = New()

// Encrypt encrypts plaintext with the default chunk size.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	return defaultCipher.Encrypt(key, plaintext)
}

// Decrypt decrypts a stream with the default chunk size.
func Decrypt(key, stream []byte) ([]byte, *Report, error) {
	return defaultCipher.Decrypt(key, stream)
}

// DecryptText decrypts a stream with the default chunk size into a string.
func DecryptText(key, stream []byte) (string, *Report, error) {
	return defaultCipher.DecryptText(key, stream)
}
