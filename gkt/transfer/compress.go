package transfer

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrCompressionFailed   = errors.New("transfer: compression failed")
	ErrDecompressionFailed = errors.New("transfer: decompression failed")
)

// CompressionLevel controls the speed/ratio tradeoff.
type CompressionLevel int

const (
	CompressionFast    CompressionLevel = iota // Fastest, lower ratio
	CompressionDefault                         // Balanced
	CompressionBest                            // Best ratio, slower
)

// ParseCompressionLevel maps a config name to a level. Unknown names map to
// CompressionDefault.
func ParseCompressionLevel(name string) CompressionLevel {
	switch name {
	case "fast":
		return CompressionFast
	case "best":
		return CompressionBest
	default:
		return CompressionDefault
	}
}

var compressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

var decompressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

// Compress compresses data into an LZ4 frame.
func Compress(data []byte, level CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)

	var opt lz4.Option
	switch level {
	case CompressionFast:
		opt = lz4.CompressionLevelOption(lz4.Fast)
	case CompressionBest:
		opt = lz4.CompressionLevelOption(lz4.Level9)
	default:
		opt = lz4.CompressionLevelOption(lz4.Level4)
	}
	if err := w.Apply(opt, lz4.ChecksumOption(true)); err != nil {
		return nil, ErrCompressionFailed
	}

	if _, err := w.Write(data); err != nil {
		return nil, ErrCompressionFailed
	}
	if err := w.Close(); err != nil {
		return nil, ErrCompressionFailed
	}

	return buf.Bytes(), nil
}

// NoLimit lets Decompress produce output of any size. Only pass it for
// trusted input.
const NoLimit int64 = -1

// Decompress decompresses an LZ4 frame. At most limit bytes are produced
// unless limit is negative; larger output is reported as a failure. A limit
// of zero accepts only an empty frame.
func Decompress(data []byte, limit int64) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))

	var src io.Reader = r
	if limit >= 0 {
		src = io.LimitReader(r, limit+1)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return nil, ErrDecompressionFailed
	}
	if limit >= 0 && int64(buf.Len()) > limit {
		return nil, ErrDecompressionFailed
	}
	return buf.Bytes(), nil
}
