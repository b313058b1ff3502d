package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

const (
	// BlockSize is the AES block size.
	BlockSize = aes.BlockSize
	// IVSize is the size of the per-frame initialization vector.
	IVSize = aes.BlockSize
	// CBCKeySize is the AES-256 key size.
	CBCKeySize = 32
)

var (
	ErrInvalidKeySize  = errors.New("crypto: invalid AES-256 key size")
	ErrInvalidPadding  = errors.New("crypto: invalid PKCS#7 padding")
	ErrFrameNotAligned = errors.New("crypto: ciphertext is not a multiple of the block size")
	ErrFrameTooShort   = errors.New("crypto: frame shorter than IV plus one block")
)

// CBC encrypts frames with AES-256 in CBC mode and PKCS#7 padding.
// A frame on the wire is IV (16 bytes) || ciphertext.
type CBC struct {
	block cipher.Block
	rand  io.Reader
}

// NewCBC creates a CBC frame cipher from a 32-byte key.
func NewCBC(key []byte) (*CBC, error) {
	if len(key) != CBCKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CBC{block: block, rand: rand.Reader}, nil
}

// PaddedSize returns the ciphertext length PKCS#7 produces for n plaintext bytes.
func PaddedSize(n int) int {
	return (n/BlockSize + 1) * BlockSize
}

// Seal pads and encrypts plaintext under a fresh random IV.
// Returns: IV (16 bytes) || ciphertext
func (c *CBC) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, IVSize+PaddedSize(len(plaintext)))
	if _, err := io.ReadFull(c.rand, out[:IVSize]); err != nil {
		return nil, err
	}
	body := out[IVSize:]
	n := copy(body, plaintext)
	pad := byte(len(body) - n)
	for i := n; i < len(body); i++ {
		body[i] = pad
	}
	cipher.NewCBCEncrypter(c.block, out[:IVSize]).CryptBlocks(body, body)
	return out, nil
}

// Open decrypts a frame and strips its padding.
// Any structural or padding failure is reported as an error; see Recover for
// the lossy path.
func (c *CBC) Open(frame []byte) ([]byte, error) {
	if len(frame) < IVSize+BlockSize {
		return nil, ErrFrameTooShort
	}
	body := frame[IVSize:]
	if len(body)%BlockSize != 0 {
		return nil, ErrFrameNotAligned
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(c.block, frame[:IVSize]).CryptBlocks(plain, body)
	return unpad(plain)
}

// Recover decrypts a damaged frame block by block. Every complete block is
// decrypted on its own against the previous ciphertext block (or the IV), so
// damage stays confined to the blocks it touched. A trailing partial block
// cannot be decrypted and is replaced by placeholder bytes of the same length.
// Padding is stripped only when it is still well formed.
//
// The second return value is the number of blocks substituted.
func (c *CBC) Recover(frame []byte, placeholder byte) ([]byte, int) {
	if len(frame) <= IVSize {
		return fill(len(frame), placeholder), 1
	}
	prev := frame[:IVSize]
	body := frame[IVSize:]
	out := make([]byte, 0, len(body))
	substituted := 0
	for off := 0; off < len(body); off += BlockSize {
		end := off + BlockSize
		if end > len(body) {
			out = append(out, fill(len(body)-off, placeholder)...)
			substituted++
			break
		}
		var blk [BlockSize]byte
		c.block.Decrypt(blk[:], body[off:end])
		for i := range blk {
			blk[i] ^= prev[i]
		}
		out = append(out, blk[:]...)
		prev = body[off:end]
	}
	if substituted == 0 {
		if unpadded, err := unpad(out); err == nil {
			return unpadded, 0
		}
	}
	return out, substituted
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, v := range b[len(b)-pad:] {
		if int(v) != pad {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-pad], nil
}

func fill(n int, v byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = v
	}
	return out
}
