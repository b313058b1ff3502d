package crypto

import (
	"bytes"
	"testing"
)

func testCBC(t *testing.T) *CBC {
	t.Helper()
	key := make([]byte, CBCKeySize)
	for i := range key {
		key[i] = byte(255 - i)
	}
	c, err := NewCBC(key)
	if err != nil {
		t.Fatalf("NewCBC: %v", err)
	}
	return c
}

func TestCBCRoundTrip(t *testing.T) {
	c := testCBC(t)
	for _, n := range []int{0, 1, 15, 16, 17, 1028} {
		plain := bytes.Repeat([]byte{0xab}, n)
		frame, err := c.Seal(plain)
		if err != nil {
			t.Fatalf("Seal(%d): %v", n, err)
		}
		if len(frame) != IVSize+PaddedSize(n) {
			t.Fatalf("Seal(%d): frame length %d", n, len(frame))
		}
		got, err := c.Open(frame)
		if err != nil {
			t.Fatalf("Open(%d): %v", n, err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("Open(%d): plaintext mismatch", n)
		}
	}
}

func TestCBCFreshIV(t *testing.T) {
	c := testCBC(t)
	a, _ := c.Seal([]byte("same"))
	b, _ := c.Seal([]byte("same"))
	if bytes.Equal(a[:IVSize], b[:IVSize]) {
		t.Fatalf("IV reused across frames")
	}
}

func TestCBCRejectsBadKey(t *testing.T) {
	if _, err := NewCBC(make([]byte, 16)); err != ErrInvalidKeySize {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestCBCOpenStructuralErrors(t *testing.T) {
	c := testCBC(t)
	frame, _ := c.Seal(bytes.Repeat([]byte{1}, 40))
	if _, err := c.Open(frame[:IVSize+8]); err != ErrFrameTooShort {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
	if _, err := c.Open(frame[:len(frame)-3]); err != ErrFrameNotAligned {
		t.Fatalf("expected ErrFrameNotAligned, got %v", err)
	}
}

func TestCBCRecoverConfinesDamage(t *testing.T) {
	c := testCBC(t)
	plain := make([]byte, 5*BlockSize)
	for i := range plain {
		plain[i] = byte(i)
	}
	frame, _ := c.Seal(plain)

	// Damage the second ciphertext block: blocks 1 and 2 are affected,
	// everything else must decrypt cleanly.
	frame[IVSize+BlockSize+3] ^= 0x01
	got, substituted := c.Recover(frame, '?')
	if substituted != 0 {
		t.Fatalf("no block should be substituted, got %d", substituted)
	}
	if len(got) != len(plain) {
		t.Fatalf("recovered length %d, want %d", len(got), len(plain))
	}
	if !bytes.Equal(got[:BlockSize], plain[:BlockSize]) {
		t.Fatalf("block 0 should be intact")
	}
	if !bytes.Equal(got[3*BlockSize:], plain[3*BlockSize:]) {
		t.Fatalf("blocks 3+ should be intact")
	}
	if bytes.Equal(got[BlockSize:2*BlockSize], plain[BlockSize:2*BlockSize]) {
		t.Fatalf("block 1 should be damaged")
	}
}

func TestCBCRecoverTruncated(t *testing.T) {
	c := testCBC(t)
	plain := bytes.Repeat([]byte{9}, 3*BlockSize)
	frame, _ := c.Seal(plain)
	truncated := frame[:IVSize+2*BlockSize+5]

	if _, err := c.Open(truncated); err == nil {
		t.Fatalf("Open should fail on a truncated frame")
	}
	got, substituted := c.Recover(truncated, '?')
	if substituted != 1 {
		t.Fatalf("expected 1 substituted block, got %d", substituted)
	}
	if !bytes.Equal(got[:2*BlockSize], plain[:2*BlockSize]) {
		t.Fatalf("complete blocks should be recovered")
	}
	if !bytes.Equal(got[2*BlockSize:], []byte("?????")) {
		t.Fatalf("partial block should be placeholder, got %q", got[2*BlockSize:])
	}
}

func BenchmarkCBCSeal(b *testing.B) {
	c, _ := NewCBC(make([]byte, CBCKeySize))
	plain := make([]byte, 1028)
	b.SetBytes(int64(len(plain)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Seal(plain)
	}
}
