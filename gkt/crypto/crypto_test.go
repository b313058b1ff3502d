package crypto

import (
	"bytes"
	"testing"
)

func TestX25519ECDH(t *testing.T) {
	alice, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	bob, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}

	sharedAlice, err := ECDH(alice.PrivateKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("ECDH alice: %v", err)
	}
	sharedBob, err := ECDH(bob.PrivateKey, alice.PublicKey)
	if err != nil {
		t.Fatalf("ECDH bob: %v", err)
	}

	if !bytes.Equal(sharedAlice, sharedBob) {
		t.Fatalf("shared secrets do not match")
	}
}

func TestECDHRejectsZeroPoint(t *testing.T) {
	kp, _ := GenerateX25519()
	if _, err := ECDH(kp.PrivateKey, [32]byte{}); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
	if _, err := ParsePublicKey(make([]byte, 32)); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey from ParsePublicKey, got %v", err)
	}
	if _, err := ParsePublicKey(make([]byte, 31)); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey for short key, got %v", err)
	}
}

func TestX25519FromPrivateStable(t *testing.T) {
	kp, _ := GenerateX25519()
	again, err := X25519FromPrivate(kp.PrivateKey[:])
	if err != nil {
		t.Fatalf("X25519FromPrivate: %v", err)
	}
	if again != kp {
		t.Fatalf("rebuilt key pair differs")
	}
	if _, err := X25519FromPrivate(kp.PrivateKey[:16]); err != ErrInvalidPrivateKey {
		t.Fatalf("expected ErrInvalidPrivateKey, got %v", err)
	}
}

func TestSealerRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	plaintext := []byte("CHK1 key record in transit")
	ad := []byte("member-a")

	sealed, err := s.Seal(plaintext, ad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != len(plaintext)+s.Overhead() {
		t.Fatalf("unexpected sealed length %d", len(sealed))
	}

	opened, err := s.Open(sealed, ad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened != plaintext")
	}

	if _, err := s.Open(sealed, []byte("member-b")); err != ErrDecryptionFailed {
		t.Fatalf("expected failure with wrong additional data, got %v", err)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := s.Open(sealed, ad); err != ErrDecryptionFailed {
		t.Fatalf("expected decryption failure on tampered ciphertext")
	}
	if _, err := s.Open(sealed[:10], ad); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestDeriveWrapKeyBindsBothKeys(t *testing.T) {
	agg, _ := GenerateX25519()
	member, _ := GenerateX25519()
	other, _ := GenerateX25519()
	shared, _ := ECDH(agg.PrivateKey, member.PublicKey)

	k1, err := DeriveWrapKey(shared, agg.PublicKey, member.PublicKey)
	if err != nil {
		t.Fatalf("DeriveWrapKey: %v", err)
	}
	k2, _ := DeriveWrapKey(shared, agg.PublicKey, other.PublicKey)
	if len(k1) != GroupKeySize {
		t.Fatalf("unexpected key length %d", len(k1))
	}
	if bytes.Equal(k1, k2) {
		t.Fatalf("wrap keys for different members should differ")
	}
}

func TestDeriveGroupKeySaltSensitive(t *testing.T) {
	secret := bytes.Repeat([]byte{7}, 96)
	a, _ := DeriveGroupKey(secret, make([]byte, SaltSize))
	b, _ := DeriveGroupKey(secret, make([]byte, SaltSize))
	if !bytes.Equal(a, b) {
		t.Fatalf("same inputs must derive the same key")
	}
	salt := make([]byte, SaltSize)
	salt[0] = 1
	c, _ := DeriveGroupKey(secret, salt)
	if bytes.Equal(a, c) {
		t.Fatalf("different salts must derive different keys")
	}
}

func BenchmarkSealerSeal(b *testing.B) {
	key := make([]byte, 32)
	s, _ := NewSealer(key)
	plaintext := make([]byte, 64)
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Seal(plaintext, nil)
	}
}
