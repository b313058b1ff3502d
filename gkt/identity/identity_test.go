package identity

import (
	"testing"
)

func TestFingerprintStable(t *testing.T) {
	id, err := Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	fp1 := id.Fingerprint()
	pub := id.PublicKey()
	fp2 := FingerprintOf(pub[:])
	if fp1 != fp2 {
		t.Fatalf("Fingerprint mismatch")
	}

	parsed, err := ParseFingerprintHex(fp1.String())
	if err != nil {
		t.Fatalf("ParseFingerprintHex: %v", err)
	}
	if parsed != fp1 {
		t.Fatalf("ParseFingerprintHex mismatch")
	}
	if len(fp1.Short()) != 16 {
		t.Fatalf("unexpected short fingerprint %q", fp1.Short())
	}
}

func TestFromPrivateRoundTrip(t *testing.T) {
	id, _ := Generate("bob")
	again, err := FromPrivate("bob", id.Keys.PrivateKey[:])
	if err != nil {
		t.Fatalf("FromPrivate: %v", err)
	}
	if again.PublicKey() != id.PublicKey() {
		t.Fatalf("public key mismatch after rebuild")
	}
}

func TestMemberIDValidate(t *testing.T) {
	valid := []MemberID{"a", "alice", "bob.smith", "carol@example.org", "m-01_x"}
	for _, id := range valid {
		if err := id.Validate(); err != nil {
			t.Fatalf("%q should be valid: %v", id, err)
		}
	}
	invalid := []MemberID{"", "../etc", "a/b", ".hidden", "white space", MemberID(make([]byte, 200))}
	for _, id := range invalid {
		if err := id.Validate(); err != ErrInvalidMemberID {
			t.Fatalf("%q should be invalid, got %v", id, err)
		}
	}
	if _, err := Generate("bad/name"); err != ErrInvalidMemberID {
		t.Fatalf("Generate should reject invalid member id, got %v", err)
	}
}
