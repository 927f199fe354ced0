package webhook

import (
	"strings"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"event":"access.granted","data":{"door_id":7}}`)
	secret := "super-secret"

	sig := Sign(payload, secret)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("Sign() = %q, want sha256= prefix", sig)
	}

	if !Verify(payload, secret, sig) {
		t.Error("Verify() = false for matching payload/secret/signature")
	}
}

func TestVerify_FlippedByte(t *testing.T) {
	payload := []byte(`{"event":"access.granted","data":{"door_id":7}}`)
	secret := "super-secret"
	sig := Sign(payload, secret)

	// Flipping any single byte of the payload must break verification.
	for i := range payload {
		mutated := make([]byte, len(payload))
		copy(mutated, payload)
		mutated[i] ^= 0x01

		if Verify(mutated, secret, sig) {
			t.Fatalf("Verify() = true after flipping byte %d", i)
		}
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	payload := []byte(`{"event":"door.opened"}`)
	sig := Sign(payload, "secret-a")

	if Verify(payload, "secret-b", sig) {
		t.Error("Verify() = true with wrong secret")
	}
}

func TestVerify_MalformedSignature(t *testing.T) {
	payload := []byte(`{}`)

	if Verify(payload, "secret", "md5=abcdef") {
		t.Error("Verify() accepted signature without sha256= prefix")
	}
	if Verify(payload, "secret", "") {
		t.Error("Verify() accepted empty signature")
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}

	if len(a) != 64 {
		t.Errorf("secret length = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Error("GenerateSecret() returned the same secret twice")
	}
}
