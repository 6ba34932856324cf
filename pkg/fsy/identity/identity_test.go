package identity

import (
	"testing"
	"time"
)

func TestFromSecret_Deterministic(t *testing.T) {
	var secret [SecretSize]byte
	for i := range secret {
		secret[i] = byte(i)
	}

	a, err := FromSecret(secret, time.Second, time.Second)
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	b, err := FromSecret(secret, time.Second, time.Second)
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}

	if a.NodeID != b.NodeID {
		t.Fatalf("expected the same secret to derive the same node id, got %q and %q", a.NodeID, b.NodeID)
	}
	if a.NodeID == "" {
		t.Fatalf("expected a non-empty node id")
	}
}

func TestFromSecret_DifferentSecretsDifferentIDs(t *testing.T) {
	var secretA, secretB [SecretSize]byte
	secretB[0] = 1

	a, err := FromSecret(secretA, 0, 0)
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	b, err := FromSecret(secretB, 0, 0)
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}

	if a.NodeID == b.NodeID {
		t.Fatalf("expected distinct secrets to derive distinct node ids")
	}
}

func TestGenerate_ProducesUsablePrivateKey(t *testing.T) {
	id, err := Generate(time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if id.PrivateKey() == nil {
		t.Fatalf("expected a non-nil private key")
	}
	if id.NodeID == "" {
		t.Fatalf("expected a non-empty node id")
	}
}
