package bootstrap

import "testing"

func TestInfoHashIsDeterministic(t *testing.T) {
	a, err := InfoHash("a reasonably long shared secret")
	if err != nil {
		t.Fatalf("InfoHash: %v", err)
	}
	b, err := InfoHash("a reasonably long shared secret")
	if err != nil {
		t.Fatalf("InfoHash: %v", err)
	}
	if a != b {
		t.Fatalf("expected the same secret to derive the same infohash: %x != %x", a, b)
	}
}

func TestInfoHashDiffersForDifferentSecrets(t *testing.T) {
	a, err := InfoHash("a reasonably long shared secret one")
	if err != nil {
		t.Fatalf("InfoHash: %v", err)
	}
	b, err := InfoHash("a reasonably long shared secret two")
	if err != nil {
		t.Fatalf("InfoHash: %v", err)
	}
	if a == b {
		t.Fatal("expected different secrets to derive different infohashes")
	}
}

func TestInfoHashRejectsShortSecrets(t *testing.T) {
	if _, err := InfoHash("too-short"); err == nil {
		t.Fatal("expected an error for a secret shorter than MinSecretLength")
	}
}
