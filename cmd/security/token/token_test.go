package token

import (
	"strings"
	"testing"
)

func TestHasher_ModeSelection(t *testing.T) {
	t.Parallel()

	plain, err := NewHasher(nil)
	if err != nil {
		t.Fatalf("NewHasher(nil): %v", err)
	}
	if plain.Keyed() {
		t.Fatalf("empty key should select SHA-256")
	}
	if got, want := plain.Hash("abc"), HashSHA256Hex("abc"); got != want {
		t.Fatalf("plain hash mismatch: %s != %s", got, want)
	}

	if _, err := NewHasher([]byte("short")); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	key := []byte(strings.Repeat("k", MinHMACKeyBytes))
	keyed, err := NewHasher(key)
	if err != nil {
		t.Fatalf("NewHasher(key): %v", err)
	}
	h := keyed.Hash("abc")
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
	if h == plain.Hash("abc") {
		t.Fatalf("keyed hash must differ from plain hash")
	}
	if !Equal(h, HashHMACSHA256Hex("abc", key)) {
		t.Fatalf("keyed hash mismatch")
	}
}

func TestNewOpaque(t *testing.T) {
	t.Parallel()

	a, err := NewOpaque(0)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	b, err := NewOpaque(0)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	if a == b {
		t.Fatalf("tokens must be unique")
	}
	if len(a) != 43 {
		t.Fatalf("expected 43 chars for 32 bytes base64url, got %d", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("token must be URL safe: %q", a)
	}
}
