package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAPIKeyRoundTrip(t *testing.T) {
	s := NewStore(zap.NewNop(), t.TempDir(), 0)

	if err := s.SaveAPIKey("sk-test-123"); err != nil {
		t.Fatalf("save: %v", err)
	}
	key, err := s.LoadAPIKey()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if key != "sk-test-123" {
		t.Fatalf("unexpected key: %q", key)
	}
}

func TestCredentialFileFormat(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(zap.NewNop(), dir, 0)

	if err := s.SaveAPIKey("sk-test-123"); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "credentials"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "API_KEY: sk-test-123\n" {
		t.Fatalf("unexpected file contents: %q", data)
	}
}

func TestLoadAPIKeyMissingFileMeansLoggedOut(t *testing.T) {
	s := NewStore(zap.NewNop(), t.TempDir(), 0)

	key, err := s.LoadAPIKey()
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestNonceIsSingleUse(t *testing.T) {
	s := NewStore(zap.NewNop(), t.TempDir(), 0)

	if err := s.AddAuthState("nonce-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !s.IsValidAndConsume("nonce-1") {
		t.Fatal("first validation must succeed")
	}
	if s.IsValidAndConsume("nonce-1") {
		t.Fatal("second validation must fail")
	}
}

func TestEmptyAndUnknownNoncesRejected(t *testing.T) {
	s := NewStore(zap.NewNop(), t.TempDir(), 0)

	if s.IsValidAndConsume("") {
		t.Fatal("empty nonce must be rejected")
	}
	if s.IsValidAndConsume("never-issued") {
		t.Fatal("unknown nonce must be rejected")
	}
}

func TestNonceExpiry(t *testing.T) {
	s := NewStore(zap.NewNop(), t.TempDir(), 300*time.Second)
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	if err := s.AddAuthState("fresh"); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.now = func() time.Time { return issued.Add(299 * time.Second) }
	if !s.IsValidAndConsume("fresh") {
		t.Fatal("nonce inside the TTL must validate")
	}

	s.now = func() time.Time { return issued }
	if err := s.AddAuthState("stale"); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.now = func() time.Time { return issued.Add(301 * time.Second) }
	if s.IsValidAndConsume("stale") {
		t.Fatal("nonce past the TTL must be rejected")
	}
}

func TestConcurrentNoncesCoexist(t *testing.T) {
	s := NewStore(zap.NewNop(), t.TempDir(), 0)

	for _, n := range []string{"a", "b", "c"} {
		if err := s.AddAuthState(n); err != nil {
			t.Fatalf("add %s: %v", n, err)
		}
	}
	if !s.IsValidAndConsume("b") {
		t.Fatal("b must validate")
	}
	if !s.IsValidAndConsume("a") || !s.IsValidAndConsume("c") {
		t.Fatal("consuming one nonce must not discard the others")
	}
}
