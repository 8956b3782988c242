package sho

import (
	"testing"
	"time"
)

func TestNonceSingleUse(t *testing.T) {
	s := NewNonceStore()
	nonce := s.Issue()
	if nonce == "" {
		t.Fatal("empty nonce issued")
	}
	if !s.Consume(nonce) {
		t.Fatal("fresh nonce rejected")
	}
	if s.Consume(nonce) {
		t.Error("nonce consumed twice")
	}
	if s.Consume("deadbeef") {
		t.Error("unknown nonce accepted")
	}
}

func TestNonceExpiry(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s := NewNonceStore()
	s.now = func() time.Time { return now }

	nonce := s.Issue()
	now = now.Add(NonceTTL + time.Second)
	if s.Consume(nonce) {
		t.Error("expired nonce accepted")
	}
}

func TestNoncePruning(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s := NewNonceStore()
	s.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		s.Issue()
	}
	now = now.Add(NonceTTL + time.Second)
	s.Issue()
	if n := len(s.nonces); n != 1 {
		t.Errorf("store holds %d nonces after pruning, want 1", n)
	}
}
