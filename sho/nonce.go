package sho

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// NonceTTL is how long an issued challenge nonce stays redeemable.
const NonceTTL = 5 * time.Minute

// NonceStore issues single-use challenge nonces for the legacy payment form.
// Expired entries are pruned on every issue, so the map stays bounded by the
// challenge rate within one TTL.
type NonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewNonceStore() *NonceStore {
	return &NonceStore{
		nonces: make(map[string]time.Time),
		ttl:    NonceTTL,
		now:    time.Now,
	}
}

// Issue creates and registers a fresh nonce.
func (s *NonceStore) Issue() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	nonce := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, issued := range s.nonces {
		if now.Sub(issued) > s.ttl {
			delete(s.nonces, k)
		}
	}
	s.nonces[nonce] = now
	return nonce
}

// Consume validates a nonce and removes it. A nonce is valid at most once;
// unknown, expired and replayed nonces all fail the same way.
func (s *NonceStore) Consume(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued, ok := s.nonces[nonce]
	if !ok {
		return false
	}
	delete(s.nonces, nonce)
	return s.now().Sub(issued) <= s.ttl
}
