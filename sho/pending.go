package sho

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

const (
	// pendingPollInterval is how often optimistically served payments are
	// re-checked for confirmation.
	pendingPollInterval = 15 * time.Second
	// pendingDeadline is how long a pending payment may stay unconfirmed
	// before it counts as a failure.
	pendingDeadline = 5 * time.Minute
)

type pendingEntry struct {
	txHash      string
	fromAddress string
	expected    *big.Int
	createdAt   time.Time
}

// transferVerifier is satisfied by ChainClient.
type transferVerifier interface {
	VerifyTransfer(ctx context.Context, txHash string, expectedAtomic *big.Int) (Verification, error)
}

// PendingConfirmations tracks optimistically served payments until the chain
// confirms or rejects them. A transaction that reverts, vanishes, or misses
// the deadline records an enforcement failure against the payer.
type PendingConfirmations struct {
	chain    transferVerifier
	enforcer *Enforcer

	mu      sync.Mutex
	entries []pendingEntry
	now     func() time.Time
}

func NewPendingConfirmations(chain transferVerifier, enforcer *Enforcer) *PendingConfirmations {
	return &PendingConfirmations{chain: chain, enforcer: enforcer, now: time.Now}
}

// Add queues a pre-confirmation payment for follow-up.
func (p *PendingConfirmations) Add(txHash, fromAddress string, expected *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, pendingEntry{
		txHash:      txHash,
		fromAddress: fromAddress,
		expected:    expected,
		createdAt:   p.now(),
	})
}

// Len reports how many payments are awaiting confirmation.
func (p *PendingConfirmations) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Run polls until the context is cancelled.
func (p *PendingConfirmations) Run(ctx context.Context) {
	ticker := time.NewTicker(pendingPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.process(ctx)
		}
	}
}

// process settles the fate of every entry it can; undecided entries stay.
// Entries added while the chain calls are in flight are untouched.
func (p *PendingConfirmations) process(ctx context.Context) {
	p.mu.Lock()
	entries := append([]pendingEntry(nil), p.entries...)
	p.mu.Unlock()

	resolved := make(map[string]bool)
	for _, entry := range entries {
		if p.now().Sub(entry.createdAt) > pendingDeadline {
			p.enforcer.RecordFailure(entry.fromAddress)
			slog.Warn("pending payment timed out",
				"tx_hash", entry.txHash, "from", entry.fromAddress)
			resolved[entry.txHash] = true
			continue
		}

		result, err := p.chain.VerifyTransfer(ctx, entry.txHash, entry.expected)
		if err != nil {
			slog.Warn("pending payment check failed", "tx_hash", entry.txHash, "error", err)
			continue
		}
		if !result.Confirmed {
			continue
		}
		resolved[entry.txHash] = true
		if result.Valid {
			p.enforcer.RecordSuccess(entry.fromAddress)
			slog.Info("pending payment confirmed", "tx_hash", entry.txHash)
		} else {
			p.enforcer.RecordFailure(entry.fromAddress)
			slog.Warn("pending payment rejected",
				"tx_hash", entry.txHash, "reason", result.Reason)
		}
	}
	if len(resolved) == 0 {
		return
	}

	p.mu.Lock()
	remaining := p.entries[:0]
	for _, entry := range p.entries {
		if !resolved[entry.txHash] {
			remaining = append(remaining, entry)
		}
	}
	p.entries = remaining
	p.mu.Unlock()
}
