package sho

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Enforcement tiers for payer addresses.
const (
	// GraceCooldown is how long a payer waits after any failure.
	GraceCooldown = 600 * time.Second
	// HardBlockThreshold is the failure count that triggers a hard block.
	HardBlockThreshold = 10
	// HardBlockWindow is the rolling window the failure count is measured over.
	HardBlockWindow = 7 * 24 * time.Hour
)

// EnforcementStatus is the public answer for one payer address.
type EnforcementStatus struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Tier    int    `json:"tier"`
}

// Enforcer tracks payment failures per payer address and applies the tiered
// policy: tier 1 grace cooldown after any failure, tier 3 hard block at the
// threshold. A success never clears history; the window expires naturally,
// so payers cannot amortize failures with a single good payment.
type Enforcer struct {
	mu          sync.Mutex
	failures    map[string][]time.Time
	hardBlocked map[string]bool
	now         func() time.Time
}

func NewEnforcer() *Enforcer {
	return &Enforcer{
		failures:    make(map[string][]time.Time),
		hardBlocked: make(map[string]bool),
		now:         time.Now,
	}
}

// Check evaluates the current tier for an address.
func (e *Enforcer) Check(address string) EnforcementStatus {
	addr := strings.ToLower(address)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hardBlocked[addr] {
		return EnforcementStatus{Allowed: false, Reason: "hard_blocked", Tier: 3}
	}

	now := e.now()
	recent := e.failures[addr][:0]
	for _, t := range e.failures[addr] {
		if now.Sub(t) < HardBlockWindow {
			recent = append(recent, t)
		}
	}
	e.failures[addr] = recent

	if len(recent) >= HardBlockThreshold {
		e.hardBlocked[addr] = true
		slog.Warn("payer hard-blocked", "address", addr, "failures", len(recent))
		return EnforcementStatus{Allowed: false, Reason: "hard_blocked", Tier: 3}
	}

	if len(recent) > 0 {
		if since := now.Sub(recent[len(recent)-1]); since < GraceCooldown {
			remaining := int((GraceCooldown - since).Seconds())
			return EnforcementStatus{
				Allowed: false,
				Reason:  fmt.Sprintf("cooldown_%ds", remaining),
				Tier:    1,
			}
		}
	}
	return EnforcementStatus{Allowed: true, Tier: 0}
}

// RecordFailure appends a failure timestamp for the address.
func (e *Enforcer) RecordFailure(address string) {
	addr := strings.ToLower(address)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[addr] = append(e.failures[addr], e.now())
	slog.Info("payment failure recorded", "address", addr, "total", len(e.failures[addr]))
}

// RecordSuccess is deliberately a no-op: history only expires with the
// rolling window.
func (e *Enforcer) RecordSuccess(address string) {}
