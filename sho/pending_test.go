package sho

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestPendingConfirmationResolves(t *testing.T) {
	chain := &fakeChain{result: Verification{Valid: true, Confirmed: true}}
	enforcer := NewEnforcer()
	p := NewPendingConfirmations(chain, enforcer)

	p.Add("0xabc", testPayer, big.NewInt(1000))
	p.process(context.Background())

	if p.Len() != 0 {
		t.Errorf("queue len = %d, want 0", p.Len())
	}
	if status := enforcer.Check(testPayer); !status.Allowed {
		t.Errorf("payer penalized for confirmed payment: %+v", status)
	}
}

func TestPendingConfirmationRejected(t *testing.T) {
	chain := &fakeChain{result: Verification{Valid: false, Confirmed: true, Reason: "insufficient_amount"}}
	enforcer := NewEnforcer()
	p := NewPendingConfirmations(chain, enforcer)

	p.Add("0xabc", testPayer, big.NewInt(1000))
	p.process(context.Background())

	if p.Len() != 0 {
		t.Errorf("queue len = %d, want 0", p.Len())
	}
	if status := enforcer.Check(testPayer); status.Allowed {
		t.Error("payer not penalized for rejected payment")
	}
}

func TestPendingStillUnconfirmedStays(t *testing.T) {
	chain := &fakeChain{result: Verification{Valid: true, Confirmed: false}}
	p := NewPendingConfirmations(chain, NewEnforcer())

	p.Add("0xabc", testPayer, big.NewInt(1000))
	p.process(context.Background())
	if p.Len() != 1 {
		t.Errorf("queue len = %d, want 1", p.Len())
	}
}

func TestPendingChainErrorRetries(t *testing.T) {
	chain := &fakeChain{err: errors.New("rpc down")}
	enforcer := NewEnforcer()
	p := NewPendingConfirmations(chain, enforcer)

	p.Add("0xabc", testPayer, big.NewInt(1000))
	p.process(context.Background())

	// Transient chain errors neither drop the entry nor penalize the payer.
	if p.Len() != 1 {
		t.Errorf("queue len = %d, want 1", p.Len())
	}
	if status := enforcer.Check(testPayer); !status.Allowed {
		t.Errorf("payer penalized for rpc error: %+v", status)
	}
}

func TestPendingDeadlineIsFailure(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	chain := &fakeChain{result: Verification{Valid: true, Confirmed: false}}
	enforcer := NewEnforcer()
	p := NewPendingConfirmations(chain, enforcer)
	p.now = func() time.Time { return now }

	p.Add("0xabc", testPayer, big.NewInt(1000))
	now = now.Add(pendingDeadline + time.Second)
	p.process(context.Background())

	if p.Len() != 0 {
		t.Errorf("queue len = %d, want 0", p.Len())
	}
	if status := enforcer.Check(testPayer); status.Allowed {
		t.Error("payer not penalized for timed-out payment")
	}
	if chain.calls != 0 {
		t.Errorf("chain queried %d times for expired entry", chain.calls)
	}
}
