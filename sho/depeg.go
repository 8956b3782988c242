package sho

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/myceliasignal/slo/feeds"
)

// DepegCheckInterval is how long a breaker evaluation is cached.
const DepegCheckInterval = 60 * time.Second

// DefaultDepegThreshold is the allowed absolute deviation of USDC/USD from 1.
const DefaultDepegThreshold = 0.02

// PegState is one breaker evaluation.
type PegState struct {
	Pegged  bool
	Rate    float64 // zero when the evaluation was cached or had no quorum
	Sources int
}

// DepegBreaker suspends paid routes when the payment stablecoin leaves its
// peg. It samples up to five exchange sources, requires two, and compares
// the median to 1. With fewer than two samples the previous state holds
// (fail-safe).
type DepegBreaker struct {
	threshold float64
	sources   []feeds.Source

	mu        sync.Mutex
	active    bool
	lastCheck time.Time
	now       func() time.Time
}

func NewDepegBreaker(threshold float64) *DepegBreaker {
	if threshold <= 0 {
		threshold = DefaultDepegThreshold
	}
	return &DepegBreaker{
		threshold: threshold,
		sources:   feeds.USDCPegSources(),
		now:       time.Now,
	}
}

// Threshold returns the configured deviation threshold.
func (b *DepegBreaker) Threshold() float64 { return b.threshold }

// Check returns the current breaker state, re-evaluating at most once per
// DepegCheckInterval.
func (b *DepegBreaker) Check(ctx context.Context) PegState {
	b.mu.Lock()
	if b.now().Sub(b.lastCheck) < DepegCheckInterval {
		state := PegState{Pegged: !b.active}
		b.mu.Unlock()
		return state
	}
	b.lastCheck = b.now()
	b.mu.Unlock()

	rate, count := feeds.RateSample(ctx, b.sources)

	b.mu.Lock()
	defer b.mu.Unlock()
	if count < 2 {
		slog.Warn("depeg check short on sources", "sources", count)
		return PegState{Pegged: !b.active, Sources: count}
	}

	deviation := math.Abs(rate - 1)
	if deviation > b.threshold {
		if !b.active {
			slog.Warn("depeg circuit breaker active",
				"rate", rate, "deviation", deviation, "sources", count)
		}
		b.active = true
	} else {
		if b.active {
			slog.Info("depeg circuit breaker cleared", "rate", rate, "sources", count)
		}
		b.active = false
	}
	return PegState{Pegged: !b.active, Rate: rate, Sources: count}
}
