// Package feeds implements the price aggregation engine: per-source
// fetchers, stablecoin normalization with a divergence circuit breaker,
// and a quorum-gated median per trading pair.
package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/myceliasignal/slo"
)

// Denomination describes what currency a source quotes in.
type Denomination int

const (
	// DenomQuote means the source quotes directly in the pair's quote currency.
	DenomQuote Denomination = iota
	// DenomStable means the source quotes in a USD-like stablecoin and must
	// be normalized with the stablecoin rate before use.
	DenomStable
)

// Fetcher fetches a single price observation from one external source.
// Failures are per-source misses, never fatal to the round.
type Fetcher func(ctx context.Context) (float64, error)

// Source binds a fetcher to its canonical source name.
type Source struct {
	Name    string
	Denom   Denomination
	Fetch   Fetcher
	Timeout time.Duration // zero means DefaultTimeout
}

// CrossRate derives a pair as Base.median / Quote.median.
type CrossRate struct {
	Base  *Pair
	Quote *Pair
}

// Pair is the immutable configuration of one trading pair.
type Pair struct {
	Symbol   string // e.g. "BTCUSD"
	Quote    string // e.g. "USD"
	Decimals int
	Method   string // "median" or "vwap"
	Nonce    string // endpoint-configured canonical nonce

	Sources           []Source
	StableRateSources []Source // stablecoin-to-quote rate sources

	MinSources      int // quorum with stablecoin samples in play
	MinQuoteSources int // quorum after the stablecoin set is dropped

	Divergence float64 // stable-vs-quote median divergence threshold

	Cross *CrossRate // non-nil for cross-rate pairs; Sources is then empty
}

// Result is one aggregation round's outcome.
type Result struct {
	Price   float64
	Sources []string // sorted, unique
	Raw     map[string]float64

	StableRate      float64
	StableRateCount int
	StableDropped   bool
}

// DefaultTimeout bounds each fetcher's HTTP round trip.
const DefaultTimeout = 5 * time.Second

type sample struct {
	name  string
	denom Denomination
	price float64
}

// Aggregate runs all configured fetchers for the pair concurrently and
// computes the quorum-gated median per the pair's configuration.
func Aggregate(ctx context.Context, p *Pair) (*Result, error) {
	if p.Cross != nil {
		return aggregateCross(ctx, p)
	}

	samples := fanOut(ctx, p.Sources)

	var quote, stable []sample
	for _, s := range samples {
		if s.denom == DenomStable {
			stable = append(stable, s)
		} else {
			quote = append(quote, s)
		}
	}

	res := &Result{Raw: make(map[string]float64, len(samples))}

	// Normalize stablecoin-denominated samples. Without a usable rate the
	// raw stablecoin prices cannot be compared and are discarded.
	if len(stable) > 0 {
		rate, count := stableRate(ctx, p.StableRateSources)
		if count < 2 {
			slog.Warn("stablecoin rate unavailable, dropping stable samples",
				"pair", p.Symbol, "rate_sources", count)
			stable = nil
		} else {
			res.StableRate = rate
			res.StableRateCount = count
			for i := range stable {
				stable[i].price *= rate
			}
		}
	}

	// Divergence breaker: a stablecoin set drifting from the quote set
	// beyond the threshold poisons the median, so the whole set goes.
	if len(quote) > 0 && len(stable) > 0 {
		qm := median(prices(quote))
		sm := median(prices(stable))
		if math.Abs(sm-qm)/qm > p.Divergence {
			slog.Warn("stablecoin divergence, dropping stable samples",
				"pair", p.Symbol, "quote_median", qm, "stable_median", sm)
			stable = nil
			res.StableDropped = true
		}
	}

	combined := append(quote, stable...)
	min := p.MinSources
	if res.StableDropped && p.MinQuoteSources > 0 {
		min = p.MinQuoteSources
	}
	if len(combined) < min {
		return nil, fmt.Errorf("%w: %s got %d, need %d (stable_dropped=%v)",
			slo.ErrInsufficientSources, p.Symbol, len(combined), min, res.StableDropped)
	}

	for _, s := range combined {
		res.Raw[s.name] = s.price
		res.Sources = append(res.Sources, s.name)
	}
	sort.Strings(res.Sources)
	res.Price = roundTo(median(prices(combined)), p.Decimals)
	return res, nil
}

// aggregateCross composes two aggregations and divides the medians. The
// source list is the union of both underlying lists.
func aggregateCross(ctx context.Context, p *Pair) (*Result, error) {
	base, err := Aggregate(ctx, p.Cross.Base)
	if err != nil {
		return nil, err
	}
	quote, err := Aggregate(ctx, p.Cross.Quote)
	if err != nil {
		return nil, err
	}

	res := &Result{Raw: make(map[string]float64, len(base.Raw)+len(quote.Raw))}
	seen := make(map[string]bool)
	for _, r := range []*Result{base, quote} {
		for name, price := range r.Raw {
			res.Raw[name] = price
		}
		for _, name := range r.Sources {
			if !seen[name] {
				seen[name] = true
				res.Sources = append(res.Sources, name)
			}
		}
	}
	sort.Strings(res.Sources)
	res.Price = roundTo(base.Price/quote.Price, p.Decimals)
	return res, nil
}

// fanOut issues every fetch concurrently with its own timeout and collects
// whatever returns. A timeout or error is a source miss for the round.
func fanOut(ctx context.Context, sources []Source) []sample {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		samples []sample
	)
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			timeout := src.Timeout
			if timeout == 0 {
				timeout = DefaultTimeout
			}
			fctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			price, err := src.Fetch(fctx)
			if err != nil {
				slog.Debug("source miss", "source", src.Name, "error", err)
				return
			}
			mu.Lock()
			samples = append(samples, sample{name: src.Name, denom: src.Denom, price: price})
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	return samples
}

// RateSample fetches all sources concurrently and returns the median of
// whatever answered, plus the answer count. Used for peg rates where the
// caller enforces its own minimum.
func RateSample(ctx context.Context, sources []Source) (float64, int) {
	return stableRate(ctx, sources)
}

// stableRate computes the stablecoin-to-quote rate as the median of the
// configured rate sources. Returns the rate and how many sources answered.
func stableRate(ctx context.Context, sources []Source) (float64, int) {
	samples := fanOut(ctx, sources)
	if len(samples) == 0 {
		return 0, 0
	}
	return median(prices(samples)), len(samples)
}

func prices(samples []sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.price
	}
	return out
}

// median of an even-length set is the mean of the two middle values.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
