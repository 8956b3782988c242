package feeds

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/myceliasignal/slo"
)

func fixed(v float64) Fetcher {
	return func(ctx context.Context) (float64, error) { return v, nil }
}

func failing() Fetcher {
	return func(ctx context.Context) (float64, error) { return 0, errors.New("boom") }
}

func TestAggregateMedian(t *testing.T) {
	pair := &Pair{
		Symbol: "TESTUSD", Quote: "USD", Decimals: 2, Method: "median",
		Sources: []Source{
			{Name: "c", Fetch: fixed(300)},
			{Name: "a", Fetch: fixed(100)},
			{Name: "b", Fetch: fixed(200)},
		},
		MinSources: 3,
	}

	res, err := Aggregate(context.Background(), pair)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Price != 200 {
		t.Errorf("price = %v, want 200", res.Price)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(res.Sources, want) {
		t.Errorf("sources = %v, want %v", res.Sources, want)
	}
}

func TestAggregateEvenMedianIsMeanOfMiddles(t *testing.T) {
	pair := &Pair{
		Symbol: "TESTUSD", Decimals: 2,
		Sources: []Source{
			{Name: "a", Fetch: fixed(100)},
			{Name: "b", Fetch: fixed(200)},
			{Name: "c", Fetch: fixed(300)},
			{Name: "d", Fetch: fixed(400)},
		},
		MinSources: 4,
	}

	res, err := Aggregate(context.Background(), pair)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Price != 250 {
		t.Errorf("price = %v, want 250", res.Price)
	}
}

func TestAggregateDropsDivergentStablecoinSamples(t *testing.T) {
	pair := &Pair{
		Symbol: "TESTUSD", Decimals: 2, Divergence: 0.005,
		Sources: []Source{
			{Name: "a", Fetch: fixed(100)},
			{Name: "b", Fetch: fixed(100)},
			{Name: "c", Fetch: fixed(100)},
			{Name: "d", Denom: DenomStable, Fetch: fixed(106)},
			{Name: "e", Denom: DenomStable, Fetch: fixed(106)},
		},
		StableRateSources: []Source{
			{Name: "r1", Fetch: fixed(1.0)},
			{Name: "r2", Fetch: fixed(1.0)},
		},
		MinSources:      5,
		MinQuoteSources: 3,
	}

	res, err := Aggregate(context.Background(), pair)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !res.StableDropped {
		t.Error("StableDropped = false, want true")
	}
	if res.Price != 100 {
		t.Errorf("price = %v, want 100", res.Price)
	}
	if len(res.Sources) != 3 {
		t.Errorf("sources = %v, want the three quote sources", res.Sources)
	}
}

func TestAggregateNormalizesStablecoinSamples(t *testing.T) {
	// USDT trades at 0.99 USD, so 101.01 USDT ≈ 100 USD.
	pair := &Pair{
		Symbol: "TESTUSD", Decimals: 2, Divergence: 0.005,
		Sources: []Source{
			{Name: "a", Fetch: fixed(100)},
			{Name: "b", Fetch: fixed(100)},
			{Name: "c", Denom: DenomStable, Fetch: fixed(101.0101)},
		},
		StableRateSources: []Source{
			{Name: "r1", Fetch: fixed(0.99)},
			{Name: "r2", Fetch: fixed(0.99)},
		},
		MinSources: 3,
	}

	res, err := Aggregate(context.Background(), pair)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.StableDropped {
		t.Error("StableDropped = true, want false")
	}
	if math.Abs(res.Price-100) > 0.01 {
		t.Errorf("price = %v, want ~100", res.Price)
	}
	if res.StableRate != 0.99 {
		t.Errorf("StableRate = %v, want 0.99", res.StableRate)
	}
}

func TestAggregateInsufficientSources(t *testing.T) {
	pair := &Pair{
		Symbol: "TESTUSD", Decimals: 2,
		Sources: []Source{
			{Name: "a", Fetch: fixed(100)},
			{Name: "b", Fetch: failing()},
		},
		MinSources: 2,
	}

	_, err := Aggregate(context.Background(), pair)
	if !errors.Is(err, slo.ErrInsufficientSources) {
		t.Errorf("err = %v, want ErrInsufficientSources", err)
	}
}

func TestAggregateStableRateUnavailableDiscardsStableSamples(t *testing.T) {
	// Only one rate source answers: the stablecoin set is unusable but the
	// quorum stays at MinSources, so the round fails.
	pair := &Pair{
		Symbol: "TESTUSD", Decimals: 2, Divergence: 0.005,
		Sources: []Source{
			{Name: "a", Fetch: fixed(100)},
			{Name: "b", Denom: DenomStable, Fetch: fixed(100)},
			{Name: "c", Denom: DenomStable, Fetch: fixed(100)},
		},
		StableRateSources: []Source{
			{Name: "r1", Fetch: fixed(1.0)},
			{Name: "r2", Fetch: failing()},
		},
		MinSources: 3,
	}

	_, err := Aggregate(context.Background(), pair)
	if !errors.Is(err, slo.ErrInsufficientSources) {
		t.Errorf("err = %v, want ErrInsufficientSources", err)
	}
}

func TestAggregateCrossRate(t *testing.T) {
	pair := &Pair{
		Symbol: "TESTEUR", Quote: "EUR", Decimals: 2,
		Cross: &CrossRate{
			Base: &Pair{
				Symbol: "TESTUSD", Decimals: 2,
				Sources:    []Source{{Name: "a", Fetch: fixed(50000)}},
				MinSources: 1,
			},
			Quote: &Pair{
				Symbol: "EURUSD", Decimals: 5,
				Sources:    []Source{{Name: "b", Fetch: fixed(1.25)}},
				MinSources: 1,
			},
		},
	}

	res, err := Aggregate(context.Background(), pair)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Price != 40000 {
		t.Errorf("price = %v, want 40000", res.Price)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(res.Sources, want) {
		t.Errorf("sources = %v, want union %v", res.Sources, want)
	}
}

func TestRoundToDecimals(t *testing.T) {
	tests := []struct {
		value    float64
		decimals int
		want     float64
	}{
		{1.23456, 2, 1.23},
		{1.235, 2, 1.24},
		{1.234564, 5, 1.23456},
		{100, 2, 100},
	}
	for _, tt := range tests {
		if got := roundTo(tt.value, tt.decimals); got != tt.want {
			t.Errorf("roundTo(%v, %d) = %v, want %v", tt.value, tt.decimals, got, tt.want)
		}
	}
}
