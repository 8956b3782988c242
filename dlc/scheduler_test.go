package dlc

import (
	"context"
	"testing"
	"time"

	"github.com/myceliasignal/slo/feeds"
)

func testScheduler(t *testing.T, price float64) *Scheduler {
	t.Helper()
	pair := &feeds.Pair{
		Symbol: "BTCUSD", Quote: "USD", Decimals: 2, Method: "median", Nonce: "890123",
		Sources: []feeds.Source{{
			Name:  "test",
			Fetch: func(ctx context.Context) (float64, error) { return price, nil },
		}},
		MinSources: 1,
	}
	return &Scheduler{attestor: testAttestor(t), pair: pair, now: time.Now}
}

func TestRunOnceFillsHorizon(t *testing.T) {
	now := time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC)
	s := testScheduler(t, 68867.5)
	s.now = func() time.Time { return now }

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// Current hour attested.
	currentID := EventID("BTCUSD", now.Truncate(time.Hour))
	att, err := s.attestor.Store().LoadAttestation(currentID)
	if err != nil {
		t.Fatalf("current hour not attested: %v", err)
	}
	if att.Price != 68868 {
		t.Errorf("price = %d, want 68868", att.Price)
	}

	// Horizon of future announcements, plus the late-announced current hour.
	announcements, attestations := s.attestor.Store().Counts()
	if announcements != AnnouncementHorizon+1 {
		t.Errorf("announcements = %d, want %d", announcements, AnnouncementHorizon+1)
	}
	if attestations != 1 {
		t.Errorf("attestations = %d, want 1", attestations)
	}
	for i := 1; i <= AnnouncementHorizon; i++ {
		id := EventID("BTCUSD", now.Truncate(time.Hour).Add(time.Duration(i)*time.Hour))
		if !s.attestor.Store().AnnouncementExists(id) {
			t.Errorf("hour +%d not announced", i)
		}
	}
}

func TestRunOnceIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC)
	s := testScheduler(t, 68867.5)
	s.now = func() time.Time { return now }

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}

	announcements, attestations := s.attestor.Store().Counts()
	if announcements != AnnouncementHorizon+1 || attestations != 1 {
		t.Errorf("counts = %d/%d after rerun", announcements, attestations)
	}
}

func TestFeedFailureSkipsAttestation(t *testing.T) {
	now := time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC)
	s := testScheduler(t, 0)
	s.pair.Sources = nil
	s.pair.MinSources = 1
	s.now = func() time.Time { return now }

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// No attestation, but the horizon still gets announced.
	announcements, attestations := s.attestor.Store().Counts()
	if attestations != 0 {
		t.Errorf("attestations = %d, want 0", attestations)
	}
	if announcements != AnnouncementHorizon+1 {
		t.Errorf("announcements = %d, want %d", announcements, AnnouncementHorizon+1)
	}
}

func TestUntilNextHour(t *testing.T) {
	s := testScheduler(t, 1)
	s.now = func() time.Time {
		return time.Date(2026, 8, 24, 14, 59, 0, 0, time.UTC)
	}
	if got := s.untilNextHour(); got != time.Minute+hourBuffer {
		t.Errorf("untilNextHour = %v", got)
	}
}
