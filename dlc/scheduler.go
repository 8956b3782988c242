package dlc

import (
	"context"
	"log/slog"
	"time"

	"github.com/myceliasignal/slo/feeds"
)

// AnnouncementHorizon is how many future hourly events stay announced.
const AnnouncementHorizon = 24

// hourBuffer pushes each wakeup past the hour boundary so the observed
// price belongs to the new hour.
const hourBuffer = 5 * time.Second

// Scheduler attests the current hour's event and keeps the announcement
// horizon filled. It never cancels mid-attestation: the context is only
// observed between iterations.
type Scheduler struct {
	attestor *Attestor
	pair     *feeds.Pair
	now      func() time.Time
}

// NewScheduler runs over the BTCUSD feed, the only DLC pair.
func NewScheduler(attestor *Attestor) *Scheduler {
	return &Scheduler{attestor: attestor, pair: feeds.BTCUSD(), now: time.Now}
}

// RunOnce attests the current hour and fills the horizon, then returns.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.attestCurrentHour(ctx)
	return s.announceUpcoming()
}

// Run loops forever, waking shortly after each hour boundary.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("dlc scheduler started", "pair", s.pair.Symbol, "pubkey", s.attestor.Pubkey())
	s.attestCurrentHour(ctx)
	if err := s.announceUpcoming(); err != nil {
		slog.Error("announcement pass failed", "error", err)
	}

	for {
		wait := s.untilNextHour()
		slog.Info("dlc scheduler sleeping", "wait", wait.Round(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		s.attestCurrentHour(ctx)
		if err := s.announceUpcoming(); err != nil {
			slog.Error("announcement pass failed", "error", err)
		}
	}
}

// attestCurrentHour attests the event maturing at the top of the current
// hour. Attestation errors are logged and skipped; the horizon pass still
// runs so future events stay announced.
func (s *Scheduler) attestCurrentHour(ctx context.Context) {
	maturity := s.now().UTC().Truncate(time.Hour)
	eventID := EventID(s.pair.Symbol, maturity)

	if s.attestor.Store().AttestationExists(eventID) {
		slog.Info("already attested", "event_id", eventID)
		return
	}
	if !s.attestor.Store().AnnouncementExists(eventID) {
		slog.Warn("event never announced, announcing now", "event_id", eventID)
		if _, err := s.attestor.CreateAnnouncement(s.pair.Symbol, maturity); err != nil {
			slog.Error("late announcement failed", "event_id", eventID, "error", err)
			return
		}
	}

	result, err := feeds.Aggregate(ctx, s.pair)
	if err != nil {
		slog.Error("price fetch failed, skipping attestation", "event_id", eventID, "error", err)
		return
	}

	if _, err := s.attestor.CreateAttestation(s.pair.Symbol, maturity, result.Price); err != nil {
		slog.Error("attestation failed", "event_id", eventID, "error", err)
	}
}

// announceUpcoming ensures announcements exist for the next
// AnnouncementHorizon hourly events.
func (s *Scheduler) announceUpcoming() error {
	nextHour := s.now().UTC().Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < AnnouncementHorizon; i++ {
		maturity := nextHour.Add(time.Duration(i) * time.Hour)
		if s.attestor.Store().AnnouncementExists(EventID(s.pair.Symbol, maturity)) {
			continue
		}
		if _, err := s.attestor.CreateAnnouncement(s.pair.Symbol, maturity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) untilNextHour() time.Duration {
	now := s.now().UTC()
	next := now.Truncate(time.Hour).Add(time.Hour)
	return next.Sub(now) + hourBuffer
}
