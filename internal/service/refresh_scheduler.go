package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/access"
)

const defaultRefreshInterval = 5 * time.Minute

// RefreshScheduler refreshes the aggregates on a fixed interval when they are
// stale or when a committed ledger append marked them dirty.
type RefreshScheduler struct {
	aggregates AggregateService
	events     LedgerEventPublisher
	interval   time.Duration
	dirty      atomic.Bool
	logger     zerolog.Logger
}

// NewRefreshScheduler constructs a scheduler. A nil events publisher disables dirty tracking.
func NewRefreshScheduler(aggregates AggregateService, events LedgerEventPublisher, interval time.Duration, logger zerolog.Logger) *RefreshScheduler {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &RefreshScheduler{
		aggregates: aggregates,
		events:     ledgerEventsOrNoop(events),
		interval:   interval,
		logger:     logger.With().Str("component", "refresh_scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (s *RefreshScheduler) Run(ctx context.Context) {
	if err := s.events.Subscribe(ctx, func(LedgerEvent) { s.dirty.Store(true) }); err != nil {
		s.logger.Warn().Err(err).Msg("ledger event subscription unavailable, refreshing on staleness only")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("aggregate refresh scheduler started")
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.logger.Info().Msg("aggregate refresh scheduler stopped")
			return
		}
	}
}

// MarkDirty requests a refresh on the next tick.
func (s *RefreshScheduler) MarkDirty() {
	s.dirty.Store(true)
}

// Tick runs one scheduling decision and reports whether a refresh ran.
func (s *RefreshScheduler) Tick(ctx context.Context) bool {
	ctx = access.WithContext(ctx, access.System())

	dirty := s.dirty.Swap(false)
	if !dirty {
		staleness, err := s.aggregates.ShouldRefresh(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to probe aggregate staleness")
			return false
		}
		if !staleness.ShouldRefresh {
			return false
		}
	}

	started := time.Now()
	results, err := s.aggregates.Refresh(ctx)
	if err != nil {
		s.dirty.Store(dirty)
		s.logger.Error().Err(err).Msg("scheduled aggregate refresh failed")
		return false
	}

	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}
	if failed > 0 && dirty {
		s.dirty.Store(true)
	}

	s.logger.Info().
		Bool("dirty", dirty).
		Int("views", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(started)).
		Msg("scheduled aggregate refresh finished")
	return true
}
