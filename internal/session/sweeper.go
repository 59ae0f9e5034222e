package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bookingagent/internal/metrics"
)

// Sweeper periodically removes expired sessions from a store.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *zerolog.Logger
}

func NewSweeper(store Store, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Start sweeps every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Session sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Session sweep failed")
			}
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	removed, err := s.store.Sweep(ctx)
	if err != nil {
		return removed, err
	}
	metrics.AddSwept(removed)
	if active, err := s.store.List(ctx); err == nil {
		metrics.SetActiveSessions(len(active))
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Expired sessions swept")
	}
	return removed, nil
}
