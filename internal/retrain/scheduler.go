package retrain

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs the trainer on a fixed interval until its context is
// cancelled. Rejections are expected in steady state and logged at debug.
type Scheduler struct {
	trainer  *Trainer
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler. Interval defaults to 24h.
func NewScheduler(trainer *Trainer, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		trainer:  trainer,
		interval: interval,
		logger:   logger.With().Str("component", "retrain_scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled, retraining across all instruments once
// per interval
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Retrain scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Retrain scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	_, err := s.trainer.Retrain(ctx, "", "")
	if err == nil {
		return
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		s.logger.Debug().Err(err).Msg("Retrain pass rejected")
		return
	}
	s.logger.Error().Err(err).Msg("Retrain pass failed")
}
