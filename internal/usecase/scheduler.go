package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tabdigest/internal/ports"
)

// DigestScheduler wires the periodic driver with the digest aggregation.
type DigestScheduler struct {
	driver ports.Scheduler
	digest *DigestService
	logger *slog.Logger
}

// NewDigestScheduler returns a helper to start/stop the recurring digest.
func NewDigestScheduler(driver ports.Scheduler, digest *DigestService, logger *slog.Logger) *DigestScheduler {
	return &DigestScheduler{driver: driver, digest: digest, logger: logger}
}

// Start registers the digest run with the provided scheduler.
func (s *DigestScheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.digest == nil {
		return nil
	}

	job := func(trigger time.Time) {
		err := s.digest.Run(ctx, trigger)
		switch {
		case errors.Is(err, ErrNothingToSend):
			if s.logger != nil {
				s.logger.Info("digest cycle skipped, nothing to send")
			}
		case err != nil:
			if s.logger != nil {
				s.logger.Error("digest cycle failed", "error", err)
			}
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *DigestScheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
