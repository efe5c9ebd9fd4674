package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/logging"
)

type keySweeper interface {
	SweepExpired(ctx context.Context) (*SweepReport, error)
}

type pendingCollector interface {
	CollectPending(ctx context.Context) (int, error)
}

// DefaultSweepInterval replaces a non-positive configured interval.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically expires keys and collects abandoned uploads.
type Sweeper struct {
	keys     keySweeper
	files    pendingCollector
	interval time.Duration
	logger   logging.Logger
}

func NewSweeper(k keySweeper, f pendingCollector, interval time.Duration, logger logging.Logger) *Sweeper {
	return &Sweeper{keys: k, files: f, interval: interval, logger: logger.With("module", "sweeper")}
}

// RunOnce performs a single pass. Errors are logged, not returned, so one
// failing step does not starve the other.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if _, err := s.keys.SweepExpired(ctx); err != nil {
		s.logger.Error(ctx, "key sweep failed", "error", err)
	}
	if _, err := s.files.CollectPending(ctx); err != nil {
		s.logger.Error(ctx, "pending upload collection failed", "error", err)
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.RunOnce(ctx)

	interval := s.interval
	if interval <= 0 {
		s.logger.Warn(ctx, "sweep interval must be positive, using default",
			"configured", s.interval.String(), "interval", DefaultSweepInterval.String())
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
