package impulse

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = time.Minute

// Sweeper drives SweepExpired on a fixed interval. The interval only trades
// staleness against sweep cost; the read path filters expired impulses
// regardless, so correctness never depends on the schedule.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper constructs a sweeper around the service.
func NewSweeper(service *Service, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop until Stop or context cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				swept, err := s.service.SweepExpired(runCtx, now)
				if err != nil {
					s.logger.Warn("expiry sweep failed", zap.Error(err))
					continue
				}
				if len(swept) > 0 {
					s.logger.Info("expired impulses swept", zap.Int("count", len(swept)))
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
