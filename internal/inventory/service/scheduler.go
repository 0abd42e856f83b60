package service

import (
	"context"
	"sync"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/logger"
)

// Scanner is what the scheduler runs on every tick
type Scanner interface {
	ScanAll(ctx context.Context) error
}

// AlertScheduler runs alert scans periodically
type AlertScheduler struct {
	scanner  Scanner
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewAlertScheduler creates a new alert scheduler
func NewAlertScheduler(scanner Scanner, interval time.Duration, log *logger.Logger) *AlertScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &AlertScheduler{
		scanner:  scanner,
		interval: interval,
		logger:   log.WithComponent("alert-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine. The first scan runs
// immediately.
func (s *AlertScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("alert scheduler started")

		s.runScan(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("alert scheduler stopped")
				return
			case <-ticker.C:
				s.runScan(ctx)
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running scan to finish
func (s *AlertScheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

func (s *AlertScheduler) runScan(ctx context.Context) {
	if err := s.scanner.ScanAll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("alert scan failed")
	}
}
