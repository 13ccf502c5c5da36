// Package scheduler runs periodic background maintenance.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpirySweepRunner marks active batches whose expiry date is before now as expired
// and returns how many it changed
type ExpirySweepRunner interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// ExpirySweeperConfig holds configuration for the expiry sweeper
type ExpirySweeperConfig struct {
	Interval time.Duration
	// Timeout bounds a single sweep; zero means Interval
	Timeout time.Duration
	// RunOnStart sweeps once immediately instead of waiting for the first tick
	RunOnStart bool
}

// DefaultExpirySweeperConfig returns an hourly sweep that also runs at startup
func DefaultExpirySweeperConfig() ExpirySweeperConfig {
	return ExpirySweeperConfig{
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// ExpirySweeper periodically expires stale batches so that stored status matches
// the derived status even for batches nobody reads or writes.
type ExpirySweeper struct {
	config ExpirySweeperConfig
	runner ExpirySweepRunner
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	runs      int
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(config ExpirySweeperConfig, runner ExpirySweepRunner, logger *zap.Logger) (*ExpirySweeper, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: runner is required", ErrInvalidConfig)
	}
	if config.Timeout <= 0 {
		config.Timeout = config.Interval
	}
	return &ExpirySweeper{
		config: config,
		runner: runner,
		logger: logger.Named("expiry_sweeper"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start launches the sweep loop; calling it twice is a no-op
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Expiry sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("run_on_start", s.config.RunOnStart),
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep or ctx
func (s *ExpirySweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Expiry sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runs returns how many sweeps have completed, successful or not
func (s *ExpirySweeper) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *ExpirySweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.sweep(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass; failures are logged and retried on the next tick
func (s *ExpirySweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	expired, err := s.runner.SweepExpired(sweepCtx, s.now())

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("Expiry sweep failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	if expired > 0 {
		s.logger.Info("Expired batches swept", zap.Int("expired", expired), zap.Duration("elapsed", time.Since(start)))
		return
	}
	s.logger.Debug("Expiry sweep found nothing to expire")
}
