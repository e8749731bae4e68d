package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"navwatch/internal/premium"
	"navwatch/internal/scheduler"
	"navwatch/internal/storage"
)

// ThresholdFunc returns the thresholds to snapshot at the start of a cycle.
type ThresholdFunc func() premium.Thresholds

// Options configure the long-running service.
type Options struct {
	// LockKey enables the postgres advisory lock when non-zero and a locker is set.
	LockKey int64
}

// Service drives scheduled monitoring cycles.
type Service struct {
	scheduler  *scheduler.Scheduler
	cycle      *Cycle
	thresholds ThresholdFunc
	locker     storage.AdvisoryLocker
	lockKey    int64
	logger     zerolog.Logger

	mu   sync.RWMutex
	last *Report
}

// New constructs the monitoring service. sched and locker may be nil.
func New(opts Options, sched *scheduler.Scheduler, cycle *Cycle, thresholds ThresholdFunc, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:  sched,
		cycle:      cycle,
		thresholds: thresholds,
		locker:     locker,
		lockKey:    opts.LockKey,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled monitoring loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs the monitoring cycle for one scheduler tick.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	_, err := s.RunOnce(ctx)
	return err
}

// RunOnce executes one cycle under the advisory lock and returns its report.
// A cycle skipped because another replica holds the lock returns an empty report.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	started := time.Now()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.cycle.metrics.ObserveCycle("failed", time.Since(started), time.Now())
		return Report{}, err
	}
	if !proceed {
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		s.cycle.metrics.ObserveCycle("skipped", 0, time.Now())
		return Report{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	th := s.thresholds()
	report, err := s.cycle.Run(ctx, th)
	if err != nil {
		s.cycle.metrics.ObserveCycle("failed", time.Since(started), time.Now())
		return report, fmt.Errorf("run cycle: %w", err)
	}

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	s.cycle.metrics.ObserveCycle("ok", report.Finished.Sub(report.Started), report.Finished)
	s.logger.Info().
		Int("instruments", len(report.Results)).
		Int("alerts", report.Alerts()).
		Int("notified", report.Count(OutcomeNotified)).
		Int("suppressed", report.Count(OutcomeSuppressed)).
		Int("delivery_failed", report.Count(OutcomeDeliveryFailed)).
		Int("no_data", report.Count(OutcomeNoData)).
		Str("premium_threshold", th.Premium.String()).
		Str("discount_threshold", th.Discount.String()).
		Dur("elapsed", report.Finished.Sub(report.Started)).
		Msg("cycle finished")
	return report, nil
}

// LastReport returns the most recent successful cycle.
func (s *Service) LastReport() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
