package cycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

// Runner runs one cycle.
type Runner interface {
	RunCycle(ctx context.Context) Outcome
}

// Scheduler fires a cycle on every tick. Each tick runs on its own
// goroutine, so a slow cycle makes later ticks skip rather than queue, and a
// panicking cycle never takes the loop down.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *logrus.Entry
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner Runner, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if runner == nil {
		panic("cycle.NewScheduler: runner must not be nil")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.WithField("component", "scheduler"),
	}
}

// Run fires a cycle immediately and then every interval until ctx is done.
// It waits for in-flight cycles before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithField("interval", s.interval.String()).Info("Scheduler starting")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var pc panics.Catcher
		pc.Try(func() {
			if outcome := s.runner.RunCycle(ctx); outcome == OutcomeSkipped {
				s.logger.Debug("Tick skipped, cycle in flight")
			}
		})
		if r := pc.Recovered(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"panic": r.Value,
				"stack": string(r.Stack),
			}).Error("Cycle panicked, scheduler continues")
		}
	}()
}
