// Package cycle runs width calculation cycles: fan out one task per target,
// wait all-or-nothing, merge, rank, report and execute.
package cycle

import (
	"context"
	"fmt"
	"maps"
	"math"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/metrics"
	"github.com/eddiefleurent/option_width/internal/models"
	"github.com/eddiefleurent/option_width/internal/ranking"
)

// maxWorkers caps the worker pool.
const maxWorkers = 32

// Outcome is how a cycle ended.
type Outcome string

const (
	// OutcomeCompleted means results were committed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkipped means another cycle was still running.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeTimedOut means the deadline passed with tasks outstanding.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeAborted means the cycle was paused, stopped or cancelled.
	OutcomeAborted Outcome = "aborted"
)

// Calculator computes the width action of one target.
type Calculator interface {
	Compute(ctx context.Context, t instruments.Target) (models.WidthAction, error)
}

// TargetSource builds the task set of a cycle.
type TargetSource interface {
	Targets() []instruments.Target
}

// Executor acts on the top signal.
type Executor interface {
	MaybeExecute(ctx context.Context, sig models.Signal) []models.Execution
}

// Emitter writes the ranking for operators.
type Emitter interface {
	Emit(signals []models.Signal, results map[models.InstrumentKey]models.UnderlyingWidthResult, now time.Time) bool
}

// Broadcaster pushes a fresh ranking to live subscribers.
type Broadcaster interface {
	Broadcast(signals []models.Signal)
}

// CacheMaintainer is the eviction side of the price series cache.
type CacheMaintainer interface {
	EvictIfOversized() bool
}

// Config holds the orchestration settings.
type Config struct {
	Workers         int
	Timeout         time.Duration
	PollSlice       time.Duration
	TopN            int
	RefreshInterval time.Duration
}

// DefaultConfig is the default orchestration configuration.
var DefaultConfig = Config{
	Timeout:         60 * time.Second,
	PollSlice:       500 * time.Millisecond,
	TopN:            10,
	RefreshInterval: 300 * time.Second,
}

// DefaultWorkers is min(32, ceil(1.5 × CPU count)).
func DefaultWorkers() int {
	return min(maxWorkers, int(math.Ceil(1.5*float64(runtime.NumCPU()))))
}

// Deps are the optional collaborators of an Orchestrator. Nil members are
// skipped.
type Deps struct {
	Executor    Executor
	Emitter     Emitter
	Broadcaster Broadcaster
	Cache       CacheMaintainer
}

// Status summarizes the orchestrator for diagnostics.
type Status struct {
	Paused      bool      `json:"paused"`
	Stopped     bool      `json:"stopped"`
	LastOutcome Outcome   `json:"last_outcome,omitempty"`
	LastCycleAt time.Time `json:"last_cycle_at,omitzero"`
	Tracked     int       `json:"tracked"`
	Signals     int       `json:"signals"`
}

// Orchestrator owns the committed result map and runs cycles against it.
//
// Only one cycle runs at a time; a call that finds a cycle in flight returns
// OutcomeSkipped without waiting. The result map is replaced wholesale on
// commit, so readers always see a complete cycle.
type Orchestrator struct {
	running sync.Mutex

	mu          sync.RWMutex
	results     map[models.InstrumentKey]models.UnderlyingWidthResult
	signals     []models.Signal
	lastOutcome Outcome
	lastCycleAt time.Time

	// de-duplication state, only touched while running is held
	lastSignature string
	lastEmitted   time.Time

	paused  atomic.Bool
	stopped atomic.Bool

	calc    Calculator
	targets TargetSource
	deps    Deps
	config  Config
	metrics *metrics.Metrics
	logger  *logrus.Entry
	now     func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	calc Calculator,
	targets TargetSource,
	deps Deps,
	config Config,
	logger *logrus.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	if calc == nil {
		panic("cycle.NewOrchestrator: calc must not be nil")
	}
	if targets == nil {
		panic("cycle.NewOrchestrator: targets must not be nil")
	}
	if config.Workers <= 0 || config.Workers > maxWorkers {
		config.Workers = DefaultWorkers()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig.Timeout
	}
	if config.PollSlice <= 0 {
		config.PollSlice = DefaultConfig.PollSlice
	}
	if config.TopN <= 0 {
		config.TopN = DefaultConfig.TopN
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultConfig.RefreshInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Orchestrator{
		results: make(map[models.InstrumentKey]models.UnderlyingWidthResult),
		signals: []models.Signal{},
		calc:    calc,
		targets: targets,
		deps:    deps,
		config:  config,
		metrics: m,
		logger:  logger.WithField("component", "cycle"),
		now:     time.Now,
	}
}

// CalculateAllOptionWidths is the manual trigger; it behaves exactly like a
// scheduled cycle.
func (o *Orchestrator) CalculateAllOptionWidths(ctx context.Context) Outcome {
	return o.RunCycle(ctx)
}

// RunCycle runs one calculation cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) Outcome {
	if !o.running.TryLock() {
		o.logger.Debug("Previous cycle still running, skipping")
		o.metrics.Cycles.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped
	}
	defer o.running.Unlock()

	start := o.now()
	log := o.logger.WithField("cycle", uuid.NewString()[:8])
	outcome := o.run(ctx, log, start)

	o.mu.Lock()
	o.lastOutcome = outcome
	o.lastCycleAt = start
	o.mu.Unlock()

	o.metrics.Cycles.WithLabelValues(string(outcome)).Inc()
	o.metrics.CycleDuration.Observe(o.now().Sub(start).Seconds())
	return outcome
}

func (o *Orchestrator) run(ctx context.Context, log *logrus.Entry, start time.Time) Outcome {
	if o.halted() {
		log.Debug("Strategy paused or stopped, cycle not started")
		return OutcomeAborted
	}

	if o.deps.Cache != nil && o.deps.Cache.EvictIfOversized() {
		log.Info("Price series cache exceeded its key limit and was cleared")
	}

	targets := o.targets.Targets()
	log.WithField("targets", len(targets)).Debug("Starting width cycle")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	actions := make([]*models.WidthAction, len(targets))
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(o.config.Workers)
		for i, t := range targets {
			if runCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				action, err := o.calc.Compute(runCtx, t)
				if err != nil {
					o.metrics.WidthTasks.WithLabelValues("error").Inc()
					if runCtx.Err() == nil {
						log.WithError(err).WithField("underlying", t.Key.String()).Warn("Width calculation failed, keeping previous result")
					}
					return nil
				}
				if action.Delete {
					o.metrics.WidthTasks.WithLabelValues("tombstone").Inc()
				} else {
					o.metrics.WidthTasks.WithLabelValues("update").Inc()
				}
				actions[i] = &action
				return nil
			})
		}
		_ = g.Wait()
	}()

	if outcome, ok := o.wait(ctx, log, done, len(targets)); !ok {
		cancel()
		return outcome
	}

	results := o.commit(actions)
	signals := ranking.Rank(results)

	o.mu.Lock()
	o.signals = signals
	o.mu.Unlock()

	log.WithFields(logrus.Fields{
		"tracked":  len(results),
		"signals":  len(signals),
		"duration": o.now().Sub(start).Round(time.Millisecond).String(),
	}).Info("Width cycle committed")

	o.publish(ctx, log, signals, results)
	return OutcomeCompleted
}

// wait polls for task completion in slices, watching the pause/stop flags
// and the cycle deadline. It returns ok when every task has finished.
func (o *Orchestrator) wait(ctx context.Context, log *logrus.Entry, done <-chan struct{}, tasks int) (Outcome, bool) {
	slice := time.NewTicker(o.config.PollSlice)
	defer slice.Stop()
	deadline := time.NewTimer(o.config.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-done:
			return OutcomeCompleted, true
		case <-deadline.C:
			select {
			case <-done:
				return OutcomeCompleted, true
			default:
			}
			log.WithFields(logrus.Fields{
				"timeout": o.config.Timeout.String(),
				"tasks":   tasks,
			}).Warn("Width cycle timed out, discarding all results of this cycle")
			return OutcomeTimedOut, false
		case <-ctx.Done():
			log.Info("Context cancelled, abandoning width cycle")
			return OutcomeAborted, false
		case <-slice.C:
			if o.halted() {
				log.Info("Strategy paused or stopped, abandoning width cycle")
				return OutcomeAborted, false
			}
		}
	}
}

// commit merges the cycle's actions onto a copy of the committed map and
// swaps it in. Actions are applied in target order.
func (o *Orchestrator) commit(actions []*models.WidthAction) map[models.InstrumentKey]models.UnderlyingWidthResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := maps.Clone(o.results)
	if next == nil {
		next = make(map[models.InstrumentKey]models.UnderlyingWidthResult)
	}
	for _, a := range actions {
		if a == nil {
			continue
		}
		if a.Delete {
			delete(next, a.Key)
			continue
		}
		next[a.Key] = *a.Result
	}
	o.results = next
	o.metrics.TrackedUnderlyings.Set(float64(len(next)))
	return next
}

// publish reports and executes the ranking unless it is unchanged since the
// last publication and the refresh interval has not elapsed. Only output the
// emitter actually wrote counts as a publication.
func (o *Orchestrator) publish(
	ctx context.Context,
	log *logrus.Entry,
	signals []models.Signal,
	results map[models.InstrumentKey]models.UnderlyingWidthResult,
) {
	now := o.now()
	sig := Signature(ranking.Top(signals, o.config.TopN))
	if sig == o.lastSignature && !o.lastEmitted.IsZero() && now.Sub(o.lastEmitted) < o.config.RefreshInterval {
		log.Debug("Ranking unchanged, skipping output and execution")
		return
	}
	// a ranking the emitter throttled has not been published yet
	if o.deps.Emitter == nil || o.deps.Emitter.Emit(signals, results, now) {
		o.lastSignature = sig
		o.lastEmitted = now
	}
	if o.deps.Broadcaster != nil {
		o.deps.Broadcaster.Broadcast(signals)
	}
	if o.deps.Executor != nil && len(signals) > 0 {
		if execs := o.deps.Executor.MaybeExecute(ctx, signals[0]); len(execs) > 0 {
			log.WithField("orders", len(execs)).Info("Top signal executed")
		}
	}
}

// Signature identifies a ranking by exchange, underlying, label, width and
// targets of each signal, in order.
func Signature(signals []models.Signal) string {
	var b strings.Builder
	for _, s := range signals {
		fmt.Fprintf(&b, "%s|%s|%s|%g|%s;", s.Exchange, s.Underlying, s.Type, s.Width, strings.Join(s.Targets, ","))
	}
	return b.String()
}

// Pause makes running and future cycles abort until Resume.
func (o *Orchestrator) Pause() {
	if !o.paused.Swap(true) {
		o.logger.Info("Strategy paused")
	}
}

// Resume clears a pause. It has no effect after Stop.
func (o *Orchestrator) Resume() {
	if o.paused.Swap(false) {
		o.logger.Info("Strategy resumed")
	}
}

// Stop aborts the running cycle and every later one.
func (o *Orchestrator) Stop() {
	if !o.stopped.Swap(true) {
		o.logger.Info("Strategy stopped")
	}
}

func (o *Orchestrator) halted() bool {
	return o.paused.Load() || o.stopped.Load()
}

// Results returns a copy of the committed result map.
func (o *Orchestrator) Results() map[models.InstrumentKey]models.UnderlyingWidthResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.results)
}

// Signals returns the ranking of the last committed cycle.
func (o *Orchestrator) Signals() []models.Signal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.signals)
}

// Status reports the lifecycle flags and the last cycle.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Status{
		Paused:      o.paused.Load(),
		Stopped:     o.stopped.Load(),
		LastOutcome: o.lastOutcome,
		LastCycleAt: o.lastCycleAt,
		Tracked:     len(o.results),
		Signals:     len(o.signals),
	}
}
