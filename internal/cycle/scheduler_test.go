package cycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/logging"
	"github.com/eddiefleurent/option_width/internal/models"
)

type panickyRunner struct{ calls atomic.Int32 }

func (p *panickyRunner) RunCycle(context.Context) Outcome {
	if p.calls.Add(1)%2 == 1 {
		panic("cycle exploded")
	}
	return OutcomeCompleted
}

func TestScheduler_SurvivesPanics(t *testing.T) {
	runner := &panickyRunner{}
	s := NewScheduler(runner, 5*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_BusyCycleMakesTicksSkip(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	calc := newFakeCalc(func(ctx context.Context, _ instruments.Target) (models.WidthAction, error) {
		select {
		case <-started:
		default:
			close(started)
		}
		<-release
		return models.WidthAction{}, context.Canceled
	})
	o, m := newTestOrchestrator(calc, targetsFor("rb2605"), Deps{}, fastConfig())
	s := NewScheduler(o, 5*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Cycles.WithLabelValues("skipped")) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	close(release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, calc.calls.Load(), "skipped ticks never start tasks")
}

func TestNewScheduler_NilRunnerPanics(t *testing.T) {
	assert.Panics(t, func() { NewScheduler(nil, time.Second, nil) })
}
