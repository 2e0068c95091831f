package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/option_width/internal/broker"
	"github.com/eddiefleurent/option_width/internal/logging"
	"github.com/eddiefleurent/option_width/internal/metrics"
	"github.com/eddiefleurent/option_width/internal/models"
	"github.com/eddiefleurent/option_width/internal/storage"
)

var t0 = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type mockPlacer struct {
	mock.Mock
}

func (m *mockPlacer) PlaceOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type closes map[models.InstrumentKey]float64

func (c closes) LatestClose(key models.InstrumentKey) (float64, bool) {
	p, ok := c[key]
	return p, ok
}

type backupFunc func(key models.InstrumentKey) (float64, error)

func (f backupFunc) BackupPrice(_ context.Context, key models.InstrumentKey) (float64, error) {
	return f(key)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func key(id string) models.InstrumentKey {
	return models.NewInstrumentKey("CFFEX", id)
}

func signal(width float64, targets ...string) models.Signal {
	return models.Signal{
		Exchange:   "CFFEX",
		Underlying: "IF2603",
		Type:       models.SignalBest,
		Width:      width,
		Timestamp:  t0,
		Targets:    targets,
		IsCall:     true,
	}
}

func testConfig() Config {
	return Config{WidthThreshold: 4, Cooldown: 60 * time.Second, Volume: 1, PriceType: broker.PriceTypeLimit, TickSize: 0.2}
}

func newTestGate(t *testing.T, p broker.OrderPlacer, c CloseSource, b BackupPricer, j storage.Interface, m *metrics.Metrics) (*Gate, *clock) {
	t.Helper()
	clk := &clock{now: t0}
	g := NewGate(p, c, b, j, testConfig(), logging.Discard(), m)
	g.now = clk.Now
	return g, clk
}

func TestMaybeExecute_ThresholdIsStrict(t *testing.T) {
	p := &mockPlacer{}
	m := metrics.Nop()
	g, _ := newTestGate(t, p, closes{key("IO2603-C-4100"): 31.3}, nil, nil, m)

	assert.Nil(t, g.MaybeExecute(context.Background(), signal(4, "IO2603-C-4100")))
	assert.Nil(t, g.MaybeExecute(context.Background(), signal(3, "IO2603-C-4100")))
	p.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Orders.WithLabelValues("below_threshold")))
}

func TestMaybeExecute_EmptyTargets(t *testing.T) {
	p := &mockPlacer{}
	g, _ := newTestGate(t, p, closes{}, nil, nil, nil)
	assert.Nil(t, g.MaybeExecute(context.Background(), signal(9)))
	p.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestMaybeExecute_PlacesBuyOpenAtTickPrice(t *testing.T) {
	p := &mockPlacer{}
	p.On("PlaceOrder", mock.Anything, broker.OrderRequest{
		Exchange:   "CFFEX",
		Instrument: "IO2603-C-4100",
		Direction:  broker.DirectionBuy,
		Offset:     broker.OffsetOpen,
		Price:      31.4,
		Volume:     1,
		PriceType:  broker.PriceTypeLimit,
		Tag:        "best",
	}).Return("A-1", nil).Once()

	journal := storage.NewMockJournal()
	g, _ := newTestGate(t, p, closes{key("IO2603-C-4100"): 31.3}, nil, journal, nil)

	execs := g.MaybeExecute(context.Background(), signal(5, "IO2603-C-4100"))
	require.Len(t, execs, 1)
	assert.Equal(t, "A-1", execs[0].OrderID)
	assert.Equal(t, "IF2603", execs[0].Underlying)
	assert.Equal(t, t0, execs[0].ExecutedAt)
	assert.Len(t, journal.Executions(), 1)
	p.AssertExpectations(t)
}

func TestMaybeExecute_PerOptionCooldown(t *testing.T) {
	p := &mockPlacer{}
	p.On("PlaceOrder", mock.Anything, mock.Anything).Return("id", nil)

	cl := closes{key("IO2603-C-4100"): 30, key("IO2603-C-4200"): 20}
	g, clk := newTestGate(t, p, cl, nil, nil, nil)
	ctx := context.Background()

	require.Len(t, g.MaybeExecute(ctx, signal(5, "IO2603-C-4100")), 1)

	clk.Advance(59 * time.Second)
	execs := g.MaybeExecute(ctx, signal(5, "IO2603-C-4100", "IO2603-C-4200"))
	require.Len(t, execs, 1, "only the option not in cooldown is opened")
	assert.Equal(t, "IO2603-C-4200", execs[0].Option)

	clk.Advance(time.Second)
	execs = g.MaybeExecute(ctx, signal(5, "IO2603-C-4100"))
	assert.Len(t, execs, 1, "cooldown over after 60s")
	p.AssertNumberOfCalls(t, "PlaceOrder", 3)
}

func TestMaybeExecute_FailedOrderDoesNotStartCooldown(t *testing.T) {
	p := &mockPlacer{}
	p.On("PlaceOrder", mock.Anything, mock.Anything).Return("", errors.New("router down")).Once()
	p.On("PlaceOrder", mock.Anything, mock.Anything).Return("B-2", nil).Once()

	m := metrics.Nop()
	g, _ := newTestGate(t, p, closes{key("IO2603-C-4100"): 30}, nil, nil, m)
	ctx := context.Background()

	assert.Empty(t, g.MaybeExecute(ctx, signal(5, "IO2603-C-4100")))
	execs := g.MaybeExecute(ctx, signal(5, "IO2603-C-4100"))
	require.Len(t, execs, 1)
	assert.Equal(t, "B-2", execs[0].OrderID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("placed")))
}

func TestMaybeExecute_BackupPriceAndNoPrice(t *testing.T) {
	p := &mockPlacer{}
	p.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(r broker.OrderRequest) bool {
		return r.Instrument == "IO2603-C-4100" && r.Price == 12.2
	})).Return("C-3", nil).Once()

	backup := backupFunc(func(k models.InstrumentKey) (float64, error) {
		if k.Instrument == "IO2603-C-4100" {
			return 12.17, nil
		}
		return 0, errors.New("no quote")
	})
	g, _ := newTestGate(t, p, closes{}, backup, nil, nil)

	execs := g.MaybeExecute(context.Background(), signal(5, "IO2603-C-4100", "IO2603-C-4200"))
	require.Len(t, execs, 1)
	assert.Equal(t, 12.2, execs[0].Price)
	p.AssertExpectations(t)
}

func TestMaybeExecute_CooldownRestoredFromJournal(t *testing.T) {
	journal := storage.NewMockJournal(
		models.Execution{Exchange: "CFFEX", Option: "IO2603-C-4100", OrderID: "old", ExecutedAt: t0.Add(-30 * time.Second)},
		models.Execution{Exchange: "CFFEX", Option: "IO2603-C-4200", OrderID: "older", ExecutedAt: t0.Add(-2 * time.Minute)},
	)
	p := &mockPlacer{}
	p.On("PlaceOrder", mock.Anything, mock.Anything).Return("D-4", nil)

	g := newGateAt(t, p, closes{key("IO2603-C-4100"): 10, key("IO2603-C-4200"): 10}, journal, &clock{now: t0})

	execs := g.MaybeExecute(context.Background(), signal(5, "IO2603-C-4100", "IO2603-C-4200"))
	require.Len(t, execs, 1)
	assert.Equal(t, "IO2603-C-4200", execs[0].Option)
}

// newGateAt builds a gate whose journal restore already runs on clk.
func newGateAt(t *testing.T, p broker.OrderPlacer, c CloseSource, j storage.Interface, clk *clock) *Gate {
	t.Helper()
	g := &Gate{
		cooldowns: make(map[models.InstrumentKey]time.Time),
		placer:    p,
		closes:    c,
		journal:   j,
		config:    testConfig(),
		metrics:   metrics.Nop(),
		logger:    logging.Discard().WithField("component", "execution_gate"),
		now:       clk.Now,
	}
	g.restoreCooldowns()
	return g
}

func TestMaybeExecute_CancelledContextStops(t *testing.T) {
	p := &mockPlacer{}
	g, _ := newTestGate(t, p, closes{key("IO2603-C-4100"): 30}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, g.MaybeExecute(ctx, signal(5, "IO2603-C-4100")))
	p.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestNewGate_PanicsOnNilDeps(t *testing.T) {
	assert.Panics(t, func() { NewGate(nil, closes{}, nil, nil, testConfig(), nil, nil) })
	assert.Panics(t, func() { NewGate(&mockPlacer{}, nil, nil, nil, testConfig(), nil, nil) })
}
