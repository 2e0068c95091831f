package width

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/logging"
	"github.com/eddiefleurent/option_width/internal/marketdata"
	"github.com/eddiefleurent/option_width/internal/models"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

// ---- fakes ----

type fakeBars struct {
	mu        sync.Mutex
	bars      map[models.InstrumentKey][]models.Bar
	backfill  map[models.InstrumentKey][]models.Bar
	backfills int
	onBars    func()
}

func newFakeBars() *fakeBars {
	return &fakeBars{
		bars:     make(map[models.InstrumentKey][]models.Bar),
		backfill: make(map[models.InstrumentKey][]models.Bar),
	}
}

func (f *fakeBars) Bars(_ context.Context, key models.InstrumentKey) []models.Bar {
	if f.onBars != nil {
		f.onBars()
	}
	return f.Snapshot(key)
}

func (f *fakeBars) Snapshot(key models.InstrumentKey) []models.Bar {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Bar(nil), f.bars[key]...)
}

func (f *fakeBars) Backfill(_ context.Context, key models.InstrumentKey) []models.Bar {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfills++
	if b, ok := f.backfill[key]; ok {
		f.bars[key] = b
	}
	return append([]models.Bar(nil), f.bars[key]...)
}

// series sets a two-bar series moving from prev to cur.
func (f *fakeBars) series(exchange, id string, prev, cur, volume float64) {
	f.bars[models.NewInstrumentKey(exchange, id)] = []models.Bar{
		{Open: prev, Close: prev, Volume: volume, Timestamp: testNow.Add(-2 * time.Minute)},
		{Open: cur, Close: cur, Volume: volume, Timestamp: testNow.Add(-time.Minute)},
	}
}

type fakePrices struct {
	price float64
	err   error
}

func (f fakePrices) BackupPrice(context.Context, models.InstrumentKey) (float64, error) {
	return f.price, f.err
}

type fakeChains map[string][]models.OptionDescriptor

func (f fakeChains) OptionChain(_ string, id string) []models.OptionDescriptor {
	return f[id]
}

func call(id, underlying string, strike float64) models.OptionDescriptor {
	return models.OptionDescriptor{Instrument: id, Exchange: "CFFEX", Underlying: underlying, Strike: strike, Type: models.OptionTypeCall}
}

func put(id, underlying string, strike float64) models.OptionDescriptor {
	return models.OptionDescriptor{Instrument: id, Exchange: "CFFEX", Underlying: underlying, Strike: strike, Type: models.OptionTypePut}
}

func newTestCalculator(bars BarSource, prices PriceSource, chains ChainSource, cfg Config) *Calculator {
	c := NewCalculator(bars, prices, chains, nil, cfg, logging.Discard())
	c.now = func() time.Time { return testNow }
	return c
}

func futureTarget(exchange, id, next string) instruments.Target {
	key := models.NewInstrumentKey(exchange, id)
	return instruments.Target{Key: key, Kind: models.KindFuture, PriceKey: key, Specified: id, Next: next}
}

var defaultCfg = Config{MaxBarAge: 1800 * time.Second}

// ---- scenarios ----

func TestCompute_RisingPartiallySynced(t *testing.T) {
	bars := newFakeBars()
	bars.series("CFFEX", "IF2603", 4000, 4010, 100)

	chains := fakeChains{
		"IF2603": {
			call("IF2603-C-4050", "IF2603", 4050),
			call("IF2603-C-4100", "IF2603", 4100),
			call("IF2603-C-4150", "IF2603", 4150),
			call("IF2603-C-3900", "IF2603", 3900), // ITM
			put("IF2603-P-3900", "IF2603", 3900),  // OTM but wrong side
		},
		"IF2604": {
			call("IF2604-C-4100", "IF2604", 4100),
			call("IF2604-C-4200", "IF2604", 4200),
		},
	}
	bars.series("CFFEX", "IF2603-C-4050", 30, 32, 500)
	bars.series("CFFEX", "IF2603-C-4100", 20, 21, 800)
	bars.series("CFFEX", "IF2603-C-4150", 10, 10.5, 300)
	bars.series("CFFEX", "IF2603-P-3900", 25, 20, 900)
	bars.series("CFFEX", "IF2604-C-4100", 40, 41, 50)
	bars.series("CFFEX", "IF2604-C-4200", 30, 29, 70)

	calc := newTestCalculator(bars, nil, chains, defaultCfg)
	action, err := calc.Compute(context.Background(), futureTarget("CFFEX", "IF2603", "IF2604"))
	require.NoError(t, err)
	require.False(t, action.Delete)
	res := action.Result

	assert.True(t, res.FutureRising)
	assert.Equal(t, 3, res.SpecifiedCount)
	assert.Equal(t, 3, res.TotalSpecifiedTarget)
	assert.Equal(t, 1, res.NextSpecifiedCount)
	assert.Equal(t, 2, res.TotalNextSpecifiedTarget)
	assert.Equal(t, 4, res.TotalSpecifiedOTM, "put counts as OTM, not as a target")
	assert.Equal(t, 2, res.TotalNextSpecifiedOTM)
	assert.Equal(t, 4.0, res.Width)
	assert.True(t, res.HasDirectionOptions)
	assert.False(t, res.AllSync, "next month is not fully synchronized")

	assert.Equal(t, []string{"IF2603-C-4100", "IF2603-C-4050"}, res.TopActiveCalls)
	assert.Equal(t, []string{"IF2603-P-3900"}, res.TopActivePuts)
}

func TestCompute_FallingFullySynced(t *testing.T) {
	bars := newFakeBars()
	bars.series("SHFE", "rb2605", 3500, 3450, 100)

	chains := fakeChains{
		"rb2605": {put("rb2605P3400", "rb2605", 3400), put("rb2605P3300", "rb2605", 3300)},
		"rb2610": {put("rb2610P3400", "rb2610", 3400)},
	}
	bars.series("CFFEX", "rb2605P3400", 50, 60, 10)
	bars.series("CFFEX", "rb2605P3300", 30, 35, 20)
	bars.series("CFFEX", "rb2610P3400", 70, 71, 5)

	calc := newTestCalculator(bars, nil, chains, defaultCfg)
	action, err := calc.Compute(context.Background(), futureTarget("SHFE", "rb2605", "rb2610"))
	require.NoError(t, err)
	res := action.Result

	assert.False(t, res.FutureRising)
	assert.Equal(t, 3.0, res.Width)
	assert.True(t, res.AllSync)
	assert.Equal(t, []string{"rb2605P3300", "rb2605P3400"}, res.TopActivePuts)
	assert.Equal(t, []string{"rb2605P3300", "rb2605P3400"}, res.DirectionTargets())
}

func TestCompute_NoBarsUsesBackupPrice(t *testing.T) {
	calc := newTestCalculator(newFakeBars(), fakePrices{price: 3500}, fakeChains{}, defaultCfg)

	action, err := calc.Compute(context.Background(), futureTarget("SHFE", "RB2604", ""))
	require.NoError(t, err)
	res := action.Result

	assert.Equal(t, 3500.0, res.CurrentPrice)
	assert.Equal(t, 3500.0, res.PreviousPrice)
	assert.False(t, res.FutureRising)
	assert.Equal(t, 0.0, res.Width, "no chain yields an explicit zero width")
	assert.False(t, res.HasDirectionOptions)
}

func TestCompute_NoPriceAtAllFallsToEpsilon(t *testing.T) {
	calc := newTestCalculator(newFakeBars(), fakePrices{err: errors.New("no tick")}, fakeChains{}, defaultCfg)

	action, err := calc.Compute(context.Background(), futureTarget("SHFE", "RB2604", ""))
	require.NoError(t, err)
	assert.Greater(t, action.Result.CurrentPrice, 0.0)
	assert.Equal(t, action.Result.CurrentPrice, action.Result.PreviousPrice)
}

func TestCompute_SingleBarIsZeroFluctuation(t *testing.T) {
	bars := newFakeBars()
	key := models.NewInstrumentKey("SHFE", "rb2605")
	bars.bars[key] = []models.Bar{{Close: 3500, Timestamp: testNow.Add(-time.Minute)}}

	calc := newTestCalculator(bars, nil, fakeChains{}, defaultCfg)
	action, err := calc.Compute(context.Background(), futureTarget("SHFE", "rb2605", ""))
	require.NoError(t, err)
	assert.Equal(t, 3500.0, action.Result.PreviousPrice)
	assert.False(t, action.Result.FutureRising)
}

func TestCompute_StaleBarsEmitTombstone(t *testing.T) {
	bars := newFakeBars()
	key := models.NewInstrumentKey("SHFE", "rb2605")
	bars.bars[key] = []models.Bar{
		{Close: 3500, Timestamp: testNow.Add(-2060 * time.Second)},
		{Close: 3510, Timestamp: testNow.Add(-2000 * time.Second)},
	}

	calc := newTestCalculator(bars, nil, fakeChains{}, defaultCfg)
	action, err := calc.Compute(context.Background(), futureTarget("SHFE", "rb2605", ""))
	require.NoError(t, err)
	assert.True(t, action.Delete)
	assert.Equal(t, key, action.Key)
	assert.Nil(t, action.Result)
}

func TestCompute_MockModeClosedMarketIsAlwaysStale(t *testing.T) {
	bars := newFakeBars()
	bars.series("SHFE", "rb2605", 3500, 3510, 1)

	sessions, err := marketdata.NewSessions(time.UTC, []string{"13:30-15:00"})
	require.NoError(t, err)

	calc := NewCalculator(bars, nil, fakeChains{}, sessions, Config{MaxBarAge: time.Hour, MockMode: true}, logging.Discard())
	calc.now = func() time.Time { return testNow } // 10:00, outside the only session

	action, err := calc.Compute(context.Background(), futureTarget("SHFE", "rb2605", ""))
	require.NoError(t, err)
	assert.True(t, action.Delete)

	calc.config.MockMode = false
	action, err = calc.Compute(context.Background(), futureTarget("SHFE", "rb2605", ""))
	require.NoError(t, err)
	assert.False(t, action.Delete)
}

func TestCompute_OptionWithoutHistoryIsNotSynced(t *testing.T) {
	bars := newFakeBars()
	bars.series("CFFEX", "IF2603", 4000, 4010, 100)
	chains := fakeChains{"IF2603": {call("IF2603-C-4100", "IF2603", 4100), call("IF2603-C-4200", "IF2603", 4200)}}
	// one bar only, backfill finds nothing
	bars.bars[models.NewInstrumentKey("CFFEX", "IF2603-C-4100")] = []models.Bar{{Close: 20, Volume: 5, Timestamp: testNow}}
	// backfill succeeds for the other one
	bars.backfill[models.NewInstrumentKey("CFFEX", "IF2603-C-4200")] = []models.Bar{
		{Close: 10, Volume: 1, Timestamp: testNow.Add(-time.Minute)},
		{Close: 11, Volume: 1, Timestamp: testNow},
	}

	calc := newTestCalculator(bars, nil, chains, defaultCfg)
	action, err := calc.Compute(context.Background(), futureTarget("CFFEX", "IF2603", ""))
	require.NoError(t, err)

	assert.Equal(t, 2, action.Result.TotalSpecifiedTarget)
	assert.Equal(t, 1, action.Result.SpecifiedCount)
	assert.Equal(t, 2, bars.backfills)
	assert.True(t, action.Result.HasDirectionOptions, "no next month configured, specified alone is enough")
}

func TestCompute_HasDirectionModes(t *testing.T) {
	bars := newFakeBars()
	bars.series("CFFEX", "IF2603", 4000, 4010, 100)
	bars.series("CFFEX", "IF2603-C-4100", 20, 21, 5)
	chains := fakeChains{"IF2603": {call("IF2603-C-4100", "IF2603", 4100)}}

	strict := newTestCalculator(bars, nil, chains, defaultCfg)
	action, err := strict.Compute(context.Background(), futureTarget("CFFEX", "IF2603", "IF2604"))
	require.NoError(t, err)
	assert.False(t, action.Result.HasDirectionOptions, "next month has no targets")
	assert.False(t, action.Result.AllSync)

	minimal := newTestCalculator(bars, nil, chains, Config{MaxBarAge: time.Hour, AllowMinimal: true})
	action, err = minimal.Compute(context.Background(), futureTarget("CFFEX", "IF2603", "IF2604"))
	require.NoError(t, err)
	assert.True(t, action.Result.HasDirectionOptions)
	assert.True(t, action.Result.AllSync)
}

func TestCompute_UnknownTypeIsSkipped(t *testing.T) {
	bars := newFakeBars()
	bars.series("CFFEX", "IF2603", 4000, 4010, 100)
	chains := fakeChains{"IF2603": {{Instrument: "10007123", Exchange: "SSE", Strike: 4100}}}

	calc := newTestCalculator(bars, nil, chains, defaultCfg)
	action, err := calc.Compute(context.Background(), futureTarget("CFFEX", "IF2603", ""))
	require.NoError(t, err)
	assert.Equal(t, 0, action.Result.TotalSpecifiedOTM)
}

func TestCompute_SymbolHeuristicResolvesType(t *testing.T) {
	bars := newFakeBars()
	bars.series("CFFEX", "IF2603", 4000, 4010, 100)
	bars.series("CFFEX", "IO2603-C-4100", 20, 21, 5)
	chains := fakeChains{"IF2603": {{Instrument: "IO2603-C-4100", Exchange: "CFFEX", Strike: 4100}}}

	calc := newTestCalculator(bars, nil, chains, defaultCfg)
	action, err := calc.Compute(context.Background(), futureTarget("CFFEX", "IF2603", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, action.Result.SpecifiedCount)
}

func TestCompute_CancelledContextIsNoUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bars := newFakeBars()
	bars.onBars = cancel

	calc := newTestCalculator(bars, nil, fakeChains{}, defaultCfg)
	_, err := calc.Compute(ctx, futureTarget("CFFEX", "IF2603", ""))
	assert.ErrorIs(t, err, context.Canceled)
}

type panickyChains struct{}

func (panickyChains) OptionChain(string, string) []models.OptionDescriptor { panic("boom") }

func TestCompute_PanicIsContained(t *testing.T) {
	calc := newTestCalculator(newFakeBars(), nil, panickyChains{}, defaultCfg)
	_, err := calc.Compute(context.Background(), futureTarget("CFFEX", "IF2603", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestCompute_WidthBoundsAndInvariants(t *testing.T) {
	prices := []float64{3900, 4000, 4100}
	for _, prev := range prices {
		for _, cur := range prices {
			bars := newFakeBars()
			bars.series("CFFEX", "IF2603", prev, cur, 1)
			var chain []models.OptionDescriptor
			for i, strike := range []float64{3800, 3950, 4000, 4050, 4200} {
				c := call("C"+string(rune('a'+i)), "IF2603", strike)
				p := put("P"+string(rune('a'+i)), "IF2603", strike)
				chain = append(chain, c, p)
				bars.series("CFFEX", c.Instrument, 10, 10+float64(i%2), 1)
				bars.series("CFFEX", p.Instrument, 10, 10+float64((i+1)%2), 1)
			}
			calc := newTestCalculator(bars, nil, fakeChains{"IF2603": chain}, Config{MaxBarAge: time.Hour, AllowMinimal: true})
			action, err := calc.Compute(context.Background(), futureTarget("CFFEX", "IF2603", ""))
			require.NoError(t, err)
			res := action.Result

			assert.GreaterOrEqual(t, res.Width, 0.0)
			assert.LessOrEqual(t, res.Width, float64(res.TotalTarget()))
			if res.AllSync {
				assert.True(t, res.HasDirectionOptions)
			}
		}
	}
}
