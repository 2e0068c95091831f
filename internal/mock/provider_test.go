package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/logging"
	"github.com/eddiefleurent/option_width/internal/models"
)

const testCatalog = `
futures:
  - {exchange: SHFE, instrument: rb2605}
options:
  - {exchange: SHFE, instrument: rb2605C3400, underlying: rb2605, strike: 3400}
  - {exchange: SHFE, instrument: rb2605P3000, underlying: rb2605, strike: 3000}
  - {exchange: CFFEX, instrument: IO2603-C-4000, underlying: "000300", strike: 4000}
index_exchange:
  "000300": SSE
`

var t0 = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestProvider(t *testing.T, seed uint64) (*Provider, *instruments.Catalog) {
	t.Helper()
	c, err := instruments.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	p := NewProvider(seed, c, time.Minute)
	p.now = func() time.Time { return t0 }
	return p, c
}

var (
	rb   = models.NewInstrumentKey("SHFE", "rb2605")
	call = models.NewInstrumentKey("SHFE", "rb2605C3400")
	put  = models.NewInstrumentKey("SHFE", "rb2605P3000")
)

func TestFetchBars_ShapeAndTimestamps(t *testing.T) {
	p, _ := newTestProvider(t, 7)
	bars, err := p.FetchBars(context.Background(), rb, 30)
	require.NoError(t, err)
	require.Len(t, bars, 30)

	assert.Equal(t, t0, bars[29].Timestamp)
	for i, b := range bars {
		assert.GreaterOrEqual(t, b.High, b.Low, "bar %d", i)
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Close)
		assert.Greater(t, b.Close, 0.0)
		if i > 0 {
			assert.Equal(t, time.Minute, b.Timestamp.Sub(bars[i-1].Timestamp))
			assert.InDelta(t, bars[i-1].Close, b.Open, 1e-9, "open continues the previous close")
		}
	}
	// trades around the mean strike
	assert.InDelta(t, 3200, bars[29].Close, 3200*0.1)
}

func TestFetchBars_Deterministic(t *testing.T) {
	p1, _ := newTestProvider(t, 7)
	p2, _ := newTestProvider(t, 7)
	p3, _ := newTestProvider(t, 8)
	ctx := context.Background()

	a, _ := p1.FetchBars(ctx, rb, 10)
	b, _ := p2.FetchBars(ctx, rb, 10)
	c, _ := p3.FetchBars(ctx, rb, 10)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	long, _ := p1.FetchBars(ctx, rb, 20)
	assert.Equal(t, a, long[10:], "overlapping windows agree")
}

func TestOptionPremiumsFollowUnderlying(t *testing.T) {
	p, _ := newTestProvider(t, 7)
	ctx := context.Background()

	under, err := p.FetchBars(ctx, rb, 120)
	require.NoError(t, err)
	calls, err := p.FetchBars(ctx, call, 120)
	require.NoError(t, err)
	puts, err := p.FetchBars(ctx, put, 120)
	require.NoError(t, err)

	var callAgree, putAgree, moves int
	for i := 1; i < len(under); i++ {
		du := under[i].Close - under[i-1].Close
		dc := calls[i].Close - calls[i-1].Close
		dp := puts[i].Close - puts[i-1].Close
		if du == 0 || dc == 0 || dp == 0 {
			continue
		}
		moves++
		if (du > 0) == (dc > 0) {
			callAgree++
		}
		if (du > 0) != (dp > 0) {
			putAgree++
		}
	}
	require.Positive(t, moves)
	assert.Equal(t, moves, callAgree, "calls move with the underlying")
	assert.Equal(t, moves, putAgree, "puts move against the underlying")

	for _, b := range calls {
		assert.GreaterOrEqual(t, b.Close, minPremium)
	}
}

func TestIndexOptionsUseIndexSeries(t *testing.T) {
	p, _ := newTestProvider(t, 7)
	spec, ok := p.options[models.NewInstrumentKey("CFFEX", "IO2603-C-4000")]
	require.True(t, ok)
	assert.Equal(t, models.NewInstrumentKey("SSE", "000300"), spec.underlying)
	assert.Equal(t, models.OptionTypeCall, spec.typ, "type inferred from the symbol")
}

func TestBackupPrice(t *testing.T) {
	p, _ := newTestProvider(t, 7)
	price, err := p.BackupPrice(context.Background(), rb)
	require.NoError(t, err)
	assert.Equal(t, p.LatestBar(rb).Close, price)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.BackupPrice(ctx, rb)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchBars_Limits(t *testing.T) {
	p, _ := newTestProvider(t, 7)
	bars, err := p.FetchBars(context.Background(), rb, 0)
	require.NoError(t, err)
	assert.Empty(t, bars)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.FetchBars(ctx, rb, 5)
	assert.Error(t, err)
}

type recordingSink struct {
	mu   sync.Mutex
	bars map[models.InstrumentKey][]models.Bar
}

func (r *recordingSink) OnNewBar(key models.InstrumentKey, bar models.Bar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bars == nil {
		r.bars = make(map[models.InstrumentKey][]models.Bar)
	}
	r.bars[key] = append(r.bars[key], bar)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bars)
}

func TestFeed_PublishAndRun(t *testing.T) {
	p, c := newTestProvider(t, 7)
	sink := &recordingSink{}
	f := NewFeed(p, sink, c, 5*time.Millisecond, logging.Discard())

	f.Publish()
	assert.Equal(t, len(c.BarKeys()), sink.count())
	assert.Equal(t, p.LatestBar(rb), sink.bars[rb][0])

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.bars[rb]) >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
