// Package marketdata holds the per-instrument price series cache, its read
// limiters and the exchange session calendar.
package marketdata

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/option_width/internal/metrics"
	"github.com/eddiefleurent/option_width/internal/models"
)

// Fetcher loads recent bars for an instrument from upstream.
type Fetcher interface {
	FetchBars(ctx context.Context, key models.InstrumentKey, limit int) ([]models.Bar, error)
}

// Options configures a Cache.
type Options struct {
	BucketInterval   time.Duration
	MaxBars          int
	MaxKeys          int
	QuotaPerWindow   int
	QuotaWindow      time.Duration
	MinFetchGap      time.Duration
	BackfillCooldown time.Duration
}

// DefaultOptions is the default cache configuration.
var DefaultOptions = Options{
	BucketInterval:   60 * time.Second,
	MaxBars:          240,
	MaxKeys:          2000,
	QuotaPerWindow:   2,
	QuotaWindow:      60 * time.Second,
	MinFetchGap:      200 * time.Millisecond,
	BackfillCooldown: 300 * time.Second,
}

type series struct {
	bars          []models.Bar
	fetchedBucket int64
	lastBackfill  time.Time
}

// Cache is the per-instrument OHLCV bar cache.
//
// Pushed bars (OnNewBar) and fetched bars share one series per key. Upstream
// reads go through a rolling per-key quota that drops silently and a global
// pacer that blocks. All state sits behind one mutex.
type Cache struct {
	mu      sync.Mutex
	series  map[models.InstrumentKey]*series
	fetcher Fetcher
	quota   *Quota
	pacer   *rate.Limiter
	opts    Options
	metrics *metrics.Metrics
	logger  *logrus.Entry
	now     func() time.Time
}

// NewCache creates a cache. fetcher may be nil, in which case only pushed
// bars are served.
func NewCache(fetcher Fetcher, opts Options, logger *logrus.Logger, m *metrics.Metrics) *Cache {
	if opts.BucketInterval <= 0 {
		opts.BucketInterval = DefaultOptions.BucketInterval
	}
	if opts.MaxBars < 2 {
		opts.MaxBars = DefaultOptions.MaxBars
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultOptions.MaxKeys
	}
	if opts.QuotaPerWindow <= 0 {
		opts.QuotaPerWindow = DefaultOptions.QuotaPerWindow
	}
	if opts.QuotaWindow <= 0 {
		opts.QuotaWindow = DefaultOptions.QuotaWindow
	}
	if opts.MinFetchGap <= 0 {
		opts.MinFetchGap = DefaultOptions.MinFetchGap
	}
	if opts.BackfillCooldown <= 0 {
		opts.BackfillCooldown = DefaultOptions.BackfillCooldown
	}
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Cache{
		series:  make(map[models.InstrumentKey]*series),
		fetcher: fetcher,
		quota:   NewQuota(opts.QuotaPerWindow, opts.QuotaWindow),
		pacer:   rate.NewLimiter(rate.Every(opts.MinFetchGap), 1),
		opts:    opts,
		metrics: m,
		logger:  logger.WithField("component", "bar_cache"),
		now:     time.Now,
	}
}

// OnNewBar stores a bar pushed by the market-data subsystem.
func (c *Cache) OnNewBar(key models.InstrumentKey, bar models.Bar) {
	bar = models.NormalizeBar(bar)

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.ensure(key)
	n := len(s.bars)
	switch {
	case n == 0 || bar.Timestamp.After(s.bars[n-1].Timestamp):
		s.bars = append(s.bars, bar)
	case bar.Timestamp.Equal(s.bars[n-1].Timestamp):
		s.bars[n-1] = bar
	default:
		s.bars = mergeBars(s.bars, []models.Bar{bar})
	}
	s.bars = c.truncate(s.bars)
}

// Bars returns the bar series for key, fetching upstream at most once per
// bucket. When the quota is spent, the pacer wait is cancelled or the fetch
// fails, the cached (possibly empty) series is returned.
func (c *Cache) Bars(ctx context.Context, key models.InstrumentKey) []models.Bar {
	bucket := c.bucket(c.now())

	c.mu.Lock()
	s := c.series[key]
	if s != nil && s.fetchedBucket == bucket {
		out := slices.Clone(s.bars)
		c.mu.Unlock()
		return out
	}
	cached := cloneBars(s)
	c.mu.Unlock()

	if c.fetcher == nil {
		return cached
	}
	if !c.allow(key) {
		return cached
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return cached
	}
	return c.fetch(ctx, key, bucket, cached)
}

// Snapshot returns the cached bars for key without touching upstream.
func (c *Cache) Snapshot(key models.InstrumentKey) []models.Bar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneBars(c.series[key])
}

// Backfill makes a best-effort fetch for a short or outdated series. It
// skips keys already fetched in the current bucket, is limited to once per
// BackfillCooldown per key and never blocks: a spent quota or a busy pacer
// returns the cached series immediately without starting the cooldown.
func (c *Cache) Backfill(ctx context.Context, key models.InstrumentKey) []models.Bar {
	now := c.now()
	bucket := c.bucket(now)

	c.mu.Lock()
	s := c.ensure(key)
	if s.fetchedBucket == bucket ||
		(!s.lastBackfill.IsZero() && now.Sub(s.lastBackfill) < c.opts.BackfillCooldown) {
		out := slices.Clone(s.bars)
		c.mu.Unlock()
		return out
	}
	cached := slices.Clone(s.bars)
	c.mu.Unlock()

	if c.fetcher == nil {
		return cached
	}
	if !c.allow(key) {
		return cached
	}
	if !c.pacer.Allow() {
		c.metrics.BarFetches.WithLabelValues("paced").Inc()
		return cached
	}

	c.mu.Lock()
	c.ensure(key).lastBackfill = now
	c.mu.Unlock()

	return c.fetch(ctx, key, bucket, cached)
}

// LatestClose returns the close of the most recent cached bar.
func (c *Cache) LatestClose(key models.InstrumentKey) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.series[key]
	if s == nil || len(s.bars) == 0 {
		return 0, false
	}
	return s.bars[len(s.bars)-1].Close, true
}

// Len returns the number of tracked instrument keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.series)
}

// EvictIfOversized clears the whole cache when the number of tracked keys
// exceeds MaxKeys. It reports whether it did.
func (c *Cache) EvictIfOversized() bool {
	c.mu.Lock()
	n := len(c.series)
	if n <= c.opts.MaxKeys {
		c.mu.Unlock()
		return false
	}
	c.series = make(map[models.InstrumentKey]*series)
	c.mu.Unlock()

	c.quota.Reset()
	c.logger.WithField("keys", n).Warn("Bar cache exceeded key ceiling, cleared")
	return true
}

func (c *Cache) allow(key models.InstrumentKey) bool {
	if c.quota.Allow(key.String(), "symbol:"+key.SymbolKey()) {
		return true
	}
	c.metrics.BarFetches.WithLabelValues("quota").Inc()
	if c.quota.ShouldWarn(key.String()) {
		c.logger.WithField("instrument", key.String()).Debug("Bar read quota exhausted, serving cached series")
	}
	return false
}

func (c *Cache) fetch(ctx context.Context, key models.InstrumentKey, bucket int64, cached []models.Bar) []models.Bar {
	bars, err := c.fetcher.FetchBars(ctx, key, c.opts.MaxBars)
	if err != nil {
		c.metrics.BarFetches.WithLabelValues("error").Inc()
		if c.quota.ShouldWarn("error:" + key.String()) {
			c.logger.WithError(err).WithField("instrument", key.String()).Warn("Bar fetch failed")
		}
		return cached
	}
	c.metrics.BarFetches.WithLabelValues("ok").Inc()

	for i := range bars {
		bars[i] = models.NormalizeBar(bars[i])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.ensure(key)
	s.bars = c.truncate(mergeBars(s.bars, bars))
	s.fetchedBucket = bucket
	return slices.Clone(s.bars)
}

func (c *Cache) ensure(key models.InstrumentKey) *series {
	s := c.series[key]
	if s == nil {
		s = &series{fetchedBucket: -1}
		c.series[key] = s
	}
	return s
}

func (c *Cache) truncate(bars []models.Bar) []models.Bar {
	if len(bars) <= c.opts.MaxBars {
		return bars
	}
	return slices.Clone(bars[len(bars)-c.opts.MaxBars:])
}

func (c *Cache) bucket(t time.Time) int64 {
	return t.UnixNano() / int64(c.opts.BucketInterval)
}

func cloneBars(s *series) []models.Bar {
	if s == nil {
		return nil
	}
	return slices.Clone(s.bars)
}

// mergeBars merges two series by timestamp; on equal timestamps the bar from
// incoming wins. The result is sorted ascending.
func mergeBars(existing, incoming []models.Bar) []models.Bar {
	byTime := make(map[int64]models.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		byTime[b.Timestamp.UnixNano()] = b
	}
	for _, b := range incoming {
		byTime[b.Timestamp.UnixNano()] = b
	}
	out := make([]models.Bar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b models.Bar) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}
