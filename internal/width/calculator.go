// Package width computes the per-underlying option width: the number of
// out-of-the-money options, on the side the futures direction favours, whose
// own price is moving with the future.
package width

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/classify"
	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/marketdata"
	"github.com/eddiefleurent/option_width/internal/models"
)

// topActive is how many most-active calls and puts are kept per underlying.
const topActive = 2

// BarSource is the read side of the price series cache.
type BarSource interface {
	Bars(ctx context.Context, key models.InstrumentKey) []models.Bar
	Snapshot(key models.InstrumentKey) []models.Bar
	Backfill(ctx context.Context, key models.InstrumentKey) []models.Bar
}

// PriceSource supplies a fallback price (last tick or previous settlement)
// when an underlying has no bars.
type PriceSource interface {
	BackupPrice(ctx context.Context, key models.InstrumentKey) (float64, error)
}

// ChainSource resolves option chains.
type ChainSource interface {
	OptionChain(exchange, chainID string) []models.OptionDescriptor
}

// Config holds the width calculation settings.
type Config struct {
	MaxBarAge    time.Duration
	MockMode     bool
	AllowMinimal bool
	// OptionRefresh is the bar bucket length. A direction option whose last
	// cached bar predates the current bucket is backfilled again. Zero only
	// backfills series shorter than two bars.
	OptionRefresh time.Duration
}

// Calculator computes UnderlyingWidthResults. It is safe for concurrent use;
// the only shared state is behind its collaborators.
type Calculator struct {
	bars     BarSource
	prices   PriceSource
	chains   ChainSource
	sessions *marketdata.Sessions
	types    *classify.TypeResolver
	config   Config
	logger   *logrus.Entry
	now      func() time.Time
}

// NewCalculator creates a Calculator. prices may be nil.
func NewCalculator(
	bars BarSource,
	prices PriceSource,
	chains ChainSource,
	sessions *marketdata.Sessions,
	config Config,
	logger *logrus.Logger,
) *Calculator {
	if bars == nil {
		panic("width.NewCalculator: bars must not be nil")
	}
	if chains == nil {
		panic("width.NewCalculator: chains must not be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Calculator{
		bars:     bars,
		prices:   prices,
		chains:   chains,
		sessions: sessions,
		types:    classify.NewTypeResolver(),
		config:   config,
		logger:   logger.WithField("component", "width"),
		now:      time.Now,
	}
}

// leg accumulates one month's counts.
type leg struct {
	otm    int // OTM on either side
	target int // OTM on the side matching the direction
	synced int
}

// Compute calculates the width of one target.
//
// It returns an update action with a fresh result, or a tombstone when the
// underlying's bars are stale. A non-nil error means "no update": the
// previous result for the key stays as it is.
func (c *Calculator) Compute(ctx context.Context, t instruments.Target) (action models.WidthAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("width calculation for %s panicked: %v", t.Key, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return models.WidthAction{}, err
	}

	now := c.now()
	bars := c.bars.Bars(ctx, t.PriceKey)
	if err := ctx.Err(); err != nil {
		return models.WidthAction{}, err
	}

	if n := len(bars); n > 0 {
		age := now.Sub(bars[n-1].Timestamp)
		if age > c.maxBarAge(now) {
			c.logger.WithFields(logrus.Fields{
				"underlying": t.Key.String(),
				"age":        age.Round(time.Second).String(),
			}).Debug("Underlying bars are stale, dropping result")
			return models.Tombstone(t.Key), nil
		}
	}

	current, previous := c.underlyingPrices(ctx, t, bars, now)
	rising := current > previous

	res := models.UnderlyingWidthResult{
		Exchange:       t.Key.Exchange,
		Underlying:     t.Key.Instrument,
		Kind:           t.Kind,
		FutureRising:   rising,
		CurrentPrice:   current,
		PreviousPrice:  previous,
		TopActiveCalls: []string{},
		TopActivePuts:  []string{},
		Timestamp:      now,
	}

	specified := c.chains.OptionChain(t.Key.Exchange, t.Specified)
	next := c.chains.OptionChain(t.Key.Exchange, t.Next)
	if len(specified) == 0 && len(next) == 0 {
		return models.Update(res), nil
	}

	active := newActivity()
	specLeg, err := c.scanLeg(ctx, specified, current, rising, now, active)
	if err != nil {
		return models.WidthAction{}, err
	}
	nextLeg, err := c.scanLeg(ctx, next, current, rising, now, active)
	if err != nil {
		return models.WidthAction{}, err
	}

	res.SpecifiedCount = specLeg.synced
	res.TotalSpecifiedTarget = specLeg.target
	res.TotalSpecifiedOTM = specLeg.otm
	res.NextSpecifiedCount = nextLeg.synced
	res.TotalNextSpecifiedTarget = nextLeg.target
	res.TotalNextSpecifiedOTM = nextLeg.otm
	res.Width = float64(specLeg.synced + nextLeg.synced)
	res.HasDirectionOptions = c.hasDirection(specLeg, nextLeg, t.Next != "")
	res.AllSync = res.HasDirectionOptions && fullySynced(specLeg) && fullySynced(nextLeg)
	res.TopActiveCalls = active.top(models.OptionTypeCall, topActive)
	res.TopActivePuts = active.top(models.OptionTypePut, topActive)

	return models.Update(res), nil
}

// maxBarAge is the freshness threshold; in mock mode with the market closed
// every bar counts as stale.
func (c *Calculator) maxBarAge(now time.Time) time.Duration {
	if c.config.MockMode && !c.sessions.InSession(now) {
		return 0
	}
	return c.config.MaxBarAge
}

// underlyingPrices picks current and previous prices. Short or missing
// series degrade to zero fluctuation: previous equals current.
func (c *Calculator) underlyingPrices(
	ctx context.Context,
	t instruments.Target,
	bars []models.Bar,
	now time.Time,
) (current, previous float64) {
	if n := len(bars); n > 0 {
		current = bars[n-1].Close
		if n >= 2 {
			previous = c.sessions.PreviousClose(bars, now)
		}
	}
	if current <= 0 && c.prices != nil {
		backup, err := c.prices.BackupPrice(ctx, t.PriceKey)
		if err != nil {
			c.logger.WithError(err).WithField("underlying", t.Key.String()).Debug("No backup price")
		} else if backup > 0 {
			current = backup
		}
	}
	if current <= 0 {
		current = classify.Epsilon
	}
	if previous <= 0 {
		previous = current
	}
	return current, previous
}

func (c *Calculator) scanLeg(
	ctx context.Context,
	chain []models.OptionDescriptor,
	underlyingPrice float64,
	rising bool,
	now time.Time,
	active *activity,
) (leg, error) {
	var l leg
	for _, opt := range chain {
		if err := ctx.Err(); err != nil {
			return l, err
		}

		typ := c.types.Resolve(opt)
		if !typ.Valid() {
			continue
		}

		key := opt.Key()
		bars := c.bars.Snapshot(key)

		if classify.IsOutOfTheMoney(underlyingPrice, opt.Strike, typ) {
			l.otm++
			if classify.MatchesDirection(typ, rising) {
				l.target++
				if len(bars) < 2 || c.outdated(bars, now) {
					bars = c.bars.Backfill(ctx, key)
				}
				current, previous := c.optionPrices(bars, now)
				if classify.IsSynchronized(current, previous) {
					l.synced++
				}
			}
		}

		active.add(typ, opt.Instrument, models.TotalVolume(bars))
	}
	return l, nil
}

// outdated reports whether the newest bar is older than the current refresh
// bucket.
func (c *Calculator) outdated(bars []models.Bar, now time.Time) bool {
	if c.config.OptionRefresh <= 0 || len(bars) == 0 {
		return false
	}
	return bars[len(bars)-1].Timestamp.Before(now.Truncate(c.config.OptionRefresh))
}

// optionPrices returns the option's current and previous close; with fewer
// than two usable bars previous collapses to current.
func (c *Calculator) optionPrices(bars []models.Bar, now time.Time) (current, previous float64) {
	n := len(bars)
	if n == 0 {
		return 0, 0
	}
	current = bars[n-1].Close
	if n >= 2 {
		previous = c.sessions.PreviousClose(bars, now)
	}
	if previous <= 0 {
		previous = current
	}
	return current, previous
}

// hasDirection requires both months to carry direction-matching OTM options,
// or either one in allow-minimal mode. Without a configured next month only
// the specified month is required.
func (c *Calculator) hasDirection(spec, next leg, hasNext bool) bool {
	if c.config.AllowMinimal || !hasNext {
		return spec.target > 0 || next.target > 0
	}
	return spec.target > 0 && next.target > 0
}

func fullySynced(l leg) bool {
	return l.target == 0 || l.synced == l.target
}
