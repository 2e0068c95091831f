// Package mock generates synthetic market data for mock mode: seeded price
// paths for underlyings and option premiums that follow them.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/eddiefleurent/option_width/internal/classify"
	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/models"
	"github.com/eddiefleurent/option_width/internal/util"
)

const (
	stepVol      = 0.002 // per-bar log noise of an underlying
	swingAmp     = 0.03
	swingPeriod1 = 240.0 // bars
	swingPeriod2 = 57.0
	premiumTick  = 0.2
	minPremium   = premiumTick
	timeValueFrac = 0.015 // at-the-money time value as a fraction of spot
)

type optionSpec struct {
	underlying models.InstrumentKey
	strike     float64
	typ        models.OptionType
}

// Provider serves deterministic synthetic bars. Bars for the same key and
// bucket are identical across calls, so cached and fetched data agree. It
// holds no mutable state after construction.
type Provider struct {
	seed     uint64
	interval time.Duration
	options  map[models.InstrumentKey]optionSpec
	bases    map[models.InstrumentKey]float64
	now      func() time.Time
}

// NewProvider creates a Provider for the catalog's instruments. Underlyings
// trade around the mean strike of their options.
func NewProvider(seed uint64, catalog *instruments.Catalog, interval time.Duration) *Provider {
	if interval <= 0 {
		interval = time.Minute
	}
	p := &Provider{
		seed:     seed,
		interval: interval,
		options:  make(map[models.InstrumentKey]optionSpec),
		bases:    make(map[models.InstrumentKey]float64),
		now:      time.Now,
	}
	if catalog == nil {
		return p
	}

	sums := make(map[models.InstrumentKey][2]float64)
	for _, o := range catalog.Options {
		typ := o.Type
		if !typ.Valid() {
			typ = classify.ParseSymbolType(o.Instrument)
		}
		u := catalog.UnderlyingKey(o.Exchange, o.Underlying)
		p.options[o.Key()] = optionSpec{underlying: u, strike: o.Strike, typ: typ}
		s := sums[u]
		sums[u] = [2]float64{s[0] + o.Strike, s[1] + 1}
	}
	for u, s := range sums {
		p.bases[u] = s[0] / s[1]
	}
	return p
}

// FetchBars returns the last limit bars of key ending at the current bucket.
func (p *Provider) FetchBars(ctx context.Context, key models.InstrumentKey, limit int) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []models.Bar{}, nil
	}

	last := p.bucket(p.now())
	bars := make([]models.Bar, 0, limit)
	for b := last - int64(limit) + 1; b <= last; b++ {
		bars = append(bars, p.bar(key, b))
	}
	return bars, nil
}

// BackupPrice is the close of the current bucket.
func (p *Provider) BackupPrice(ctx context.Context, key models.InstrumentKey) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	price := p.price(key, p.bucket(p.now()))
	if !util.ValidPrice(price) {
		return 0, fmt.Errorf("no mock price for %s", key)
	}
	return price, nil
}

// LatestBar is the bar of the current bucket.
func (p *Provider) LatestBar(key models.InstrumentKey) models.Bar {
	return p.bar(key, p.bucket(p.now()))
}

func (p *Provider) bucket(t time.Time) int64 {
	return t.UnixNano() / int64(p.interval)
}

func (p *Provider) bar(key models.InstrumentKey, b int64) models.Bar {
	open := p.price(key, b-1)
	closePx := p.price(key, b)
	rng := p.rng(key, b, 1)
	spread := math.Abs(closePx-open) * (0.2 + 0.3*rng.Float64())

	volume := float64(1000 + rng.IntN(9000))
	if _, ok := p.options[key]; ok {
		volume = float64(rng.IntN(500))
	}
	return models.NormalizeBar(models.Bar{
		Open:      open,
		High:      math.Max(open, closePx) + spread,
		Low:       math.Min(open, closePx) - spread,
		Close:     closePx,
		Volume:    volume,
		Timestamp: time.Unix(0, b*int64(p.interval)).UTC(),
	})
}

// price is an option premium derived from its underlying, or the
// underlying's own close.
func (p *Provider) price(key models.InstrumentKey, b int64) float64 {
	spec, ok := p.options[key]
	if !ok {
		return p.underlyingClose(key, b)
	}
	spot := p.underlyingClose(spec.underlying, b)
	intrinsic := 0.0
	switch spec.typ {
	case models.OptionTypeCall:
		intrinsic = math.Max(0, spot-spec.strike)
	case models.OptionTypePut:
		intrinsic = math.Max(0, spec.strike-spot)
	}
	scale := spot * 0.05
	timeValue := spot * timeValueFrac * math.Exp(-math.Abs(spot-spec.strike)/scale)
	return math.Max(minPremium, util.RoundToTick(intrinsic+timeValue, premiumTick))
}

// underlyingClose is a pure function of key and bucket: two slow swings
// with key-dependent phases plus per-bar noise, in log space.
func (p *Provider) underlyingClose(key models.InstrumentKey, b int64) float64 {
	base, ok := p.bases[key]
	h := p.hash(key)
	if !ok {
		base = 1000 + float64(h%4000)
	}
	phase1 := float64(h%997) / 997 * 2 * math.Pi
	phase2 := float64(h%991) / 991 * 2 * math.Pi
	x := float64(b)
	logMove := swingAmp*math.Sin(2*math.Pi*x/swingPeriod1+phase1) +
		swingAmp/2*math.Sin(2*math.Pi*x/swingPeriod2+phase2) +
		stepVol*p.rng(key, b, 0).NormFloat64()
	return base * math.Exp(logMove)
}

func (p *Provider) rng(key models.InstrumentKey, b int64, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(p.seed^p.hash(key)^stream, uint64(b)))
}

func (p *Provider) hash(key models.InstrumentKey) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))
	return h.Sum64()
}
