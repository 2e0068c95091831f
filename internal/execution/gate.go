// Package execution decides whether the top-ranked signal is traded and
// dispatches the buy-to-open orders.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/broker"
	"github.com/eddiefleurent/option_width/internal/metrics"
	"github.com/eddiefleurent/option_width/internal/models"
	"github.com/eddiefleurent/option_width/internal/storage"
	"github.com/eddiefleurent/option_width/internal/util"
)

// CloseSource returns the latest cached close of an instrument.
type CloseSource interface {
	LatestClose(key models.InstrumentKey) (float64, bool)
}

// BackupPricer supplies a price when no bars are cached.
type BackupPricer interface {
	BackupPrice(ctx context.Context, key models.InstrumentKey) (float64, error)
}

// Config holds the gate settings.
type Config struct {
	WidthThreshold float64
	Cooldown       time.Duration
	Volume         int
	PriceType      broker.PriceType
	TickSize       float64
}

// DefaultConfig is the standard gate configuration.
var DefaultConfig = Config{
	WidthThreshold: 4.0,
	Cooldown:       60 * time.Second,
	Volume:         1,
	PriceType:      broker.PriceTypeLimit,
}

// Gate filters signals and places orders for their target options.
type Gate struct {
	mu        sync.Mutex
	cooldowns map[models.InstrumentKey]time.Time

	placer  broker.OrderPlacer
	closes  CloseSource
	backup  BackupPricer
	journal storage.Interface
	config  Config
	metrics *metrics.Metrics
	logger  *logrus.Entry
	now     func() time.Time
}

// NewGate creates a Gate. backup and journal may be nil. Cooldowns still
// running according to the journal are restored.
func NewGate(
	placer broker.OrderPlacer,
	closes CloseSource,
	backup BackupPricer,
	journal storage.Interface,
	config Config,
	logger *logrus.Logger,
	m *metrics.Metrics,
) *Gate {
	if placer == nil {
		panic("execution.NewGate: placer must not be nil")
	}
	if closes == nil {
		panic("execution.NewGate: closes must not be nil")
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig.Cooldown
	}
	if config.Volume <= 0 {
		config.Volume = DefaultConfig.Volume
	}
	if config.PriceType == "" {
		config.PriceType = DefaultConfig.PriceType
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if m == nil {
		m = metrics.Nop()
	}
	g := &Gate{
		cooldowns: make(map[models.InstrumentKey]time.Time),
		placer:    placer,
		closes:    closes,
		backup:    backup,
		journal:   journal,
		config:    config,
		metrics:   m,
		logger:    logger.WithField("component", "execution_gate"),
		now:       time.Now,
	}
	g.restoreCooldowns()
	return g
}

func (g *Gate) restoreCooldowns() {
	if g.journal == nil {
		return
	}
	for key, at := range g.journal.LastOpens(g.now().Add(-g.config.Cooldown)) {
		g.cooldowns[key] = at
	}
	if n := len(g.cooldowns); n > 0 {
		g.logger.WithField("options", n).Info("Restored open cooldowns from journal")
	}
}

// MaybeExecute opens the signal's target options that pass every filter and
// returns the executions that succeeded.
func (g *Gate) MaybeExecute(ctx context.Context, sig models.Signal) []models.Execution {
	log := g.logger.WithFields(logrus.Fields{
		"underlying": sig.Key().String(),
		"signal":     sig.Type,
		"width":      sig.Width,
	})

	if sig.Width <= g.config.WidthThreshold {
		log.Debugf("Width not above threshold %.1f, no action", g.config.WidthThreshold)
		g.metrics.Orders.WithLabelValues("below_threshold").Inc()
		return nil
	}
	if len(sig.Targets) == 0 {
		log.Debug("Signal has no target options, no action")
		g.metrics.Orders.WithLabelValues("no_targets").Inc()
		return nil
	}

	var executed []models.Execution
	for _, target := range sig.Targets {
		if ctx.Err() != nil {
			break
		}
		key := models.NewInstrumentKey(sig.Exchange, target)
		optLog := log.WithField("option", key.String())

		if remaining, ok := g.coolingDown(key); ok {
			optLog.WithField("remaining", remaining.Round(time.Second).String()).Debug("Option in cooldown, skipping")
			g.metrics.Orders.WithLabelValues("cooldown").Inc()
			continue
		}

		price := g.price(ctx, key)
		if !util.ValidPrice(price) {
			optLog.Warn("No usable price for option, skipping")
			g.metrics.Orders.WithLabelValues("no_price").Inc()
			continue
		}

		req := broker.OrderRequest{
			Exchange:   key.Exchange,
			Instrument: key.Instrument,
			Direction:  broker.DirectionBuy,
			Offset:     broker.OffsetOpen,
			Price:      price,
			Volume:     g.config.Volume,
			PriceType:  g.config.PriceType,
			Tag:        string(sig.Type),
		}
		orderID, err := g.placer.PlaceOrder(ctx, req)
		if err != nil {
			optLog.WithError(err).Error("Open order failed")
			g.metrics.Orders.WithLabelValues("failed").Inc()
			continue
		}

		at := g.now()
		g.mu.Lock()
		g.cooldowns[key] = at
		g.mu.Unlock()
		g.metrics.Orders.WithLabelValues("placed").Inc()

		exec := models.Execution{
			Exchange:   key.Exchange,
			Option:     key.Instrument,
			Underlying: sig.Underlying,
			OrderID:    orderID,
			Price:      price,
			Volume:     g.config.Volume,
			SignalType: sig.Type,
			Width:      sig.Width,
			ExecutedAt: at,
		}
		executed = append(executed, exec)
		optLog.WithFields(logrus.Fields{"order_id": orderID, "price": price}).Info("Opened option position")

		if g.journal != nil {
			if err := g.journal.RecordExecution(exec); err != nil {
				optLog.WithError(err).Warn("Failed to journal execution")
			}
		}
	}
	return executed
}

func (g *Gate) coolingDown(key models.InstrumentKey) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.cooldowns[key]
	if !ok {
		return 0, false
	}
	elapsed := g.now().Sub(last)
	if elapsed >= g.config.Cooldown {
		delete(g.cooldowns, key)
		return 0, false
	}
	return g.config.Cooldown - elapsed, true
}

// price is the latest cached close, else the backup price, on the tick grid.
func (g *Gate) price(ctx context.Context, key models.InstrumentKey) float64 {
	p, ok := g.closes.LatestClose(key)
	if (!ok || p <= 0) && g.backup != nil {
		backup, err := g.backup.BackupPrice(ctx, key)
		if err != nil {
			g.logger.WithError(err).WithField("option", key.String()).Debug("No backup price")
		}
		p = backup
	}
	if p <= 0 {
		return 0
	}
	return util.RoundToTick(p, g.config.TickSize)
}
