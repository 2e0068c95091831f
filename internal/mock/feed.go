package mock

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/models"
)

// BarSink receives pushed bars.
type BarSink interface {
	OnNewBar(key models.InstrumentKey, bar models.Bar)
}

// Feed pushes the current bar of every instrument to a sink on each
// interval, standing in for the platform's kline subscription.
type Feed struct {
	provider *Provider
	sink     BarSink
	keys     []models.InstrumentKey
	interval time.Duration
	logger   *logrus.Entry
}

// NewFeed creates a Feed over the catalog's futures, index underlyings and
// options.
func NewFeed(provider *Provider, sink BarSink, catalog *instruments.Catalog, interval time.Duration, logger *logrus.Logger) *Feed {
	if interval <= 0 {
		interval = provider.interval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Feed{
		provider: provider,
		sink:     sink,
		keys:     catalog.BarKeys(),
		interval: interval,
		logger:   logger.WithField("component", "mock_feed"),
	}
}

// Publish pushes one bar per instrument.
func (f *Feed) Publish() {
	for _, k := range f.keys {
		f.sink.OnNewBar(k, f.provider.LatestBar(k))
	}
}

// Run publishes immediately and then every interval until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.WithField("instruments", len(f.keys)).Info("Mock feed starting")
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.Publish()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.Publish()
		}
	}
}
