package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/option_width/internal/broker"
	"github.com/eddiefleurent/option_width/internal/config"
	"github.com/eddiefleurent/option_width/internal/cycle"
	"github.com/eddiefleurent/option_width/internal/dashboard"
	"github.com/eddiefleurent/option_width/internal/execution"
	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/marketdata"
	"github.com/eddiefleurent/option_width/internal/metrics"
	"github.com/eddiefleurent/option_width/internal/mock"
	"github.com/eddiefleurent/option_width/internal/models"
	"github.com/eddiefleurent/option_width/internal/report"
	"github.com/eddiefleurent/option_width/internal/retry"
	"github.com/eddiefleurent/option_width/internal/storage"
	"github.com/eddiefleurent/option_width/internal/width"
)

const shutdownTimeout = 10 * time.Second

// priceSource serves both the calculator's and the gate's fallback prices.
type priceSource interface {
	BackupPrice(ctx context.Context, key models.InstrumentKey) (float64, error)
}

// Bot holds the wired engine.
type Bot struct {
	config       *config.Config
	logger       *logrus.Logger
	registry     *prometheus.Registry
	catalog      *instruments.Catalog
	resolver     *instruments.Resolver
	cache        *marketdata.Cache
	placer       broker.OrderPlacer
	journal      storage.Interface
	orchestrator *cycle.Orchestrator
	hub          *dashboard.Hub
	provider     *mock.Provider // mock mode only
}

// newBot wires every component from cfg. Rankings are written to out.
func newBot(cfg *config.Config, logger *logrus.Logger, out io.Writer, seed uint64) (*Bot, error) {
	b := &Bot{config: cfg, logger: logger}

	b.registry = prometheus.NewRegistry()
	b.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(b.registry)

	catalog, err := instruments.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	b.catalog = catalog
	b.resolver = instruments.NewResolver(catalog, cfg.Products)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}
	sessions, err := marketdata.NewSessions(loc, cfg.Schedule.Sessions)
	if err != nil {
		return nil, err
	}

	var gateway *broker.Gateway
	if cfg.Gateway.Endpoint != "" {
		gateway = broker.NewGateway(cfg.Gateway.Endpoint, cfg.Gateway.APIKey, cfg.Gateway.Timeout.Std(), logger)
	}

	var (
		fetcher marketdata.Fetcher
		prices  priceSource
	)
	switch {
	case cfg.Strategy.MockMode:
		b.provider = mock.NewProvider(seed, catalog, cfg.Cache.BucketInterval.Std())
		fetcher, prices = b.provider, b.provider
		logger.Info("Mock mode: market data is synthetic")
	case gateway != nil:
		fetcher, prices = gateway, gateway
	default:
		return nil, errors.New("no market data source: set gateway.endpoint or strategy.mock_mode")
	}

	b.cache = marketdata.NewCache(
		marketdata.NewBreakerFetcher(fetcher, marketdata.DefaultBreakerSettings, logger),
		marketdata.Options{
			BucketInterval:   cfg.Cache.BucketInterval.Std(),
			MaxBars:          cfg.Cache.MaxBars,
			MaxKeys:          cfg.Cache.MaxKeys,
			QuotaPerWindow:   cfg.Cache.QuotaPerWindow,
			QuotaWindow:      cfg.Cache.QuotaWindow.Std(),
			MinFetchGap:      cfg.Cache.MinFetchGap.Std(),
			BackfillCooldown: cfg.Cache.BackfillCooldown.Std(),
		},
		logger, m,
	)

	calc := width.NewCalculator(b.cache, prices, b.resolver, sessions, width.Config{
		MaxBarAge:     cfg.Strategy.MaxBarAge.Std(),
		MockMode:      cfg.Strategy.MockMode,
		AllowMinimal:  cfg.Strategy.AllowMinimal,
		OptionRefresh: cfg.Cache.BucketInterval.Std(),
	}, logger)

	if cfg.IsPaperTrading() {
		b.placer = broker.NewPaperBroker(logger)
	} else {
		if gateway == nil {
			return nil, errors.New("live mode requires gateway.endpoint")
		}
		b.placer = retry.NewClient(
			broker.NewCircuitBreakerPlacer(gateway, broker.DefaultCircuitBreakerSettings(), logger),
			logger,
		)
	}

	b.journal, err = storage.NewStorage(cfg.Storage.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("opening execution journal: %w", err)
	}

	gate := execution.NewGate(b.placer, b.cache, prices, b.journal, execution.Config{
		WidthThreshold: cfg.Strategy.WidthThreshold,
		Cooldown:       cfg.Strategy.OpenCooldown.Std(),
		Volume:         cfg.Strategy.OrderVolume,
		PriceType:      broker.PriceType(cfg.Strategy.PriceType),
		TickSize:       cfg.Strategy.TickSize,
	}, logger, m)

	b.hub = dashboard.NewHub(logger)
	reporter := report.NewReporter(cfg.Output.Mode, cfg.Output.Interval.Std(), cfg.Output.TopN, out, logger)

	b.orchestrator = cycle.NewOrchestrator(calc, b.resolver, cycle.Deps{
		Executor:    gate,
		Emitter:     reporter,
		Broadcaster: b.hub,
		Cache:       b.cache,
	}, cycle.Config{
		Workers:         cfg.Strategy.Workers,
		Timeout:         cfg.Schedule.CycleTimeout.Std(),
		PollSlice:       cfg.Schedule.PollSlice.Std(),
		TopN:            cfg.Output.TopN,
		RefreshInterval: cfg.Output.RefreshInterval.Std(),
	}, logger, m)

	return b, nil
}

// Run drives the scheduler, the bar feed (mock or gateway stream) and the
// dashboard until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	switch {
	case b.provider != nil:
		feed := mock.NewFeed(b.provider, b.cache, b.catalog, b.config.Cache.BucketInterval.Std(), b.logger)
		g.Go(func() error { return feed.Run(gctx) })
	case b.config.Gateway.StreamURL != "":
		stream := broker.NewBarStream(b.config.Gateway.StreamURL, b.config.Gateway.APIKey, b.catalog.BarKeys(), b.cache, b.logger)
		g.Go(func() error { return stream.Run(gctx) })
	}

	scheduler := cycle.NewScheduler(b.orchestrator, b.config.Schedule.CycleInterval.Std(), b.logger)
	g.Go(func() error { return scheduler.Run(gctx) })

	if b.config.Dashboard.Enabled {
		server := dashboard.NewServer(dashboard.Config{
			Port:      b.config.Dashboard.Port,
			AuthToken: b.config.Dashboard.AuthToken,
			TopN:      b.config.Output.TopN,
		}, b.orchestrator, b.journal, b.hub, b.registry, b.logger)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	b.orchestrator.Stop()
	if saveErr := b.journal.Save(); saveErr != nil {
		b.logger.WithError(saveErr).Error("Failed to save execution journal")
	}
	return err
}

// RunOnce runs a single cycle. In mock mode the feed publishes once first.
func (b *Bot) RunOnce(ctx context.Context) cycle.Outcome {
	if b.provider != nil {
		mock.NewFeed(b.provider, b.cache, b.catalog, 0, b.logger).Publish()
	}
	return b.orchestrator.CalculateAllOptionWidths(ctx)
}

// resolvePath makes p relative to the directory of the config file.
func resolvePath(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
