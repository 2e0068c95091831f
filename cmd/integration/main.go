// Command integration checks a live gateway end to end: bars and fallback
// prices for every catalog future, then one paper order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/broker"
	"github.com/eddiefleurent/option_width/internal/config"
	"github.com/eddiefleurent/option_width/internal/instruments"
	"github.com/eddiefleurent/option_width/internal/logging"
	"github.com/eddiefleurent/option_width/internal/models"
	"github.com/eddiefleurent/option_width/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	limit := flag.Int("bars", 5, "Bars to request per instrument")
	flag.Parse()

	fmt.Println("=== Option Width - Gateway Integration Check ===")
	fmt.Println()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Ensure we're in paper mode for safety
	if !cfg.IsPaperTrading() {
		fmt.Fprintln(os.Stderr, "Integration checks must run in paper mode. Set environment.mode: 'paper'")
		os.Exit(1)
	}
	if cfg.Gateway.Endpoint == "" {
		fmt.Fprintln(os.Stderr, "gateway.endpoint is required")
		os.Exit(1)
	}

	catalogPath := cfg.Catalog.Path
	if !filepath.IsAbs(catalogPath) {
		catalogPath = filepath.Join(filepath.Dir(*cfgPath), catalogPath)
	}
	catalog, err := instruments.LoadCatalog(catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load catalog: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.Environment.LogLevel})
	gateway := broker.NewGateway(cfg.Gateway.Endpoint, cfg.Gateway.APIKey, cfg.Gateway.Timeout.Std(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	failures := 0
	for _, f := range catalog.Futures {
		key := models.NewInstrumentKey(f.Exchange, f.Instrument)
		if !checkInstrument(ctx, gateway, key, *limit, logger) {
			failures++
		}
	}

	fmt.Println()
	fmt.Println("--- Paper order ---")
	if len(catalog.Options) > 0 {
		opt := catalog.Options[0]
		price, err := gateway.BackupPrice(ctx, opt.Key())
		if err != nil {
			fmt.Printf("FAIL  %s backup price: %v\n", opt.Key(), err)
			failures++
		} else {
			paper := broker.NewPaperBroker(logger)
			id, err := paper.PlaceOrder(ctx, broker.OrderRequest{
				Exchange:   opt.Exchange,
				Instrument: opt.Instrument,
				Direction:  broker.DirectionBuy,
				Offset:     broker.OffsetOpen,
				Price:      util.RoundToTick(price, cfg.Strategy.TickSize),
				Volume:     1,
				PriceType:  broker.PriceTypeLimit,
				Tag:        "integration",
			})
			if err != nil {
				fmt.Printf("FAIL  paper order: %v\n", err)
				failures++
			} else {
				fmt.Printf("OK    paper order %s for %s @ %.2f\n", id, opt.Key(), price)
			}
		}
	}

	fmt.Println()
	if failures > 0 {
		fmt.Printf("=== %d check(s) failed ===\n", failures)
		os.Exit(1)
	}
	fmt.Println("=== All checks passed ===")
}

func checkInstrument(ctx context.Context, gateway *broker.Gateway, key models.InstrumentKey, limit int, logger *logrus.Logger) bool {
	bars, err := gateway.FetchBars(ctx, key, limit)
	if err != nil {
		fmt.Printf("FAIL  %s bars: %v\n", key, err)
		return false
	}
	price, err := gateway.BackupPrice(ctx, key)
	if err != nil {
		logger.WithError(err).WithField("instrument", key.String()).Debug("No fallback price")
		price = 0
	}
	last := "-"
	if n := len(bars); n > 0 {
		last = bars[n-1].Timestamp.Format(time.DateTime)
	}
	fmt.Printf("OK    %s: %d bars, last %s, backup %.2f\n", key, len(bars), last, price)
	return true
}
