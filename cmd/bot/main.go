package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/option_width/internal/config"
	"github.com/eddiefleurent/option_width/internal/logging"
	"github.com/eddiefleurent/option_width/internal/report"
)

// liveConfirmDelay gives the operator a chance to abort a live start.
const liveConfirmDelay = 10 * time.Second

type options struct {
	configPath string
	envFile    string
	seed       uint64
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "widthbot",
		Short: "Option width strategy engine",
		Long: `widthbot ranks futures and index underlyings by option width: the number
of out-of-the-money options on the side the underlying is moving whose
own price moves with it. The top signal can open the most active options.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file loaded before the config")
	root.PersistentFlags().Uint64Var(&opts.seed, "mock-seed", 42, "Seed for synthetic market data in mock mode")

	root.AddCommand(newRunCmd(opts), newOnceCmd(opts), newValidateCmd(opts))
	return root
}

// loadConfig reads the dotenv file, if any, then the config. Catalog and
// journal paths are relative to the config file.
func loadConfig(opts *options) (*config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", opts.envFile, err)
		}
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Catalog.Path = resolvePath(opts.configPath, cfg.Catalog.Path)
	cfg.Storage.JournalPath = resolvePath(opts.configPath, cfg.Storage.JournalPath)
	return cfg, nil
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logging.New(logging.Config{
		Level: cfg.Environment.LogLevel,
		File:  cfg.Environment.LogFile,
	})
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run calculation cycles on the configured interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Infof("Starting widthbot in %s mode", cfg.Environment.Mode)
			if cfg.IsPaperTrading() {
				logger.Info("PAPER TRADING MODE - orders go to the in-process paper broker")
			} else {
				logger.Warn("LIVE TRADING MODE - orders go to the gateway")
				logger.Infof("Waiting %s to confirm...", liveConfirmDelay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(liveConfirmDelay):
				}
			}

			bot, err := newBot(cfg, logger, cmd.OutOrStdout(), opts.seed)
			if err != nil {
				return err
			}
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("Bot stopped successfully")
			return nil
		},
	}
}

func newOnceCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single calculation cycle and print the ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			bot, err := newBot(cfg, newLogger(cfg), io.Discard, opts.seed)
			if err != nil {
				return err
			}

			outcome := bot.RunOnce(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "outcome=%s tracked=%d\n", outcome, len(bot.orchestrator.Results()))
			fmt.Fprint(out, report.Table(bot.orchestrator.Signals(), bot.orchestrator.Results(), cfg.Output.TopN, opts.verbose))
			return bot.journal.Save()
		},
	}
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show per-month sync counts")
	return cmd
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the instrument catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			bot, err := newBot(cfg, logging.Discard(), io.Discard, opts.seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d futures, %d options, %d targets\n",
				len(bot.catalog.Futures), len(bot.catalog.Options), len(bot.resolver.Targets()))
			return nil
		},
	}
}
