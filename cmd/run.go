package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bilgisen/chanpost/internal/ai"
	"github.com/bilgisen/chanpost/internal/api"
	"github.com/bilgisen/chanpost/internal/config"
	"github.com/bilgisen/chanpost/internal/feed"
	"github.com/bilgisen/chanpost/internal/logger"
	"github.com/bilgisen/chanpost/internal/metrics"
	"github.com/bilgisen/chanpost/internal/scheduler"
	"github.com/bilgisen/chanpost/internal/storage"
	"github.com/bilgisen/chanpost/internal/storage/memory"
	"github.com/bilgisen/chanpost/internal/storage/postgres"
	"github.com/bilgisen/chanpost/internal/storage/redisstore"
	"github.com/bilgisen/chanpost/internal/storage/sqlite"
	"github.com/bilgisen/chanpost/internal/telegram"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run publishing cycles (continuously unless RUN_MODE=once or --once)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context(), runOnce)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&runOnce, "once", false, "Run a single cycle and exit")
	rootCmd.AddCommand(runCmd)
}

func runBot(ctx context.Context, once bool) error {
	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if once {
		cfg.RunMode = scheduler.RunModeOnce
	}

	log, err := initLogger(cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("run_mode", cfg.RunMode).
		Str("ledger", cfg.LedgerBackend).
		Str("ai_provider", cfg.AIProvider).
		Msg("Starting application...")

	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info().Msg("Closing ledger...")
		if err := ledger.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing ledger")
		}
	}()

	if retention := cfg.Retention(); retention > 0 {
		removed, err := ledger.PurgeOlderThan(ctx, retention)
		if err != nil {
			log.Error().Err(err).Msg("Retention sweep failed")
		} else {
			log.Info().Int64("removed", removed).Int("retention_days", cfg.RetentionDays).Msg("Retention sweep done")
		}
	}

	gen, err := ai.NewGenerator(cfg.AIProvider, cfg.AIApiKey, cfg.AIModel, cfg.AITimeout)
	if err != nil {
		return err
	}
	if gen == nil {
		log.Warn().Msg("AI generation disabled, posts will use the fallback layout")
	}
	rewriter := ai.NewRewriter(gen, ai.RewriterConfig{
		Language:  cfg.PostLanguage,
		MaxOutput: cfg.AIMaxTokens,
	}, log.With().Str("component", "rewriter").Logger())

	sink := telegram.NewSink(telegram.Config{
		Token:         cfg.TelegramToken,
		APIURL:        cfg.TelegramAPIURL,
		Timeout:       cfg.HTTPTimeout,
		RatePerMinute: cfg.SendRatePerMinute,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sched := scheduler.New(scheduler.Config{
		PostsPerCycle:     cfg.PostsPerCycle,
		DelayBetweenPosts: cfg.DelayBetween(),
		PostingInterval:   cfg.PostingInterval(),
		RunMode:           cfg.RunMode,
		Target:            cfg.ChannelID,
	}, buildCollectors(cfg, log), ledger, rewriter, sink,
		log.With().Str("component", "scheduler").Logger(),
		scheduler.WithMetrics(m))

	if cfg.StatusEnabled {
		handlers := api.NewHandlers(ledger, sched, log.With().Str("component", "api").Logger())
		app := api.NewApp(api.ServerConfig{HTTPTimeout: cfg.HTTPTimeout, APIKey: cfg.StatusAPIKey}, handlers, reg)

		// Start server in a goroutine
		go func() {
			log.Info().Str("port", cfg.Port).Msg("Starting status server")
			if err := app.Listen(":" + cfg.Port); err != nil {
				log.Error().Err(err).Msg("Status server error")
			}
		}()
		defer func() {
			log.Info().Msg("Shutting down status server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Server forced to shutdown")
			}
		}()
	}

	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("Scheduler stopped")
	return err
}

func initLogger(cfg *config.Config) (zerolog.Logger, error) {
	output := cfg.LogFile
	if output == "" {
		output = "stdout"
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Output: output,
		Pretty: cfg.LogPretty,
	}); err != nil {
		return zerolog.Nop(), fmt.Errorf("init logger: %w", err)
	}
	return *logger.Get(), nil
}

func openLedger(cfg *config.Config) (storage.Ledger, error) {
	switch cfg.LedgerBackend {
	case "postgres":
		return postgres.Open(cfg.DatabaseURL)
	case "redis":
		return redisstore.Connect(cfg.RedisURL, cfg.RedisPrefix)
	case "memory":
		return memory.New(), nil
	default:
		return sqlite.Open(cfg.DatabasePath)
	}
}

func buildCollectors(cfg *config.Config, log zerolog.Logger) []feed.Collector {
	var out []feed.Collector
	if cfg.GitHubEnabled {
		out = append(out, feed.NewGitHubCollector(feed.GitHubConfig{
			Language: cfg.GitHubLanguage,
			Period:   cfg.GitHubPeriod,
			Limit:    cfg.GitHubLimit,
			Token:    cfg.GitHubToken,
		}, feed.NewFetcher(cfg.HTTPTimeout), log.With().Str("source", "github").Logger()))
	}
	if cfg.HabrEnabled {
		out = append(out, feed.NewHabrCollector(feed.HabrConfig{
			Period: cfg.HabrPeriod,
			Limit:  cfg.HabrLimit,
		}, feed.NewFetcher(cfg.HTTPTimeout), log.With().Str("source", "habr").Logger()))
	}
	return out
}
