package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/grimoire/internal/config"
	"github.com/p-blackswan/grimoire/internal/engine"
	"github.com/p-blackswan/grimoire/internal/metrics"
	"github.com/p-blackswan/grimoire/internal/oracle"
	"github.com/p-blackswan/grimoire/internal/retry"
	"github.com/p-blackswan/grimoire/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "grimoire",
		Short:         "Grimoire state engine",
		Long:          "Run and inspect the persistent state engine behind the grimoire journal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd(), statusCmd(), decreesCmd(), resetCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger configures the global logger from the environment.
func setupLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Logger = logger
	return logger
}

// runtime is everything a command needs to talk to the engine.
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   store.Store
	metrics *metrics.Metrics
	engine  *engine.Engine
}

// bootstrap loads config, opens the store and builds the engine. Nothing is
// hydrated yet.
func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg)

	s, err := store.Open(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()
	factory, err := oracle.NewFactory(cfg.OracleOptions(), oracle.WithLogger(logger))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.OracleRetries
	orc := oracle.New(factory, oracle.StoreCredentials{Store: s}, logger,
		oracle.WithTimeout(cfg.OracleTimeout),
		oracle.WithRetry(retryCfg),
		oracle.WithRecorder(m),
	)

	eng := engine.New(s, orc, cfg.EngineConfig(), logger,
		engine.WithRecorder(m),
		engine.WithJobHook(m.RecordJobFire),
	)
	return &runtime{cfg: cfg, logger: logger, store: s, metrics: m, engine: eng}, nil
}

func (r *runtime) close() {
	r.engine.Stop()
	if err := r.store.Close(); err != nil {
		r.logger.Error().Err(err).Msg("store close error")
	}
}
