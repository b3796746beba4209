package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/grimoire/internal/api"
	"github.com/p-blackswan/grimoire/internal/engine"
	"github.com/p-blackswan/grimoire/internal/health"
)

func serveCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Hydrate the engine, start background jobs and serve the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			cfg, logger := rt.cfg, rt.logger

			if listenAddr != "" {
				cfg.APIListenAddr = listenAddr
			}

			logger.Info().
				Str("environment", cfg.Environment).
				Str("store", cfg.StoreBackend).
				Str("oracle", cfg.OracleProvider).
				Str("api_addr", cfg.APIListenAddr).
				Msg("starting grimoire")

			report, err := rt.engine.Ready(ctx)
			if err != nil {
				return fmt.Errorf("hydrate: %w", err)
			}
			if len(report.Resets) > 0 {
				logger.Warn().Strs("entities", report.Resets).Msg("corrupt entities were reset to defaults")
			}

			checker := health.NewChecker(logger)
			checker.Register("store", health.PingCheck(rt.store))
			checker.Register("engine", health.FlagCheck(rt.engine.IsReady))
			checker.Register("scheduler", health.FlagCheck(func() bool {
				return rt.engine.JobRunning(engine.JobTournament)
			}))

			server := api.NewServer(api.ServerConfig{
				ListenAddr:      cfg.APIListenAddr,
				AuthConfig:      api.AuthConfig{Mode: cfg.APIAuthMode, APIKey: cfg.APIKey},
				RateLimit:       api.RateLimitConfig{RPS: cfg.APIRateLimitRPS, Burst: cfg.APIRateLimitBurst},
				CORSOrigins:     cfg.CORSOriginList(),
				ShutdownTimeout: cfg.APIShutdownTimeout,
			}, rt.engine, checker, rt.metrics, logger)

			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
			case err := <-errCh:
				logger.Error().Err(err).Msg("api server error")
				cancel()
				return fmt.Errorf("api server: %w", err)
			}

			cancel()
			if err := server.Shutdown(); err != nil {
				logger.Error().Err(err).Msg("api server shutdown error")
			}
			logger.Info().Msg("grimoire stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "API listen address (overrides API_LISTEN_ADDR)")
	return cmd
}
