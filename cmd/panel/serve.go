package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run headless with the REST API and MQTT bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			logger, closer := newLogger(cfg.Logging)
			logger.Info().Str("env", cfg.Environment).Msg("Starting Protolink control panel")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := newApp(cfg, logger)
			a.logCloser = closer
			if err := a.start(ctx); err != nil {
				a.stop(context.Background())
				return err
			}

			<-ctx.Done()
			logger.Info().Msg("Shutdown signal received, initiating graceful shutdown...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.stop(shutdownCtx)
			return nil
		},
	}
}
