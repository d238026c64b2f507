package main

import (
	"context"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/tui"
	"github.com/spf13/cobra"
)

func newTUICmd(flags *rootFlags) *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the interactive terminal panel",
		Long: `tui opens the operator panel in the terminal. The REST API and MQTT
bridge run alongside it when enabled in the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			// the alternate screen owns stdout
			cfg.Logging.Output = logFile
			if logFile == "" {
				cfg.Logging.Output = "discard"
			}
			logger, closer := newLogger(cfg.Logging)

			a := newApp(cfg, logger)
			a.logCloser = closer
			if err := a.start(cmd.Context()); err != nil {
				a.stop(context.Background())
				return err
			}

			runErr := tui.Run(a.panel, cfg.Device.Endpoint(), logger)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.stop(shutdownCtx)
			return runErr
		},
	}

	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file instead of discarding them")
	return cmd
}
