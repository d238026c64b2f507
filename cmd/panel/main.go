// Package main is the entry point for the Protolink control panel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const serviceName = "protolink-panel"

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	host       string
	port       int
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "panel",
		Short: "Control panel for a Protolink Modbus TCP I/O module",
		Long: `panel connects to a single Modbus TCP I/O module, polls its analog
inputs, digital inputs and relays every 500ms, and lets an operator
switch relays from a terminal UI, a REST API or MQTT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: ./config.yaml, ./config/, /etc/protolink-panel/)")
	rootCmd.PersistentFlags().StringVar(&flags.host, "host", "", "device host, overrides device.host")
	rootCmd.PersistentFlags().IntVar(&flags.port, "port", 0, "device port, overrides device.port")

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newTUICmd(flags))
	rootCmd.AddCommand(newMapCmd(flags))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", serviceName, version, commit)
			return err
		},
	}
}
