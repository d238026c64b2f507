package main

import (
	"fmt"
	"strings"

	"github.com/nexus-edge/protolink-panel/internal/adapter/config"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/spf13/cobra"
)

func newMapCmd(flags *rootFlags) *cobra.Command {
	var (
		outPath   string
		checkPath string
	)

	cmd := &cobra.Command{
		Use:   "map",
		Short: "Print or check the device register map",
		Long: `map prints the register map as YAML. With --out it writes the map to a
file; with --check it compares a previously exported file against the
built-in map and fails on any difference.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			if checkPath != "" {
				file, err := config.LoadRegisterMapFile(checkPath)
				if err != nil {
					return err
				}
				if diff := file.Diff(domain.ProtolinkMap()); len(diff) > 0 {
					return fmt.Errorf("register map mismatch:\n  %s", strings.Join(diff, "\n  "))
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s matches the register map\n", checkPath)
				return err
			}

			if outPath != "" {
				if err := config.SaveRegisterMap(outPath, cfg.Device, domain.ProtolinkMap()); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
				return err
			}

			return config.WriteRegisterMap(cmd.OutOrStdout(), cfg.Device, domain.ProtolinkMap())
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the map to this file")
	cmd.Flags().StringVar(&checkPath, "check", "", "compare this file against the map")
	cmd.MarkFlagsMutuallyExclusive("out", "check")
	return cmd
}
