// Command buddysim runs the motion and load cell cores offline: step
// generation, filter responses, simulated probes and bed access.
package main

import (
	"fmt"
	"os"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/logger"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "buddysim",
		Short:        "Offline simulator for the stepping and load cell cores",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := logger.Init(&cfg.Log); err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "Configuration file path")

	root.AddCommand(
		newStepsCmd(a),
		newFilterCmd(a),
		newProbeCmd(a),
		newBedletCmd(a),
	)
	return root
}
