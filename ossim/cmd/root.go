// Package cmd provides the command-line interface of the simulator.
package cmd

import (
	"github.com/sarchlab/ossim/config"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// NewRootCmd creates the command that runs a simulation when called without
// any subcommands.
func NewRootCmd() *cobra.Command {
	opts := config.Default()

	rootCmd := &cobra.Command{
		Use:   "ossim",
		Short: "Simulates resource allocation and deadlock resolution.",
		Long: `ossim runs a controller that hands out instances of shared ` +
			`resources to a population of workers, detects deadlocks on a ` +
			`virtual clock and resolves them by terminating a worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &opts)
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true

			return runSimulation(cmd, cfg)
		},
	}

	bindFlags(rootCmd, &opts)
	rootCmd.AddCommand(newReportCmd())

	return rootCmd
}

// Execute runs the root command and exits with 0 on success and 1 on any
// error.
func Execute() {
	err := NewRootCmd().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
