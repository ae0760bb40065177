// Package main provides the mergetree command, which exercises the revertible merge tree.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunokim/merge-tree/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "mergetree",
		Short:         "Collaborative text merge tree with undo",
		Long:          `mergetree runs randomized revert scenarios and replays editing scripts over replicated merge trees.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.mergetree.yaml or $HOME/.mergetree.yaml)")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, nil, err
		}
		logger, err := cfg.Logging.NewLogger(os.Stderr)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	cmd.AddCommand(farmCmd(load))
	cmd.AddCommand(replayCmd(load))
	cmd.AddCommand(versionCmd())
	return cmd
}

// loader reads the configuration and builds the logger of a command.
type loader func() (*config.Config, *slog.Logger, error)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mergetree %s\n", version)
		},
	}
}
