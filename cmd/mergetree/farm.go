package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brunokim/merge-tree/farm"
)

func farmCmd(load loader) *cobra.Command {
	var (
		rounds     int
		seed       uint64
		dumpConfig bool
		nocolor    bool
	)

	cmd := &cobra.Command{
		Use:   "farm",
		Short: "Run randomized revert scenarios",
		Long: `Run randomized scenarios where replica B reverts its own operations while
other replicas keep editing, and check that all replicas converge.

Examples:
  mergetree farm
  mergetree farm --rounds 100 --seed 42
  mergetree farm --dump-config > .mergetree.yaml
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("rounds") {
				cfg.Farm.Rounds = rounds
			}
			if cmd.Flags().Changed("seed") {
				cfg.Farm.Seed = seed
			}
			if nocolor {
				color.NoColor = true //nolint:reassign // intentional override of library global
			}
			out := cmd.OutOrStdout()
			if dumpConfig {
				return cfg.Write(out)
			}
			report, err := farm.Run(cmd.Context(), cfg.Farm, logger)
			printReport(out, report, err)
			return err
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 0, "number of rounds per case (overrides config)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (overrides config)")
	cmd.Flags().BoolVar(&dumpConfig, "dump-config", false, "print the effective configuration and exit")
	cmd.Flags().BoolVar(&nocolor, "no-color", false, "disable colored output")
	return cmd
}

func printReport(w io.Writer, report *farm.Report, err error) {
	if report == nil {
		return
	}
	status := color.New(color.FgGreen).Sprint("OK")
	if err != nil {
		status = color.New(color.FgRed).Sprint("FAILED")
	}
	fmt.Fprintf(w, "run %s: %s\n", report.RunID, status)
	fmt.Fprintf(w, "  cases:     %d\n", report.Cases)
	fmt.Fprintf(w, "  rounds:    %s\n", humanize.Comma(int64(report.Rounds)))
	fmt.Fprintf(w, "  ops:       %s\n", humanize.Comma(int64(report.Ops)))
	fmt.Fprintf(w, "  reverted:  %s\n", humanize.Comma(int64(report.Reverted)))
	if report.SnapshotBytes > 0 {
		fmt.Fprintf(w, "  snapshots: %s\n", humanize.Bytes(uint64(report.SnapshotBytes)))
	}
	fmt.Fprintf(w, "  duration:  %s\n", report.Duration.Round(time.Microsecond))
}
