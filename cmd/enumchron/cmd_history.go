package main

import (
	"context"

	"enumchron/internal/store"
	"enumchron/internal/ui"
	"enumchron/internal/usage"

	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd lists ledger runs
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent runs, or the item updates of one run",
	Long: `Without arguments, lists the most recent runs from the ledger.
With a run id (or a unique prefix of one), lists what happened to each row
in that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

// usageCmd shows API usage counters
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show Alma API call counters and the remaining daily quota",
	Args:  cobra.NoArgs,
	RunE:  runUsage,
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ledger, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer ledger.Close()

	if len(args) == 0 {
		runs, err := ledger.Runs(ctx, historyLimit)
		if err != nil {
			return err
		}
		ui.RenderRuns(cmd.OutOrStdout(), runs)
		return nil
	}

	runID, err := ledger.ResolveRunID(ctx, args[0])
	if err != nil {
		return err
	}
	records, err := ledger.Items(ctx, runID)
	if err != nil {
		return err
	}
	ui.RenderItems(cmd.OutOrStdout(), records)
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	tracker, err := usage.NewTracker(cfg.Files.StateDir)
	if err != nil {
		return err
	}
	remaining, at, ok := tracker.Remaining()
	ui.RenderUsage(cmd.OutOrStdout(), tracker.Stats(), remaining, at, ok)
	return nil
}
