package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"enumchron/internal/alma"
	"enumchron/internal/batch"
	"enumchron/internal/inventory"
	"enumchron/internal/logging"
	"enumchron/internal/store"
	"enumchron/internal/ui"
	"enumchron/internal/usage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	inputPath  string
	filledPath string
	dryRun     bool
	overwrite  bool
	limit      int
	location   string
	noProgress bool
)

// runCmd executes the batch job
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fill enumeration/chronology for every row of the export",
	Long: `Processes the export one row at a time:
  1. Parse the description; unmatched rows stay in the export
  2. GET the item, skip it if it already has enumeration/chronology
  3. PUT the item with the derived fields
  4. Append filled rows to the filled CSV and rewrite the export

A 429 from the API (per-second or daily threshold) stops the run; everything
not yet done stays in the export for the next run.`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

// applyRunFlags folds run flags into the loaded config. --overwrite only
// overrides the config when given explicitly.
func applyRunFlags(cmd *cobra.Command) {
	if inputPath != "" {
		cfg.Files.Input = inputPath
	}
	if filledPath != "" {
		cfg.Files.Filled = filledPath
	}
	if cmd.Flags().Changed("overwrite") {
		cfg.Batch.Overwrite = overwrite
	}
	if limit > 0 {
		cfg.Batch.Limit = limit
	}
	if location != "" {
		cfg.Batch.Location = location
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if !dryRun {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := notifyShutdown(cancel)
	defer stop()

	cascade, err := cfg.Cascade()
	if err != nil {
		return err
	}

	sheet, err := inventory.LoadFile(cfg.Files.Input)
	if err != nil {
		return err
	}
	rows, _ := sheet.Select(cfg.Batch.Location, cfg.Batch.Limit)
	logger.Info("Loaded export",
		zap.String("path", cfg.Files.Input),
		zap.Int("rows", len(sheet.Rows)),
		zap.Int("selected", len(rows)))

	ledger, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer ledger.Close()

	tracker, err := usage.NewTracker(cfg.Files.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracker.Save(); err != nil {
			logger.Warn("Failed to save usage counters", zap.Error(err))
		}
	}()
	ctx = usage.NewContext(ctx, tracker)

	runID, err := ledger.BeginRun(ctx, cfg.Files.Input, dryRun)
	if err != nil {
		return err
	}
	ctx = usage.WithRun(ctx, runID)

	runner := &batch.Runner{
		Cascade:  cascade,
		Ledger:   ledger,
		Reporter: ui.NewProgressReporter(cmd.ErrOrStderr(), noProgress),
		Options:  batch.Options{DryRun: dryRun, Overwrite: cfg.Batch.Overwrite},
		Logger:   logger,
		RunID:    runID,
	}

	if !dryRun {
		client, err := alma.NewClient(alma.Config{
			BaseURL:    cfg.Alma.BaseURL,
			APIKey:     cfg.Alma.APIKey,
			Timeout:    cfg.GetTimeout(),
			Interval:   cfg.GetInterval(),
			MaxRetries: cfg.Alma.MaxRetries,
			UserAgent:  cfg.Alma.UserAgent,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		runner.Items = client

		errorLog, closeErrorLog, err := logging.NewErrorLog(cfg.Files.ErrorLog)
		if err != nil {
			return err
		}
		defer closeErrorLog()
		runner.ErrorLog = errorLog
	}

	summary, runErr := runner.Run(ctx, rows)

	if !dryRun {
		if err := saveProgress(sheet, summary); err != nil {
			return err
		}
	}
	if err := ledger.FinishRun(context.WithoutCancel(ctx), runID, summary.Counts, summary.Halted); err != nil {
		logger.Warn("Failed to finish run in ledger", zap.Error(err))
	}

	ui.RenderSummary(cmd.OutOrStdout(), summary, dryRun)
	if remaining, _, ok := tracker.Remaining(); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Alma daily API calls remaining: %d\n", remaining)
	}

	if runErr != nil {
		if alma.IsRateLimited(runErr) {
			return fmt.Errorf("stopped by Alma rate limit; re-run later to continue: %w", runErr)
		}
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	return nil
}

// saveProgress appends filled rows and rewrites the export with the rest.
func saveProgress(sheet *inventory.Sheet, summary *batch.Summary) error {
	if err := inventory.AppendFilled(cfg.Files.Filled, sheet.Header, summary.Filled, time.Now()); err != nil {
		return fmt.Errorf("failed to write filled rows: %w", err)
	}
	remaining := sheet.Without(summary.Resolved)
	if err := inventory.WriteRemaining(cfg.Files.Input, sheet.Header, remaining); err != nil {
		return fmt.Errorf("failed to rewrite export: %w", err)
	}
	logger.Info("Saved progress",
		zap.String("filled", cfg.Files.Filled),
		zap.Int("filled_rows", len(summary.Filled)),
		zap.Int("remaining_rows", len(remaining)))
	return nil
}

// notifyShutdown cancels on SIGINT/SIGTERM until the returned stop is called.
func notifyShutdown(cancel context.CancelFunc) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
