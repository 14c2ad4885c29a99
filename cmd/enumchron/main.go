package main

import (
	"fmt"
	"os"
	"time"

	"enumchron/internal/config"
	"enumchron/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string
	apiKey     string
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "enumchron",
	Short: "Fill Alma item enumeration and chronology from descriptions",
	Long: `enumchron reads an Alma item export (CSV), derives enumeration
(volume, issue, part) and chronology (year, month or season, day) from each
item's free-text description, and writes them back to the item records
through the Alma Bibs API.

Rows that were filled are appended to a timestamped CSV; the export is
rewritten with the rows that still need work, so the job can be re-run
until the daily API quota allows it to finish.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.Alma.APIKey = apiKey
		}
		if timeout > 0 {
			cfg.Alma.Timeout = timeout.String()
		}

		logger, err = logging.NewConsole(logging.Options{
			Level:   cfg.Logging.Level,
			Format:  cfg.Logging.Format,
			Verbose: verbose,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Alma API key (or set ALMA_API_KEY env)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Per-request API timeout (default from config)")

	// Run flags
	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Item export CSV (default from config)")
	runCmd.Flags().StringVar(&filledPath, "filled", "", "CSV receiving filled rows (default from config)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and report without calling the API or writing files")
	runCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Update items that already have enumeration/chronology")
	runCmd.Flags().IntVar(&limit, "limit", 0, "Process at most this many rows")
	runCmd.Flags().StringVar(&location, "location", "", "Only process rows with this location")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Print plain progress lines instead of a bar")

	// Classify/rules flags
	classifyCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Item export CSV (default from config)")
	classifyCmd.Flags().IntVar(&samples, "samples", 20, "Number of unmatched descriptions to show")
	rulesCmd.Flags().BoolVar(&showPatterns, "patterns", false, "Show each rule's regular expression")

	// History flags
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(usageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
