package main

import (
	"bufio"
	"fmt"
	"strings"

	"enumchron/internal/batch"
	"enumchron/internal/inventory"
	"enumchron/internal/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	samples      int
	showPatterns bool
)

// parseCmd parses descriptions given on the command line or stdin
var parseCmd = &cobra.Command{
	Use:   "parse [description...]",
	Short: "Show the fields derived from descriptions",
	Long: `Parses each argument as an item description and prints the matched
rule and derived fields. With no arguments, reads one description per line
from stdin.

Example:
  enumchron parse "v.30 (Nov-Feb 1996)" "v.12 no.3 (1995 Jan)"`,
	RunE: runParse,
}

// classifyCmd reports rule coverage for an export
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Report how many export rows each rule matches, without API calls",
	Args:  cobra.NoArgs,
	RunE:  runClassify,
}

// rulesCmd lists the parsing rules
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List description rules in priority order",
	Args:  cobra.NoArgs,
	RunE:  runRules,
}

func runParse(cmd *cobra.Command, args []string) error {
	cascade, err := cfg.Cascade()
	if err != nil {
		return err
	}

	descs := args
	if len(descs) == 0 {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				descs = append(descs, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read descriptions: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	for _, desc := range descs {
		res, ok := cascade.Parse(desc)
		ui.RenderParse(out, desc, res, ok)
	}
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	if inputPath != "" {
		cfg.Files.Input = inputPath
	}
	cascade, err := cfg.Cascade()
	if err != nil {
		return err
	}
	sheet, err := inventory.LoadFile(cfg.Files.Input)
	if err != nil {
		return err
	}
	logger.Debug("Classifying export", zap.String("path", cfg.Files.Input), zap.Int("rows", len(sheet.Rows)))

	ui.RenderCoverage(cmd.OutOrStdout(), batch.Classify(cascade, sheet.Rows, samples))
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	cascade, err := cfg.Cascade()
	if err != nil {
		return err
	}
	ui.RenderRules(cmd.OutOrStdout(), cascade.Rules(), showPatterns)
	return nil
}
