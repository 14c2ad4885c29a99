package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"enumchron/internal/batch"
	"enumchron/internal/enumchron"
	"enumchron/internal/store"
	"enumchron/internal/usage"
)

const timeFormat = "2006-01-02 15:04:05"

// RenderSummary writes the end-of-run report.
func RenderSummary(w io.Writer, summary *batch.Summary, dryRun bool) {
	s := DefaultStyles()
	var sb strings.Builder

	title := " Run summary "
	if dryRun {
		title = " Dry run summary "
	}
	sb.WriteString(s.Header.Render(title) + "\n")
	if summary.RunID != "" {
		sb.WriteString(s.Muted.Render("run "+summary.RunID) + "\n")
	}

	c := summary.Counts
	fmt.Fprintf(&sb, "  rows       %d\n", c.Total)
	fmt.Fprintf(&sb, "  %s\n", s.Success.Render(fmt.Sprintf("filled     %d", c.Filled)))
	fmt.Fprintf(&sb, "  %s\n", s.Muted.Render(fmt.Sprintf("unmatched  %d", c.Unmatched)))
	fmt.Fprintf(&sb, "  %s\n", s.Info.Render(fmt.Sprintf("skipped    %d", c.Skipped)))
	fmt.Fprintf(&sb, "  %s\n", s.Warning.Render(fmt.Sprintf("failed     %d", c.Failed)))
	if notReached := c.Total - c.Filled - c.Unmatched - c.Skipped - c.Failed; notReached > 0 {
		fmt.Fprintf(&sb, "  not run    %d\n", notReached)
	}
	if summary.Halted {
		sb.WriteString(s.Error.Render("Halted: API rate limit reached or run interrupted. Unprocessed rows were kept.") + "\n")
	}
	io.WriteString(w, sb.String())
}

// RenderParse writes the outcome of parsing one description.
func RenderParse(w io.Writer, desc string, res enumchron.Result, ok bool) {
	s := DefaultStyles()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", s.Bold.Render(fmt.Sprintf("%q", desc)))
	if !ok {
		sb.WriteString("  " + s.Warning.Render("no rule matched") + "\n")
		io.WriteString(w, sb.String())
		return
	}
	fmt.Fprintf(&sb, "  rule  %s\n", s.Info.Render(res.Rule))
	for i, v := range res.Fields.Values() {
		if v == "" {
			continue
		}
		fmt.Fprintf(&sb, "  %-8s %s\n", enumchron.Columns[i], v)
	}
	io.WriteString(w, sb.String())
}

// RenderRules lists rules in priority order.
func RenderRules(w io.Writer, rules []*enumchron.Rule, verbose bool) {
	s := DefaultStyles()
	var sb strings.Builder
	sb.WriteString(s.Header.Render(fmt.Sprintf(" %d rules, first match wins ", len(rules))) + "\n")

	width := 0
	for _, r := range rules {
		if n := len(r.Name()); n > width {
			width = n
		}
	}
	for i, r := range rules {
		fmt.Fprintf(&sb, "%3d  %-*s  %s\n", i+1, width, r.Name(), s.Muted.Render(r.Example()))
		if verbose {
			fmt.Fprintf(&sb, "     %s\n", r.Pattern())
		}
	}
	io.WriteString(w, sb.String())
}

// RenderCoverage writes a classify report.
func RenderCoverage(w io.Writer, cov batch.Coverage) {
	s := DefaultStyles()
	var sb strings.Builder

	pct := 0.0
	if described := cov.Total - cov.Empty; described > 0 {
		pct = float64(cov.Matched) * 100 / float64(described)
	}
	sb.WriteString(s.Header.Render(" Rule coverage ") + "\n")
	fmt.Fprintf(&sb, "  rows %d, matched %d (%.1f%%), no description %d\n",
		cov.Total, cov.Matched, pct, cov.Empty)

	for _, rc := range cov.ByRule {
		fmt.Fprintf(&sb, "  %6d  %s\n", rc.Count, rc.Rule)
	}
	if len(cov.Unmatched) > 0 {
		sb.WriteString("\n" + s.Bold.Render("Unmatched samples") + "\n")
		for _, row := range cov.Unmatched {
			fmt.Fprintf(&sb, "  %-8d %s\n", row.Line, s.Warning.Render(row.Description))
		}
	}
	io.WriteString(w, sb.String())
}

// RenderRuns lists ledger runs.
func RenderRuns(w io.Writer, runs []store.Run) {
	s := DefaultStyles()
	var sb strings.Builder
	if len(runs) == 0 {
		sb.WriteString(s.Muted.Render("No runs recorded.") + "\n")
		io.WriteString(w, sb.String())
		return
	}
	for _, r := range runs {
		state := s.Success.Render("done")
		switch {
		case r.Halted:
			state = s.Error.Render("halted")
		case r.FinishedAt.IsZero():
			state = s.Warning.Render("incomplete")
		}
		mode := ""
		if r.DryRun {
			mode = s.Muted.Render(" (dry run)")
		}
		fmt.Fprintf(&sb, "%s  %s  %s%s\n", shortID(r.ID), r.StartedAt.Local().Format(timeFormat), state, mode)
		fmt.Fprintf(&sb, "    %s: %d rows, %d filled, %d unmatched, %d skipped, %d failed\n",
			r.Input, r.Counts.Total, r.Counts.Filled, r.Counts.Unmatched, r.Counts.Skipped, r.Counts.Failed)
	}
	io.WriteString(w, sb.String())
}

// RenderItems lists the item records of one run.
func RenderItems(w io.Writer, records []store.ItemRecord) {
	s := DefaultStyles()
	var sb strings.Builder
	for _, rec := range records {
		status := rec.Status
		switch rec.Status {
		case store.StatusFilled:
			status = s.Success.Render(status)
		case store.StatusFailed, store.StatusHalted:
			status = s.Error.Render(status)
		default:
			status = s.Muted.Render(status)
		}
		fmt.Fprintf(&sb, "%-10s %-20s %s\n", status, rec.ItemPID, rec.Description)
		if rec.Barcode != "" {
			fmt.Fprintf(&sb, "           barcode %s\n", rec.Barcode)
		}
		if !rec.Fields.IsZero() {
			fmt.Fprintf(&sb, "           %s\n", formatFields(rec.Fields))
		}
		if !rec.Previous.IsZero() {
			fmt.Fprintf(&sb, "           %s\n", s.Muted.Render("was "+formatFields(rec.Previous)))
		}
		if rec.Error != "" {
			fmt.Fprintf(&sb, "           %s\n", s.Muted.Render(rec.Error))
		}
	}
	io.WriteString(w, sb.String())
}

// RenderUsage writes API usage counters.
func RenderUsage(w io.Writer, stats usage.AggregatedStats, remaining int, at time.Time, known bool) {
	s := DefaultStyles()
	var sb strings.Builder
	sb.WriteString(s.Header.Render(" Alma API usage ") + "\n")
	fmt.Fprintf(&sb, "  calls %d, failed %d\n", stats.Total.Calls, stats.Total.Failed)
	if known {
		fmt.Fprintf(&sb, "  daily quota remaining %s (as of %s)\n",
			s.Info.Render(fmt.Sprint(remaining)), at.Local().Format(timeFormat))
	} else {
		sb.WriteString("  daily quota remaining unknown\n")
	}
	writeCounts(&sb, "by method", stats.ByMethod)
	writeCounts(&sb, "by status", stats.ByStatus)
	writeCounts(&sb, "by day", stats.ByDay)
	io.WriteString(w, sb.String())
}

func writeCounts(sb *strings.Builder, label string, m map[string]usage.CallCounts) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(sb, "  %s\n", label)
	for _, k := range keys {
		fmt.Fprintf(sb, "    %-12s %d calls, %d failed\n", k, m[k].Calls, m[k].Failed)
	}
}

func formatFields(f enumchron.Fields) string {
	var parts []string
	for i, v := range f.Values() {
		if v != "" {
			parts = append(parts, enumchron.Columns[i]+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
