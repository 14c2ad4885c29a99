package ui

import (
	"fmt"
	"io"
	"strings"

	"enumchron/internal/batch"

	"github.com/charmbracelet/bubbles/progress"
)

// ProgressReporter shows batch progress. On a terminal it redraws a single
// progress bar line; otherwise it prints a plain line every few rows.
type ProgressReporter struct {
	out         io.Writer
	bar         progress.Model
	styles      Styles
	interactive bool
	total       int
	every       int
	counts      map[batch.Status]int
}

// NewProgressReporter creates a reporter writing to out. plain forces the
// line-based output even on a terminal.
func NewProgressReporter(out io.Writer, plain bool) *ProgressReporter {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return &ProgressReporter{
		out:         out,
		bar:         bar,
		styles:      DefaultStyles(),
		interactive: !plain && IsTerminal(out),
		counts:      make(map[batch.Status]int),
	}
}

// Start implements batch.Reporter.
func (p *ProgressReporter) Start(total int) {
	p.total = total
	p.every = total / 20
	if p.every < 1 {
		p.every = 1
	}
	if !p.interactive {
		fmt.Fprintf(p.out, "processing %d rows\n", total)
	}
}

// Step implements batch.Reporter.
func (p *ProgressReporter) Step(done int, outcome batch.Outcome) {
	p.counts[outcome.Status]++

	if p.interactive {
		fmt.Fprintf(p.out, "\r%s %d/%d  %s", p.bar.ViewAs(p.fraction(done)), done, p.total, p.countsLine())
		return
	}
	if done%p.every == 0 || done == p.total || outcome.Status == batch.StatusHalted {
		fmt.Fprintf(p.out, "%d/%d rows  %s\n", done, p.total, p.countsLine())
	}
}

// Finish implements batch.Reporter.
func (p *ProgressReporter) Finish(summary *batch.Summary) {
	if p.interactive {
		fmt.Fprintln(p.out)
	}
}

func (p *ProgressReporter) fraction(done int) float64 {
	if p.total == 0 {
		return 1
	}
	return float64(done) / float64(p.total)
}

func (p *ProgressReporter) countsLine() string {
	parts := []string{
		p.styles.Success.Render(fmt.Sprintf("filled %d", p.counts[batch.StatusFilled])),
		p.styles.Muted.Render(fmt.Sprintf("unmatched %d", p.counts[batch.StatusUnmatched])),
		p.styles.Info.Render(fmt.Sprintf("skipped %d", p.counts[batch.StatusSkipped])),
		p.styles.Warning.Render(fmt.Sprintf("failed %d", p.counts[batch.StatusFailed])),
	}
	if n := p.counts[batch.StatusHalted]; n > 0 {
		parts = append(parts, p.styles.Error.Render("halted"))
	}
	return strings.Join(parts, "  ")
}
