// Package ui renders progress and reports for the enumchron CLI.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Semantic colors
var (
	Primary     = lipgloss.Color("#101F38")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
	Destructive = lipgloss.Color("#e53935")
	Info        = lipgloss.Color("#2196F3")
	Muted       = lipgloss.Color("#8a94a6")
)

// Styles holds the text styles used in reports.
type Styles struct {
	Header  lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
}

// DefaultStyles returns the report styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f2f2f2")).Background(Primary),
		Bold:    lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(Muted),
		Success: lipgloss.NewStyle().Foreground(Success),
		Warning: lipgloss.NewStyle().Foreground(Warning),
		Error:   lipgloss.NewStyle().Foreground(Destructive).Bold(true),
		Info:    lipgloss.NewStyle().Foreground(Info),
	}
}

// IsTerminal reports whether w writes to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
