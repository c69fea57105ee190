// Package util provides text helpers shared by the command-line output.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "..."

// Truncate shortens s to at most width terminal columns, ending it with
// Ellipsis when anything was cut. ANSI styling and wide runes are measured
// by their visible width, so styled cells keep their escape sequences.
func Truncate(s string, width int) string {
	if width <= len(Ellipsis) {
		return Ellipsis
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, Ellipsis)
}

// OneLine collapses runs of whitespace, including newlines, into single
// spaces so multi-line values such as command output fit in a table cell.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Cell prepares an arbitrary value for a table column of the given width.
// A width of zero or less leaves the length alone.
func Cell(s string, width int) string {
	s = OneLine(s)
	if width <= 0 {
		return s
	}
	return Truncate(s, width)
}
