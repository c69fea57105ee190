package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))

	statusColors = map[taskmanager.Status]lipgloss.Color{
		taskmanager.StatusPending:   lipgloss.Color("#9CA3AF"),
		taskmanager.StatusReady:     lipgloss.Color("#60A5FA"),
		taskmanager.StatusClaimed:   lipgloss.Color("#FBBF24"),
		taskmanager.StatusRunning:   lipgloss.Color("#10B981"),
		taskmanager.StatusCompleted: lipgloss.Color("#A78BFA"),
		taskmanager.StatusFailed:    lipgloss.Color("#F87171"),
		taskmanager.StatusCancelled: lipgloss.Color("#FB923C"),
		taskmanager.StatusTimeout:   lipgloss.Color("#F87171"),
	}
)

// isTerminal reports whether w is an interactive terminal. Styling is
// dropped otherwise so piped output stays plain.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printer renders command output, styled only on a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, styled: isTerminal(w)}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) status(s taskmanager.Status) string {
	return p.render(lipgloss.NewStyle().Foreground(statusColors[s]), s.String())
}

func (p *printer) header(text string) {
	fmt.Fprintln(p.w, p.render(headerStyle, text))
}

func (p *printer) muted(text string) string {
	return p.render(mutedStyle, text)
}

// table prints rows in aligned columns. Widths are computed on the plain
// text so ANSI styling does not skew alignment.
func (p *printer) table(headers []string, rows [][]string, style func(col int, cell string) string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, render func(int, string) string) {
		var b strings.Builder
		for i, cell := range cells {
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			b.WriteString(render(i, cell))
			if i < len(cells)-1 {
				b.WriteString(pad + "  ")
			}
		}
		fmt.Fprintln(p.w, b.String())
	}

	line(headers, func(_ int, cell string) string { return p.render(headerStyle, cell) })
	for _, row := range rows {
		line(row, func(col int, cell string) string {
			if style == nil {
				return cell
			}
			return style(col, cell)
		})
	}
}
