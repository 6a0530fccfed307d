package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Theme defines the visual styling of CLI output.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the default theme.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// printer writes command output, styled when w is a terminal.
type printer struct {
	w      io.Writer
	styled bool
	theme  Theme
}

func newPrinter(w io.Writer) *printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &printer{w: w, styled: styled, theme: DefaultTheme()}
}

func (p *printer) style(c lipgloss.Color, bold bool, s string) string {
	if !p.styled {
		return s
	}
	return lipgloss.NewStyle().Foreground(c).Bold(bold).Render(s)
}

func (p *printer) title(s string) string { return p.style(p.theme.Primary, true, s) }
func (p *printer) muted(s string) string { return p.style(p.theme.Muted, false, s) }
func (p *printer) good(s string) string  { return p.style(p.theme.Success, true, s) }
func (p *printer) warn(s string) string  { return p.style(p.theme.Warning, true, s) }
func (p *printer) bad(s string) string   { return p.style(p.theme.Error, true, s) }

// level colors a risk level or health status.
func (p *printer) level(s string) string {
	switch s {
	case "low", "GREEN", "succeeded", "resolved":
		return p.good(s)
	case "medium", "YELLOW", "skip":
		return p.warn(s)
	case "high", "RED", "failed", "timed_out", "escalate":
		return p.bad(s)
	}
	return s
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) println(args ...any) {
	fmt.Fprintln(p.w, args...)
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
