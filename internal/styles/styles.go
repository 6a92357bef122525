// Package styles renders zapbuild's terminal output.
package styles

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zapbuilder/zapbuild/internal/step"
)

var (
	PrimaryColor = lipgloss.Color("#A78BFA") // violet-400
	SuccessColor = lipgloss.Color("#10B981")
	WarningColor = lipgloss.Color("#F59E0B")
	ErrorColor   = lipgloss.Color("#F87171")
	MutedColor   = lipgloss.Color("#9CA3AF")
	BorderColor  = lipgloss.Color("#6B7280")
	InfoColor    = lipgloss.Color("#60A5FA")

	Primary = lipgloss.NewStyle().Foreground(PrimaryColor)
	Success = lipgloss.NewStyle().Foreground(SuccessColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Info    = lipgloss.NewStyle().Foreground(InfoColor)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor)

	// Output is the gutter in front of script output lines.
	Output = lipgloss.NewStyle().
		Foreground(MutedColor).
		SetString("│")
)

// StatusIcon returns the glyph for a step status.
func StatusIcon(s step.Status) string {
	switch s {
	case step.Completed:
		return Success.Render("✓")
	case step.Failed:
		return Error.Render("✗")
	case step.InProgress:
		return Info.Render("●")
	default:
		return Muted.Render("○")
	}
}

// StatusText renders a status name in its color.
func StatusText(s step.Status) string {
	switch s {
	case step.Completed:
		return Success.Render(string(s))
	case step.Failed:
		return Error.Render(string(s))
	case step.InProgress:
		return Info.Render(string(s))
	default:
		return Muted.Render(string(s))
	}
}

func SuccessMsg(format string, a ...any) string {
	return Success.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func WarnMsg(format string, a ...any) string {
	return Warning.Render("!") + " " + fmt.Sprintf(format, a...)
}

func ErrorMsg(format string, a ...any) string {
	return Error.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func InfoMsg(format string, a ...any) string {
	return Primary.Render("●") + " " + fmt.Sprintf(format, a...)
}

// Table renders rows under headers with rounded borders.
func Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true).
		Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(BorderColor)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}

// Indent prefixes every line of s with the output gutter.
func Indent(s string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = Output.String() + " " + l
	}
	return strings.Join(lines, "\n")
}
