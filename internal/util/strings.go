// Package util provides small string helpers shared by the CLI and the
// runtime adapters.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// FirstLine returns s up to its first newline, with "..." appended when
// anything was cut. Multi-line shell commands are shown this way.
func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i]) + " ..."
	}
	return s
}

// TruncateANSI truncates s to maxWidth visual columns, adding "..." if
// truncated. Escape codes and wide characters are accounted for.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// StripANSI removes terminal escape sequences, so that process output
// colored by dev servers can be matched as plain text.
func StripANSI(s string) string {
	return ansi.Strip(s)
}
