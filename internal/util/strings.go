// Package util holds the string helpers the TUI renders with.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// SingleLine collapses every run of whitespace, newlines included, into
// one space.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TailANSI keeps the last maxWidth visual columns of s, prefixing "..."
// when anything was cut. Escape codes are stripped from a cut string.
func TailANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	runes := []rune(ansi.Strip(s))
	budget := maxWidth - 3
	start := len(runes)
	for start > 0 && ansi.StringWidth(string(runes[start-1:])) <= budget {
		start--
	}
	return "..." + string(runes[start:])
}

// TruncateANSI keeps the first maxWidth visual columns of s, ending in
// "..." when anything was cut. Escape codes survive the cut.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}
