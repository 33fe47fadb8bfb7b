package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// Summarize folds s onto a single line and cuts it to maxLen runes, marking
// the cut with "...". Tool output and multi-line CLI messages go through it
// before they are shown as progress.
func Summarize(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxLen <= len(ellipsis) {
		if s == "" {
			return ""
		}
		return ellipsis
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// TruncateANSI cuts a possibly styled string to maxWidth terminal columns.
// Escape sequences are kept intact and wide characters count double.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= len(ellipsis) {
		return ellipsis
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, ellipsis)
}
