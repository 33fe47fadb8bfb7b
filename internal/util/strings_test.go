package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"newlines folded", "line one\n\tline two\n", 40, "line one line two"},
		{"folded before truncation", "a\n\n\nb c d e f g", 8, "a b c..."},
		{"small maxLen returns ellipsis", "hello", 3, "..."},
		{"negative maxLen returns ellipsis", "hello", -1, "..."},
		{"empty string stays empty", "", 2, ""},
		{"whitespace only becomes empty", " \n\t ", 10, ""},
		{"unicode counted by rune", "日本語テスト", 5, "日本..."},
		{"mixed ascii and unicode", "hello日本語world", 10, "hello日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.input, tt.maxLen)
			if got != tt.expected {
				t.Errorf("Summarize(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	tests := []struct {
		name     string
		input    string
		maxWidth int
		want     string
	}{
		{name: "plain string unchanged", input: "REVIEWING", maxWidth: 20, want: "REVIEWING"},
		{name: "plain string truncated", input: "Reviewing draft, attempt 2", maxWidth: 12, want: "Reviewing..."},
		{name: "tiny width", input: "REVIEWING", maxWidth: 2, want: "..."},
		{name: "styled string kept when it fits", input: status.Render("ERROR"), maxWidth: 10, want: status.Render("ERROR")},
		{name: "styled string truncated", input: status.Render("Generation timed out after 30m"), maxWidth: 10},
		{name: "wide characters", input: "日本語テスト", maxWidth: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateANSI(tt.input, tt.maxWidth)
			if w := lipgloss.Width(got); w > max(tt.maxWidth, 3) {
				t.Errorf("TruncateANSI() width = %d, exceeds %d", w, tt.maxWidth)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("TruncateANSI(%q, %d) = %q, want %q", tt.input, tt.maxWidth, got, tt.want)
			}
		})
	}
}
