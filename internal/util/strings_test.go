package util

import (
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "short string unchanged",
			input:    "hello",
			maxLen:   10,
			expected: "hello",
		},
		{
			name:     "exact length unchanged",
			input:    "hello",
			maxLen:   5,
			expected: "hello",
		},
		{
			name:     "long string truncated",
			input:    "hello world",
			maxLen:   8,
			expected: "hello...",
		},
		{
			name:     "tiny limit cuts without ellipsis",
			input:    "hello",
			maxLen:   2,
			expected: "he",
		},
		{
			name:     "zero limit returns empty",
			input:    "hello",
			maxLen:   0,
			expected: "",
		},
		{
			name:     "short string under tiny limit unchanged",
			input:    "hi",
			maxLen:   2,
			expected: "hi",
		},
		{
			name:     "unicode characters counted correctly",
			input:    "日本語テスト",
			maxLen:   5,
			expected: "日本...",
		},
		{
			name:     "mixed ascii and unicode",
			input:    "hello日本語world",
			maxLen:   10,
			expected: "hello日本...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateString(tt.input, tt.maxLen)
			if got != tt.expected {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
			if n := utf8.RuneCountInString(got); tt.maxLen >= 0 && n > tt.maxLen {
				t.Errorf("result has %d runes, limit %d", n, tt.maxLen)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	redStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	if got := TruncateANSI("hello", 10); got != "hello" {
		t.Errorf("TruncateANSI() = %q, want unchanged", got)
	}
	if got := TruncateANSI("hello world", 8); got != "hello..." {
		t.Errorf("TruncateANSI() = %q, want %q", got, "hello...")
	}
	if got := TruncateANSI(redStyle.Render("hello world"), 8); lipgloss.Width(got) > 8 {
		t.Errorf("styled result width %d exceeds 8", lipgloss.Width(got))
	}
}

func TestSingleLine(t *testing.T) {
	got := SingleLine("  fix\n the   typo\t now ")
	if got != "fix the typo now" {
		t.Errorf("SingleLine() = %q", got)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"0123456789", 7, "...6789"},
		{"0123456789", 2, "89"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := Tail(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("Tail(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}
