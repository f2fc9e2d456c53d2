package utils

import "strings"

// Ellipsis is appended to text shortened by the truncation helpers.
const Ellipsis = "..."

// TruncateForLog shortens the provided string to the specified limit, appending an ellipsis when truncated.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + Ellipsis
}

// TruncateWords keeps at most limit whitespace-separated words of s. The
// second return value reports whether anything was cut.
func TruncateWords(s string, limit int) (string, bool) {
	words := strings.Fields(s)
	if limit <= 0 || len(words) <= limit {
		return strings.Join(words, " "), false
	}
	return strings.Join(words[:limit], " ") + Ellipsis, true
}
