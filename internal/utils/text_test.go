package utils

import "testing"

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{
			name:   "returns empty when limit non-positive",
			input:  "hello world",
			limit:  0,
			expect: "",
		},
		{
			name:   "shorter than limit",
			input:  "hello",
			limit:  10,
			expect: "hello",
		},
		{
			name:   "truncates and adds ellipsis",
			input:  "hello world",
			limit:  5,
			expect: "hello...",
		},
		{
			name:   "trims surrounding whitespace",
			input:  "  spaced  ",
			limit:  5,
			expect: "space...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestTruncateWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		limit     int
		expect    string
		truncated bool
	}{
		{name: "under the cap", input: "one two three", limit: 5, expect: "one two three"},
		{name: "exactly the cap", input: "one two three", limit: 3, expect: "one two three"},
		{name: "collapses whitespace", input: " one\n two\tthree ", limit: 3, expect: "one two three"},
		{name: "over the cap", input: "one two three four", limit: 2, expect: "one two...", truncated: true},
		{name: "non-positive limit keeps text", input: "one two", limit: 0, expect: "one two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, truncated := TruncateWords(tt.input, tt.limit)
			if got != tt.expect || truncated != tt.truncated {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tt.expect, tt.truncated, got, truncated)
			}
		})
	}
}
