package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type label int

const (
	labelNone label = iota
	labelSummary
	labelScore
	labelIssues
	labelFollowUps
)

var (
	labelPattern  = regexp.MustCompile(`(?i)^(summary|score|issues|follow[- ]?ups)\s*:\s*(.*)$`)
	numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)
	bulletPattern = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)
)

// ParseText reads the labelled reply format:
//
//	Summary: <text>
//	Score: <integer>
//	Issues: <comma-separated list or 'None'>
//	Follow-Ups: <bullet list>
//
// Lines after a label continue that field. Summary and issue continuations are
// joined with a space; every follow-up line is its own question.
func ParseText(raw string) (*Assessment, error) {
	var (
		current   label
		summary   []string
		issues    []string
		followUps []string
		scoreText string
		seenScore bool
	)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
		line = strings.TrimLeft(line, "# ")

		if m := labelPattern.FindStringSubmatch(line); m != nil {
			current = labelOf(m[1])
			value := strings.TrimSpace(m[2])
			switch current {
			case labelSummary:
				summary = appendNonEmpty(summary, value)
			case labelScore:
				scoreText, seenScore = value, true
			case labelIssues:
				issues = appendNonEmpty(issues, value)
			case labelFollowUps:
				followUps = appendNonEmpty(followUps, value)
			}
			continue
		}

		if line == "" {
			continue
		}

		switch current {
		case labelSummary:
			summary = append(summary, line)
		case labelIssues:
			issues = append(issues, line)
		case labelFollowUps:
			followUps = append(followUps, line)
		}
	}

	if !seenScore {
		return nil, &ParseError{Reason: "no Score label", Raw: raw}
	}
	score, err := parseScore(scoreText)
	if err != nil {
		return nil, &ParseError{Reason: "invalid score", Raw: raw, Err: err}
	}

	a := &Assessment{
		Summary:   strings.Join(summary, " "),
		Score:     score,
		Issues:    splitIssues(issues),
		FollowUps: followUps,
	}
	a.Normalize()

	if a.Summary == "" {
		return nil, &ParseError{Reason: "no Summary label", Raw: raw}
	}
	return a, nil
}

// DecodeJSON reads a JSON assessment object, optionally wrapped in a code
// fence. Issues and follow-ups may be arrays or delimited strings.
func DecodeJSON(raw string) (*Assessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, &ParseError{Reason: "response is not a JSON object", Raw: raw, Err: err}
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		return nil, &ParseError{Reason: "score is missing or not a number", Raw: raw}
	}

	a := &Assessment{
		Summary:   coerceString(data["summary"]),
		Score:     int(math.Round(score)),
		Issues:    coerceList(data["issues"], true),
		FollowUps: coerceList(data["follow_ups"], false),
	}
	a.Normalize()
	return a, nil
}

func labelOf(name string) label {
	switch strings.ToLower(name) {
	case "summary":
		return labelSummary
	case "score":
		return labelScore
	case "issues":
		return labelIssues
	default:
		return labelFollowUps
	}
}

func parseScore(s string) (int, error) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no number in %q", s)
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

// splitIssues turns the issue lines into items. A single line is a comma list;
// bulleted lines are one issue each.
func splitIssues(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	bulleted := false
	for _, l := range lines {
		if bulletPattern.MatchString(l) {
			bulleted = true
			break
		}
	}
	if bulleted {
		return lines
	}
	return strings.Split(strings.Join(lines, " "), ",")
}

func appendNonEmpty(list []string, s string) []string {
	if s == "" {
		return list
	}
	return append(list, s)
}

func trimBullet(s string) string {
	return bulletPattern.ReplaceAllString(strings.TrimSpace(s), "")
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

// coerceList accepts a JSON array or a string. Strings are split on newlines,
// and on commas too when commaSeparated is set.
func coerceList(v any, commaSeparated bool) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, coerceString(item))
		}
		return out
	case string:
		var lines []string
		for _, l := range strings.Split(val, "\n") {
			lines = appendNonEmpty(lines, strings.TrimSpace(l))
		}
		if commaSeparated {
			return splitIssues(lines)
		}
		return lines
	case nil:
		return nil
	default:
		return []string{coerceString(val)}
	}
}
