// Package ai defines the contract between the enrichment service and the
// text-generation providers.
package ai

import (
	"context"
	"strings"
)

const (
	MinScore = 1
	MaxScore = 10
)

// Assessment is the quality evaluation of one applicant snapshot.
type Assessment struct {
	Summary   string
	Score     int
	Issues    []string
	FollowUps []string
}

// Request carries the instruction and the serialized snapshot.
type Request struct {
	Instruction string
	Payload     string
}

// Response holds a structured assessment when the provider produced one, and
// the raw text otherwise.
type Response struct {
	Assessment *Assessment
	Text       string
}

// Provider is a single request/response text-generation backend.
type Provider interface {
	Name() string
	Model() string
	// SupportsStructuredOutput reports whether Generate returns schema-validated
	// assessments. Other providers are asked for the labelled text format.
	SupportsStructuredOutput() bool
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Normalize trims every field, drops empty entries and clears an issues
// list that only says there are none.
func (a *Assessment) Normalize() {
	a.Summary = strings.Join(strings.Fields(a.Summary), " ")
	a.Issues = cleanList(a.Issues)
	if len(a.Issues) == 1 && isNone(a.Issues[0]) {
		a.Issues = nil
	}
	a.FollowUps = cleanList(a.FollowUps)
}

// Validate checks the fields the applicant record cannot do without.
func (a *Assessment) Validate() error {
	if a.Summary == "" {
		return &ParseError{Reason: "summary is empty"}
	}
	if a.Score < MinScore || a.Score > MaxScore {
		return &ParseError{Reason: "score is outside 1-10"}
	}
	return nil
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(trimBullet(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func isNone(s string) bool {
	s = strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".'\"")
	return s == "none" || s == "n/a" || s == "no issues"
}
