package eligibility

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spigell/shortlister/internal/snapshot"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

type compiledRegion struct {
	name     string
	keywords []string
}

// compileBlacklist normalizes entries so they match on the same word
// boundaries as region keywords.
func compileBlacklist(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, b := range entries {
		if b = normalizeLocation(b); strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return out
}

func compileRegions(regions []Region) []compiledRegion {
	out := make([]compiledRegion, 0, len(regions))
	for _, r := range regions {
		cr := compiledRegion{name: r.Name}
		for _, k := range r.Keywords {
			if k = normalizeLocation(k); strings.TrimSpace(k) != "" {
				cr.keywords = append(cr.keywords, k)
			}
		}
		out = append(out, cr)
	}
	return out
}

// normalizeLocation lowercases, drops dots and turns every other run of
// punctuation into a single space. The result is padded so that keywords can
// be matched on word boundaries with a plain substring check.
func normalizeLocation(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), ".", "")
	s = strings.TrimSpace(nonAlnum.ReplaceAllString(s, " "))
	return " " + s + " "
}

func (e *Evaluator) location(personal *snapshot.Personal) Reason {
	if personal == nil {
		return Reason{Text: "No personal details provided"}
	}

	raw := strings.TrimSpace(personal.Location)
	if raw == "" {
		return Reason{Text: "No location provided"}
	}

	normalized := normalizeLocation(raw)
	for _, b := range e.blacklist {
		if strings.Contains(normalized, b) {
			return Reason{Text: fmt.Sprintf("%s is excluded (matches %q)", raw, strings.TrimSpace(b))}
		}
	}

	for _, r := range e.regions {
		for _, k := range r.keywords {
			if strings.Contains(normalized, k) {
				return Reason{Pass: true, Text: fmt.Sprintf("%s is in an approved region (%s)", raw, r.name)}
			}
		}
	}

	return Reason{Text: fmt.Sprintf("%s is not in an approved region", raw)}
}
