// Package eligibility decides whether an applicant snapshot qualifies for the
// shortlist. Evaluate is pure; Shortlister persists the verdict.
package eligibility

import (
	"strings"
	"time"

	"github.com/spigell/shortlister/internal/snapshot"
)

// Reason is the outcome of one criterion.
type Reason struct {
	Pass bool
	Text string
}

// Verdict is the outcome of all criteria for one snapshot.
type Verdict struct {
	Qualifies    bool
	Experience   Reason
	Compensation Reason
	Location     Reason
	TotalYears   float64
	// Warnings lists experience entries that were skipped or adjusted.
	Warnings []string
}

// Reasoning renders the verdict as the multi-line text stored on a lead.
func (v Verdict) Reasoning() string {
	var b strings.Builder
	if v.Qualifies {
		b.WriteString("Candidate qualifies for shortlist:")
	} else {
		b.WriteString("Candidate does not qualify for shortlist:")
	}
	for _, line := range []struct {
		name string
		r    Reason
	}{
		{"Experience", v.Experience},
		{"Compensation", v.Compensation},
		{"Location", v.Location},
	} {
		b.WriteString("\n- " + line.name)
		if !line.r.Pass {
			b.WriteString(" (failed)")
		}
		b.WriteString(": " + line.r.Text)
	}
	return b.String()
}

// Failed lists the names of the criteria that did not pass.
func (v Verdict) Failed() []string {
	var out []string
	if !v.Experience.Pass {
		out = append(out, "experience")
	}
	if !v.Compensation.Pass {
		out = append(out, "compensation")
	}
	if !v.Location.Pass {
		out = append(out, "location")
	}
	return out
}

type Evaluator struct {
	criteria  Criteria
	now       func() time.Time
	regions   []compiledRegion
	blacklist []string
}

type Option func(*Evaluator)

// WithClock sets the source of "today" for open-ended and future dates.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

func New(c Criteria, opts ...Option) *Evaluator {
	e := &Evaluator{
		criteria: c.withDefaults().clone(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.regions = compileRegions(e.criteria.Regions)
	e.blacklist = compileBlacklist(e.criteria.Blacklist)
	return e
}

// Criteria returns a copy of the criteria in use.
func (e *Evaluator) Criteria() Criteria {
	return e.criteria.clone()
}

// Evaluate checks the three criteria. Absent sections produce failing reasons.
func (e *Evaluator) Evaluate(snap *snapshot.Snapshot) Verdict {
	if snap == nil {
		snap = &snapshot.Snapshot{}
	}

	var v Verdict
	v.Experience, v.TotalYears, v.Warnings = e.experience(snap.Experience)
	v.Compensation = e.compensation(snap.Salary)
	v.Location = e.location(snap.Personal)
	v.Qualifies = v.Experience.Pass && v.Compensation.Pass && v.Location.Pass
	return v
}

func (e *Evaluator) today() time.Time {
	now := e.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
