// Package result carries the outcome of one batch operation for one applicant.
package result

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result is returned by aggregate, materialize, evaluate and enrich. Reason is
// a human-readable line suitable for logs; Err is set when Status is failed.
type Result struct {
	ApplicantID string
	Operation   string
	Status      Status
	Reason      string
	Warnings    []string
	// Details holds per-part outcomes, e.g. one line per materialized section.
	Details []string
	Err     error
}

func Success(op, applicantID, reason string) Result {
	return Result{ApplicantID: applicantID, Operation: op, Status: StatusSuccess, Reason: reason}
}

func Skipped(op, applicantID, reason string) Result {
	return Result{ApplicantID: applicantID, Operation: op, Status: StatusSkipped, Reason: reason}
}

func Failed(op, applicantID string, err error) Result {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return Result{ApplicantID: applicantID, Operation: op, Status: StatusFailed, Reason: reason, Err: err}
}

// Warn appends a formatted warning and returns the result for chaining.
func (r Result) Warn(format string, args ...any) Result {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	return r
}

func (r Result) Failed() bool { return r.Status == StatusFailed }

func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", r.Operation, r.ApplicantID, r.Status)
	if r.Reason != "" {
		b.WriteString(" (" + r.Reason + ")")
	}
	return b.String()
}
