// Package store describes the record store the applicant pipeline reads and
// writes. Backends live in subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is wrapped by Get, Update and Delete when the record does not exist.
var ErrNotFound = errors.New("record not found")

// Collection names one of the five record collections.
type Collection string

const (
	Applicants        Collection = "applicants"
	PersonalDetails   Collection = "personal_details"
	WorkExperience    Collection = "work_experience"
	SalaryPreferences Collection = "salary_preferences"
	ShortlistedLeads  Collection = "shortlisted_leads"
)

// Collections lists every collection in dependency order.
var Collections = []Collection{Applicants, PersonalDetails, WorkExperience, SalaryPreferences, ShortlistedLeads}

// Record is a single row of a collection with loosely typed fields.
type Record struct {
	ID        string
	CreatedAt time.Time
	Fields    map[string]any
}

// Filter narrows a query. The zero value selects the whole collection.
type Filter struct {
	// LinkField names a link field holding a list of record IDs.
	LinkField string
	// LinkedTo selects records whose LinkField contains this ID.
	LinkedTo string
}

// IsZero reports whether the filter selects every record.
func (f Filter) IsZero() bool {
	return f.LinkField == "" || f.LinkedTo == ""
}

// Match evaluates the filter against decoded fields. Backends that cannot
// push the predicate down use it after loading the collection.
func (f Filter) Match(fields map[string]any) bool {
	if f.IsZero() {
		return true
	}
	for _, id := range LinkIDs(fields[f.LinkField]) {
		if id == f.LinkedTo {
			return true
		}
	}
	return false
}

// LinkIDs normalizes a link field value into a list of record IDs.
func LinkIDs(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		ids := make([]string, 0, len(val))
		for _, item := range val {
			ids = append(ids, fmt.Sprint(item))
		}
		return ids
	default:
		return []string{fmt.Sprint(val)}
	}
}

// Store is the record store adapter consumed by the pipeline.
type Store interface {
	Get(ctx context.Context, c Collection, id string) (*Record, error)
	Query(ctx context.Context, c Collection, f Filter) ([]*Record, error)
	Create(ctx context.Context, c Collection, fields map[string]any) (*Record, error)
	Update(ctx context.Context, c Collection, id string, fields map[string]any) (*Record, error)
	Delete(ctx context.Context, c Collection, id string) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}
