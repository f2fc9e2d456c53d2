// Package fixtures creates sample applicants with their linked records. The
// seed command uses it to populate an empty store and the cleanup command to
// remove it again; package tests use it to arrange state.
package fixtures

import (
	"context"
	"fmt"

	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
)

// Applicant describes the normalized records of one sample applicant. Nil
// sections are not created, so incomplete applicants can be modelled.
type Applicant struct {
	Label      string
	Personal   *snapshot.Personal
	Experience []snapshot.Experience
	Salary     *snapshot.Salary
}

// Seed creates the applicant record followed by its linked children and
// returns the applicant ID.
func Seed(ctx context.Context, s store.Store, a Applicant) (string, error) {
	rec, err := s.Create(ctx, store.Applicants, map[string]any{records.FieldShortlistStatus: false})
	if err != nil {
		return "", fmt.Errorf("creating applicant %s: %w", a.Label, err)
	}
	id := rec.ID

	if a.Personal != nil {
		if _, err := s.Create(ctx, store.PersonalDetails, records.WithLink(records.PersonalFields(a.Personal), id)); err != nil {
			return id, fmt.Errorf("creating personal details for %s: %w", a.Label, err)
		}
	}

	for _, e := range a.Experience {
		if _, err := s.Create(ctx, store.WorkExperience, records.WithLink(records.ExperienceFields(e), id)); err != nil {
			return id, fmt.Errorf("creating work experience for %s: %w", a.Label, err)
		}
	}

	if a.Salary != nil {
		if _, err := s.Create(ctx, store.SalaryPreferences, records.WithLink(records.SalaryFields(a.Salary), id)); err != nil {
			return id, fmt.Errorf("creating salary preference for %s: %w", a.Label, err)
		}
	}

	return id, nil
}

// Samples returns a mix of applicants that do and do not qualify.
func Samples() []Applicant {
	return []Applicant{
		{
			Label:    "tier-1 company",
			Personal: &snapshot.Personal{Name: "Sarah Chen", Email: "sarah.chen@example.com", Location: "San Francisco, CA, USA", LinkedIn: "https://linkedin.com/in/sarahchen"},
			Experience: []snapshot.Experience{
				{Company: "Google", Title: "Senior Software Engineer", Start: "2021-01-01", End: "2024-01-01", Technologies: "Python, Kubernetes, gRPC"},
				{Company: "DoorDash", Title: "Software Engineer", Start: "2019-06-01", End: "2020-12-31", Technologies: "React, Node.js, PostgreSQL"},
			},
			Salary: &snapshot.Salary{PreferredRate: 95, MinimumRate: 80, Currency: "USD", Availability: 30},
		},
		{
			Label:    "long tenure",
			Personal: &snapshot.Personal{Name: "Marcus Johnson", Email: "marcus.j@example.com", Location: "Toronto, Canada", LinkedIn: "https://linkedin.com/in/marcusjohnson"},
			Experience: []snapshot.Experience{
				{Company: "Coinbase", Title: "Backend Engineer", Start: "2019-03-01", End: "2024-10-25", Technologies: "Go, Redis, Kafka"},
				{Company: "Instacart", Title: "Full-Stack Developer", Start: "2017-01-01", End: "2019-02-28", Technologies: "Ruby on Rails, React"},
			},
			Salary: &snapshot.Salary{PreferredRate: 88, MinimumRate: 75, Currency: "USD", Availability: 25},
		},
		{
			Label:    "rate at the limit",
			Personal: &snapshot.Personal{Name: "Priya Sharma", Email: "priya.sharma@example.com", Location: "Berlin, Germany", LinkedIn: "https://linkedin.com/in/priyasharma"},
			Experience: []snapshot.Experience{
				{Company: "Meta", Title: "Engineering Manager", Start: "2020-01-01", End: "2024-10-25", Technologies: "Rust, GraphQL"},
			},
			Salary: &snapshot.Salary{PreferredRate: 100, MinimumRate: 85, Currency: "USD", Availability: 40},
		},
		{
			Label:    "low availability",
			Personal: &snapshot.Personal{Name: "Lisa Anderson", Email: "lisa.a@example.com", Location: "Mumbai, India"},
			Experience: []snapshot.Experience{
				{Company: "Tech Startup A", Title: "Developer", Start: "2020-01-01", End: "2024-10-25", Technologies: "Java"},
			},
			Salary: &snapshot.Salary{PreferredRate: 85, MinimumRate: 70, Currency: "USD", Availability: 15},
		},
		{
			Label:    "excluded location",
			Personal: &snapshot.Personal{Name: "Emma Schmidt", Email: "emma.s@example.com", Location: "Sydney, Australia"},
			Experience: []snapshot.Experience{
				{Company: "Australian Tech Co", Title: "Senior Developer", Start: "2019-01-01", End: "2024-10-25", Technologies: "TypeScript"},
			},
			Salary: &snapshot.Salary{PreferredRate: 90, MinimumRate: 80, Currency: "USD", Availability: 25},
		},
		{
			Label:    "short tenure",
			Personal: &snapshot.Personal{Name: "Sofia Martinez", Email: "sofia.m@example.com", Location: "Toronto, Canada"},
			Experience: []snapshot.Experience{
				{Company: "Startup Innovations", Title: "Developer", Start: "2022-01-01", End: "2024-10-25", Technologies: "Vue"},
			},
			Salary: &snapshot.Salary{PreferredRate: 80, MinimumRate: 70, Currency: "USD", Availability: 30},
		},
	}
}

// cleanupOrder deletes children before the applicants they link to.
var cleanupOrder = []store.Collection{store.ShortlistedLeads, store.SalaryPreferences, store.WorkExperience, store.PersonalDetails}

// Cleanup deletes one applicant with its linked records and leads. An empty
// applicantID empties every collection. It returns the number of deleted
// records per collection.
func Cleanup(ctx context.Context, s store.Store, applicantID string) (map[store.Collection]int, error) {
	deleted := make(map[store.Collection]int)

	for _, c := range append(cleanupOrder, store.Applicants) {
		var (
			recs []*store.Record
			err  error
		)
		switch {
		case applicantID == "":
			recs, err = s.Query(ctx, c, store.Filter{})
		case c == store.Applicants:
			var rec *store.Record
			if rec, err = s.Get(ctx, c, applicantID); err == nil {
				recs = []*store.Record{rec}
			}
		case c == store.ShortlistedLeads:
			recs, err = s.Query(ctx, c, records.LeadFilter(applicantID))
		default:
			recs, err = s.Query(ctx, c, records.LinkFilter(applicantID))
		}
		if err != nil {
			return deleted, fmt.Errorf("listing %s: %w", c, err)
		}

		for _, rec := range recs {
			if err := s.Delete(ctx, c, rec.ID); err != nil {
				return deleted, fmt.Errorf("deleting %s %s: %w", c, rec.ID, err)
			}
			deleted[c]++
		}
	}

	return deleted, nil
}
