package fixtures

import (
	"context"
	"errors"
	"testing"

	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/store"
	"github.com/spigell/shortlister/internal/store/memstore"
)

func TestCleanupSingleApplicant(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	samples := Samples()
	first, err := Seed(ctx, s, samples[0])
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	second, err := Seed(ctx, s, samples[1])
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if _, err := s.Create(ctx, store.ShortlistedLeads, map[string]any{records.FieldLeadApplicant: []string{first}}); err != nil {
		t.Fatalf("creating lead: %v", err)
	}

	deleted, err := Cleanup(ctx, s, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[store.Collection]int{
		store.Applicants:        1,
		store.PersonalDetails:   1,
		store.WorkExperience:    len(samples[0].Experience),
		store.SalaryPreferences: 1,
		store.ShortlistedLeads:  1,
	}
	for c, n := range want {
		if deleted[c] != n {
			t.Fatalf("deleted %d %s records, want %d (%v)", deleted[c], c, n, deleted)
		}
	}

	if _, err := s.Get(ctx, store.Applicants, second); err != nil {
		t.Fatalf("other applicant was removed: %v", err)
	}
	if got := s.Len(store.WorkExperience); got != len(samples[1].Experience) {
		t.Fatalf("expected only the other applicant's experience to remain, got %d", got)
	}
}

func TestCleanupEverything(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	for _, a := range Samples() {
		if _, err := Seed(ctx, s, a); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	if _, err := Cleanup(ctx, s, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range store.Collections {
		if got := s.Len(c); got != 0 {
			t.Fatalf("%s still holds %d records", c, got)
		}
	}
}

func TestCleanupUnknownApplicant(t *testing.T) {
	_, err := Cleanup(context.Background(), memstore.New(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
