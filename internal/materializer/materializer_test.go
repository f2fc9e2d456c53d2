package materializer

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/shortlister/internal/aggregator"
	"github.com/spigell/shortlister/internal/fixtures"
	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/result"
	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
	"github.com/spigell/shortlister/internal/store/memstore"
)

func seedAggregated(t *testing.T, s store.Store, sample fixtures.Applicant) string {
	t.Helper()
	ctx := context.Background()
	id, err := fixtures.Seed(ctx, s, sample)
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if res := aggregator.New(s, zap.NewNop()).Aggregate(ctx, id); res.Failed() {
		t.Fatalf("aggregating: %v", res.Err)
	}
	return id
}

func linked(t *testing.T, s store.Store, c store.Collection, id string) []*store.Record {
	t.Helper()
	recs, err := s.Query(context.Background(), c, records.LinkFilter(id))
	if err != nil {
		t.Fatalf("querying %s: %v", c, err)
	}
	return recs
}

func experienceSet(t *testing.T, s store.Store, id string) []string {
	t.Helper()
	var out []string
	for _, rec := range linked(t, s, store.WorkExperience, id) {
		w, err := records.DecodeWorkExperience(rec)
		if err != nil {
			t.Fatalf("decoding experience: %v", err)
		}
		out = append(out, w.Company+"|"+w.Title+"|"+w.Start+"|"+w.End)
	}
	sort.Strings(out)
	return out
}

func TestRoundTripPreservesOneToOneRecords(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := seedAggregated(t, s, fixtures.Samples()[0])

	personalBefore := linked(t, s, store.PersonalDetails, id)
	salaryBefore := linked(t, s, store.SalaryPreferences, id)
	experienceBefore := experienceSet(t, s, id)

	res := New(s, zap.NewNop()).Materialize(ctx, id, nil, false)
	if res.Failed() {
		t.Fatalf("unexpected failure: %+v", res)
	}

	personalAfter := linked(t, s, store.PersonalDetails, id)
	salaryAfter := linked(t, s, store.SalaryPreferences, id)

	if !reflect.DeepEqual(personalBefore, personalAfter) {
		t.Fatalf("personal details changed:\n%+v\n%+v", personalBefore, personalAfter)
	}
	if !reflect.DeepEqual(salaryBefore, salaryAfter) {
		t.Fatalf("salary preference changed:\n%+v\n%+v", salaryBefore, salaryAfter)
	}
	if got := experienceSet(t, s, id); !reflect.DeepEqual(got, experienceBefore) {
		t.Fatalf("experience set changed:\n%v\n%v", experienceBefore, got)
	}

	if res.Reason != "applied 2 creates, 0 updates, 2 deletes" {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}
}

func TestDryRunMatchesRealRun(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := seedAggregated(t, s, fixtures.Samples()[1])

	snap := &snapshot.Snapshot{
		Personal:   &snapshot.Personal{Name: "Marcus J.", Email: "marcus.j@example.com", Location: "Toronto, Canada", LinkedIn: "https://linkedin.com/in/marcusjohnson"},
		Experience: []snapshot.Experience{{Company: "Coinbase", Title: "Staff Engineer", Start: "2019-03-01", End: "present"}},
		Salary:     &snapshot.Salary{PreferredRate: 90, MinimumRate: 75, Currency: "USD", Availability: 25},
	}

	dryCore, dryLogs := observer.New(zapcore.InfoLevel)
	dry := New(s, zap.New(dryCore)).Materialize(ctx, id, snap, true)
	if dry.Status != result.StatusSuccess || !strings.HasPrefix(dry.Reason, "dry run: would apply") {
		t.Fatalf("unexpected dry-run result: %+v", dry)
	}

	if got := len(linked(t, s, store.WorkExperience, id)); got != 2 {
		t.Fatalf("dry run wrote to the store: %d experience records", got)
	}

	realCore, realLogs := observer.New(zapcore.InfoLevel)
	applied := New(s, zap.New(realCore)).Materialize(ctx, id, snap, false)
	if applied.Failed() {
		t.Fatalf("unexpected failure: %+v", applied)
	}

	actions := func(logs *observer.ObservedLogs) []string {
		var out []string
		for _, e := range logs.All() {
			if action, ok := e.ContextMap()["action"].(string); ok {
				out = append(out, action)
			}
		}
		return out
	}

	dryActions := actions(dryLogs)
	if len(dryActions) == 0 || !reflect.DeepEqual(dryActions, actions(realLogs)) {
		t.Fatalf("dry-run and real-run descriptions differ:\n%v\n%v", dryActions, actions(realLogs))
	}
	if !reflect.DeepEqual(dry.Details, dryActions) {
		t.Fatalf("dry-run details differ from logged actions: %v", dry.Details)
	}

	for _, want := range []string{"update personal_details", "delete work_experience", "create work_experience for applicant " + id + ": Coinbase / Staff Engineer (2019-03-01 - present)", "update salary_preferences", "update applicants " + id + " (Compressed JSON)"} {
		found := false
		for _, a := range dryActions {
			if strings.HasPrefix(a, want) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected an action starting with %q in %v", want, dryActions)
		}
	}

	stored, err := s.Get(ctx, store.Applicants, id)
	if err != nil {
		t.Fatalf("loading applicant: %v", err)
	}
	if !strings.Contains(stored.Fields[records.FieldSnapshot].(string), "Staff Engineer") {
		t.Fatalf("explicit snapshot was not written back")
	}
}

func TestUpsertCreatesMissingRecords(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sample := fixtures.Samples()[2]
	sample.Personal = nil
	id, err := fixtures.Seed(ctx, s, sample)
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	snap := &snapshot.Snapshot{
		Personal:   &snapshot.Personal{Name: "Priya Sharma", Location: "Berlin, Germany"},
		Experience: []snapshot.Experience{},
		Salary:     sample.Salary,
	}

	res := New(s, zap.NewNop()).Materialize(ctx, id, snap, false)
	if res.Failed() {
		t.Fatalf("unexpected failure: %+v", res)
	}

	personal := linked(t, s, store.PersonalDetails, id)
	if len(personal) != 1 || personal[0].Fields[records.FieldFullName] != "Priya Sharma" {
		t.Fatalf("expected personal details to be created, got %+v", personal)
	}
	if n := len(linked(t, s, store.WorkExperience, id)); n != 0 {
		t.Fatalf("expected empty experience set to replace existing entries, got %d", n)
	}
}

func TestInvalidStoredSnapshot(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id, _ := fixtures.Seed(ctx, s, fixtures.Samples()[0])

	m := New(s, zap.NewNop())

	if res := m.Materialize(ctx, id, nil, false); !errors.Is(res.Err, snapshot.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat for missing snapshot, got %+v", res)
	}

	if _, err := s.Update(ctx, store.Applicants, id, map[string]any{records.FieldSnapshot: "Summary: not json"}); err != nil {
		t.Fatalf("priming snapshot: %v", err)
	}
	if res := m.Materialize(ctx, id, nil, true); !errors.Is(res.Err, snapshot.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %+v", res)
	}
}

func TestPartialFailureIsReportedPerSection(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := seedAggregated(t, s, fixtures.Samples()[3])

	boom := errors.New("salary table locked")
	s.Fail = func(op memstore.Op, c store.Collection, _ string) error {
		if op == memstore.OpUpdate && c == store.SalaryPreferences {
			return boom
		}
		return nil
	}

	snap := &snapshot.Snapshot{
		Personal:   &snapshot.Personal{Name: "Lisa Anderson", Email: "lisa@new.example.com", Location: "Mumbai, India"},
		Experience: fixtures.Samples()[3].Experience,
		Salary:     &snapshot.Salary{PreferredRate: 70, MinimumRate: 60, Currency: "USD", Availability: 30},
	}

	res := New(s, zap.NewNop()).Materialize(ctx, id, snap, false)
	if res.Status != result.StatusFailed || !errors.Is(res.Err, boom) {
		t.Fatalf("expected salary failure, got %+v", res)
	}

	joined := strings.Join(res.Details, "\n")
	for _, want := range []string{"personal: applied 1 actions", "salary: failed after 0/1 actions", "applicant: failed after 0/1 actions: skipped"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in details:\n%s", want, joined)
		}
	}

	personal := linked(t, s, store.PersonalDetails, id)
	if personal[0].Fields[records.FieldEmail] != "lisa@new.example.com" {
		t.Fatalf("personal section should have been applied, got %+v", personal[0].Fields)
	}
}

func TestDiffStrategyKeepsIdentities(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := seedAggregated(t, s, fixtures.Samples()[0])

	before := linked(t, s, store.WorkExperience, id)
	google := before[0]

	snap := &snapshot.Snapshot{
		Personal: fixtures.Samples()[0].Personal,
		Experience: []snapshot.Experience{
			{Company: "google", Title: "Senior Software Engineer", Start: "2021-01-01", End: "present", Technologies: "Go"},
			{Company: "Stripe", Title: "Staff Engineer", Start: "2024-02-01"},
		},
		Salary: fixtures.Samples()[0].Salary,
	}

	m := New(s, zap.NewNop(), WithStrategy(StrategyDiff))
	plan, err := m.Plan(ctx, id, snap)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}
	counts := plan.Counts()
	if counts[KindCreate] != 1 || counts[KindDelete] != 1 || counts[KindUpdate] != 2 {
		t.Fatalf("unexpected plan: %s %+v", plan.Summary(), plan.Actions)
	}

	if res := m.Apply(ctx, plan); res.Failed() {
		t.Fatalf("unexpected failure: %+v", res)
	}

	after := linked(t, s, store.WorkExperience, id)
	if len(after) != 2 || after[0].ID != google.ID || after[0].Fields[records.FieldEnd] != "present" {
		t.Fatalf("expected Google entry to be updated in place, got %+v", after)
	}
}

func TestEmptyPlanIsSkippedInBothModes(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := seedAggregated(t, s, fixtures.Samples()[0])

	m := New(s, zap.NewNop(), WithStrategy(StrategyDiff))
	plan, err := m.Plan(ctx, id, nil)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}
	if len(plan.Actions) != 0 {
		t.Fatalf("expected an empty plan, got %+v", plan.Actions)
	}

	for _, dryRun := range []bool{true, false} {
		res := m.Materialize(ctx, id, nil, dryRun)
		if res.Status != result.StatusSkipped {
			t.Fatalf("dryRun=%v: expected skipped, got %+v", dryRun, res)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategyReplace, "Replace": StrategyReplace, " diff ": StrategyDiff} {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Fatalf("ParseStrategy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStrategy("merge"); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}
