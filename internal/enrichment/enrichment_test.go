package enrichment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/shortlister/internal/ai"
	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/result"
	"github.com/spigell/shortlister/internal/retry"
	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
	"github.com/spigell/shortlister/internal/store/memstore"
)

type fakeProvider struct {
	mu         sync.Mutex
	structured bool
	replies    []func() (*ai.Response, error)
	calls      int
	requests   []ai.Request
}

func (f *fakeProvider) Name() string                   { return "fake" }
func (f *fakeProvider) Model() string                  { return "fake-model" }
func (f *fakeProvider) SupportsStructuredOutput() bool { return f.structured }

func (f *fakeProvider) Generate(_ context.Context, req ai.Request) (*ai.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	reply := f.replies[min(f.calls, len(f.replies)-1)]
	f.calls++
	return reply()
}

type countingLimiter struct {
	waits int
	err   error
}

func (l *countingLimiter) Wait(context.Context) error {
	l.waits++
	return l.err
}

func respond(a *ai.Assessment) func() (*ai.Response, error) {
	return func() (*ai.Response, error) {
		cp := *a
		return &ai.Response{Assessment: &cp}, nil
	}
}

func fail(err error) func() (*ai.Response, error) {
	return func() (*ai.Response, error) { return nil, err }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	return cfg
}

func testSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Personal:   &snapshot.Personal{Name: "Marcus Johnson", Location: "Toronto, Canada"},
		Experience: []snapshot.Experience{{Company: "Coinbase", Title: "Backend Engineer", Start: "2019-03-01", End: "2024-10-25"}},
		Salary:     &snapshot.Salary{PreferredRate: 88, Currency: "USD", Availability: 25},
	}
}

func createApplicant(t *testing.T, s store.Store, snap *snapshot.Snapshot) string {
	t.Helper()
	content := ""
	if snap != nil {
		b, err := snap.Indented()
		if err != nil {
			t.Fatalf("serializing snapshot: %v", err)
		}
		content = string(b)
	}
	rec, err := s.Create(context.Background(), store.Applicants, map[string]any{records.FieldSnapshot: content})
	if err != nil {
		t.Fatalf("creating applicant: %v", err)
	}
	return rec.ID
}

func loadApplicant(t *testing.T, s store.Store, id string) *records.Applicant {
	t.Helper()
	rec, err := s.Get(context.Background(), store.Applicants, id)
	if err != nil {
		t.Fatalf("loading applicant: %v", err)
	}
	a, err := records.DecodeApplicant(rec)
	if err != nil {
		t.Fatalf("decoding applicant: %v", err)
	}
	return a
}

func TestEnrichStoresAssessment(t *testing.T) {
	s := memstore.New()
	id := createApplicant(t, s, testSnapshot())

	provider := &fakeProvider{structured: true, replies: []func() (*ai.Response, error){respond(&ai.Assessment{
		Summary:   strings.Repeat("word ", 100),
		Score:     8,
		Issues:    []string{"None"},
		FollowUps: []string{"One?", "Two?", "Three?", "Four?"},
	})}}

	res := New(s, provider, nil, testConfig(), zap.NewNop()).Enrich(context.Background(), id, false)
	if res.Status != result.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}

	a := loadApplicant(t, s, id)
	if words := strings.Fields(a.Summary); len(words) != 75 || !strings.HasSuffix(a.Summary, "...") {
		t.Fatalf("summary not truncated to 75 words: %q", a.Summary)
	}
	if a.Score != 8 {
		t.Fatalf("unexpected score %d", a.Score)
	}
	if a.FollowUps != "- One?\n- Two?\n- Three?" {
		t.Fatalf("unexpected follow-ups %q", a.FollowUps)
	}
	if a.Issues != "" {
		t.Fatalf("expected no issues, got %q", a.Issues)
	}

	want, _ := testSnapshot().Hash()
	if a.Hash != want {
		t.Fatalf("hash = %q, want %q", a.Hash, want)
	}

	req := provider.requests[0]
	if req.Instruction != ai.Instruction(75, true) {
		t.Fatalf("structured provider got the text instruction")
	}
	if !strings.Contains(req.Payload, `"company": "Coinbase"`) {
		t.Fatalf("payload does not carry the snapshot: %s", req.Payload)
	}
}

func TestEnrichParsesLabelledText(t *testing.T) {
	s := memstore.New()
	id := createApplicant(t, s, testSnapshot())

	provider := &fakeProvider{replies: []func() (*ai.Response, error){func() (*ai.Response, error) {
		return &ai.Response{Text: "Summary: Solid backend engineer.\nScore: 7\nIssues: No LinkedIn, short notice\nFollow-Ups:\n- Notice period?"}, nil
	}}}

	res := New(s, provider, nil, testConfig(), zap.NewNop()).Enrich(context.Background(), id, false)
	if res.Status != result.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}

	a := loadApplicant(t, s, id)
	if a.Summary != "Solid backend engineer." || a.Score != 7 || a.Issues != "No LinkedIn, short notice" || a.FollowUps != "- Notice period?" {
		t.Fatalf("unexpected applicant %+v", a)
	}
	if provider.requests[0].Instruction != ai.Instruction(75, false) {
		t.Fatalf("text provider must get the labelled format instruction")
	}
}

func TestEnrichSkipsUnchangedSnapshotUnlessForced(t *testing.T) {
	s := memstore.New()
	id := createApplicant(t, s, testSnapshot())
	provider := &fakeProvider{structured: true, replies: []func() (*ai.Response, error){respond(&ai.Assessment{Summary: "Fine.", Score: 6})}}
	svc := New(s, provider, nil, testConfig(), zap.NewNop())

	if res := svc.Enrich(context.Background(), id, false); res.Status != result.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if res := svc.Enrich(context.Background(), id, false); res.Status != result.StatusSkipped {
		t.Fatalf("expected skip for unchanged snapshot, got %+v", res)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", provider.calls)
	}

	if res := svc.Enrich(context.Background(), id, true); res.Status != result.StatusSuccess {
		t.Fatalf("expected forced success, got %+v", res)
	}
	if provider.calls != 2 {
		t.Fatalf("expected forced provider call, got %d", provider.calls)
	}
}

func TestEnrichRetriesTransientErrors(t *testing.T) {
	s := memstore.New()
	id := createApplicant(t, s, testSnapshot())

	transient := &ai.TransientError{Provider: "fake", Err: errors.New("429 slow down")}
	provider := &fakeProvider{structured: true, replies: []func() (*ai.Response, error){
		fail(transient),
		fail(transient),
		respond(&ai.Assessment{Summary: "Third time lucky.", Score: 5}),
	}}
	limiter := &countingLimiter{}

	core, logs := observer.New(zapcore.WarnLevel)
	res := New(s, provider, limiter, testConfig(), zap.New(core)).Enrich(context.Background(), id, false)
	if res.Status != result.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if provider.calls != 3 || limiter.waits != 3 {
		t.Fatalf("calls = %d, waits = %d, want 3 and 3", provider.calls, limiter.waits)
	}
	if n := logs.FilterMessage("provider call failed, retrying").Len(); n != 2 {
		t.Fatalf("expected 2 retry logs, got %d", n)
	}
}

func TestEnrichFailuresWriteNothing(t *testing.T) {
	tests := []struct {
		name    string
		replies []func() (*ai.Response, error)
		calls   int
		check   func(t *testing.T, err error)
	}{
		{
			name:    "permanent error",
			replies: []func() (*ai.Response, error){fail(&ai.PermanentError{Provider: "fake", Err: errors.New("401 invalid key")})},
			calls:   1,
			check: func(t *testing.T, err error) {
				if !errors.As(err, new(*ai.PermanentError)) {
					t.Fatalf("expected PermanentError, got %v", err)
				}
			},
		},
		{
			name:    "retries exhausted",
			replies: []func() (*ai.Response, error){fail(&ai.TransientError{Provider: "fake", Err: errors.New("connection reset")})},
			calls:   3,
			check: func(t *testing.T, err error) {
				var exhausted *retry.ExhaustedError
				if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
					t.Fatalf("expected ExhaustedError after 3 attempts, got %v", err)
				}
			},
		},
		{
			name: "unparseable text",
			replies: []func() (*ai.Response, error){func() (*ai.Response, error) {
				return &ai.Response{Text: "I cannot evaluate this."}, nil
			}},
			calls: 1,
			check: func(t *testing.T, err error) {
				if !errors.As(err, new(*ai.ParseError)) {
					t.Fatalf("expected ParseError, got %v", err)
				}
			},
		},
		{
			name:    "score out of range",
			replies: []func() (*ai.Response, error){respond(&ai.Assessment{Summary: "Too good.", Score: 11})},
			calls:   1,
			check: func(t *testing.T, err error) {
				if !errors.As(err, new(*ai.ParseError)) {
					t.Fatalf("expected ParseError, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memstore.New()
			id := createApplicant(t, s, testSnapshot())
			provider := &fakeProvider{structured: true, replies: tt.replies}

			res := New(s, provider, nil, testConfig(), zap.NewNop()).Enrich(context.Background(), id, false)
			if !res.Failed() || !errors.Is(res.Err, ErrEvaluationFailed) {
				t.Fatalf("expected evaluation failure, got %+v", res)
			}
			if provider.calls != tt.calls {
				t.Fatalf("calls = %d, want %d", provider.calls, tt.calls)
			}
			tt.check(t, res.Err)

			a := loadApplicant(t, s, id)
			if a.Summary != "" || a.Score != 0 || a.Hash != "" || a.FollowUps != "" {
				t.Fatalf("failed enrichment wrote fields: %+v", a)
			}
		})
	}
}

func TestEnrichClearsStaleIssues(t *testing.T) {
	s := memstore.New()
	id := createApplicant(t, s, testSnapshot())
	if _, err := s.Update(context.Background(), store.Applicants, id, map[string]any{records.FieldIssues: "old issue"}); err != nil {
		t.Fatalf("seeding issues: %v", err)
	}

	provider := &fakeProvider{structured: true, replies: []func() (*ai.Response, error){respond(&ai.Assessment{Summary: "Clean.", Score: 9})}}
	New(s, provider, nil, testConfig(), zap.NewNop()).Enrich(context.Background(), id, false)

	if a := loadApplicant(t, s, id); a.Issues != "" {
		t.Fatalf("expected issues to be cleared, got %q", a.Issues)
	}
}

func TestEnrichWithoutSnapshot(t *testing.T) {
	s := memstore.New()
	id := createApplicant(t, s, nil)
	provider := &fakeProvider{structured: true, replies: []func() (*ai.Response, error){respond(&ai.Assessment{Summary: "x", Score: 5})}}

	res := New(s, provider, nil, testConfig(), zap.NewNop()).Enrich(context.Background(), id, false)
	if !res.Failed() || !errors.Is(res.Err, snapshot.ErrInvalidFormat) {
		t.Fatalf("expected invalid snapshot failure, got %+v", res)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestEnrichLimiterError(t *testing.T) {
	s := memstore.New()
	id := createApplicant(t, s, testSnapshot())
	provider := &fakeProvider{structured: true, replies: []func() (*ai.Response, error){respond(&ai.Assessment{Summary: "x", Score: 5})}}
	limiter := &countingLimiter{err: context.Canceled}

	res := New(s, provider, limiter, testConfig(), zap.NewNop()).Enrich(context.Background(), id, false)
	if !res.Failed() || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected limiter failure, got %+v", res)
	}
	if provider.calls != 0 || limiter.waits != 1 {
		t.Fatalf("calls = %d, waits = %d", provider.calls, limiter.waits)
	}
}
