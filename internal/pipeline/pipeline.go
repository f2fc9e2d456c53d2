// Package pipeline runs the per-applicant stages over a batch of applicants.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/shortlister/internal/logger"
	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/result"
	"github.com/spigell/shortlister/internal/store"
)

// Counts tallies stage outcomes.
type Counts struct {
	Success int
	Skipped int
	Failed  int
}

func (c Counts) String() string {
	return fmt.Sprintf("%d succeeded, %d skipped, %d failed", c.Success, c.Skipped, c.Failed)
}

// Summary is the outcome of one batch.
type Summary struct {
	mu sync.Mutex

	// Applicants counts the applicants whose stages were started.
	Applicants int
	// NotStarted lists applicants left out after cancellation.
	NotStarted []string
	Failures   []result.Result

	order  []string
	counts map[string]*Counts
}

func newSummary(stages []Stage) *Summary {
	s := &Summary{counts: make(map[string]*Counts)}
	for _, st := range stages {
		if st.IsEnabled() {
			s.order = append(s.order, st.Name())
			s.counts[st.Name()] = &Counts{}
		}
	}
	return s
}

func (s *Summary) record(stage string, res result.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counts[stage]
	switch res.Status {
	case result.StatusSuccess:
		c.Success++
	case result.StatusSkipped:
		c.Skipped++
	default:
		c.Failed++
		s.Failures = append(s.Failures, res)
	}
}

func (s *Summary) started() {
	s.mu.Lock()
	s.Applicants++
	s.mu.Unlock()
}

func (s *Summary) skip(id string) {
	s.mu.Lock()
	s.NotStarted = append(s.NotStarted, id)
	s.mu.Unlock()
}

// Count returns the tally of one stage.
func (s *Summary) Count(stage string) Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counts[stage]; ok {
		return *c
	}
	return Counts{}
}

// Stages lists the enabled stages in run order.
func (s *Summary) Stages() []string {
	return append([]string(nil), s.order...)
}

// Lines renders one line per stage.
func (s *Summary) Lines() []string {
	lines := make([]string, 0, len(s.order))
	for _, name := range s.order {
		lines = append(lines, name+": "+s.Count(name).String())
	}
	return lines
}

type Runner struct {
	stages      []Stage
	concurrency int
	logger      *zap.Logger
}

// NewRunner processes up to concurrency applicants at once. Stages of one
// applicant always run sequentially.
func NewRunner(stages []Stage, concurrency int, log *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{stages: stages, concurrency: concurrency, logger: logger.WithFields(log)}
}

// Run executes the enabled stages for every applicant. A failed stage ends
// that applicant's sequence without affecting the others. Once ctx is done no
// further applicant is started, while started ones run to completion; Run then
// returns the context error along with the partial summary.
func (r *Runner) Run(ctx context.Context, ids []string) (*Summary, error) {
	for _, s := range r.stages {
		if !s.IsEnabled() {
			continue
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	for _, s := range r.stages {
		if !s.IsEnabled() {
			r.logger.Info("stage disabled", zap.String("name", s.Name()))
		}
	}

	summary := newSummary(r.stages)
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for i, id := range ids {
		if ctx.Err() != nil {
			for _, rest := range ids[i:] {
				summary.skip(rest)
			}
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				summary.skip(id)
				return nil
			}
			summary.started()
			r.process(context.WithoutCancel(ctx), id, summary)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(summary.NotStarted)
	for _, name := range summary.order {
		c := summary.Count(name)
		r.logger.Info("batch stage",
			zap.String("name", name),
			zap.Int("success", c.Success),
			zap.Int("skipped", c.Skipped),
			zap.Int("failed", c.Failed),
		)
	}
	if len(summary.NotStarted) > 0 {
		r.logger.Warn("batch interrupted",
			zap.Int("not_started", len(summary.NotStarted)),
			zap.Strings("applicants", summary.NotStarted),
		)
	}

	return summary, ctx.Err()
}

func (r *Runner) process(ctx context.Context, id string, summary *Summary) {
	for _, s := range r.stages {
		if !s.IsEnabled() {
			continue
		}

		res := s.Apply(ctx, id)
		summary.record(s.Name(), res)

		log := logger.ForApplicant(r.logger, id, s.Name())
		for _, w := range res.Warnings {
			log.Warn("stage warning", zap.String("warning", w))
		}
		if res.Failed() {
			log.Error("stage failed",
				zap.String("category", Category(res.Err)),
				zap.Error(res.Err),
			)
			return
		}
		log.Debug("stage finished", zap.String("status", string(res.Status)), zap.String("reason", res.Reason))
	}
}

// Targets returns the single given applicant, or every applicant in the
// store. onlyWithSnapshot drops applicants without a stored snapshot from a
// whole-collection listing.
func Targets(ctx context.Context, s store.Store, applicantID string, onlyWithSnapshot bool) ([]string, error) {
	if id := strings.TrimSpace(applicantID); id != "" {
		if _, err := s.Get(ctx, store.Applicants, id); err != nil {
			return nil, fmt.Errorf("loading applicant %s: %w", id, err)
		}
		return []string{id}, nil
	}

	recs, err := s.Query(ctx, store.Applicants, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("listing applicants: %w", err)
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if onlyWithSnapshot {
			a, err := records.DecodeApplicant(rec)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(a.Snapshot) == "" {
				continue
			}
		}
		ids = append(ids, rec.ID)
	}
	return ids, nil
}
