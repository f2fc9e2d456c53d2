package pipeline

import (
	"context"
	"errors"
	"strconv"

	"github.com/spigell/shortlister/internal/aggregator"
	"github.com/spigell/shortlister/internal/eligibility"
	"github.com/spigell/shortlister/internal/enrichment"
	"github.com/spigell/shortlister/internal/materializer"
	"github.com/spigell/shortlister/internal/result"
	"github.com/spigell/shortlister/internal/snapshot"
)

// Stage is one per-applicant operation of a batch.
type Stage interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate() error
	Apply(ctx context.Context, applicantID string) result.Result
}

// Status represents runtime information about a stage.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type stage struct {
	name     string
	disabled bool
	reason   string
	details  map[string]string
	ready    bool
	apply    func(ctx context.Context, applicantID string) result.Result
}

func (s *stage) Name() string { return s.name }

func (s *stage) Disable(reason string) {
	s.disabled = true
	s.reason = reason
}

func (s *stage) IsEnabled() bool { return !s.disabled }

func (s *stage) Validate() error {
	if !s.ready {
		return errors.New("stage is not configured")
	}
	return nil
}

func (s *stage) Apply(ctx context.Context, applicantID string) result.Result {
	return s.apply(ctx, applicantID)
}

func (s *stage) Status() Status {
	return Status{Name: s.name, Enabled: s.IsEnabled(), Reason: s.reason, Details: s.details}
}

// NewAggregate builds snapshots from the normalized records.
func NewAggregate(a *aggregator.Aggregator) Stage {
	return &stage{
		name:  aggregator.Operation,
		ready: a != nil,
		apply: func(ctx context.Context, id string) result.Result { return a.Aggregate(ctx, id) },
	}
}

// NewMaterialize writes snapshots back into the normalized records. A nil
// snap materializes each applicant's stored snapshot.
func NewMaterialize(m *materializer.Materializer, snap *snapshot.Snapshot, dryRun bool) Stage {
	return &stage{
		name:    materializer.Operation,
		ready:   m != nil,
		details: map[string]string{"dry_run": strconv.FormatBool(dryRun), "explicit_snapshot": strconv.FormatBool(snap != nil)},
		apply:   func(ctx context.Context, id string) result.Result { return m.Materialize(ctx, id, snap, dryRun) },
	}
}

// NewEvaluate decides shortlist eligibility.
func NewEvaluate(s *eligibility.Shortlister) Stage {
	return &stage{
		name:  eligibility.Operation,
		ready: s != nil,
		apply: func(ctx context.Context, id string) result.Result { return s.Evaluate(ctx, id) },
	}
}

// NewEnrich stores provider assessments. force ignores the cached hash.
func NewEnrich(s *enrichment.Service, force bool) Stage {
	return &stage{
		name:    enrichment.Operation,
		ready:   s != nil,
		details: map[string]string{"force": strconv.FormatBool(force)},
		apply:   func(ctx context.Context, id string) result.Result { return s.Enrich(ctx, id, force) },
	}
}

// DisableByName marks a stage with the provided name as disabled while keeping it in the list.
func DisableByName(stages []Stage, name, reason string) {
	for _, s := range stages {
		if s.Name() == name {
			s.Disable(reason)
		}
	}
}

// Describe returns status entries for the provided stages.
func Describe(stages []Stage) []Status {
	statuses := make([]Status, 0, len(stages))
	for _, s := range stages {
		if reporter, ok := s.(interface{ Status() Status }); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}
		statuses = append(statuses, Status{Name: s.Name(), Enabled: s.IsEnabled()})
	}
	return statuses
}
