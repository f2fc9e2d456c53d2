package eligibility

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/logger"
	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/result"
	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
)

const Operation = "evaluate"

// ErrSnapshotParse is returned when the stored snapshot is missing or unreadable.
var ErrSnapshotParse = fmt.Errorf("snapshot cannot be evaluated: %w", snapshot.ErrInvalidFormat)

// Shortlister applies an Evaluator to stored applicants. Every qualifying
// evaluation appends a lead; earlier leads are never touched.
type Shortlister struct {
	store     store.Store
	evaluator *Evaluator
	logger    *zap.Logger
}

func NewShortlister(s store.Store, evaluator *Evaluator, log *zap.Logger) *Shortlister {
	return &Shortlister{store: s, evaluator: evaluator, logger: logger.WithFields(log)}
}

func (s *Shortlister) Evaluate(ctx context.Context, applicantID string) result.Result {
	log := logger.ForApplicant(s.logger, applicantID, Operation)

	rec, err := s.store.Get(ctx, store.Applicants, applicantID)
	if err != nil {
		return result.Failed(Operation, applicantID, fmt.Errorf("loading applicant: %w", err))
	}
	applicant, err := records.DecodeApplicant(rec)
	if err != nil {
		return result.Failed(Operation, applicantID, err)
	}

	if strings.TrimSpace(applicant.Snapshot) == "" {
		return result.Failed(Operation, applicantID, fmt.Errorf("%w: applicant has no snapshot, aggregate it first", ErrSnapshotParse))
	}
	snap, err := snapshot.ParseString(applicant.Snapshot)
	if err != nil {
		return result.Failed(Operation, applicantID, fmt.Errorf("%w: %v", ErrSnapshotParse, err))
	}

	verdict := s.evaluator.Evaluate(snap)
	for _, w := range verdict.Warnings {
		log.Warn("experience entry adjusted", zap.String("warning", w))
	}

	if _, err := s.store.Update(ctx, store.Applicants, applicantID, map[string]any{
		records.FieldShortlistStatus: verdict.Qualifies,
	}); err != nil {
		return result.Failed(Operation, applicantID, fmt.Errorf("storing shortlist status: %w", err))
	}

	reasoning := verdict.Reasoning()
	res := result.Success(Operation, applicantID, "does not qualify: "+strings.Join(verdict.Failed(), ", "))
	if verdict.Qualifies {
		lead, err := s.store.Create(ctx, store.ShortlistedLeads, map[string]any{
			records.FieldLeadApplicant: []string{applicantID},
			records.FieldSnapshot:      applicant.Snapshot,
			records.FieldScoreReason:   reasoning,
			records.FieldCreatedAt:     s.evaluator.now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return result.Failed(Operation, applicantID, fmt.Errorf("creating shortlisted lead: %w", err))
		}
		res = result.Success(Operation, applicantID, "qualifies, lead "+lead.ID+" created")
	}
	res.Warnings = verdict.Warnings
	res.Details = strings.Split(reasoning, "\n")[1:]

	log.Info("applicant evaluated",
		zap.Bool("qualifies", verdict.Qualifies),
		zap.Float64("total_years", verdict.TotalYears),
		zap.Strings("failed_criteria", verdict.Failed()),
	)

	return res
}
