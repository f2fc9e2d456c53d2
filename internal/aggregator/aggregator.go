// Package aggregator builds the canonical snapshot of an applicant from the
// linked personal, experience and salary records and stores it on the
// applicant.
package aggregator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/logger"
	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/result"
	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
)

const Operation = "aggregate"

type Aggregator struct {
	store  store.Store
	logger *zap.Logger
}

func New(s store.Store, log *zap.Logger) *Aggregator {
	return &Aggregator{store: s, logger: logger.WithFields(log)}
}

// Aggregate builds the snapshot and writes it onto the applicant. Nothing is
// written when a required child record is missing.
func (a *Aggregator) Aggregate(ctx context.Context, applicantID string) result.Result {
	log := logger.ForApplicant(a.logger, applicantID, Operation)

	rec, err := a.store.Get(ctx, store.Applicants, applicantID)
	if err != nil {
		return result.Failed(Operation, applicantID, fmt.Errorf("loading applicant: %w", err))
	}
	applicant, err := records.DecodeApplicant(rec)
	if err != nil {
		return result.Failed(Operation, applicantID, err)
	}

	snap, warnings, err := a.Build(ctx, applicantID)
	if err != nil {
		return result.Failed(Operation, applicantID, err)
	}

	for _, w := range warnings {
		log.Warn("data completeness", zap.String("warning", w))
	}

	serialized, err := snap.Indented()
	if err != nil {
		return result.Failed(Operation, applicantID, err)
	}

	res := result.Skipped(Operation, applicantID, "snapshot unchanged")
	if applicant.Snapshot != string(serialized) {
		if _, err := a.store.Update(ctx, store.Applicants, applicantID, map[string]any{
			records.FieldSnapshot: string(serialized),
		}); err != nil {
			return result.Failed(Operation, applicantID, fmt.Errorf("storing snapshot: %w", err))
		}
		res = result.Success(Operation, applicantID, fmt.Sprintf("snapshot stored with %d experience entries", len(snap.Experience)))
	}
	res.Warnings = warnings

	log.Info("applicant aggregated",
		zap.String("status", string(res.Status)),
		zap.Int("experience_entries", len(snap.Experience)),
		zap.Int("snapshot_bytes", len(serialized)),
	)

	return res
}

// Build reads the linked child records and assembles the snapshot without
// touching the applicant.
func (a *Aggregator) Build(ctx context.Context, applicantID string) (*snapshot.Snapshot, []string, error) {
	var warnings []string
	filter := records.LinkFilter(applicantID)

	personalRecs, err := a.store.Query(ctx, store.PersonalDetails, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("querying personal details: %w", err)
	}
	if len(personalRecs) == 0 {
		return nil, nil, &records.MissingDataError{
			ApplicantID: applicantID,
			Collection:  store.PersonalDetails,
			Err:         records.ErrMissingPersonalDetails,
		}
	}
	if len(personalRecs) > 1 {
		warnings = append(warnings, fmt.Sprintf("%d personal details records linked, using %s", len(personalRecs), personalRecs[0].ID))
	}
	personal, err := records.DecodePersonalDetails(personalRecs[0])
	if err != nil {
		return nil, nil, err
	}

	salaryRecs, err := a.store.Query(ctx, store.SalaryPreferences, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("querying salary preferences: %w", err)
	}
	if len(salaryRecs) == 0 {
		return nil, nil, &records.MissingDataError{
			ApplicantID: applicantID,
			Collection:  store.SalaryPreferences,
			Err:         records.ErrMissingSalaryPreference,
		}
	}
	if len(salaryRecs) > 1 {
		warnings = append(warnings, fmt.Sprintf("%d salary preference records linked, using %s", len(salaryRecs), salaryRecs[0].ID))
	}
	salary, err := records.DecodeSalaryPreference(salaryRecs[0])
	if err != nil {
		return nil, nil, err
	}

	experienceRecs, err := a.store.Query(ctx, store.WorkExperience, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("querying work experience: %w", err)
	}
	experiences := make([]*records.WorkExperience, 0, len(experienceRecs))
	for _, rec := range experienceRecs {
		w, err := records.DecodeWorkExperience(rec)
		if err != nil {
			return nil, nil, err
		}
		experiences = append(experiences, w)
	}
	records.SortByCreation(experiences)

	if len(experiences) == 0 {
		warnings = append(warnings, "no work experience linked")
	}

	snap := &snapshot.Snapshot{
		Personal:   personal.Section(),
		Experience: make([]snapshot.Experience, 0, len(experiences)),
		Salary:     salary.Section(),
	}
	for _, w := range experiences {
		snap.Experience = append(snap.Experience, w.Entry())
	}

	return snap, warnings, nil
}

// IsMissingData reports whether err was caused by an absent one-to-one child.
func IsMissingData(err error) bool {
	var missing *records.MissingDataError
	return errors.As(err, &missing)
}
