// Package materializer writes a snapshot back into the normalized collections:
// personal details and salary preference are upserted, work experience is
// replaced.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/logger"
	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/result"
	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
)

const (
	Operation = "materialize"

	// SectionApplicant is the write-back of an explicitly supplied snapshot.
	SectionApplicant = "applicant"
)

var sectionOrder = []string{snapshot.SectionPersonal, snapshot.SectionExperience, snapshot.SectionSalary, SectionApplicant}

// Strategy selects how the work experience set is synchronized.
type Strategy string

const (
	// StrategyReplace deletes every linked experience and recreates them in snapshot order.
	StrategyReplace Strategy = "replace"
	// StrategyDiff matches entries on (company, title, start) and touches only the delta.
	StrategyDiff Strategy = "diff"
)

// ParseStrategy accepts "", "replace" and "diff".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyReplace:
		return StrategyReplace, nil
	case StrategyDiff:
		return StrategyDiff, nil
	default:
		return "", fmt.Errorf("unknown experience strategy %q", s)
	}
}

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Action is one intended store write.
type Action struct {
	Kind        Kind
	Section     string
	Collection  store.Collection
	RecordID    string
	Fields      map[string]any
	Description string
}

// Plan is the ordered list of writes needed to materialize a snapshot.
type Plan struct {
	ApplicantID string
	Snapshot    *snapshot.Snapshot
	Actions     []Action
	// Absent lists sections missing from the snapshot; they are left untouched.
	Absent []string
}

// Counts returns the number of actions per kind.
func (p *Plan) Counts() map[Kind]int {
	counts := map[Kind]int{KindCreate: 0, KindUpdate: 0, KindDelete: 0}
	for _, a := range p.Actions {
		counts[a.Kind]++
	}
	return counts
}

func (p *Plan) Summary() string {
	c := p.Counts()
	return fmt.Sprintf("%d creates, %d updates, %d deletes", c[KindCreate], c[KindUpdate], c[KindDelete])
}

// SectionResult reports how one section fared when a plan was applied.
type SectionResult struct {
	Section string
	Planned int
	Applied int
	Err     error
}

func (r SectionResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: failed after %d/%d actions: %v", r.Section, r.Applied, r.Planned, r.Err)
	}
	return fmt.Sprintf("%s: applied %d actions", r.Section, r.Applied)
}

type Materializer struct {
	store    store.Store
	logger   *zap.Logger
	strategy Strategy
}

type Option func(*Materializer)

func WithStrategy(s Strategy) Option {
	return func(m *Materializer) {
		if s != "" {
			m.strategy = s
		}
	}
}

func New(s store.Store, log *zap.Logger, opts ...Option) *Materializer {
	m := &Materializer{store: s, logger: logger.WithFields(log), strategy: StrategyReplace}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize plans and, unless dryRun is set, applies the plan. A nil snap
// means the snapshot stored on the applicant is used.
func (m *Materializer) Materialize(ctx context.Context, applicantID string, snap *snapshot.Snapshot, dryRun bool) result.Result {
	plan, err := m.Plan(ctx, applicantID, snap)
	if err != nil {
		return result.Failed(Operation, applicantID, err)
	}

	if dryRun {
		m.Report(plan, true)
		if len(plan.Actions) == 0 {
			return result.Skipped(Operation, applicantID, "dry run: records already match the snapshot")
		}
		res := result.Success(Operation, applicantID, "dry run: would apply "+plan.Summary())
		for _, a := range plan.Actions {
			res.Details = append(res.Details, a.Description)
		}
		return res
	}

	return m.Apply(ctx, plan)
}

// Plan computes the writes without performing them.
func (m *Materializer) Plan(ctx context.Context, applicantID string, snap *snapshot.Snapshot) (*Plan, error) {
	writeBack := snap != nil
	if snap == nil {
		rec, err := m.store.Get(ctx, store.Applicants, applicantID)
		if err != nil {
			return nil, fmt.Errorf("loading applicant: %w", err)
		}
		applicant, err := records.DecodeApplicant(rec)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(applicant.Snapshot) == "" {
			return nil, fmt.Errorf("%w: applicant %s has no stored snapshot", snapshot.ErrInvalidFormat, applicantID)
		}
		if snap, err = snapshot.ParseString(applicant.Snapshot); err != nil {
			return nil, err
		}
	}

	plan := &Plan{ApplicantID: applicantID, Snapshot: snap}
	filter := records.LinkFilter(applicantID)

	if snap.Personal == nil {
		plan.Absent = append(plan.Absent, snapshot.SectionPersonal)
	} else {
		action, err := m.planUpsert(ctx, applicantID, snapshot.SectionPersonal, store.PersonalDetails, filter, records.PersonalFields(snap.Personal))
		if err != nil {
			return nil, err
		}
		if action != nil {
			plan.Actions = append(plan.Actions, *action)
		}
	}

	if snap.Experience == nil {
		plan.Absent = append(plan.Absent, snapshot.SectionExperience)
	} else {
		actions, err := m.planExperience(ctx, applicantID, filter, snap.Experience)
		if err != nil {
			return nil, err
		}
		plan.Actions = append(plan.Actions, actions...)
	}

	if snap.Salary == nil {
		plan.Absent = append(plan.Absent, snapshot.SectionSalary)
	} else {
		action, err := m.planUpsert(ctx, applicantID, snapshot.SectionSalary, store.SalaryPreferences, filter, records.SalaryFields(snap.Salary))
		if err != nil {
			return nil, err
		}
		if action != nil {
			plan.Actions = append(plan.Actions, *action)
		}
	}

	if writeBack && len(plan.Absent) == 0 {
		action, err := m.planWriteBack(ctx, applicantID, snap)
		if err != nil {
			return nil, err
		}
		if action != nil {
			plan.Actions = append(plan.Actions, *action)
		}
	}

	return plan, nil
}

// Apply performs the plan section by section. A failing section stops at its
// first error; the other sections still run. The applicant write-back only
// runs when every other section succeeded.
func (m *Materializer) Apply(ctx context.Context, plan *Plan) result.Result {
	log := logger.ForApplicant(m.logger, plan.ApplicantID, Operation)

	bySection := make(map[string][]Action)
	for _, a := range plan.Actions {
		bySection[a.Section] = append(bySection[a.Section], a)
	}

	var (
		results []SectionResult
		errs    []error
	)
	for _, section := range sectionOrder {
		actions := bySection[section]
		if len(actions) == 0 {
			continue
		}

		sr := SectionResult{Section: section, Planned: len(actions)}
		if section == SectionApplicant && len(errs) > 0 {
			sr.Err = errors.New("skipped because other sections failed")
			results = append(results, sr)
			continue
		}

		for _, a := range actions {
			if err := m.apply(ctx, plan.ApplicantID, a); err != nil {
				sr.Err = err
				errs = append(errs, fmt.Errorf("section %s: %w", section, err))
				log.Error("materialize action failed", zap.String("action", a.Description), zap.Error(err))
				break
			}
			sr.Applied++
			log.Info("applied", zap.String("action", a.Description))
		}
		results = append(results, sr)
	}

	details := make([]string, 0, len(results))
	for _, sr := range results {
		details = append(details, sr.String())
	}
	for _, section := range plan.Absent {
		details = append(details, section+": absent from snapshot, left untouched")
	}

	log.Info("materialize summary",
		zap.Int("actions", len(plan.Actions)),
		zap.String("planned", plan.Summary()),
		zap.Int("failed_sections", len(errs)),
	)

	if len(errs) > 0 {
		res := result.Failed(Operation, plan.ApplicantID, errors.Join(errs...))
		res.Details = details
		return res
	}

	res := result.Success(Operation, plan.ApplicantID, "applied "+plan.Summary())
	if len(plan.Actions) == 0 {
		res = result.Skipped(Operation, plan.ApplicantID, "records already match the snapshot")
	}
	res.Details = details
	return res
}

// Report logs the plan with the same per-action descriptions Apply uses.
func (m *Materializer) Report(plan *Plan, dryRun bool) {
	log := logger.ForApplicant(m.logger, plan.ApplicantID, Operation)
	msg := "planned"
	if dryRun {
		msg = "[dry-run] would apply"
	}
	for _, a := range plan.Actions {
		log.Info(msg, zap.String("action", a.Description))
	}
	log.Info("materialize summary",
		zap.Int("actions", len(plan.Actions)),
		zap.String("planned", plan.Summary()),
		zap.Bool("dry_run", dryRun),
		zap.Strings("absent_sections", plan.Absent),
	)
}

func (m *Materializer) apply(ctx context.Context, applicantID string, a Action) error {
	switch a.Kind {
	case KindCreate:
		_, err := m.store.Create(ctx, a.Collection, records.WithLink(a.Fields, applicantID))
		return err
	case KindUpdate:
		_, err := m.store.Update(ctx, a.Collection, a.RecordID, a.Fields)
		return err
	case KindDelete:
		return m.store.Delete(ctx, a.Collection, a.RecordID)
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func (m *Materializer) planUpsert(ctx context.Context, applicantID, section string, c store.Collection, filter store.Filter, fields map[string]any) (*Action, error) {
	existing, err := m.store.Query(ctx, c, filter)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", c, err)
	}

	if len(existing) == 0 {
		return &Action{
			Kind:        KindCreate,
			Section:     section,
			Collection:  c,
			Fields:      fields,
			Description: fmt.Sprintf("create %s for applicant %s", c, applicantID),
		}, nil
	}

	current := existing[0]
	changed := changedFields(current.Fields, fields)
	if len(changed) == 0 {
		return nil, nil
	}

	return &Action{
		Kind:        KindUpdate,
		Section:     section,
		Collection:  c,
		RecordID:    current.ID,
		Fields:      fields,
		Description: fmt.Sprintf("update %s %s (%s)", c, current.ID, strings.Join(changed, ", ")),
	}, nil
}

func (m *Materializer) planExperience(ctx context.Context, applicantID string, filter store.Filter, entries []snapshot.Experience) ([]Action, error) {
	recs, err := m.store.Query(ctx, store.WorkExperience, filter)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", store.WorkExperience, err)
	}

	existing := make([]*records.WorkExperience, 0, len(recs))
	for _, rec := range recs {
		w, err := records.DecodeWorkExperience(rec)
		if err != nil {
			return nil, err
		}
		existing = append(existing, w)
	}
	records.SortByCreation(existing)

	if m.strategy == StrategyDiff {
		return diffExperience(applicantID, existing, entries), nil
	}

	actions := make([]Action, 0, len(existing)+len(entries))
	for _, w := range existing {
		actions = append(actions, deleteExperience(w))
	}
	for _, e := range entries {
		actions = append(actions, createExperience(applicantID, e))
	}
	return actions, nil
}

func diffExperience(applicantID string, existing []*records.WorkExperience, entries []snapshot.Experience) []Action {
	byKey := make(map[string][]*records.WorkExperience)
	for _, w := range existing {
		k := experienceKey(w.Entry())
		byKey[k] = append(byKey[k], w)
	}

	var actions []Action
	for _, e := range entries {
		k := experienceKey(e)
		matches := byKey[k]
		if len(matches) == 0 {
			actions = append(actions, createExperience(applicantID, e))
			continue
		}

		w := matches[0]
		byKey[k] = matches[1:]

		fields := records.ExperienceFields(e)
		if changed := changedFields(records.ExperienceFields(w.Entry()), fields); len(changed) > 0 {
			actions = append(actions, Action{
				Kind:        KindUpdate,
				Section:     snapshot.SectionExperience,
				Collection:  store.WorkExperience,
				RecordID:    w.ID,
				Fields:      fields,
				Description: fmt.Sprintf("update %s %s (%s)", store.WorkExperience, w.ID, strings.Join(changed, ", ")),
			})
		}
	}

	for _, w := range existing {
		for _, left := range byKey[experienceKey(w.Entry())] {
			if left.ID == w.ID {
				actions = append(actions, deleteExperience(w))
			}
		}
	}

	return actions
}

func (m *Materializer) planWriteBack(ctx context.Context, applicantID string, snap *snapshot.Snapshot) (*Action, error) {
	serialized, err := snap.Indented()
	if err != nil {
		return nil, err
	}

	rec, err := m.store.Get(ctx, store.Applicants, applicantID)
	if err != nil {
		return nil, fmt.Errorf("loading applicant: %w", err)
	}
	if current, _ := rec.Fields[records.FieldSnapshot].(string); current == string(serialized) {
		return nil, nil
	}

	return &Action{
		Kind:        KindUpdate,
		Section:     SectionApplicant,
		Collection:  store.Applicants,
		RecordID:    applicantID,
		Fields:      map[string]any{records.FieldSnapshot: string(serialized)},
		Description: fmt.Sprintf("update %s %s (%s)", store.Applicants, applicantID, records.FieldSnapshot),
	}, nil
}

func createExperience(applicantID string, e snapshot.Experience) Action {
	return Action{
		Kind:        KindCreate,
		Section:     snapshot.SectionExperience,
		Collection:  store.WorkExperience,
		Fields:      records.ExperienceFields(e),
		Description: fmt.Sprintf("create %s for applicant %s: %s", store.WorkExperience, applicantID, describeExperience(e)),
	}
}

func deleteExperience(w *records.WorkExperience) Action {
	return Action{
		Kind:        KindDelete,
		Section:     snapshot.SectionExperience,
		Collection:  store.WorkExperience,
		RecordID:    w.ID,
		Description: fmt.Sprintf("delete %s %s: %s", store.WorkExperience, w.ID, describeExperience(w.Entry())),
	}
}

func describeExperience(e snapshot.Experience) string {
	end := e.End
	if snapshot.IsOngoing(end) {
		end = "present"
	}
	return fmt.Sprintf("%s / %s (%s - %s)", e.Company, e.Title, e.Start, end)
}

func experienceKey(e snapshot.Experience) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return norm(e.Company) + "\x00" + norm(e.Title) + "\x00" + norm(e.Start)
}

// changedFields lists the keys of want whose value differs from current.
func changedFields(current, want map[string]any) []string {
	var changed []string
	for _, key := range sortedKeys(want) {
		if fmt.Sprint(current[key]) != fmt.Sprint(want[key]) && !(current[key] == nil && isZero(want[key])) {
			changed = append(changed, key)
		}
	}
	return changed
}

func isZero(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case float64:
		return val == 0
	default:
		return false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
