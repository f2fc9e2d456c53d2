// Package enrichment asks a text-generation provider for a quality assessment
// of an applicant snapshot and stores it on the applicant. Assessments are
// cached by the hash of the snapshot they were made for.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/ai"
	"github.com/spigell/shortlister/internal/logger"
	"github.com/spigell/shortlister/internal/ratelimit"
	"github.com/spigell/shortlister/internal/records"
	"github.com/spigell/shortlister/internal/result"
	"github.com/spigell/shortlister/internal/retry"
	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
	"github.com/spigell/shortlister/internal/utils"
)

const (
	Operation = "enrich"

	DefaultMaxFollowUps = 3
)

// ErrEvaluationFailed wraps every error that left the applicant without a new
// assessment.
var ErrEvaluationFailed = errors.New("assessment failed")

type Config struct {
	// SummaryWords bounds the stored summary; longer ones are cut and end with "...".
	SummaryWords int          `mapstructure:"summary-words"`
	MaxFollowUps int          `mapstructure:"max-follow-ups"`
	Retry        retry.Policy `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		SummaryWords: ai.DefaultSummaryWords,
		MaxFollowUps: DefaultMaxFollowUps,
		Retry:        retry.DefaultPolicy(),
	}
}

type Service struct {
	store    store.Store
	provider ai.Provider
	limiter  ratelimit.Limiter
	cfg      Config
	logger   *zap.Logger
}

func New(s store.Store, provider ai.Provider, limiter ratelimit.Limiter, cfg Config, log *zap.Logger) *Service {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if cfg.SummaryWords <= 0 {
		cfg.SummaryWords = ai.DefaultSummaryWords
	}
	if cfg.MaxFollowUps <= 0 {
		cfg.MaxFollowUps = DefaultMaxFollowUps
	}
	cfg.Retry.Retryable = ai.IsRetryable

	return &Service{
		store:    s,
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger.WithCommonFields(log, provider.Name(), provider.Model()),
	}
}

// Enrich assesses the stored snapshot. When force is false and the snapshot
// hash equals the stored one, the provider is not called.
func (s *Service) Enrich(ctx context.Context, applicantID string, force bool) result.Result {
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
		return result.Failed(Operation, applicantID, fmt.Errorf("%w: applicant has no snapshot, aggregate it first", snapshot.ErrInvalidFormat))
	}
	snap, err := snapshot.ParseString(applicant.Snapshot)
	if err != nil {
		return result.Failed(Operation, applicantID, err)
	}
	hash, err := snap.Hash()
	if err != nil {
		return result.Failed(Operation, applicantID, err)
	}

	if !force && applicant.Hash == hash {
		log.Debug("snapshot unchanged, keeping assessment", zap.String("hash", hash))
		return result.Skipped(Operation, applicantID, "snapshot unchanged since last assessment")
	}

	payload, err := snap.Indented()
	if err != nil {
		return result.Failed(Operation, applicantID, err)
	}
	req := ai.Request{
		Instruction: ai.Instruction(s.cfg.SummaryWords, s.provider.SupportsStructuredOutput()),
		Payload:     ai.Payload(string(payload)),
	}

	policy := s.cfg.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("provider call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	attempts := 0
	assessment, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*ai.Assessment, error) {
		attempts = attempt
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
		resp, err := s.provider.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return assessmentFrom(resp)
	})
	if err != nil {
		log.Error("assessment failed", zap.Int("attempts", attempts), zap.Error(err))
		return result.Failed(Operation, applicantID, fmt.Errorf("%w: %w", ErrEvaluationFailed, err))
	}

	fields := s.fields(assessment, hash)
	if len(assessment.Issues) == 0 && applicant.Issues != "" {
		fields[records.FieldIssues] = ""
	}
	if _, err := s.store.Update(ctx, store.Applicants, applicantID, fields); err != nil {
		return result.Failed(Operation, applicantID, fmt.Errorf("storing assessment: %w", err))
	}

	log.Info("applicant enriched",
		zap.Int("score", assessment.Score),
		zap.Int("issues", len(assessment.Issues)),
		zap.Int("follow_ups", len(assessment.FollowUps)),
		zap.Int("attempts", attempts),
	)

	return result.Success(Operation, applicantID, fmt.Sprintf("score %d/%d after %d attempt(s)", assessment.Score, ai.MaxScore, attempts))
}

func (s *Service) fields(a *ai.Assessment, hash string) map[string]any {
	summary, _ := utils.TruncateWords(a.Summary, s.cfg.SummaryWords)

	followUps := a.FollowUps
	if len(followUps) > s.cfg.MaxFollowUps {
		followUps = followUps[:s.cfg.MaxFollowUps]
	}
	lines := make([]string, 0, len(followUps))
	for _, q := range followUps {
		lines = append(lines, "- "+q)
	}

	fields := map[string]any{
		records.FieldSummary:   summary,
		records.FieldScore:     a.Score,
		records.FieldFollowUps: strings.Join(lines, "\n"),
		records.FieldHash:      hash,
	}
	if len(a.Issues) > 0 {
		fields[records.FieldIssues] = strings.Join(a.Issues, ", ")
	}
	return fields
}

// assessmentFrom prefers the structured assessment, then the labelled text
// format, then a JSON object embedded in the text.
func assessmentFrom(resp *ai.Response) (*ai.Assessment, error) {
	if resp == nil {
		return nil, &ai.ParseError{Reason: "empty response"}
	}

	a := resp.Assessment
	if a == nil {
		var err error
		if a, err = ai.ParseText(resp.Text); err != nil {
			decoded, jsonErr := ai.DecodeJSON(resp.Text)
			if jsonErr != nil {
				return nil, err
			}
			a = decoded
		}
	}

	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
