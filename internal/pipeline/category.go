package pipeline

import (
	"context"
	"errors"

	"github.com/spigell/shortlister/internal/aggregator"
	"github.com/spigell/shortlister/internal/ai"
	"github.com/spigell/shortlister/internal/enrichment"
	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
)

const (
	CategoryMissingData       = "missing_data"
	CategoryInvalidSnapshot   = "invalid_snapshot"
	CategoryNotFound          = "not_found"
	CategoryTransientProvider = "transient_provider"
	CategoryPermanentProvider = "permanent_provider"
	CategoryEvaluationParse   = "evaluation_parse"
	CategoryEvaluationFailed  = "evaluation_failed"
	CategoryCanceled          = "canceled"
	CategoryOther             = "other"
)

// Category names the error class of a failed stage for logs and summaries.
func Category(err error) string {
	var (
		parse     *ai.ParseError
		transient *ai.TransientError
		permanent *ai.PermanentError
	)

	switch {
	case err == nil:
		return ""
	case aggregator.IsMissingData(err):
		return CategoryMissingData
	case errors.Is(err, snapshot.ErrInvalidFormat):
		return CategoryInvalidSnapshot
	case errors.Is(err, store.ErrNotFound):
		return CategoryNotFound
	case errors.As(err, &parse):
		return CategoryEvaluationParse
	case errors.As(err, &transient):
		return CategoryTransientProvider
	case errors.As(err, &permanent):
		return CategoryPermanentProvider
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCanceled
	case errors.Is(err, enrichment.ErrEvaluationFailed):
		return CategoryEvaluationFailed
	default:
		return CategoryOther
	}
}
