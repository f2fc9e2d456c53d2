package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/shortlister/internal/ai"
	"github.com/spigell/shortlister/internal/logger"
	"github.com/spigell/shortlister/internal/utils"
)

const (
	ProviderName = "gemini"

	defaultModel        = "gemini-2.5-flash"
	defaultMaxLogLength = 200
	defaultTemperature  = 0.3

	// Quota errors asking for a longer pause than this are not worth retrying
	// inside one batch.
	maxQuotaDelay = 30 * time.Second
)

var quotaDelayPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*s`)

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (g genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := g.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Generator asks Gemini for a schema-constrained assessment.
type Generator struct {
	chats     chatCreator
	model     string
	logger    *zap.Logger
	maxLogLen int
}

// NewGenerator creates a new Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, apiKey, model string, log *zap.Logger) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	return &Generator{
		chats:     genaiChats{chats: client.Chats},
		model:     model,
		logger:    logger.WithCommonFields(log, ProviderName, model),
		maxLogLen: defaultMaxLogLength,
	}, nil
}

func (g *Generator) Name() string { return ProviderName }

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func (g *Generator) SupportsStructuredOutput() bool { return true }

// Generate sends one request. A reply that does not decode as an assessment is
// returned as text so the caller can try the labelled format.
func (g *Generator) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	if g == nil || g.chats == nil {
		return nil, errors.New("gemini generator is not initialized")
	}

	payload := strings.TrimSpace(req.Payload)
	if payload == "" {
		return nil, &ai.PermanentError{Provider: ProviderName, Err: errors.New("payload must not be empty")}
	}

	log := logger.WithFields(g.logger)
	log.Debug("gemini request",
		zap.Int("prompt_length", utf8.RuneCountInString(payload)),
		zap.String("prompt_preview", utils.TruncateForLog(payload, g.maxLogLen)),
	)

	chat, err := g.chats.Create(ctx, g.model, g.config(req.Instruction), nil)
	if err != nil {
		return nil, classify(fmt.Errorf("create chat: %w", err))
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: payload})
	if err != nil {
		return nil, classify(fmt.Errorf("send message: %w", err))
	}

	text := responseText(resp)
	log.Debug("gemini response",
		zap.Int("response_length", utf8.RuneCountInString(text)),
		zap.String("response_preview", utils.TruncateForLog(text, g.maxLogLen)),
	)
	if text == "" {
		return nil, &ai.ParseError{Reason: "gemini api returned empty response"}
	}

	assessment, err := ai.DecodeJSON(text)
	if err != nil {
		log.Warn("structured output did not decode, returning text", zap.Error(err))
		return &ai.Response{Text: text}, nil
	}

	return &ai.Response{Assessment: assessment, Text: text}, nil
}

func (g *Generator) config(instruction string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](defaultTemperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   assessmentSchema(),
	}
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instruction}}}
	}
	return cfg
}

func assessmentSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {Type: genai.TypeString},
			"score": {
				Type:    genai.TypeInteger,
				Minimum: genai.Ptr[float64](ai.MinScore),
				Maximum: genai.Ptr[float64](ai.MaxScore),
			},
			"issues": {
				Type:        genai.TypeString,
				Description: "Comma-separated list of data gaps or inconsistencies, or 'None'",
			},
			"follow_ups": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				MaxItems:    genai.Ptr[int64](3),
				Description: "Up to three follow-up questions",
			},
		},
		PropertyOrdering: []string{"summary", "score", "issues", "follow_ups"},
		Required:         []string{"summary", "score", "issues", "follow_ups"},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}

// classify maps SDK and transport failures to the provider error categories.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if apiErr, ok := asAPIError(err); ok {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			if d, ok := quotaDelay(apiErr.Message); ok && d > maxQuotaDelay {
				return &ai.PermanentError{Provider: ProviderName, Err: fmt.Errorf("quota exhausted for %s: %w", d, err)}
			}
			return &ai.TransientError{Provider: ProviderName, Err: err}
		case apiErr.Code == http.StatusRequestTimeout || apiErr.Code >= http.StatusInternalServerError:
			return &ai.TransientError{Provider: ProviderName, Err: err}
		default:
			return &ai.PermanentError{Provider: ProviderName, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ai.TransientError{Provider: ProviderName, Err: err}
	}

	return &ai.PermanentError{Provider: ProviderName, Err: err}
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func quotaDelay(message string) (time.Duration, bool) {
	m := quotaDelayPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
