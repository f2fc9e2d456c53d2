// Package openrouter calls an OpenAI-compatible chat completion endpoint and
// returns free text in the labelled assessment format.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/ai"
	"github.com/spigell/shortlister/internal/logger"
	"github.com/spigell/shortlister/internal/utils"
)

const (
	ProviderName = "openrouter"

	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"

	defaultTimeout      = 60 * time.Second
	defaultMaxTokens    = 600
	defaultTemperature  = 0.3
	defaultMaxLogLength = 200
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

type Client struct {
	http        *resty.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openrouter api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Client{
		http:        client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger.WithCommonFields(log, ProviderName, model),
	}, nil
}

func (c *Client) Name() string { return ProviderName }

func (c *Client) Model() string { return c.model }

func (c *Client) SupportsStructuredOutput() bool { return false }

func (c *Client) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	payload := strings.TrimSpace(req.Payload)
	if payload == "" {
		return nil, &ai.PermanentError{Provider: ProviderName, Err: errors.New("payload must not be empty")}
	}

	c.logger.Debug("openrouter request",
		zap.Int("prompt_length", utf8.RuneCountInString(payload)),
		zap.String("prompt_preview", utils.TruncateForLog(payload, defaultMaxLogLength)),
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model": c.model,
			"messages": []map[string]string{
				{"role": "system", "content": req.Instruction},
				{"role": "user", "content": payload},
			},
			"temperature": c.temperature,
			"max_tokens":  c.maxTokens,
		}).
		Post("/chat/completions")
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &ai.TransientError{Provider: ProviderName, Err: fmt.Errorf("chat completion: %w", err)}
	}

	if err := statusError(resp); err != nil {
		return nil, err
	}

	text := messageText(gjson.Get(resp.String(), "choices.0.message.content"))
	c.logger.Debug("openrouter response",
		zap.Int("response_length", utf8.RuneCountInString(text)),
		zap.String("response_preview", utils.TruncateForLog(text, defaultMaxLogLength)),
	)
	if text == "" {
		return nil, &ai.ParseError{Reason: "no message content in chat completion", Raw: resp.String()}
	}

	return &ai.Response{Text: text}, nil
}

// statusError maps non-2xx answers: throttling, timeouts and server errors are
// transient, everything else is permanent.
func statusError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	msg := gjson.Get(resp.String(), "error.message").String()
	if msg == "" {
		msg = utils.TruncateForLog(resp.String(), defaultMaxLogLength)
	}
	err := fmt.Errorf("chat completion returned %d: %s", resp.StatusCode(), msg)

	code := resp.StatusCode()
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError {
		return &ai.TransientError{Provider: ProviderName, Err: err}
	}
	return &ai.PermanentError{Provider: ProviderName, Err: err}
}

// messageText accepts both string content and a list of typed parts.
func messageText(content gjson.Result) string {
	if !content.IsArray() {
		return strings.TrimSpace(content.String())
	}

	var parts []string
	content.ForEach(func(_, part gjson.Result) bool {
		text := part.Get("text").String()
		if text == "" {
			text = part.Get("content").String()
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
		return true
	})
	return strings.Join(parts, "\n")
}
