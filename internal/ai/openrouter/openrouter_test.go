package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/ai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test"}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestGenerateSendsChatCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization header %q", got)
		}

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if body.Model != DefaultModel || len(body.Messages) != 2 || body.Messages[0].Content != "instruction" || body.Messages[1].Content != "payload" {
			t.Errorf("unexpected body: %+v", body)
		}

		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Summary: ok\nScore: 7"}}]}`)
	})

	resp, err := c.Generate(context.Background(), ai.Request{Instruction: "instruction", Payload: "payload"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Assessment != nil || resp.Text != "Summary: ok\nScore: 7" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if c.SupportsStructuredOutput() {
		t.Fatalf("openrouter client returns free text")
	}
}

func TestGenerateJoinsContentParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":[{"type":"text","text":"Summary: a"},{"type":"text","text":"Score: 3"}]}}]}`)
	})

	resp, err := c.Generate(context.Background(), ai.Request{Payload: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "Summary: a\nScore: 3" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
}

func TestGenerateErrorCategories(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		parse     bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, retryable: true},
		{name: "upstream error", status: http.StatusBadGateway, body: `bad gateway`, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"invalid key"}}`},
		{name: "empty choices", status: http.StatusOK, body: `{"choices":[]}`, parse: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := c.Generate(context.Background(), ai.Request{Payload: "p"})
			if err == nil {
				t.Fatal("expected error")
			}
			if ai.IsRetryable(err) != tt.retryable {
				t.Fatalf("IsRetryable = %v, want %v (%v)", ai.IsRetryable(err), tt.retryable, err)
			}
			if tt.parse && !errors.As(err, new(*ai.ParseError)) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if !tt.parse && !tt.retryable && !errors.As(err, new(*ai.PermanentError)) {
				t.Fatalf("expected PermanentError, got %v", err)
			}
		})
	}
}

func TestGenerateConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, APIKey: "sk-test"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.Generate(context.Background(), ai.Request{Payload: "p"})
	if !ai.IsRetryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected error without api key")
	}
}
