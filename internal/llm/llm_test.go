package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
)

// completionRequest is the part of the request body the tests inspect.
type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.LLMConfig{
		BaseURL:        srv.URL + "/",
		APIKey:         "sk-test",
		Model:          "test-model",
		Temperature:    0.5,
		TimeoutSeconds: 5,
	})
}

func TestComplete(t *testing.T) {
	var got completionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  4 \n"},"finish_reason":"stop"}]}`))
	})

	out, err := c.Complete(context.Background(), []Message{System("be brief"), User("2+2?")})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "4" {
		t.Errorf("Complete() = %q, want %q", out, "4")
	}
	if got.Model != "test-model" || got.Temperature != 0.5 || len(got.Messages) != 2 {
		t.Errorf("request = %+v", got)
	}
	if got.Messages[0].Role != RoleSystem || got.Messages[1].Content != "2+2?" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestComplete_HTTPErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		message     string
		retryable   bool
	}{
		{"rate limited", http.StatusTooManyRequests, "application/json", `{"error":{"message":"slow down","type":"rate_limit"}}`, "slow down", true},
		{"server error", http.StatusBadGateway, "application/json", "", "502", true},
		{"proxy page", http.StatusServiceUnavailable, "text/html", "<html>busy</html>", "503", true},
		{"bad request", http.StatusBadRequest, "application/json", `{"error":{"message":"bad model","type":"invalid_request_error"}}`, "bad model", false},
		{"unauthorized", http.StatusUnauthorized, "application/json", "", "401", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Complete(context.Background(), []Message{User("hi")})

			var werr *errors.WorkerError
			if !errors.As(err, &werr) {
				t.Fatalf("error = %v, want WorkerError", err)
			}
			if errors.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", errors.IsRetryable(err), tt.retryable)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not mention %q", err, tt.message)
			}
		})
	}
}

func TestComplete_MalformedResponses(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   "<html>",
		"no choices": `{"choices":[]}`,
		"empty":      `{"choices":[{"message":{"content":"   "}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := c.Complete(context.Background(), []Message{User("hi")})
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.IsRetryable(err) {
				t.Errorf("malformed response should not be retryable: %v", err)
			}
		})
	}
}

func TestComplete_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(config.LLMConfig{BaseURL: url, TimeoutSeconds: 1})
	_, err := c.Complete(context.Background(), []Message{User("hi")})
	if !errors.IsRetryable(err) {
		t.Errorf("error = %v, want retryable", err)
	}
}

func TestComplete_RespectsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, []Message{User("hi")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded in chain", err)
	}
}

func TestComplete_Validation(t *testing.T) {
	c := New(config.LLMConfig{BaseURL: "http://localhost:1"})
	if _, err := c.Complete(context.Background(), nil); !errors.IsValidation(err) {
		t.Errorf("no messages: error = %v", err)
	}

	c = New(config.LLMConfig{})
	if _, err := c.Complete(context.Background(), []Message{User("hi")}); !errors.IsValidation(err) {
		t.Errorf("no base URL: error = %v", err)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := map[string]string{
		"":                           "",
		"localhost:1234/v1":          "http://localhost:1234/v1",
		" https://api.example.com/ ": "https://api.example.com",
		"https://api.openai.com/v1":  "https://api.openai.com/v1",
	}
	for in, want := range tests {
		if got := normalizeBaseURL(in); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
