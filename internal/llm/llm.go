// Package llm talks to OpenAI-compatible chat-completions endpoints through
// go-openai. Decomposition, synthesis and the built-in workers all talk to
// the model through [Completer].
package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Completer produces the assistant reply to a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, messages []Message) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// Client calls an OpenAI-compatible chat-completions endpoint through
// go-openai, pointed at the configured base URL.
type Client struct {
	api         *openai.Client
	baseURL     string
	model       string
	temperature float64
}

// New creates a Client from the llm config section.
func New(cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := normalizeBaseURL(cfg.BaseURL)

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = baseURL
	oc.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	return &Client{
		api:         openai.NewClientWithConfig(oc),
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete implements Completer. Transport failures, 429 and 5xx responses
// are retryable worker errors; other failures are not.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.NewValidationError("completion needs at least one message").WithField("messages")
	}
	if c.baseURL == "" {
		return "", errors.NewValidationError("llm base URL is not configured").WithField("llm.base_url")
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: float32(c.temperature),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewWorkerError("llm response has no choices", nil)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.NewWorkerError("llm response is empty", nil)
	}
	return content, nil
}

// classify maps a go-openai error onto a WorkerError, retryable for
// transport failures and for 429 or 5xx responses.
func classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("llm returned %d", apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			msg += ": " + apiErr.Message
		}
		return errors.NewWorkerError(msg, err).WithRetryable(Retryable(apiErr.HTTPStatusCode))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := fmt.Sprintf("llm returned %d", reqErr.HTTPStatusCode)
		return errors.NewWorkerError(msg, err).WithRetryable(Retryable(reqErr.HTTPStatusCode))
	}

	// Error bodies that are not JSON come back as plain errors carrying
	// "status code: N".
	if status, ok := statusCode(err); ok {
		msg := fmt.Sprintf("llm returned %d", status)
		return errors.NewWorkerError(msg, err).WithRetryable(Retryable(status))
	}

	if ctx.Err() != nil {
		return errors.NewWorkerError("llm request cancelled", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errors.NewWorkerError("llm request failed", err).WithRetryable(true)
	}
	return errors.NewWorkerError("decode llm response", err)
}

func statusCode(err error) (int, bool) {
	_, rest, ok := strings.Cut(err.Error(), "status code: ")
	if !ok {
		return 0, false
	}
	digits, _, _ := strings.Cut(rest, ",")
	status, convErr := strconv.Atoi(strings.TrimSpace(digits))
	return status, convErr == nil && status >= 100
}

// Retryable reports whether an HTTP status is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}
