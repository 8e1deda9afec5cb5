package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/llm"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse is what a Searcher returns.
type SearchResponse struct {
	// Answer is the provider's own short answer, when it offers one.
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (*SearchResponse, error)
}

// TavilyClient queries the Tavily search API.
type TavilyClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewTavily creates a client. It returns nil when apiKey is empty so the
// caller can register the web worker as unavailable.
func NewTavily(apiKey string) *TavilyClient {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return &TavilyClient{
		apiKey:  apiKey,
		baseURL: DefaultTavilyURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the client at another endpoint.
func (c *TavilyClient) WithBaseURL(url string) *TavilyClient {
	c.baseURL = url
	return c
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

// Search implements Searcher.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) (*SearchResponse, error) {
	payload, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewWorkerError("search request failed", err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.NewWorkerError(
			fmt.Sprintf("search returned %s: %s", resp.Status, strings.TrimSpace(string(snippet))), nil,
		).WithRetryable(llm.Retryable(resp.StatusCode))
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.NewWorkerError("decode search response", err)
	}
	return &out, nil
}
