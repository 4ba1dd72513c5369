// Package cohere is a small client for the Cohere rerank API.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultBaseURL = "https://api.cohere.com"
	defaultModel   = "rerank-v3.5"
	rerankPath     = "/v2/rerank"
)

// ErrNoDocuments is returned when Rerank is called without documents.
var ErrNoDocuments = errors.New("cohere: no documents to rerank")

// ClientOptions configures the rerank client.
type ClientOptions struct {
	// BaseURL is the API root (default: "https://api.cohere.com").
	BaseURL string
	APIKey  string
	// Model is the rerank model (default: "rerank-v3.5").
	Model string
	// RetryMax is the maximum number of retries (default: 3).
	RetryMax int
	// Timeout bounds each HTTP attempt (default: 10 seconds).
	Timeout time.Duration
	// RetryWaitMin and RetryWaitMax bound the backoff between attempts (defaults from retryablehttp).
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client calls the Cohere rerank endpoint with retries.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *retryablehttp.Client
}

// RerankResult is one reranked document: its index in the request and its relevance score.
type RerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []RerankResult `json:"results"`
}

// NewClient creates a rerank client. Returns nil when opts.APIKey is empty so callers can treat
// reranking as disabled.
func NewClient(opts ClientOptions) *Client {
	if opts.APIKey == "" {
		return nil
	}

	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}

	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, rerankPath)

	if opts.Model == "" {
		opts.Model = defaultModel
	}

	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil

	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}

	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: retryClient,
	}
}

// Rerank scores documents against query and returns them most relevant first. topN <= 0 returns
// every document.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, ErrNoDocuments
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rerankPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute rerank request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close rerank response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out rerankResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank result index %d out of range for %d documents", r.Index, len(documents))
		}
	}

	return out.Results, nil
}
