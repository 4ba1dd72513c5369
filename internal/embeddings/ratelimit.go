package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/time/rate"
)

// Provider budgets per rolling minute.
const (
	DefaultRequestsPerMinute = 3000
	DefaultTokensPerMinute   = 1_000_000
)

// tokensPerWord approximates the tokenizer without calling it.
const tokensPerWord = 1.3

// EstimateTokens returns ceil(words * 1.3), at least 1.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))

	tokens := int(math.Ceil(float64(words) * tokensPerWord))
	if tokens < 1 {
		return 1
	}

	return tokens
}

// RateLimited enforces a shared requests-per-minute and tokens-per-minute budget in front of a
// Provider. Callers over budget block until capacity frees or their context ends. Construct one
// per process and share it.
type RateLimited struct {
	next     Provider
	requests *rate.Limiter
	tokens   *rate.Limiter
}

var _ Provider = (*RateLimited)(nil)

// NewRateLimited wraps next. Non-positive budgets use the defaults.
func NewRateLimited(next Provider, requestsPerMinute, tokensPerMinute int) *RateLimited {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}

	if tokensPerMinute <= 0 {
		tokensPerMinute = DefaultTokensPerMinute
	}

	return &RateLimited{
		next:     next,
		requests: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), requestsPerMinute),
		tokens:   rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/60), tokensPerMinute),
	}
}

func (r *RateLimited) wait(ctx context.Context, texts ...string) error {
	total := 0
	for _, t := range texts {
		total += EstimateTokens(t)
	}

	// A single batch larger than the whole budget can never be admitted.
	if total > r.tokens.Burst() {
		return fmt.Errorf("embedding batch of ~%d tokens exceeds per-minute budget %d", total, r.tokens.Burst())
	}

	if err := r.requests.Wait(ctx); err != nil {
		return fmt.Errorf("embedding request budget: %w", err)
	}

	if err := r.tokens.WaitN(ctx, total); err != nil {
		return fmt.Errorf("embedding token budget: %w", err)
	}

	return nil
}

// CreateEmbedding waits for budget and delegates.
func (r *RateLimited) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	if err := r.wait(ctx, text); err != nil {
		return nil, err
	}

	return r.next.CreateEmbedding(ctx, text)
}

// CreateEmbeddings waits for budget covering the whole batch as one request and delegates.
func (r *RateLimited) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}

	if err := r.wait(ctx, texts...); err != nil {
		return nil, err
	}

	return r.next.CreateEmbeddings(ctx, texts)
}
