// Package embeddings turns query text into vectors for similarity search. Providers are wrapped
// by a process-wide rate limiter and a query cache.
package embeddings

import (
	"context"
	"errors"
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("embeddings: text is empty")

// Provider computes embeddings. Implementations return vectors of a fixed dimension.
type Provider interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}
