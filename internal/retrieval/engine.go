// Package retrieval implements hybrid proposal search: lexical and vector search run
// concurrently, are fused with Reciprocal Rank Fusion and optionally reranked.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/govquery/explorer/internal/apperrors"
	"github.com/govquery/explorer/internal/cohere"
	"github.com/govquery/explorer/internal/models"
	"github.com/govquery/explorer/internal/observability"
)

// Defaults for Options.
const (
	DefaultLexicalLimit = 50
	DefaultVectorLimit  = 50
	DefaultRerankTopN   = 30
	DefaultTopK         = 10
)

// Store runs the two ranked searches.
type Store interface {
	LexicalSearch(ctx context.Context, query string, filters *models.SearchFilters, limit int) ([]models.RankedProposal, error)
	VectorSearch(ctx context.Context, embedding []float32, filters *models.SearchFilters, limit int) ([]models.RankedProposal, error)
}

// Embedder computes a query vector.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Reranker reorders documents by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]cohere.RerankResult, error)
}

// Options tunes the engine. Zero values use the defaults.
type Options struct {
	RRFK         int
	LexicalLimit int
	VectorLimit  int
	RerankTopN   int
}

func (o Options) withDefaults() Options {
	if o.RRFK <= 0 {
		o.RRFK = DefaultRRFK
	}

	if o.LexicalLimit <= 0 {
		o.LexicalLimit = DefaultLexicalLimit
	}

	if o.VectorLimit <= 0 {
		o.VectorLimit = DefaultVectorLimit
	}

	if o.RerankTopN <= 0 {
		o.RerankTopN = DefaultRerankTopN
	}

	return o
}

// EngineParams configures an Engine. Reranker, Metrics and Logger may be nil.
type EngineParams struct {
	Store    Store
	Embedder Embedder
	Reranker Reranker
	Options  Options
	Metrics  observability.PipelineMetrics
	Logger   *slog.Logger
}

// Engine performs hybrid search.
type Engine struct {
	store    Store
	embedder Embedder
	reranker Reranker
	opts     Options
	metrics  observability.PipelineMetrics
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(p EngineParams) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:    p.Store,
		embedder: p.Embedder,
		reranker: p.Reranker,
		opts:     p.Options.withDefaults(),
		metrics:  p.Metrics,
		logger:   logger,
	}
}

// Search returns up to topK results for query, best first. A blank query returns an empty list.
// An embedding failure degrades to an empty list; a rerank failure keeps the fused order. Store
// failures are returned.
func (e *Engine) Search(
	ctx context.Context, query string, filters *models.SearchFilters, topK int, useRerank bool,
) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.SearchResult{}, nil
	}

	if topK <= 0 {
		topK = DefaultTopK
	}

	ctx, span := observability.Tracer().Start(ctx, "retrieval.search",
		trace.WithAttributes(attribute.Int("top_k", topK), attribute.Bool("use_rerank", useRerank)))
	defer span.End()

	embedding, err := e.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if e.metrics != nil {
			e.metrics.RecordEmbeddingFailure(ctx)
		}

		e.logger.WarnContext(ctx, "query embedding failed, returning no results",
			"error", apperrors.NewExternalServiceError(apperrors.ServiceEmbedding, err))

		return []models.SearchResult{}, nil
	}

	var lexical, vector []models.RankedProposal

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error

		lexical, err = e.store.LexicalSearch(gctx, query, filters, e.opts.LexicalLimit)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		var err error

		vector, err = e.store.VectorSearch(gctx, embedding, filters, e.opts.VectorLimit)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)

		return nil, err
	}

	fused := FuseRRF(e.opts.RRFK, lexical, vector)
	span.SetAttributes(
		attribute.Int("lexical_hits", len(lexical)),
		attribute.Int("vector_hits", len(vector)),
		attribute.Int("fused", len(fused)),
	)

	results := toResults(fused)

	if useRerank && e.reranker != nil && len(results) > 0 {
		results = e.rerank(ctx, query, results)
	}

	if len(results) > topK {
		results = results[:topK]
	}

	e.logger.DebugContext(ctx, "hybrid search finished",
		"lexical", len(lexical), "vector", len(vector), "returned", len(results))

	return results, nil
}

func toResults(fused []Fused) []models.SearchResult {
	out := make([]models.SearchResult, len(fused))

	for i, f := range fused {
		p := f.Proposal
		created := p.CreatedAt

		out[i] = models.SearchResult{
			ID:          p.ID,
			Title:       p.Title,
			Network:     p.Network,
			Type:        p.Type,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Status:      p.Status,
			Proposer:    p.Proposer,
			Description: p.Description,
			Snippet:     Snippet(p.Title, p.Description),
			Score:       f.Score,
			FusedScore:  f.Score,
		}

		if !created.IsZero() {
			out[i].CreatedAt = &created
		}
	}

	return out
}

// rerank reorders the head of results by the reranker's relevance scores. Documents beyond the
// head keep their fused order. Any failure returns results unchanged.
func (e *Engine) rerank(ctx context.Context, query string, results []models.SearchResult) []models.SearchResult {
	n := min(e.opts.RerankTopN, len(results))
	head := results[:n]

	docs := make([]string, n)
	for i, r := range head {
		docs[i] = strings.TrimSpace(r.Title + "\n" + r.Description)
	}

	start := time.Now()

	ranked, err := e.reranker.Rerank(ctx, query, docs, n)
	if err != nil {
		e.rerankFallback(ctx, "rerank failed, keeping fused order",
			apperrors.NewExternalServiceError(apperrors.ServiceRerank, err))

		return results
	}

	reordered := make([]models.SearchResult, 0, len(results))
	used := make([]bool, n)

	for _, r := range ranked {
		if r.Index < 0 || r.Index >= n || used[r.Index] {
			continue
		}

		used[r.Index] = true
		doc := head[r.Index]
		doc.Score = r.RelevanceScore
		reordered = append(reordered, doc)
	}

	if len(reordered) == 0 {
		e.rerankFallback(ctx, "rerank returned no usable results, keeping fused order", nil)

		return results
	}

	// Head documents the reranker omitted keep their fused order behind the reranked ones.
	for i, doc := range head {
		if !used[i] {
			reordered = append(reordered, doc)
		}
	}

	reordered = append(reordered, results[n:]...)

	e.logger.DebugContext(ctx, "reranked results", "count", len(ranked), "duration_ms", time.Since(start).Milliseconds())

	return reordered
}

func (e *Engine) rerankFallback(ctx context.Context, msg string, err error) {
	if e.metrics != nil {
		e.metrics.RecordRerankFallback(ctx)
	}

	if err != nil {
		e.logger.WarnContext(ctx, msg, "error", err)

		return
	}

	e.logger.WarnContext(ctx, msg)
}
