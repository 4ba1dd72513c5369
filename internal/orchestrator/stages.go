package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/govquery/explorer/internal/apperrors"
	"github.com/govquery/explorer/internal/intent"
	"github.com/govquery/explorer/internal/models"
	"github.com/govquery/explorer/internal/observability"
)

// retrievalTopK is how many hits the retrieval stage asks for.
const retrievalTopK = 10

// Classifier decides the route for a query.
type Classifier interface {
	Classify(query string) (models.Route, intent.Rule)
}

// SQLRunner plans and executes a question as SQL.
type SQLRunner interface {
	Run(ctx context.Context, query, schemaHint string) (models.SQLPlan, *models.SQLResult, error)
}

// Searcher runs hybrid retrieval.
type Searcher interface {
	Search(ctx context.Context, query string, filters *models.SearchFilters, topK int, useRerank bool) ([]models.SearchResult, error)
}

// stageFunc mutates state for one pipeline stage.
type stageFunc func(ctx context.Context, state *models.OrchestrationState) error

// StagesParams configures Stages. Metrics and Logger may be nil; Clock defaults to time.Now.
type StagesParams struct {
	Router   Classifier
	SQL      SQLRunner
	Search   Searcher
	Composer *Composer
	Metrics  observability.PipelineMetrics
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Stages holds the five pipeline stage functions shared by every executor. Each stage is run
// through the same wrapper, which records timing, opens a span and converts panics to errors.
type Stages struct {
	router   Classifier
	sql      SQLRunner
	search   Searcher
	composer *Composer
	metrics  observability.PipelineMetrics
	logger   *slog.Logger
	clock    func() time.Time
}

// NewStages creates Stages.
func NewStages(p StagesParams) *Stages {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}

	composer := p.Composer
	if composer == nil {
		composer = NewComposer(DefaultRelevanceThreshold)
	}

	return &Stages{
		router:   p.Router,
		sql:      p.SQL,
		search:   p.Search,
		composer: composer,
		metrics:  p.Metrics,
		logger:   logger,
		clock:    clock,
	}
}

// Composer returns the composer used by the composer stage.
func (s *Stages) Composer() *Composer {
	return s.composer
}

func (s *Stages) byName(name string) (stageFunc, error) {
	switch name {
	case models.StageRouter:
		return s.routerStage, nil
	case models.StageSQLAgent:
		return s.sqlAgentStage, nil
	case models.StageRetrieval:
		return s.retrievalStage, nil
	case models.StageRerank:
		return s.rerankStage, nil
	case models.StageComposer:
		return s.composerStage, nil
	default:
		return nil, fmt.Errorf("unknown stage %q", name)
	}
}

// run executes one stage with timing, tracing, metrics and panic recovery. Failures come back as
// *apperrors.PipelineError.
func (s *Stages) run(ctx context.Context, name string, state *models.OrchestrationState) (err error) {
	fn, err := s.byName(name)
	if err != nil {
		return apperrors.NewPipelineError(name, err)
	}

	ctx, span := observability.Tracer().Start(ctx, "orchestrator."+name,
		trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()

	start := s.clock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "pipeline stage panicked", "stage", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}

		elapsed := s.clock().Sub(start)
		state.RecordTiming(name, elapsed)

		outcome := "success"

		if err != nil {
			outcome = "error"

			var pipeErr *apperrors.PipelineError
			if !errors.As(err, &pipeErr) {
				err = apperrors.NewPipelineError(name, err)
			}

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			if s.metrics != nil {
				s.metrics.RecordStageFailure(ctx, name)
			}

			s.logger.ErrorContext(ctx, "pipeline stage failed", "stage", name, "error", err)
		}

		if s.metrics != nil {
			s.metrics.RecordStageDuration(ctx, name, outcome, elapsed)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(ctx, state)
}

func (s *Stages) routerStage(ctx context.Context, state *models.OrchestrationState) error {
	route, rule := s.router.Classify(state.Query)
	state.RouteDecision = route

	if s.metrics != nil {
		s.metrics.RecordRouteDecision(ctx, string(route))
	}

	s.logger.InfoContext(ctx, "query routed", "route", string(route), "rule", string(rule))

	return nil
}

// sqlAgentStage runs the planner and executor. A SecurityError degrades to an empty result
// carrying the error; other failures end the pipeline.
func (s *Stages) sqlAgentStage(ctx context.Context, state *models.OrchestrationState) error {
	plan, result, err := s.sql.Run(ctx, state.Query, "")
	if err != nil {
		var secErr *apperrors.SecurityError
		if !errors.As(err, &secErr) {
			return err
		}

		s.logger.WarnContext(ctx, "sql agent rejected candidate", "reason", string(secErr.Reason))

		state.SQLResult = &models.SQLResult{Count: 0, Examples: []models.Row{}, Error: secErr.Error()}

		return nil
	}

	state.SQLQuery = plan.SQL
	state.SQLResult = result
	state.Metadata["sql_plan"] = plan.Plan
	state.Metadata["sql_fallback"] = plan.Fallback

	s.logger.InfoContext(ctx, "sql agent completed", "count", result.Count, "fallback", plan.Fallback)

	return nil
}

func (s *Stages) retrievalStage(ctx context.Context, state *models.OrchestrationState) error {
	hits, err := s.search.Search(ctx, state.Query, nil, retrievalTopK, true)
	if err != nil {
		return err
	}

	state.RetrievalHits = hits

	s.logger.InfoContext(ctx, "retrieval agent completed", "count", len(hits))

	return nil
}

// rerankStage unifies whichever result set is populated. SQL examples take precedence; they are
// converted into the retrieval result shape.
func (s *Stages) rerankStage(_ context.Context, state *models.OrchestrationState) error {
	switch {
	case state.SQLResult != nil && state.SQLResult.Error == "":
		state.RerankedResults = RowsToResults(state.SQLResult.Examples)
	case len(state.RetrievalHits) > 0:
		state.RerankedResults = state.RetrievalHits
	default:
		state.RerankedResults = []models.SearchResult{}
	}

	return nil
}

func (s *Stages) composerStage(_ context.Context, state *models.OrchestrationState) error {
	s.composer.Compose(state)

	return nil
}
