package orchestrator

import (
	"context"
	"fmt"

	"github.com/govquery/explorer/internal/apperrors"
	"github.com/govquery/explorer/internal/models"
)

// stageDone is the terminal state of the pipeline graph.
const stageDone = "done"

// maxGraphSteps bounds graph traversal. The pipeline has at most four transitions.
const maxGraphSteps = 16

// Executor drives the pipeline stages over state. Implementations must produce identical state
// for identical stages and input.
type Executor interface {
	Execute(ctx context.Context, state *models.OrchestrationState) error
}

// nextStageAfterRouter maps the route decision to the following stage. The direct route skips
// straight to the composer.
func nextStageAfterRouter(state *models.OrchestrationState) string {
	switch state.RouteDecision {
	case models.RouteSQL:
		return models.StageSQLAgent
	case models.RouteRetrieval:
		return models.StageRetrieval
	default:
		return models.StageComposer
	}
}

// SequentialExecutor calls the stages directly in pipeline order.
type SequentialExecutor struct {
	stages *Stages
}

var _ Executor = (*SequentialExecutor)(nil)

// NewSequentialExecutor creates a SequentialExecutor.
func NewSequentialExecutor(stages *Stages) *SequentialExecutor {
	return &SequentialExecutor{stages: stages}
}

// Execute runs router, the routed agent, rerank and composer.
func (e *SequentialExecutor) Execute(ctx context.Context, state *models.OrchestrationState) error {
	if err := e.stages.run(ctx, models.StageRouter, state); err != nil {
		return err
	}

	if next := nextStageAfterRouter(state); next != models.StageComposer {
		if err := e.stages.run(ctx, next, state); err != nil {
			return err
		}

		if err := e.stages.run(ctx, models.StageRerank, state); err != nil {
			return err
		}
	}

	return e.stages.run(ctx, models.StageComposer, state)
}

// edge returns the node that follows the current one.
type edge func(state *models.OrchestrationState) string

func always(next string) edge {
	return func(*models.OrchestrationState) string { return next }
}

// GraphExecutor walks a state graph from the router until it reaches done.
type GraphExecutor struct {
	stages *Stages
	entry  string
	edges  map[string]edge
}

var _ Executor = (*GraphExecutor)(nil)

// NewGraphExecutor builds the pipeline graph:
// router -> {sql_agent | retrieval_agent | composer}; sql_agent, retrieval_agent -> rerank;
// rerank -> composer; composer -> done.
func NewGraphExecutor(stages *Stages) *GraphExecutor {
	return &GraphExecutor{
		stages: stages,
		entry:  models.StageRouter,
		edges: map[string]edge{
			models.StageRouter:    nextStageAfterRouter,
			models.StageSQLAgent:  always(models.StageRerank),
			models.StageRetrieval: always(models.StageRerank),
			models.StageRerank:    always(models.StageComposer),
			models.StageComposer:  always(stageDone),
		},
	}
}

// Execute runs nodes until done. A node without an outgoing edge, or a walk longer than the
// graph allows, is a PipelineError.
func (e *GraphExecutor) Execute(ctx context.Context, state *models.OrchestrationState) error {
	current := e.entry

	for step := 0; current != stageDone; step++ {
		if step >= maxGraphSteps {
			return apperrors.NewPipelineError(current, fmt.Errorf("graph did not terminate after %d steps", maxGraphSteps))
		}

		next, ok := e.edges[current]
		if !ok {
			return apperrors.NewPipelineError(current, fmt.Errorf("no edge from %q", current))
		}

		if err := e.stages.run(ctx, current, state); err != nil {
			return err
		}

		current = next(state)
	}

	return nil
}
