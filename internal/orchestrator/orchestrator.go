// Package orchestrator drives one query through routing, the SQL or retrieval agent, result
// unification and composition, and turns the finished state into an ordered event stream.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/govquery/explorer/internal/models"
	"github.com/govquery/explorer/internal/observability"
)

// userErrorMessage is the generic text sent with an error event.
const userErrorMessage = "Failed to process query"

// Orchestrator runs queries through an Executor.
type Orchestrator struct {
	executor Executor
	composer *Composer
	metrics  observability.PipelineMetrics
	logger   *slog.Logger
}

// Params configures an Orchestrator. Metrics and Logger may be nil.
type Params struct {
	Executor Executor
	Composer *Composer
	Metrics  observability.PipelineMetrics
	Logger   *slog.Logger
}

// New creates an Orchestrator.
func New(p Params) *Orchestrator {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	composer := p.Composer
	if composer == nil {
		composer = NewComposer(DefaultRelevanceThreshold)
	}

	return &Orchestrator{executor: p.Executor, composer: composer, metrics: p.Metrics, logger: logger}
}

// Run executes the pipeline for query and returns the finished state.
func (o *Orchestrator) Run(ctx context.Context, query string) (*models.OrchestrationState, error) {
	state := models.NewOrchestrationState(query)

	if err := o.executor.Execute(ctx, state); err != nil {
		return state, err
	}

	return state, nil
}

// Stream runs the pipeline and delivers its events on the returned channel, which is closed after
// the last event. On failure the only event is an error event. If ctx ends, delivery stops and
// the channel is closed.
func (o *Orchestrator) Stream(ctx context.Context, query string) <-chan models.StreamEvent {
	ch := make(chan models.StreamEvent)

	go func() {
		defer close(ch)

		state, err := o.Run(ctx, query)

		var events []models.StreamEvent
		if err != nil {
			if ctx.Err() == nil && o.metrics != nil {
				o.metrics.RecordStreamError(ctx)
			}

			o.logger.ErrorContext(ctx, "orchestration failed", "error", err)
			events = []models.StreamEvent{ErrorEvent(err)}
		} else {
			events = o.Events(state)
		}

		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// ErrorEvent builds the terminal error event for err.
func ErrorEvent(err error) models.StreamEvent {
	return models.StreamEvent{
		Stage: models.EventError,
		Payload: map[string]any{
			"error":   err.Error(),
			"message": userErrorMessage,
		},
	}
}

// Events renders a finished state as the ordered event sequence: router_decision, then
// sql_result or retrieval_hits for those routes, then final_answer, then proposal_descriptions
// when the composer kept any proposals.
func (o *Orchestrator) Events(state *models.OrchestrationState) []models.StreamEvent {
	events := []models.StreamEvent{{
		Stage: models.EventRouterDecision,
		Payload: map[string]any{
			"decision":        string(state.RouteDecision),
			"processing_time": state.ProcessingTimes[models.StageRouter],
		},
	}}

	switch state.RouteDecision {
	case models.RouteSQL:
		payload := map[string]any{
			"sql":             state.SQLQuery,
			"count":           int64(0),
			"examples":        []models.Row{},
			"processing_time": state.ProcessingTimes[models.StageSQLAgent],
		}

		if r := state.SQLResult; r != nil {
			payload["count"] = r.Count
			if r.Examples != nil {
				payload["examples"] = r.Examples
			}

			if r.Error != "" {
				payload["error"] = r.Error
			}
		}

		events = append(events, models.StreamEvent{Stage: models.EventSQLResult, Payload: payload})
	case models.RouteRetrieval:
		hits := o.composer.DisplaySet(state.RetrievalHits)

		events = append(events, models.StreamEvent{
			Stage: models.EventRetrievalHits,
			Payload: map[string]any{
				"hits":            hits,
				"count":           len(hits),
				"processing_time": state.ProcessingTimes[models.StageRetrieval],
			},
		})
	}

	events = append(events, models.StreamEvent{
		Stage: models.EventFinalAnswer,
		Payload: map[string]any{
			"answer":           state.FinalAnswer,
			"metadata":         state.Metadata,
			"processing_times": state.ProcessingTimes,
		},
	})

	if len(state.ProposalsForDescriptions) > 0 {
		events = append(events, models.StreamEvent{
			Stage:   models.EventProposalDescriptions,
			Payload: map[string]any{"proposals": state.ProposalsForDescriptions},
		})
	}

	return events
}
