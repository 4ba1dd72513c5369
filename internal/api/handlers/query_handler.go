// Package handlers implements the HTTP endpoints of the query service.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/govquery/explorer/internal/api/response"
	"github.com/govquery/explorer/internal/api/validation"
	"github.com/govquery/explorer/internal/models"
	"github.com/govquery/explorer/internal/orchestrator"
)

// defaultHeartbeat is the keep-alive comment interval on the named-event stream.
const defaultHeartbeat = 15 * time.Second

// sseDone terminates every event stream.
const sseDone = "data: [DONE]\n\n"

// QueryPipeline runs a question through the orchestrator.
type QueryPipeline interface {
	Run(ctx context.Context, query string) (*models.OrchestrationState, error)
	Stream(ctx context.Context, query string) <-chan models.StreamEvent
}

// StreamMetrics records stream lifecycle events.
type StreamMetrics interface {
	RecordStreamDisconnect(ctx context.Context, endpoint string)
}

// QueryHandler serves the synchronous and streaming question endpoints.
type QueryHandler struct {
	pipeline  QueryPipeline
	heartbeat time.Duration
	metrics   StreamMetrics
	logger    *slog.Logger
}

// QueryHandlerOption configures a QueryHandler.
type QueryHandlerOption func(*QueryHandler)

// WithHeartbeat sets the keep-alive interval of the named-event stream. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) QueryHandlerOption {
	return func(h *QueryHandler) {
		h.heartbeat = d
	}
}

// WithStreamMetrics records client disconnects on the stream endpoints. Nil disables recording.
func WithStreamMetrics(m StreamMetrics) QueryHandlerOption {
	return func(h *QueryHandler) {
		h.metrics = m
	}
}

// WithQueryLogger sets the handler logger.
func WithQueryLogger(l *slog.Logger) QueryHandlerOption {
	return func(h *QueryHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(pipeline QueryPipeline, opts ...QueryHandlerOption) *QueryHandler {
	h := &QueryHandler{pipeline: pipeline, heartbeat: defaultHeartbeat, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// QueryRequest is the body for POST /query and the stream endpoints.
type QueryRequest struct {
	Query  string  `json:"query" validate:"required,not_blank,max=2000,no_null_bytes"`
	UserID *string `json:"user_id,omitempty" validate:"omitempty,max=128,no_null_bytes"`
}

// QueryResponse is the synchronous answer.
type QueryResponse struct {
	Response        string                `json:"response"`
	SQLQuery        string                `json:"sql_query,omitempty"`
	Results         []models.SearchResult `json:"results,omitempty"`
	Metadata        map[string]any        `json:"metadata"`
	ProcessingTimes map[string]float64    `json:"processing_times"`
}

// Query handles POST /query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	state, err := h.pipeline.Run(r.Context(), req.Query)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "query processing failed", "error", err)
		response.RespondAppError(w, err, "Query processing failed")

		return
	}

	response.RespondJSON(w, http.StatusOK, QueryResponse{
		Response:        state.FinalAnswer,
		SQLQuery:        state.SQLQuery,
		Results:         state.RerankedResults,
		Metadata:        state.Metadata,
		ProcessingTimes: state.ProcessingTimes,
	})
}

// Stream handles POST /query/stream: each event is preceded by an "event: <stage>" line and
// idle periods carry keep-alive comments.
func (h *QueryHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serveEvents(w, r, true)
}

// StreamRaw handles POST /query/stream-raw: bare "data:" lines only.
func (h *QueryHandler) StreamRaw(w http.ResponseWriter, r *http.Request) {
	h.serveEvents(w, r, false)
}

func (h *QueryHandler) serveEvents(w http.ResponseWriter, r *http.Request, named bool) {
	var req QueryRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	ctx := r.Context()
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		h.logger.ErrorContext(ctx, "streaming not supported", "error", err)

		return
	}

	var heartbeat <-chan time.Time

	if named && h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		heartbeat = ticker.C
	}

	events := h.pipeline.Stream(ctx, req.Query)

	for {
		select {
		case <-ctx.Done():
			endpoint := "stream_raw"
			if named {
				endpoint = "stream"
			}

			h.logger.InfoContext(ctx, "stream client disconnected", "endpoint", endpoint)

			if h.metrics != nil {
				h.metrics.RecordStreamDisconnect(ctx, endpoint)
			}

			return
		case <-heartbeat:
			if !h.write(ctx, w, rc, ": keep-alive\n\n") {
				return
			}
		case ev, ok := <-events:
			if !ok {
				h.write(ctx, w, rc, sseDone)

				return
			}

			frame, err := encodeEvent(ev, named)
			if err != nil {
				h.logger.ErrorContext(ctx, "encode stream event", "stage", ev.Stage, "error", err)

				frame, _ = encodeEvent(orchestrator.ErrorEvent(err), named)
				h.write(ctx, w, rc, frame)
				h.write(ctx, w, rc, sseDone)

				return
			}

			if !h.write(ctx, w, rc, frame) {
				return
			}
		}
	}
}

// write sends one frame and flushes it. It reports false when the client is gone.
func (h *QueryHandler) write(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, frame string) bool {
	if _, err := fmt.Fprint(w, frame); err != nil {
		h.logger.InfoContext(ctx, "stream write failed", "error", err)

		return false
	}

	if err := rc.Flush(); err != nil {
		h.logger.InfoContext(ctx, "stream flush failed", "error", err)

		return false
	}

	return true
}

func encodeEvent(ev models.StreamEvent, named bool) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	if named {
		return fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Stage, data), nil
	}

	return fmt.Sprintf("data: %s\n\n", data), nil
}
