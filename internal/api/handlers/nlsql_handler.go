package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/govquery/explorer/internal/api/response"
	"github.com/govquery/explorer/internal/api/validation"
	"github.com/govquery/explorer/internal/apperrors"
	"github.com/govquery/explorer/internal/models"
)

// SQLService plans and executes a question as SQL.
type SQLService interface {
	Run(ctx context.Context, query, schemaHint string) (models.SQLPlan, *models.SQLResult, error)
}

// NLSQLHandler exposes the SQL planner and executor directly.
type NLSQLHandler struct {
	service SQLService
	logger  *slog.Logger
}

// NewNLSQLHandler creates an NLSQLHandler.
func NewNLSQLHandler(service SQLService, logger *slog.Logger) *NLSQLHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &NLSQLHandler{service: service, logger: logger}
}

// NLSQLRequest is the body for POST /nlsql.
type NLSQLRequest struct {
	Query      string `json:"query" validate:"required,not_blank,max=2000,no_null_bytes"`
	SchemaHint string `json:"schema_hint,omitempty" validate:"max=4000,no_null_bytes"`
}

// NLSQLResponse carries the plan and its result, or Error when the generated SQL was rejected.
type NLSQLResponse struct {
	Plan     string       `json:"plan,omitempty"`
	SQL      string       `json:"sql,omitempty"`
	Params   []any        `json:"params,omitempty"`
	Count    int64        `json:"count"`
	Examples []models.Row `json:"examples"`
	Fallback bool         `json:"fallback"`
	Error    string       `json:"error,omitempty"`
}

// Query handles POST /nlsql. A rejected statement is reported with 200 and an error field.
func (h *NLSQLHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req NLSQLRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	plan, result, err := h.service.Run(r.Context(), req.Query, req.SchemaHint)
	if err != nil {
		var secErr *apperrors.SecurityError
		if errors.As(err, &secErr) {
			h.logger.WarnContext(r.Context(), "nlsql rejected", "reason", string(secErr.Reason))
			response.RespondJSON(w, http.StatusOK, NLSQLResponse{Examples: []models.Row{}, Error: secErr.Error()})

			return
		}

		h.logger.ErrorContext(r.Context(), "nlsql failed", "error", err)
		response.RespondAppError(w, err, "SQL query failed")

		return
	}

	examples := result.Examples
	if examples == nil {
		examples = []models.Row{}
	}

	response.RespondJSON(w, http.StatusOK, NLSQLResponse{
		Plan:     plan.Plan,
		SQL:      plan.SQL,
		Params:   plan.Params,
		Count:    result.Count,
		Examples: examples,
		Fallback: plan.Fallback,
	})
}
