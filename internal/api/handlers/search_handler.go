package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/govquery/explorer/internal/api/response"
	"github.com/govquery/explorer/internal/api/validation"
	"github.com/govquery/explorer/internal/apperrors"
	"github.com/govquery/explorer/internal/models"
)

// Searcher runs hybrid retrieval.
type Searcher interface {
	Search(ctx context.Context, query string, filters *models.SearchFilters, topK int, useRerank bool) ([]models.SearchResult, error)
}

// SearchHandler exposes the hybrid retrieval engine directly.
type SearchHandler struct {
	searcher    Searcher
	defaultTopK int
	logger      *slog.Logger
}

// NewSearchHandler creates a search handler. defaultTopK applies when the request omits top_k.
func NewSearchHandler(searcher Searcher, defaultTopK int, logger *slog.Logger) *SearchHandler {
	if logger == nil {
		logger = slog.Default()
	}

	if defaultTopK <= 0 {
		defaultTopK = 10
	}

	return &SearchHandler{searcher: searcher, defaultTopK: defaultTopK, logger: logger}
}

// SearchRequest is the body for POST /search. A blank query is answered by the engine with an
// empty result list.
type SearchRequest struct {
	Query     string                `json:"query" validate:"max=2000,no_null_bytes"`
	Filters   *models.SearchFilters `json:"filters,omitempty"`
	TopK      *int                  `json:"top_k,omitempty" validate:"omitempty,min=1,max=100"`
	UseRerank *bool                 `json:"use_rerank,omitempty"`
}

// SearchResponse lists ranked proposals.
type SearchResponse struct {
	Results []models.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

// checkRanges rejects inverted amount and date ranges.
func checkRanges(f *models.SearchFilters) error {
	if f == nil {
		return nil
	}

	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return apperrors.NewValidationError("filters.min_amount", "filters.min_amount must not exceed filters.max_amount")
	}

	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return apperrors.NewValidationError("filters.start_date", "filters.start_date must not be after filters.end_date")
	}

	return nil
}

// Search handles POST /search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	if err := checkRanges(req.Filters); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	topK := h.defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	useRerank := true
	if req.UseRerank != nil {
		useRerank = *req.UseRerank
	}

	results, err := h.searcher.Search(r.Context(), req.Query, req.Filters, topK, useRerank)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "search failed", "error", err)
		response.RespondAppError(w, err, "Search failed")

		return
	}

	if results == nil {
		results = []models.SearchResult{}
	}

	response.RespondJSON(w, http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}
