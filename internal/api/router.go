// Package api assembles the HTTP router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/govquery/explorer/internal/api/handlers"
	"github.com/govquery/explorer/internal/api/middleware"
	"github.com/govquery/explorer/internal/observability"
)

// RouterParams holds the handlers and middleware inputs for NewRouter. Metrics fields and
// MetricsHandler may be nil.
type RouterParams struct {
	Health *handlers.HealthHandler
	Query  *handlers.QueryHandler
	Search *handlers.SearchHandler
	NLSQL  *handlers.NLSQLHandler

	MetricsHandler http.Handler
	HTTPMetrics    observability.HTTPMetrics
	APIMetrics     observability.APIMetrics
	MaxBodyBytes   int64
}

// NewRouter registers every endpoint. JSON endpoints sit behind the body limit; health, index
// and metrics do not.
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics(p.HTTPMetrics))

	r.Get("/", p.Health.Root)
	r.Get("/healthz", p.Health.Healthz)
	r.Get("/dbcheck", p.Health.DBCheck)

	if p.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", p.MetricsHandler)
	}

	var recorder middleware.RequestBodyTooLargeRecorder
	if p.APIMetrics != nil {
		recorder = p.APIMetrics
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBody(p.MaxBodyBytes, recorder))

		r.Post("/query", p.Query.Query)
		r.Post("/query/stream", p.Query.Stream)
		r.Post("/query/stream-raw", p.Query.StreamRaw)
		r.Post("/search", p.Search.Search)
		r.Post("/nlsql", p.NLSQL.Query)
	})

	return r
}
