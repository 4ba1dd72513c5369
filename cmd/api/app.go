package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/govquery/explorer/internal/api"
	"github.com/govquery/explorer/internal/api/handlers"
	"github.com/govquery/explorer/internal/api/middleware"
	"github.com/govquery/explorer/internal/cohere"
	"github.com/govquery/explorer/internal/config"
	"github.com/govquery/explorer/internal/embeddings"
	"github.com/govquery/explorer/internal/googleai"
	"github.com/govquery/explorer/internal/intent"
	"github.com/govquery/explorer/internal/nlsql"
	"github.com/govquery/explorer/internal/observability"
	"github.com/govquery/explorer/internal/openai"
	"github.com/govquery/explorer/internal/orchestrator"
	"github.com/govquery/explorer/internal/repository"
	"github.com/govquery/explorer/internal/retrieval"
)

// version is reported by GET /.
const version = "0.1.0"

const serviceName = "govquery-api"

var errUnsupportedEmbeddingProvider = errors.New("unsupported embedding provider")

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	server         *http.Server
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// telemetry is what setupTelemetry creates. Every field is nil when the matching signal is off.
type telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metricsHandler http.Handler
	httpMetrics    observability.HTTPMetrics
	metrics        *observability.Metrics
}

func setupTelemetry(ctx context.Context, cfg *config.Config) (*telemetry, error) {
	t := &telemetry{}

	if cfg.MetricsEnabled {
		mp, err := observability.NewMeterProvider(ctx, observability.MeterProviderConfig{ServiceName: serviceName})
		if err != nil {
			return nil, fmt.Errorf("create meter provider: %w", err)
		}

		metrics, err := observability.NewMetrics(mp.Meter)
		if err != nil {
			if err2 := mp.Provider.Shutdown(ctx); err2 != nil {
				slog.Error("shutdown meter provider after metrics error", "error", err2)
			}

			return nil, fmt.Errorf("create metrics: %w", err)
		}

		otel.SetMeterProvider(mp.Provider)

		t.meterProvider = mp.Provider
		t.metricsHandler = mp.Handler
		t.httpMetrics = mp.HTTP
		t.metrics = metrics
	} else {
		slog.Warn("metrics not enabled (METRICS_ENABLED=false)")
	}

	tp, err := observability.NewTracerProvider(ctx, cfg.OtelTracesExporter, serviceName)
	if err != nil {
		if t.meterProvider != nil {
			if err2 := t.meterProvider.Shutdown(ctx); err2 != nil {
				slog.Error("shutdown meter provider after tracer provider error", "error", err2)
			}
		}

		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	if tp == nil {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unsupported)")
	}

	t.tracerProvider = tp

	return t, nil
}

// newEmbeddingProvider builds the configured embedding client.
func newEmbeddingProvider(ctx context.Context, cfg *config.Config) (embeddings.Provider, error) {
	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderOpenAI:
		opts := []openai.ClientOption{openai.WithDimensions(cfg.EmbeddingDimensions)}
		if cfg.EmbeddingModel != "" {
			opts = append(opts, openai.WithModel(cfg.EmbeddingModel))
		}

		return openai.NewClient(cfg.EmbeddingProviderAPIKey, opts...), nil
	case config.EmbeddingProviderGoogle:
		opts := []googleai.ClientOption{googleai.WithDimensions(cfg.EmbeddingDimensions)}
		if cfg.EmbeddingModel != "" {
			opts = append(opts, googleai.WithModel(cfg.EmbeddingModel))
		}

		client, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return client, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedEmbeddingProvider, cfg.EmbeddingProvider)
	}
}

// NewApp builds and wires all components. It does not start the HTTP server; call Run.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (*App, error) {
	tel, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		pipelineMetrics observability.PipelineMetrics
		cacheMetrics    observability.CacheMetrics
		apiMetrics      observability.APIMetrics
	)

	if tel.metrics != nil {
		pipelineMetrics = tel.metrics.Pipeline
		cacheMetrics = tel.metrics.Cache
		apiMetrics = tel.metrics.API
	}

	logger := slog.Default()
	proposalsRepo := repository.NewProposalsRepository(db)

	provider, err := newEmbeddingProvider(ctx, cfg)
	if err != nil {
		_ = shutdownObservability(ctx, tel.tracerProvider, tel.meterProvider)

		return nil, err
	}

	limited := embeddings.NewRateLimited(provider, cfg.EmbeddingRequestsPerMinute, cfg.EmbeddingTokensPerMinute)

	embedder, err := embeddings.NewCached(limited, cfg.QueryEmbeddingCacheSize, cacheMetrics)
	if err != nil {
		_ = shutdownObservability(ctx, tel.tracerProvider, tel.meterProvider)

		return nil, fmt.Errorf("create query embedding cache: %w", err)
	}

	engineParams := retrieval.EngineParams{
		Store:    proposalsRepo,
		Embedder: embedder,
		Options: retrieval.Options{
			RRFK:         cfg.RRFK,
			LexicalLimit: cfg.LexicalLimit,
			VectorLimit:  cfg.VectorLimit,
			RerankTopN:   cfg.RerankTopN,
		},
		Metrics: pipelineMetrics,
		Logger:  logger,
	}

	// NewClient returns a nil *Client without a key; only assign a live client to the interface.
	if reranker := cohere.NewClient(cohere.ClientOptions{
		BaseURL: cfg.RerankURL,
		APIKey:  cfg.CohereAPIKey,
		Model:   cfg.RerankModel,
	}); reranker != nil {
		engineParams.Reranker = reranker
		slog.Info("reranking enabled", "model", cfg.RerankModel)
	} else {
		slog.Info("reranking disabled (COHERE_API_KEY not set)")
	}

	engine := retrieval.NewEngine(engineParams)

	var completer nlsql.Completer
	if cfg.OpenAIAPIKey != "" {
		completer = openai.NewChatClient(cfg.OpenAIAPIKey, openai.WithChatModel(cfg.CompletionModel))
		slog.Info("sql completion enabled", "model", cfg.CompletionModel)
	} else {
		slog.Info("sql completion disabled (OPENAI_API_KEY not set), using templates")
	}

	planner := nlsql.NewPlanner(completer, nil,
		nlsql.WithCompletionTimeout(cfg.CompletionTimeout),
		nlsql.WithPlannerMetrics(pipelineMetrics),
		nlsql.WithPlannerLogger(logger),
	)
	sqlService := nlsql.NewService(planner, proposalsRepo, logger)

	composer := orchestrator.NewComposer(cfg.RelevanceThreshold)
	stages := orchestrator.NewStages(orchestrator.StagesParams{
		Router:   intent.NewRouter(intent.DefaultLexicon()),
		SQL:      sqlService,
		Search:   engine,
		Composer: composer,
		Metrics:  pipelineMetrics,
		Logger:   logger,
	})

	var executor orchestrator.Executor = orchestrator.NewSequentialExecutor(stages)
	if cfg.UseGraphExecutor {
		executor = orchestrator.NewGraphExecutor(stages)
	}

	orch := orchestrator.New(orchestrator.Params{
		Executor: executor,
		Composer: composer,
		Metrics:  pipelineMetrics,
		Logger:   logger,
	})

	router := api.NewRouter(api.RouterParams{
		Health:         handlers.NewHealthHandler(proposalsRepo, version),
		Query:          handlers.NewQueryHandler(orch, handlers.WithQueryLogger(logger), handlers.WithStreamMetrics(apiMetrics)),
		Search:         handlers.NewSearchHandler(engine, cfg.DefaultTopK, logger),
		NLSQL:          handlers.NewNLSQLHandler(sqlService, logger),
		MetricsHandler: tel.metricsHandler,
		HTTPMetrics:    tel.httpMetrics,
		APIMetrics:     apiMetrics,
		MaxBodyBytes:   cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:            cfg,
		server:         newHTTPServer(cfg, router, tel, logger),
		meterProvider:  tel.meterProvider,
		tracerProvider: tel.tracerProvider,
	}, nil
}

// newHTTPServer wraps the router. Handler chain: RequestID -> otelhttp(Logging(router)) so access
// logs carry trace_id/span_id and request_id from context.
func newHTTPServer(cfg *config.Config, router http.Handler, tel *telemetry, logger *slog.Logger) *http.Server {
	otelOpts := []otelhttp.Option{
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	}

	if tel.meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(tel.meterProvider))
	}

	if tel.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tel.tracerProvider))
	}

	inner := middleware.Logging(logger)(router)
	handler := otelhttp.NewHandler(inner, serviceName, otelOpts...)
	handler = middleware.RequestID(handler)

	// No WriteTimeout: streaming responses stay open for the whole pipeline run.
	const (
		readHeaderTimeout = 10 * time.Second
		readTimeout       = 15 * time.Second
		idleTimeout       = 60 * time.Second
	)

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr <- fmt.Errorf("server: %w", err)
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
		first = err
	}

	if meter != nil {
		if err := meter.Shutdown(ctx); err != nil {
			if first == nil {
				first = fmt.Errorf("meter provider shutdown: %w", err)
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// Shutdown stops the server, then flushes telemetry. Call after Run returns.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
