package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	meterScope         = "github.com/govquery/explorer/internal/observability"
	defaultServiceName = "govquery-api"
	cardinalityLimit   = 2000
)

// latencyHistogramBoundaries are Prometheus-style buckets (seconds). Pipeline stages call
// completion, embedding and rerank services, so the tail reaches tens of seconds.
var latencyHistogramBoundaries = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// HTTPMetrics records request counts and latency per route.
type HTTPMetrics interface {
	RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration)
}

// MeterProviderConfig holds configuration for creating the MeterProvider.
type MeterProviderConfig struct {
	// ServiceName is used in the resource (default: govquery-api).
	ServiceName string
}

// MeterProviderResult bundles what NewMeterProvider creates.
type MeterProviderResult struct {
	Provider *sdkmetric.MeterProvider
	Handler  http.Handler
	Meter    metric.Meter
	HTTP     HTTPMetrics
}

// NewMeterProvider creates a MeterProvider with a Prometheus exporter and returns it with an
// HTTP handler for /metrics, the service Meter and HTTP request metrics.
// Caller must call Provider.Shutdown on exit.
func NewMeterProvider(_ context.Context, cfg MeterProviderConfig) (*MeterProviderResult, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))

	reg := prometheus.NewRegistry()

	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	histogram := sdkmetric.Stream{
		Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries},
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			sdkmetric.NewView(sdkmetric.Instrument{Name: "http.server.duration"}, histogram),
			sdkmetric.NewView(sdkmetric.Instrument{Name: MetricNameStageDuration}, histogram),
		),
	)
	meter := mp.Meter(meterScope)

	httpMetrics, err := newHTTPMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("create http metrics: %w", err)
	}

	return &MeterProviderResult{
		Provider: mp,
		Handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Meter:    meter,
		HTTP:     httpMetrics,
	}, nil
}

type httpMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	requestCount, err := meter.Int64Counter(
		"http.server.request_count",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("request_count: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("http.server.duration: %w", err)
	}

	return &httpMetrics{requestCount: requestCount, requestDuration: requestDuration}, nil
}

func (m *httpMetrics) RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration) {
	attrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass),
	)
	m.requestCount.Add(ctx, 1, metric.WithAttributeSet(attrs))

	durAttrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
	)
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributeSet(durAttrs))
}

// APIMetrics records request rejections and stream lifecycle events of the query API.
type APIMetrics interface {
	RecordRequestBodyTooLarge(ctx context.Context)
	// RecordStreamDisconnect counts SSE streams the client closed before the terminal event.
	// endpoint is stream or stream_raw.
	RecordStreamDisconnect(ctx context.Context, endpoint string)
}

type apiMetrics struct {
	bodyTooLarge      metric.Int64Counter
	streamDisconnects metric.Int64Counter
}

// NewAPIMetrics creates APIMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewAPIMetrics(meter metric.Meter) (APIMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	m := &apiMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.bodyTooLarge, MetricNameRequestBodyTooLarge, "Query API requests rejected with 413 for exceeding the body limit"},
		{&m.streamDisconnects, MetricNameStreamDisconnects, "Query streams closed by the client before [DONE], by endpoint"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}

		*c.dst = counter
	}

	return m, nil
}

func (m *apiMetrics) RecordRequestBodyTooLarge(ctx context.Context) {
	m.bodyTooLarge.Add(ctx, 1)
}

func (m *apiMetrics) RecordStreamDisconnect(ctx context.Context, endpoint string) {
	m.streamDisconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrEndpoint, NormalizeReason(endpoint, AllowedStreamEndpoints)),
	))
}
