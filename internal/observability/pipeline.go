package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics records query-pipeline metrics: routing, stage latency, SQL safety and fallbacks.
// Methods accept ctx for future exemplar support.
type PipelineMetrics interface {
	RecordRouteDecision(ctx context.Context, route string)
	RecordStageDuration(ctx context.Context, stage, outcome string, duration time.Duration)
	RecordStageFailure(ctx context.Context, stage string)
	RecordSecurityRejection(ctx context.Context, reason string)
	RecordPlannerFallback(ctx context.Context, cause string)
	RecordRerankFallback(ctx context.Context)
	RecordEmbeddingFailure(ctx context.Context)
	RecordStreamError(ctx context.Context)
}

type pipelineMetrics struct {
	routeDecisions     metric.Int64Counter
	stageDuration      metric.Float64Histogram
	stageFailures      metric.Int64Counter
	securityRejections metric.Int64Counter
	plannerFallbacks   metric.Int64Counter
	rerankFallbacks    metric.Int64Counter
	embeddingFailures  metric.Int64Counter
	streamErrors       metric.Int64Counter
}

// NewPipelineMetrics creates PipelineMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewPipelineMetrics(meter metric.Meter) (PipelineMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	m := &pipelineMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.routeDecisions, MetricNameRouteDecisions, "Router decisions by route"},
		{&m.stageFailures, MetricNameStageFailures, "Pipeline stages that failed without a local fallback"},
		{&m.securityRejections, MetricNameSecurityRejections, "SQL candidates rejected by the validator, by reason"},
		{&m.plannerFallbacks, MetricNamePlannerFallbacks, "SQL plans produced by the deterministic templates, by cause"},
		{&m.rerankFallbacks, MetricNameRerankFallbacks, "Searches that kept fused order because reranking failed"},
		{&m.embeddingFailures, MetricNameEmbeddingFailures, "Searches that skipped vector recall because embedding failed"},
		{&m.streamErrors, MetricNameStreamErrors, "Streams terminated with an error event"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}

		*c.dst = counter
	}

	stageDuration, err := meter.Float64Histogram(
		MetricNameStageDuration,
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s histogram: %w", MetricNameStageDuration, err)
	}

	m.stageDuration = stageDuration

	return m, nil
}

func (m *pipelineMetrics) RecordRouteDecision(ctx context.Context, route string) {
	m.routeDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRoute, NormalizeReason(route, AllowedRoutes)),
	))
}

func (m *pipelineMetrics) RecordStageDuration(ctx context.Context, stage, outcome string, duration time.Duration) {
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrStage, NormalizeReason(stage, AllowedStages)),
		attribute.String(AttrOutcome, normalizeOutcome(outcome)),
	))
}

func (m *pipelineMetrics) RecordStageFailure(ctx context.Context, stage string) {
	m.stageFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStage, NormalizeReason(stage, AllowedStages)),
	))
}

func (m *pipelineMetrics) RecordSecurityRejection(ctx context.Context, reason string) {
	m.securityRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrReason, NormalizeReason(reason, AllowedSecurityReasons)),
	))
}

func (m *pipelineMetrics) RecordPlannerFallback(ctx context.Context, cause string) {
	m.plannerFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCause, NormalizeReason(cause, AllowedFallbackCauses)),
	))
}

func (m *pipelineMetrics) RecordRerankFallback(ctx context.Context) {
	m.rerankFallbacks.Add(ctx, 1)
}

func (m *pipelineMetrics) RecordEmbeddingFailure(ctx context.Context) {
	m.embeddingFailures.Add(ctx, 1)
}

func (m *pipelineMetrics) RecordStreamError(ctx context.Context) {
	m.streamErrors.Add(ctx, 1)
}
