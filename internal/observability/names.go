// Package observability provides OpenTelemetry metrics and tracing for the query API.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameRouteDecisions      = "govquery_route_decisions_total"
	MetricNameStageDuration       = "govquery_stage_duration_seconds"
	MetricNameStageFailures       = "govquery_stage_failures_total"
	MetricNameSecurityRejections  = "govquery_sql_security_rejections_total"
	MetricNamePlannerFallbacks    = "govquery_sql_planner_fallbacks_total"
	MetricNameRerankFallbacks     = "govquery_rerank_fallbacks_total"
	MetricNameEmbeddingFailures   = "govquery_embedding_failures_total"
	MetricNameStreamErrors        = "govquery_stream_errors_total"
	MetricNameCacheHits           = "govquery_cache_hits_total"
	MetricNameCacheMisses         = "govquery_cache_misses_total"
	MetricNameRequestBodyTooLarge = "govquery_request_body_too_large_total"
	MetricNameStreamDisconnects   = "govquery_stream_client_disconnects_total"
)

// Attribute keys.
const (
	AttrRoute    = "route"
	AttrStage    = "stage"
	AttrReason   = "reason"
	AttrOutcome  = "outcome"
	AttrCause    = "cause"
	AttrEndpoint = "endpoint"
)

// AllowedRoutes for govquery_route_decisions_total.
var AllowedRoutes = map[string]bool{
	"sql_route":       true,
	"retrieval_route": true,
	"direct_route":    true,
}

// AllowedStages for stage duration and failure metrics.
var AllowedStages = map[string]bool{
	"router":          true,
	"sql_agent":       true,
	"retrieval_agent": true,
	"rerank":          true,
	"composer":        true,
}

// AllowedSecurityReasons for govquery_sql_security_rejections_total.
var AllowedSecurityReasons = map[string]bool{
	"empty":                true,
	"parse_error":          true,
	"not_select":           true,
	"dangerous_keyword":    true,
	"comment":              true,
	"multiple_statements":  true,
	"union":                true,
	"table_not_allowed":    true,
	"column_not_allowed":   true,
	"function_not_allowed": true,
}

// AllowedFallbackCauses for govquery_sql_planner_fallbacks_total.
var AllowedFallbackCauses = map[string]bool{
	"completion_error": true,
	"invalid_response": true,
	"complex_query":    true,
	"validation":       true,
	"no_completer":     true,
}

// AllowedStreamEndpoints for govquery_stream_client_disconnects_total.
var AllowedStreamEndpoints = map[string]bool{
	"stream":     true,
	"stream_raw": true,
}

// AllowedCacheNames for cache hit/miss counters.
var AllowedCacheNames = map[string]bool{
	"query_embedding": true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName returns name if it is a known cache, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}

// normalizeOutcome maps a stage outcome to a bounded set.
func normalizeOutcome(s string) string {
	switch s {
	case "success", "fallback", "error":
		return s
	default:
		return "unknown"
	}
}
