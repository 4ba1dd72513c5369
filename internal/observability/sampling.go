package observability

import (
	"os"
	"strconv"
	"strings"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Standard OTel sampler env vars. They are read here rather than in config.
const (
	envTracesSampler    = "OTEL_TRACES_SAMPLER"
	envTracesSamplerArg = "OTEL_TRACES_SAMPLER_ARG"
)

const defaultTraceIDRatio = 1.0

// samplers maps OTEL_TRACES_SAMPLER values to constructors. arg is the parsed ratio.
var samplers = map[string]func(ratio float64) sdktrace.Sampler{
	"always_on":  func(float64) sdktrace.Sampler { return sdktrace.AlwaysSample() },
	"always_off": func(float64) sdktrace.Sampler { return sdktrace.NeverSample() },
	"traceidratio": func(r float64) sdktrace.Sampler {
		return sdktrace.TraceIDRatioBased(r)
	},
	"parentbased_always_on": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	},
	"parentbased_always_off": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.NeverSample())
	},
	"parentbased_traceidratio": func(r float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r))
	},
}

func newSampler() sdktrace.Sampler {
	return samplerFor(os.Getenv(envTracesSampler), os.Getenv(envTracesSamplerArg))
}

// samplerFor resolves a sampler name and ratio argument. Unknown names fall back to
// parentbased_always_on, the SDK default.
func samplerFor(name, arg string) sdktrace.Sampler {
	build, ok := samplers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		build = samplers["parentbased_always_on"]
	}

	return build(parseTraceIDRatio(arg))
}

// parseTraceIDRatio returns arg as a ratio in [0, 1], or 1 when it is missing or out of range.
func parseTraceIDRatio(arg string) float64 {
	ratio, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return defaultTraceIDRatio
	}

	return ratio
}
