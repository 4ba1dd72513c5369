package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govquery/explorer/internal/orchestrator"
	"github.com/govquery/explorer/internal/retrieval"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		shouldSet    bool
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			shouldSet:    true,
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "TEST_VAR_MISSING",
			defaultValue: "default",
			shouldSet:    false,
			want:         "default",
		},
		{
			name:         "returns default when environment variable is empty string",
			key:          "TEST_VAR_EMPTY",
			defaultValue: "default",
			envValue:     "",
			shouldSet:    true,
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{"valid integer", "200", 200},
		{"empty uses default", "", 100},
		{"invalid uses default", "not_a_number", 100},
		{"negative", "-50", -50},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envValue)
			assert.Equal(t, tt.want, getEnvAsInt("TEST_INT_VAR", 100))
		})
	}
}

func TestGetEnvAsFloatBoolDuration(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_FLOAT_BAD", "x")
	t.Setenv("TEST_BOOL", "false")
	t.Setenv("TEST_DURATION", "3s")
	t.Setenv("TEST_DURATION_BAD", "three")

	assert.InDelta(t, 0.25, getEnvAsFloat("TEST_FLOAT", 1), 1e-9)
	assert.InDelta(t, 1.0, getEnvAsFloat("TEST_FLOAT_BAD", 1), 1e-9)
	assert.False(t, getEnvAsBool("TEST_BOOL", true))
	assert.True(t, getEnvAsBool("TEST_BOOL_MISSING", true))
	assert.Equal(t, 3*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DURATION_BAD", time.Second))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, retrieval.DefaultRRFK, cfg.RRFK)
	assert.InDelta(t, orchestrator.DefaultRelevanceThreshold, cfg.RelevanceThreshold, 1e-12)
	assert.Equal(t, 30, cfg.RerankTopN)
	assert.Equal(t, 50, cfg.LexicalLimit)
	assert.Equal(t, 50, cfg.VectorLimit)
	assert.Equal(t, 3000, cfg.EmbeddingRequestsPerMinute)
	assert.Equal(t, 1_000_000, cfg.EmbeddingTokensPerMinute)
	assert.Equal(t, EmbeddingProviderOpenAI, cfg.EmbeddingProvider)
	assert.True(t, cfg.UseGraphExecutor)
}

func TestLoad_EmbeddingKeyFallsBackToOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.EmbeddingProviderAPIKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero rrf k", "RRF_K", "0"},
		{"negative top n", "RERANK_TOP_N", "-1"},
		{"threshold above one", "RELEVANCE_THRESHOLD", "1.5"},
		{"unknown provider", "EMBEDDING_PROVIDER", "local"},
		{"min conns above max", "DATABASE_MIN_CONNS", "50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
