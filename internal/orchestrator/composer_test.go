package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govquery/explorer/internal/models"
)

func TestComposer_DisplaySet(t *testing.T) {
	c := NewComposer(DefaultRelevanceThreshold)

	tests := []struct {
		name   string
		scores []float64
		want   []string
	}{
		{"all relevant capped at five", []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4}, []string{"polkadot-1", "polkadot-2", "polkadot-3", "polkadot-4", "polkadot-5"}},
		{"skips low scores", []float64{0.02, 0.001, 0.016}, []string{"polkadot-1", "polkadot-3"}},
		{"none relevant keeps top two", []float64{0.01, 0.005, 0.001}, []string{"polkadot-1", "polkadot-2"}},
		{"single low result", []float64{0.001}, []string{"polkadot-1"}},
		{"empty", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shown := c.DisplaySet(hits(tt.scores...))

			ids := make([]string, 0, len(shown))
			for _, r := range shown {
				ids = append(ids, r.ID)
			}

			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestNewComposer_NegativeThresholdUsesDefault(t *testing.T) {
	assert.InDelta(t, DefaultRelevanceThreshold, NewComposer(-1).threshold, 1e-12)
	assert.InDelta(t, 0.5, NewComposer(0.5).threshold, 1e-12)
}

func TestComposer_Compose(t *testing.T) {
	c := NewComposer(DefaultRelevanceThreshold)

	amount := 250.5
	dot := "DOT"
	created := time.Date(2025, 8, 3, 12, 0, 0, 0, time.UTC)

	detailed := models.SearchResult{
		ID:          "polkadot-7",
		Title:       "Clarys analytics",
		Network:     "polkadot",
		Type:        "TreasuryProposal",
		Proposer:    "alice",
		Status:      "Executed",
		Amount:      &amount,
		Currency:    &dot,
		CreatedAt:   &created,
		Description: strings.Repeat("x", 250),
		Score:       0.9,
	}

	t.Run("sql with zero count", func(t *testing.T) {
		state := models.NewOrchestrationState("how many")
		state.RouteDecision = models.RouteSQL
		state.SQLResult = &models.SQLResult{Count: 0}

		c.Compose(state)

		assert.Equal(t, "No proposals found matching your criteria.", state.FinalAnswer)
		assert.Equal(t, "sql_route", state.Metadata["processing_type"])
	})

	t.Run("sql count without examples", func(t *testing.T) {
		state := models.NewOrchestrationState("how many")
		state.RouteDecision = models.RouteSQL
		state.SQLResult = &models.SQLResult{Count: 7}

		c.Compose(state)

		assert.Equal(t, "Found 7 proposals", state.FinalAnswer)
		assert.Empty(t, state.ProposalsForDescriptions)
	})

	t.Run("sql examples capped at five", func(t *testing.T) {
		state := models.NewOrchestrationState("how many")
		state.RouteDecision = models.RouteSQL
		state.SQLResult = &models.SQLResult{Count: 9}
		state.RerankedResults = hits(1, 1, 1, 1, 1, 1, 1)

		c.Compose(state)

		assert.True(t, strings.HasPrefix(state.FinalAnswer, "Found 9 proposals. Here are some examples:\n\n"))
		assert.Contains(t, state.FinalAnswer, "## Proposal 5:")
		assert.NotContains(t, state.FinalAnswer, "## Proposal 6:")
	})

	t.Run("retrieval block format", func(t *testing.T) {
		state := models.NewOrchestrationState("clarys")
		state.RouteDecision = models.RouteRetrieval
		state.RerankedResults = []models.SearchResult{detailed}

		c.Compose(state)

		want := "Found 1 relevant proposals:\n\n" +
			"## Proposal 1: Clarys analytics\n" +
			"**ID:** polkadot-7\n" +
			"**Type:** TreasuryProposal\n" +
			"**Network:** polkadot\n" +
			"**Proposer:** alice\n" +
			"**Status:** Executed\n" +
			"**Created:** 2025-08-03T12:00:00Z\n" +
			"**Amount:** 250.5 DOT\n" +
			"**Description:** " + strings.Repeat("x", 200) + "...\n\n"

		assert.Equal(t, want, state.FinalAnswer)
		require.Len(t, state.ProposalsForDescriptions, 1)
		assert.Equal(t, 1, state.Metadata["result_count"])
	})

	t.Run("missing fields use placeholders", func(t *testing.T) {
		state := models.NewOrchestrationState("clarys")
		state.RouteDecision = models.RouteRetrieval
		state.RerankedResults = []models.SearchResult{{ID: "kusama-1", Score: 0.5}}

		c.Compose(state)

		assert.Contains(t, state.FinalAnswer, "## Proposal 1: Untitled\n")
		assert.Contains(t, state.FinalAnswer, "**Created:** Unknown\n")
		assert.NotContains(t, state.FinalAnswer, "**Amount:**")
		assert.Contains(t, state.FinalAnswer, "**Description:** No description available\n\n")
	})

	t.Run("retrieval without results", func(t *testing.T) {
		state := models.NewOrchestrationState("clarys")
		state.RouteDecision = models.RouteRetrieval

		c.Compose(state)

		assert.Equal(t, "I couldn't find any relevant information for your query.", state.FinalAnswer)
	})

	t.Run("direct route", func(t *testing.T) {
		state := models.NewOrchestrationState("hello")
		state.RouteDecision = models.RouteDirect

		c.Compose(state)

		assert.Equal(t, "I couldn't find any relevant information for your query.", state.FinalAnswer)
		assert.Equal(t, "direct_route", state.Metadata["processing_type"])
	})
}

func TestRowsToResults(t *testing.T) {
	rows := []models.Row{
		{
			"id": "kusama-3", "title": "", "description": "Upgrade the runtime", "network": "kusama",
			"amount_numeric": 12.0, "currency": "KSM", "created_at": "2025-08-20T00:00:00.5Z",
		},
		{"id": int64(9), "amount_numeric": "not a number", "created_at": "yesterday"},
	}

	results := RowsToResults(rows)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, "kusama-3", first.ID)
	assert.Equal(t, "Upgrade the runtime", first.Snippet)
	require.NotNil(t, first.Amount)
	assert.InDelta(t, 12.0, *first.Amount, 1e-9)
	require.NotNil(t, first.Currency)
	assert.Equal(t, "KSM", *first.Currency)
	require.NotNil(t, first.CreatedAt)
	assert.Equal(t, 2025, first.CreatedAt.Year())

	second := results[1]
	assert.Equal(t, "9", second.ID)
	assert.Nil(t, second.Amount)
	assert.Nil(t, second.CreatedAt)
	assert.Equal(t, "No description available", second.Snippet)
}
