package nlsql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExtractDateRange(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantStart time.Time
		wantEnd   time.Time
		wantOK    bool
	}{
		{"month name and year", "How many proposals in August 2025?", date(2025, 8, 1), date(2025, 9, 1), true},
		{"abbreviated month", "proposals from dec 2024", date(2024, 12, 1), date(2025, 1, 1), true},
		{"year month", "created in 2025-02", date(2025, 2, 1), date(2025, 3, 1), true},
		{"iso date", "created on 2025-08-15", date(2025, 8, 15), date(2025, 8, 16), true},
		{"bare year", "proposals in 2024", date(2024, 1, 1), date(2025, 1, 1), true},
		{"invalid month falls through to year", "2025-13", date(2025, 1, 1), date(2026, 1, 1), true},
		{"no date", "how many proposals", time.Time{}, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := ExtractDateRange(tt.query)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestExtractNetworkAndType(t *testing.T) {
	assert.Equal(t, "kusama", ExtractNetwork("How many KSM proposals"))
	assert.Equal(t, "polkadot", ExtractNetwork("dot treasury"))
	assert.Equal(t, "westend", ExtractNetwork("westend testnet"))
	assert.Empty(t, ExtractNetwork("dotted lines"))

	assert.Equal(t, "TreasuryProposal", ExtractType("treasury spends"))
	assert.Equal(t, "ReferendumV2", ExtractType("open referenda"))
	assert.Equal(t, "CouncilMotion", ExtractType("council motions"))
	assert.Equal(t, "ChildBounty", ExtractType("bounties"))
	assert.Equal(t, "Tip", ExtractType("tips for devs"))
	assert.Empty(t, ExtractType("multiple things"))
}

func TestBuildFallback(t *testing.T) {
	t.Run("plain count", func(t *testing.T) {
		plan := BuildFallback("How many proposals are there?")

		assert.Equal(t, "SELECT COUNT(*) FROM proposals", plan.SQL)
		assert.Equal(t, "Count all proposals", plan.Plan)
		assert.True(t, plan.IsCount)
		assert.True(t, plan.Fallback)
		assert.Empty(t, plan.Params)
		assert.Equal(t, "SELECT "+examplesColumns+" FROM proposals ORDER BY created_at DESC LIMIT 5", plan.ExamplesSQL)
	})

	t.Run("treasury count with network and month", func(t *testing.T) {
		plan := BuildFallback("How many treasury proposals on kusama in August 2025?")

		assert.Equal(t,
			"SELECT COUNT(*) FROM proposals WHERE type = $1 AND network = $2 AND created_at >= $3 AND created_at < $4",
			plan.SQL)
		require.Len(t, plan.Params, 4)
		assert.Equal(t, "TreasuryProposal", plan.Params[0])
		assert.Equal(t, "kusama", plan.Params[1])
		assert.Equal(t, date(2025, 8, 1), plan.Params[2])
		assert.Equal(t, date(2025, 9, 1), plan.Params[3])
		assert.Equal(t, "Count treasury proposals for kusama in 2025-08-01..2025-09-01", plan.Plan)
		assert.Equal(t, plan.Params, plan.ExamplesParams)
		assert.Contains(t, plan.ExamplesSQL, "WHERE type = $1 AND network = $2")
	})

	t.Run("recent sample", func(t *testing.T) {
		plan := BuildFallback("Show recent polkadot proposals")

		assert.Equal(t, "SELECT * FROM proposals WHERE network = $1 ORDER BY created_at DESC LIMIT 5", plan.SQL)
		assert.Equal(t, []any{"polkadot"}, plan.Params)
		assert.False(t, plan.IsCount)
		assert.Empty(t, plan.ExamplesSQL)
	})

	t.Run("default sample", func(t *testing.T) {
		plan := BuildFallback("Show me some tips")

		assert.Equal(t, "SELECT * FROM proposals WHERE type = $1 LIMIT 5", plan.SQL)
		assert.Equal(t, "Get sample proposals of type Tip", plan.Plan)
	})
}

func TestBuildFallback_PassesValidation(t *testing.T) {
	v := NewValidator()

	for _, q := range []string{
		"How many proposals are there?",
		"How many treasury proposals on kusama in August 2025?",
		"Show recent polkadot proposals",
		"name a few council motions from 2024-03",
		"anything",
	} {
		plan := BuildFallback(q)

		_, err := v.Validate(plan.SQL)
		require.NoError(t, err, q)

		if plan.ExamplesSQL != "" {
			_, err = v.Validate(plan.ExamplesSQL)
			require.NoError(t, err, q)
		}
	}
}
