package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govquery/explorer/internal/models"
)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func TestBuildProposalFilterConditions(t *testing.T) {
	t.Run("nil filters", func(t *testing.T) {
		conds, args := buildProposalFilterConditions(nil, 2)
		assert.Empty(t, conds)
		assert.Empty(t, args)
	})

	t.Run("all filters numbered from start", func(t *testing.T) {
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

		conds, args := buildProposalFilterConditions(&models.SearchFilters{
			Network:   strPtr("kusama"),
			Type:      strPtr("TreasuryProposal"),
			Status:    strPtr("Executed"),
			MinAmount: floatPtr(10),
			MaxAmount: floatPtr(1000),
			StartDate: &start,
			EndDate:   &end,
		}, 2)

		assert.Equal(t, []string{
			"p.network = $2",
			"p.type = $3",
			"p.status = $4",
			"p.amount_numeric >= $5",
			"p.amount_numeric <= $6",
			"p.created_at >= $7",
			"p.created_at <= $8",
		}, conds)
		assert.Equal(t, []any{"kusama", "TreasuryProposal", "Executed", 10.0, 1000.0, start, end}, args)
	})
}

func TestBuildLexicalQuery(t *testing.T) {
	t.Run("query only", func(t *testing.T) {
		sql, args := buildLexicalQuery("clarys", nil, 50)

		assert.Contains(t, sql, "p.doc_tsv @@ plainto_tsquery('simple', $1)")
		assert.Contains(t, sql, "p.title % $1 OR p.proposer % $1")
		assert.Contains(t, sql, "ORDER BY rank_score DESC")
		assert.True(t, strings.HasSuffix(strings.TrimSpace(sql), "LIMIT $2"))
		assert.Equal(t, []any{"clarys", 50}, args)
	})

	t.Run("filters follow the query parameter", func(t *testing.T) {
		sql, args := buildLexicalQuery("clarys", &models.SearchFilters{Network: strPtr("polkadot")}, 10)

		assert.Contains(t, sql, "AND p.network = $2")
		assert.Contains(t, sql, "LIMIT $3")
		assert.Equal(t, []any{"clarys", "polkadot", 10}, args)
	})
}

func TestBuildVectorQuery(t *testing.T) {
	sql, args := buildVectorQuery([]float32{0.1, 0.2}, &models.SearchFilters{Type: strPtr("Tip")}, 50)

	assert.Contains(t, sql, "INNER JOIN proposals_embeddings pe ON pe.proposal_id = p.id")
	assert.Contains(t, sql, "pe.embedding IS NOT NULL AND p.type = $2")
	assert.Contains(t, sql, "ORDER BY distance ASC")
	assert.Contains(t, sql, "LIMIT $3")
	require.Len(t, args, 3)
	assert.Equal(t, pgvector.NewVector([]float32{0.1, 0.2}), args[0])
	assert.Equal(t, "Tip", args[1])
	assert.Equal(t, 50, args[2])
}

func TestJSONSafe(t *testing.T) {
	id := uuid.MustParse("0195c6a4-7c1e-7000-8000-000000000001")
	ts := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	var num pgtype.Numeric
	require.NoError(t, num.Scan("12.5"))

	assert.Nil(t, jsonSafe(nil))
	assert.InDelta(t, 12.5, jsonSafe(num), 1e-9)
	assert.Nil(t, jsonSafe(pgtype.Numeric{}))
	assert.Equal(t, "raw", jsonSafe([]byte("raw")))
	assert.Equal(t, id.String(), jsonSafe([16]byte(id)))
	assert.Equal(t, "2025-08-01T12:00:00Z", jsonSafe(ts))
	assert.Equal(t, int64(3), jsonSafe(int64(3)))
	assert.Equal(t, map[string]any{"k": "v"}, jsonSafe(map[string]any{"k": "v"}))
}
