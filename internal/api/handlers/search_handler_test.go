package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govquery/explorer/internal/models"
	"github.com/govquery/explorer/internal/retrieval"
)

// unusedStore fails the test if the engine reaches the database.
type unusedStore struct{ t *testing.T }

func (s unusedStore) LexicalSearch(context.Context, string, *models.SearchFilters, int) ([]models.RankedProposal, error) {
	s.t.Error("lexical search must not run")

	return nil, nil
}

func (s unusedStore) VectorSearch(context.Context, []float32, *models.SearchFilters, int) ([]models.RankedProposal, error) {
	s.t.Error("vector search must not run")

	return nil, nil
}

type unusedEmbedder struct{ t *testing.T }

func (e unusedEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) {
	e.t.Error("embedding must not run")

	return nil, nil
}

type mockSearcher struct {
	searchFunc func(ctx context.Context, query string, filters *models.SearchFilters, topK int, useRerank bool) ([]models.SearchResult, error)
}

func (m *mockSearcher) Search(
	ctx context.Context, query string, filters *models.SearchFilters, topK int, useRerank bool,
) ([]models.SearchResult, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, query, filters, topK, useRerank)
	}

	return nil, nil
}

func TestSearchHandler_Search(t *testing.T) {
	t.Run("defaults top_k and rerank", func(t *testing.T) {
		mock := &mockSearcher{
			searchFunc: func(_ context.Context, query string, filters *models.SearchFilters, topK int, useRerank bool) ([]models.SearchResult, error) {
				assert.Equal(t, "clarys", query)
				assert.Nil(t, filters)
				assert.Equal(t, 10, topK)
				assert.True(t, useRerank)

				return []models.SearchResult{{ID: "polkadot-1", Score: 0.9}, {ID: "kusama-1", Score: 0.5}}, nil
			},
		}

		rec := httptest.NewRecorder()
		NewSearchHandler(mock, 10, nil).Search(rec, postJSON("/search", `{"query":"clarys"}`))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp SearchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "polkadot-1", resp.Results[0].ID)
	})

	t.Run("passes explicit filters", func(t *testing.T) {
		mock := &mockSearcher{
			searchFunc: func(_ context.Context, _ string, filters *models.SearchFilters, topK int, useRerank bool) ([]models.SearchResult, error) {
				require.NotNil(t, filters)
				require.NotNil(t, filters.Network)
				assert.Equal(t, "kusama", *filters.Network)
				require.NotNil(t, filters.MinAmount)
				assert.InDelta(t, 100.0, *filters.MinAmount, 1e-9)
				require.NotNil(t, filters.StartDate)
				assert.Equal(t, 2025, filters.StartDate.Year())
				assert.Equal(t, 3, topK)
				assert.False(t, useRerank)

				return nil, nil
			},
		}

		body := `{"query":"runtime","top_k":3,"use_rerank":false,` +
			`"filters":{"network":"kusama","min_amount":100,"start_date":"2025-08-01T00:00:00Z"}}`

		rec := httptest.NewRecorder()
		NewSearchHandler(mock, 10, nil).Search(rec, postJSON("/search", body))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"results":[],"count":0}`, rec.Body.String())
	})

	t.Run("blank query returns empty results", func(t *testing.T) {
		engine := retrieval.NewEngine(retrieval.EngineParams{Store: unusedStore{t}, Embedder: unusedEmbedder{t}})

		for _, body := range []string{`{"query":""}`, `{"query":"   "}`, `{}`} {
			rec := httptest.NewRecorder()
			NewSearchHandler(engine, 10, nil).Search(rec, postJSON("/search", body))

			require.Equal(t, http.StatusOK, rec.Code, body)
			assert.JSONEq(t, `{"results":[],"count":0}`, rec.Body.String(), body)
		}
	})

	t.Run("invalid requests return 400", func(t *testing.T) {
		bodies := []string{
			`{"query":"bad\u0000byte"}`,
			`{"query":"x","top_k":0}`,
			`{"query":"x","top_k":101}`,
			`{"query":"x","filters":{"min_amount":-1}}`,
			`{"query":"x","filters":{"min_amount":10,"max_amount":5}}`,
			`{"query":"x","filters":{"start_date":"2025-09-01T00:00:00Z","end_date":"2025-08-01T00:00:00Z"}}`,
			`{"query":"x","filters":{"start_date":"yesterday"}}`,
		}

		for _, body := range bodies {
			rec := httptest.NewRecorder()
			NewSearchHandler(&mockSearcher{}, 10, nil).Search(rec, postJSON("/search", body))

			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		mock := &mockSearcher{
			searchFunc: func(context.Context, string, *models.SearchFilters, int, bool) ([]models.SearchResult, error) {
				return nil, errors.New("lexical search: boom")
			},
		}

		rec := httptest.NewRecorder()
		NewSearchHandler(mock, 10, nil).Search(rec, postJSON("/search", `{"query":"x"}`))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
	})
}
