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

	"github.com/govquery/explorer/internal/apperrors"
	"github.com/govquery/explorer/internal/models"
)

type mockSQLService struct {
	runFunc func(ctx context.Context, query, schemaHint string) (models.SQLPlan, *models.SQLResult, error)
}

func (m *mockSQLService) Run(ctx context.Context, query, schemaHint string) (models.SQLPlan, *models.SQLResult, error) {
	return m.runFunc(ctx, query, schemaHint)
}

func TestNLSQLHandler_Query(t *testing.T) {
	t.Run("returns plan and result", func(t *testing.T) {
		mock := &mockSQLService{
			runFunc: func(_ context.Context, query, hint string) (models.SQLPlan, *models.SQLResult, error) {
				assert.Equal(t, "How many kusama proposals?", query)
				assert.Equal(t, "proposals only", hint)

				plan := models.SQLPlan{
					Plan:     "Count all proposals for kusama",
					SQL:      "SELECT COUNT(*) FROM proposals WHERE network = $1",
					Params:   []any{"kusama"},
					Fallback: true,
				}

				return plan, &models.SQLResult{SQL: plan.SQL, Count: 7, Examples: []models.Row{{"id": "kusama-1"}}}, nil
			},
		}

		rec := httptest.NewRecorder()
		NewNLSQLHandler(mock, nil).Query(rec, postJSON("/nlsql",
			`{"query":"How many kusama proposals?","schema_hint":"proposals only"}`))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp NLSQLResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "SELECT COUNT(*) FROM proposals WHERE network = $1", resp.SQL)
		assert.Equal(t, []any{"kusama"}, resp.Params)
		assert.Equal(t, int64(7), resp.Count)
		assert.True(t, resp.Fallback)
		assert.Len(t, resp.Examples, 1)
		assert.Empty(t, resp.Error)
	})

	t.Run("security error is reported with 200", func(t *testing.T) {
		mock := &mockSQLService{
			runFunc: func(context.Context, string, string) (models.SQLPlan, *models.SQLResult, error) {
				return models.SQLPlan{}, nil, apperrors.NewSecurityError(apperrors.ReasonDangerousKeyword, "DROP")
			},
		}

		rec := httptest.NewRecorder()
		NewNLSQLHandler(mock, nil).Query(rec, postJSON("/nlsql", `{"query":"drop everything"}`))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp NLSQLResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Error, "dangerous_keyword")
		assert.Empty(t, resp.SQL)
		assert.Equal(t, int64(0), resp.Count)
		assert.NotNil(t, resp.Examples)
	})

	t.Run("database error returns 503", func(t *testing.T) {
		mock := &mockSQLService{
			runFunc: func(context.Context, string, string) (models.SQLPlan, *models.SQLResult, error) {
				return models.SQLPlan{}, nil, apperrors.NewDatabaseError("query rows", errors.New("refused"))
			},
		}

		rec := httptest.NewRecorder()
		NewNLSQLHandler(mock, nil).Query(rec, postJSON("/nlsql", `{"query":"how many"}`))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("missing query returns 400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewNLSQLHandler(&mockSQLService{}, nil).Query(rec, postJSON("/nlsql", `{"schema_hint":"x"}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
