package nlsql

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/govquery/explorer/internal/models"
)

// maxResultRows bounds the rows read from any generated statement.
const maxResultRows = 100

// RowQuerier executes a validated SELECT and returns at most limit rows keyed by column name.
type RowQuerier interface {
	QueryRows(ctx context.Context, sql string, args []any, limit int) ([]models.Row, error)
}

// Service plans and executes natural-language questions against the proposal store.
type Service struct {
	planner *Planner
	store   RowQuerier
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(planner *Planner, store RowQuerier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{planner: planner, store: store, logger: logger}
}

// Plan returns the validated plan for query without executing it.
func (s *Service) Plan(ctx context.Context, query, schemaHint string) (models.SQLPlan, error) {
	return s.planner.Plan(ctx, query, schemaHint)
}

// Run plans and executes query. For COUNT statements the scalar becomes Count and a bounded,
// filter-consistent examples query supplies Examples; otherwise Count is the number of rows.
// Planning failures return *apperrors.SecurityError; execution failures return the store error.
func (s *Service) Run(ctx context.Context, query, schemaHint string) (models.SQLPlan, *models.SQLResult, error) {
	plan, err := s.planner.Plan(ctx, query, schemaHint)
	if err != nil {
		return models.SQLPlan{}, nil, err
	}

	result, err := s.Execute(ctx, plan)
	if err != nil {
		return plan, nil, err
	}

	return plan, result, nil
}

// Execute runs a plan produced by Plan.
func (s *Service) Execute(ctx context.Context, plan models.SQLPlan) (*models.SQLResult, error) {
	rows, err := s.store.QueryRows(ctx, plan.SQL, plan.Params, maxResultRows)
	if err != nil {
		return nil, fmt.Errorf("execute plan: %w", err)
	}

	result := &models.SQLResult{
		Plan:     plan.Plan,
		SQL:      plan.SQL,
		Examples: []models.Row{},
	}

	if !plan.IsCount {
		result.Count = int64(len(rows))
		result.Examples = rows

		return result, nil
	}

	result.Count = scalarCount(rows)

	if plan.ExamplesSQL == "" {
		return result, nil
	}

	examples, err := s.store.QueryRows(ctx, plan.ExamplesSQL, plan.ExamplesParams, sampleLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "examples query failed", "error", err)

		return result, nil
	}

	result.Examples = examples

	return result, nil
}

// scalarCount reads the single value of a COUNT row. Missing or non-numeric values count as zero.
func scalarCount(rows []models.Row) int64 {
	if len(rows) == 0 {
		return 0
	}

	for _, v := range rows[0] {
		switch n := v.(type) {
		case int64:
			return n
		case int32:
			return int64(n)
		case int:
			return int64(n)
		case float64:
			return int64(math.Round(n))
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err == nil {
				return parsed
			}
		}
	}

	return 0
}
