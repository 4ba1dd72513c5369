package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/govquery/explorer/internal/apperrors"
	"github.com/govquery/explorer/internal/models"
)

// proposalColumns is the projection scanned by scanProposal, qualified by alias p.
const proposalColumns = `p.id, p.network, p.type, COALESCE(p.title, ''), COALESCE(p.description, ''),
		COALESCE(p.proposer, ''), p.amount_numeric::float8, p.currency, COALESCE(p.status, ''),
		p.created_at, COALESCE(p.updated_at, p.created_at), p.metadata`

// ProposalsRepository reads proposals for search and validated ad-hoc SELECTs.
type ProposalsRepository struct {
	db *pgxpool.Pool
}

// NewProposalsRepository creates a new proposals repository.
func NewProposalsRepository(db *pgxpool.Pool) *ProposalsRepository {
	return &ProposalsRepository{db: db}
}

// buildProposalFilterConditions renders filters as predicates on alias p, numbering parameters
// from argStart. It returns the conditions and their args in order.
func buildProposalFilterConditions(filters *models.SearchFilters, argStart int) (conditions []string, args []any) {
	if filters.IsEmpty() {
		return nil, nil
	}

	argCount := argStart

	add := func(expr string, arg any) {
		conditions = append(conditions, fmt.Sprintf(expr, argCount))
		args = append(args, arg)
		argCount++
	}

	if filters.Network != nil {
		add("p.network = $%d", *filters.Network)
	}

	if filters.Type != nil {
		add("p.type = $%d", *filters.Type)
	}

	if filters.Status != nil {
		add("p.status = $%d", *filters.Status)
	}

	if filters.MinAmount != nil {
		add("p.amount_numeric >= $%d", *filters.MinAmount)
	}

	if filters.MaxAmount != nil {
		add("p.amount_numeric <= $%d", *filters.MaxAmount)
	}

	if filters.StartDate != nil {
		add("p.created_at >= $%d", *filters.StartDate)
	}

	if filters.EndDate != nil {
		add("p.created_at <= $%d", *filters.EndDate)
	}

	return conditions, args
}

// buildLexicalQuery combines full-text rank over doc_tsv with trigram similarity over title and
// proposer. $1 is the query text.
func buildLexicalQuery(query string, filters *models.SearchFilters, limit int) (string, []any) {
	args := []any{query}

	conditions := []string{
		"(p.doc_tsv @@ plainto_tsquery('simple', $1) OR p.title % $1 OR p.proposer % $1)",
	}

	filterConds, filterArgs := buildProposalFilterConditions(filters, len(args)+1)
	conditions = append(conditions, filterConds...)
	args = append(args, filterArgs...)

	args = append(args, limit)

	sql := fmt.Sprintf(`
		SELECT %s,
			ts_rank(p.doc_tsv, plainto_tsquery('simple', $1))
				+ GREATEST(similarity(COALESCE(p.title, ''), $1), similarity(COALESCE(p.proposer, ''), $1)) AS rank_score
		FROM proposals p
		WHERE %s
		ORDER BY rank_score DESC, p.id
		LIMIT $%d`, proposalColumns, strings.Join(conditions, " AND "), len(args))

	return sql, args
}

// buildVectorQuery orders proposals with an embedding by cosine distance to $1.
func buildVectorQuery(embedding []float32, filters *models.SearchFilters, limit int) (string, []any) {
	args := []any{pgvector.NewVector(embedding)}

	conditions := []string{"pe.embedding IS NOT NULL"}

	filterConds, filterArgs := buildProposalFilterConditions(filters, len(args)+1)
	conditions = append(conditions, filterConds...)
	args = append(args, filterArgs...)

	args = append(args, limit)

	sql := fmt.Sprintf(`
		SELECT %s, (pe.embedding <=> $1) AS distance
		FROM proposals p
		INNER JOIN proposals_embeddings pe ON pe.proposal_id = p.id
		WHERE %s
		ORDER BY distance ASC, p.id
		LIMIT $%d`, proposalColumns, strings.Join(conditions, " AND "), len(args))

	return sql, args
}

// LexicalSearch returns proposals matching query by full-text or trigram similarity, best first.
func (r *ProposalsRepository) LexicalSearch(
	ctx context.Context, query string, filters *models.SearchFilters, limit int,
) ([]models.RankedProposal, error) {
	sql, args := buildLexicalQuery(query, filters, limit)

	return r.queryRanked(ctx, "lexical search", sql, args)
}

// VectorSearch returns proposals nearest to embedding by cosine distance, closest first.
func (r *ProposalsRepository) VectorSearch(
	ctx context.Context, embedding []float32, filters *models.SearchFilters, limit int,
) ([]models.RankedProposal, error) {
	sql, args := buildVectorQuery(embedding, filters, limit)

	return r.queryRanked(ctx, "vector search", sql, args)
}

func (r *ProposalsRepository) queryRanked(ctx context.Context, op, sql string, args []any) ([]models.RankedProposal, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	defer rows.Close()

	var results []models.RankedProposal

	for rows.Next() {
		var rp models.RankedProposal
		if err := scanProposal(rows, &rp.Proposal, &rp.Raw); err != nil {
			return nil, apperrors.NewDatabaseError(op, fmt.Errorf("scan proposal: %w", err))
		}

		results = append(results, rp)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}

	return results, nil
}

func scanProposal(rows pgx.Rows, p *models.Proposal, extra ...any) error {
	var metadata []byte

	dest := []any{
		&p.ID, &p.Network, &p.Type, &p.Title, &p.Description, &p.Proposer,
		&p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt, &metadata,
	}
	dest = append(dest, extra...)

	if err := rows.Scan(dest...); err != nil {
		return err
	}

	if len(metadata) > 0 {
		p.Metadata = json.RawMessage(metadata)
	}

	return nil
}

// QueryRows executes a validated SELECT and returns at most limit rows keyed by column name with
// JSON-safe values.
func (r *ProposalsRepository) QueryRows(ctx context.Context, sql string, args []any, limit int) ([]models.Row, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query rows", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []models.Row{}

	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}

		values, err := rows.Values()
		if err != nil {
			return nil, apperrors.NewDatabaseError("query rows", fmt.Errorf("read values: %w", err))
		}

		row := make(models.Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = jsonSafe(values[i])
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("query rows", err)
	}

	return out, nil
}

// jsonSafe converts driver values that do not marshal cleanly into plain JSON types.
func jsonSafe(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}

		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}

		return f.Float64
	case *big.Int:
		return val.String()
	case []byte:
		return string(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}

		return time.Duration(val.Microseconds * int64(time.Microsecond)).String()
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}

		return fmt.Sprintf("%d months %d days %s", val.Months, val.Days,
			time.Duration(val.Microseconds*int64(time.Microsecond)))
	case pgvector.Vector:
		return val.Slice()
	default:
		return val
	}
}

// Ping verifies connectivity.
func (r *ProposalsRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return apperrors.NewDatabaseError("ping", err)
	}

	return nil
}

// SelectOne runs SELECT 1 through the pool.
func (r *ProposalsRepository) SelectOne(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return apperrors.NewDatabaseError("select 1", err)
	}

	return nil
}
