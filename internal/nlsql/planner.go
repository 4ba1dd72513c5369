// Package nlsql turns a natural-language question into a validated SELECT over the proposal
// store and executes it.
package nlsql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/govquery/explorer/internal/apperrors"
	"github.com/govquery/explorer/internal/models"
	"github.com/govquery/explorer/internal/observability"
)

// Fallback causes, used as metric labels and log attributes.
const (
	causeNoCompleter     = "no_completer"
	causeCompletionError = "completion_error"
	causeInvalidResponse = "invalid_response"
	causeComplexQuery    = "complex_query"
	causeValidation      = "validation"
)

const defaultCompletionTimeout = 20 * time.Second

// Completer returns a chat completion for a system instruction and a user prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const systemPrompt = "You are a PostgreSQL SQL expert with complete knowledge of the database schema. " +
	"Generate SIMPLE SQL queries using ONLY the provided schema fields. " +
	"NEVER use CTEs, WITH clauses, or complex subqueries. " +
	"For 'how many' questions, use SELECT COUNT(*) FROM proposals WHERE [conditions]. " +
	"For 'show examples' questions, use SELECT * FROM proposals WHERE [conditions] LIMIT 5. " +
	"Always return valid JSON without any markdown formatting or extra text."

const schemaDescription = `Database: PostgreSQL

Table: proposals
- id (TEXT, PRIMARY KEY): unique proposal identifier
- network (TEXT, NOT NULL): 'polkadot' or 'kusama'
- type (TEXT, NOT NULL): 'TreasuryProposal', 'ReferendumV2', 'CouncilMotion', 'ChildBounty', 'Tip'
- title (TEXT)
- description (TEXT)
- proposer (TEXT): proposer address
- amount_numeric (NUMERIC): requested amount, may be NULL
- currency (TEXT): may be NULL
- status (TEXT): 'Executed', 'Confirmed', 'Claimed', 'Pending', ...
- created_at (TIMESTAMP, NOT NULL)
- updated_at (TIMESTAMP)

Table: proposals_embeddings
- proposal_id (TEXT, PRIMARY KEY): references proposals.id
- embedding (VECTOR)

Rules:
- Only SELECT queries
- Use literal values, not parameters
- For date ranges use created_at
- For counting use COUNT(*)
- For examples use LIMIT 5
- Network values are lowercase; type values are case-sensitive`

const fewShot = `Examples:
- "How many proposals in August 2025?" -> {"plan": "Count proposals created in August 2025", "sql": "SELECT COUNT(*) FROM proposals WHERE created_at >= '2025-08-01' AND created_at < '2025-09-01'", "params": []}
- "Show me some treasury proposals" -> {"plan": "Get sample treasury proposals", "sql": "SELECT * FROM proposals WHERE type = 'TreasuryProposal' LIMIT 5", "params": []}
- "How many proposals are there?" -> {"plan": "Count all proposals", "sql": "SELECT COUNT(*) FROM proposals", "params": []}
- "How many Kusama proposals exist?" -> {"plan": "Count Kusama proposals", "sql": "SELECT COUNT(*) FROM proposals WHERE network = 'kusama'", "params": []}
- "Show me some Polkadot proposals" -> {"plan": "Get sample Polkadot proposals", "sql": "SELECT * FROM proposals WHERE network = 'polkadot' LIMIT 5", "params": []}
- "Show me executed treasury proposals" -> {"plan": "Get executed treasury proposals", "sql": "SELECT * FROM proposals WHERE type = 'TreasuryProposal' AND status = 'Executed' LIMIT 5", "params": []}
- "How many proposals have amounts over 1000?" -> {"plan": "Count proposals with amount > 1000", "sql": "SELECT COUNT(*) FROM proposals WHERE amount_numeric > 1000", "params": []}`

// BuildPrompt renders the user prompt sent to the completion service.
func BuildPrompt(query, schemaHint string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Convert this natural language query to SQL: %q\n\n", query)
	b.WriteString(schemaDescription)

	if hint := strings.TrimSpace(schemaHint); hint != "" {
		b.WriteString("\n\nAdditional schema notes:\n")
		b.WriteString(hint)
	}

	b.WriteString("\n\nReturn a JSON object with this structure:\n")
	b.WriteString(`{"plan": "Brief description of what the query does", "sql": "Single SQL query", "params": []}`)
	b.WriteString("\n\n")
	b.WriteString(fewShot)

	return b.String()
}

// candidate is the structured completion output.
type candidate struct {
	Plan   string
	SQL    string
	Params []any
}

var errInvalidResponse = errors.New("completion response is not a plan object")

// parseCandidate strips code fences and surrounding prose and decodes {plan, sql, params}.
// sql must be a JSON string.
func parseCandidate(content string) (candidate, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return candidate{}, errInvalidResponse
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return candidate{}, fmt.Errorf("%w: %w", errInvalidResponse, err)
	}

	var c candidate

	sqlField, ok := raw["sql"]
	if !ok {
		return candidate{}, fmt.Errorf("%w: missing sql", errInvalidResponse)
	}

	if err := json.Unmarshal(sqlField, &c.SQL); err != nil {
		return candidate{}, fmt.Errorf("%w: sql is not a string", errInvalidResponse)
	}

	if planField, ok := raw["plan"]; ok {
		_ = json.Unmarshal(planField, &c.Plan)
	}

	if paramsField, ok := raw["params"]; ok {
		_ = json.Unmarshal(paramsField, &c.Params)
	}

	return c, nil
}

var complexMarkers = []string{"WITH ", "CTE", "UNION", "ARRAY_AGG", "ROW_TO_JSON"}

var simplePhrases = []string{"how many", "show examples", "show some", "name a few"}

// tooComplex reports whether sql uses constructs that simple count or example questions never need.
func tooComplex(query, sql string) bool {
	q := strings.ToLower(query)

	asksSimple := false

	for _, p := range simplePhrases {
		if strings.Contains(q, p) {
			asksSimple = true

			break
		}
	}

	if !asksSimple {
		return false
	}

	upper := strings.ToUpper(sql)
	for _, m := range complexMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}

	return false
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithCompletionTimeout bounds each completion call.
func WithCompletionTimeout(d time.Duration) PlannerOption {
	return func(p *Planner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPlannerMetrics records fallbacks and security rejections.
func WithPlannerMetrics(m observability.PipelineMetrics) PlannerOption {
	return func(p *Planner) {
		p.metrics = m
	}
}

// WithPlannerLogger sets the logger. Defaults to slog.Default().
func WithPlannerLogger(l *slog.Logger) PlannerOption {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// Planner produces validated SQL plans. A nil Completer means every plan comes from the
// deterministic templates.
type Planner struct {
	completer Completer
	validator *Validator
	timeout   time.Duration
	metrics   observability.PipelineMetrics
	logger    *slog.Logger
}

// NewPlanner creates a Planner. validator may be nil to use the default allow-lists.
func NewPlanner(completer Completer, validator *Validator, opts ...PlannerOption) *Planner {
	if validator == nil {
		validator = NewValidator()
	}

	p := &Planner{
		completer: completer,
		validator: validator,
		timeout:   defaultCompletionTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Plan returns a validated plan for query. Completion failures, malformed output, overly complex
// candidates and non-hostile validation failures fall back to the deterministic templates.
// A hostile candidate returns *apperrors.SecurityError and is never executed.
func (p *Planner) Plan(ctx context.Context, query, schemaHint string) (models.SQLPlan, error) {
	if p.completer == nil {
		return p.fallback(ctx, query, causeNoCompleter)
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	content, err := p.completer.Complete(cctx, systemPrompt, BuildPrompt(query, schemaHint))

	cancel()

	if err != nil {
		p.logger.WarnContext(ctx, "sql completion failed, using fallback",
			"error", apperrors.NewExternalServiceError(apperrors.ServiceCompletion, err))

		return p.fallback(ctx, query, causeCompletionError)
	}

	cand, err := parseCandidate(content)
	if err != nil {
		p.logger.WarnContext(ctx, "sql completion unparseable, using fallback", "error", err)

		return p.fallback(ctx, query, causeInvalidResponse)
	}

	if tooComplex(query, cand.SQL) {
		p.logger.InfoContext(ctx, "sql candidate too complex for question, using fallback")

		return p.fallback(ctx, query, causeComplexQuery)
	}

	stmt, err := p.validator.Validate(cand.SQL)
	if err != nil {
		var secErr *apperrors.SecurityError
		if errors.As(err, &secErr) {
			p.recordRejection(ctx, secErr)

			if secErr.Reason.Hostile() {
				return models.SQLPlan{}, secErr
			}
		}

		p.logger.InfoContext(ctx, "sql candidate rejected, using fallback", "error", err)

		return p.fallback(ctx, query, causeValidation)
	}

	if stmt.Recovered {
		p.logger.InfoContext(ctx, "sql candidate had trailing statements, kept first select")
	}

	plan := models.SQLPlan{
		Plan:    cand.Plan,
		SQL:     stmt.SQL,
		Params:  cand.Params,
		IsCount: stmt.IsCount,
	}
	if plan.Params == nil {
		plan.Params = []any{}
	}

	if stmt.IsCount {
		where, args := ExtractFilters(query).Where()
		plan.ExamplesSQL, plan.ExamplesParams = ExamplesSQL(where), args
	}

	return plan, nil
}

func (p *Planner) fallback(ctx context.Context, query, cause string) (models.SQLPlan, error) {
	if p.metrics != nil {
		p.metrics.RecordPlannerFallback(ctx, cause)
	}

	plan := BuildFallback(query)

	stmt, err := p.validator.Validate(plan.SQL)
	if err != nil {
		var secErr *apperrors.SecurityError
		if errors.As(err, &secErr) {
			p.recordRejection(ctx, secErr)
		}

		return models.SQLPlan{}, fmt.Errorf("fallback plan rejected: %w", err)
	}

	plan.SQL = stmt.SQL
	if plan.Params == nil {
		plan.Params = []any{}
	}

	p.logger.DebugContext(ctx, "using fallback sql plan", "cause", cause, "plan", plan.Plan)

	return plan, nil
}

func (p *Planner) recordRejection(ctx context.Context, err *apperrors.SecurityError) {
	if p.metrics != nil {
		p.metrics.RecordSecurityRejection(ctx, string(err.Reason))
	}

	p.logger.WarnContext(ctx, "sql candidate failed validation", "reason", string(err.Reason), "detail", err.Detail)
}
