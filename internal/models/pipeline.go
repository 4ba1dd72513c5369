package models

import "time"

// Route is the intent router's decision for a query.
type Route string

// Routes.
const (
	RouteSQL       Route = "sql_route"
	RouteRetrieval Route = "retrieval_route"
	RouteDirect    Route = "direct_route"
)

// Stage names. They key processing_times and name stream events.
const (
	StageRouter    = "router"
	StageSQLAgent  = "sql_agent"
	StageRetrieval = "retrieval_agent"
	StageRerank    = "rerank"
	StageComposer  = "composer"
)

// Stream event stages.
const (
	EventRouterDecision       = "router_decision"
	EventSQLResult            = "sql_result"
	EventRetrievalHits        = "retrieval_hits"
	EventFinalAnswer          = "final_answer"
	EventProposalDescriptions = "proposal_descriptions"
	EventError                = "error"
)

// Row is one result row from a validated SQL statement, keyed by column name.
type Row map[string]any

// SQLPlan is a vetted, parameterizable SELECT produced by the planner. ExamplesSQL is set for
// COUNT plans: a bounded query over the same filters returning sample rows.
type SQLPlan struct {
	Plan           string `json:"plan"`
	SQL            string `json:"sql"`
	Params         []any  `json:"params"`
	IsCount        bool   `json:"-"`
	ExamplesSQL    string `json:"-"`
	ExamplesParams []any  `json:"-"`
	// Fallback is true when the plan came from the deterministic templates.
	Fallback bool `json:"fallback"`
}

// SQLResult is the outcome of executing a plan. Error is set instead of rows when planning
// or execution failed and the answer degrades to "no proposals found".
type SQLResult struct {
	Plan     string `json:"plan,omitempty"`
	SQL      string `json:"sql"`
	Count    int64  `json:"count"`
	Examples []Row  `json:"examples"`
	Error    string `json:"error,omitempty"`
}

// OrchestrationState is the context threaded through one in-flight query. It is owned by a
// single request and never shared.
type OrchestrationState struct {
	Query           string
	RouteDecision   Route
	SQLQuery        string
	SQLResult       *SQLResult
	RetrievalHits   []SearchResult
	RerankedResults []SearchResult
	FinalAnswer     string
	Metadata        map[string]any
	// ProcessingTimes maps stage name to duration in seconds.
	ProcessingTimes map[string]float64
	// ProposalsForDescriptions is the composer's display set on the retrieval route.
	ProposalsForDescriptions []SearchResult
}

// NewOrchestrationState returns an empty state for query.
func NewOrchestrationState(query string) *OrchestrationState {
	return &OrchestrationState{
		Query:           query,
		Metadata:        map[string]any{},
		ProcessingTimes: map[string]float64{},
	}
}

// RecordTiming stores d for stage. An existing larger value is kept.
func (s *OrchestrationState) RecordTiming(stage string, d time.Duration) {
	if s.ProcessingTimes == nil {
		s.ProcessingTimes = map[string]float64{}
	}

	secs := d.Seconds()
	if prev, ok := s.ProcessingTimes[stage]; ok && prev >= secs {
		return
	}

	s.ProcessingTimes[stage] = secs
}

// StreamEvent is one entry in the ordered per-request event sequence.
type StreamEvent struct {
	Stage   string         `json:"stage"`
	Payload map[string]any `json:"payload"`
}
