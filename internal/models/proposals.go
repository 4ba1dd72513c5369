package models

import (
	"encoding/json"
	"time"
)

// Known networks. Anything else ingested is stored as NetworkOther.
const (
	NetworkPolkadot = "polkadot"
	NetworkKusama   = "kusama"
	NetworkOther    = "other"
)

// Proposal represents a single on-chain governance proposal. Rows are written by the ingestion
// pipeline; this service only reads them.
type Proposal struct {
	ID          string          `json:"id"`
	Network     string          `json:"network"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Proposer    string          `json:"proposer"`
	Amount      *float64        `json:"amount,omitempty"`
	Currency    *string         `json:"currency,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// SearchFilters narrows lexical and vector search. Nil fields impose no constraint.
type SearchFilters struct {
	Network   *string    `json:"network,omitempty" validate:"omitempty,max=64,no_null_bytes"`
	Type      *string    `json:"type,omitempty" validate:"omitempty,max=128,no_null_bytes"`
	Status    *string    `json:"status,omitempty" validate:"omitempty,max=64,no_null_bytes"`
	MinAmount *float64   `json:"min_amount,omitempty" validate:"omitempty,gte=0"`
	MaxAmount *float64   `json:"max_amount,omitempty" validate:"omitempty,gte=0"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f *SearchFilters) IsEmpty() bool {
	return f == nil || (f.Network == nil && f.Type == nil && f.Status == nil &&
		f.MinAmount == nil && f.MaxAmount == nil && f.StartDate == nil && f.EndDate == nil)
}

// SearchResult is one ranked proposal returned by hybrid retrieval, and the unified shape the
// composer renders for both routes. Score is the fused RRF score, or the rerank relevance
// score when reranking reordered the result; FusedScore always keeps the RRF score.
type SearchResult struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Network     string     `json:"network"`
	Type        string     `json:"type"`
	Amount      *float64   `json:"amount,omitempty"`
	Currency    *string    `json:"currency,omitempty"`
	Status      string     `json:"status,omitempty"`
	Proposer    string     `json:"proposer,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	Snippet     string     `json:"snippet"`
	Score       float64    `json:"score"`
	FusedScore  float64    `json:"fused_score"`
}

// RankedProposal is a proposal at a position in one ranked list (lexical or vector) before fusion.
// Raw is the list-native score: ts_rank for lexical, cosine distance for vector.
type RankedProposal struct {
	Proposal

	Raw float64 `json:"raw"`
}
