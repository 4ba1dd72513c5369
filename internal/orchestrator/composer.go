package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/govquery/explorer/internal/models"
	"github.com/govquery/explorer/internal/retrieval"
)

// Display policy for retrieval hits. DefaultRelevanceThreshold is a tuned value, overridable
// through configuration.
const (
	DefaultRelevanceThreshold = 0.015
	maxDisplayed              = 5
	fallbackDisplayed         = 2
	maxExamples               = 5
	descriptionMaxChars       = 200
)

// Fixed answers.
const (
	noProposalsAnswer = "No proposals found matching your criteria."
	noResultsAnswer   = "I couldn't find any relevant information for your query."
)

// Composer renders the final answer from unified results.
type Composer struct {
	threshold float64
}

// NewComposer creates a Composer. A negative threshold uses DefaultRelevanceThreshold.
func NewComposer(threshold float64) *Composer {
	if threshold < 0 {
		threshold = DefaultRelevanceThreshold
	}

	return &Composer{threshold: threshold}
}

// DisplaySet keeps results scoring at least the threshold, up to five. When none qualify it
// returns the first two regardless of score.
func (c *Composer) DisplaySet(results []models.SearchResult) []models.SearchResult {
	relevant := make([]models.SearchResult, 0, maxDisplayed)

	for _, r := range results {
		if r.Score >= c.threshold {
			relevant = append(relevant, r)
			if len(relevant) == maxDisplayed {
				break
			}
		}
	}

	if len(relevant) > 0 {
		return relevant
	}

	n := min(fallbackDisplayed, len(results))

	return append(relevant, results[:n]...)
}

// Compose sets FinalAnswer, Metadata["processing_type"] and, on the retrieval route,
// ProposalsForDescriptions.
func (c *Composer) Compose(state *models.OrchestrationState) {
	if state.Metadata == nil {
		state.Metadata = map[string]any{}
	}

	state.Metadata["processing_type"] = string(state.RouteDecision)

	switch {
	case state.RouteDecision == models.RouteSQL && state.SQLResult != nil:
		state.FinalAnswer = composeSQL(state.SQLResult.Count, state.RerankedResults)
		state.Metadata["result_count"] = state.SQLResult.Count
	case state.RouteDecision == models.RouteRetrieval && len(state.RerankedResults) > 0:
		shown := c.DisplaySet(state.RerankedResults)

		var b strings.Builder

		fmt.Fprintf(&b, "Found %d relevant proposals:\n\n", len(shown))

		for i, r := range shown {
			writeProposal(&b, i+1, r)
		}

		state.FinalAnswer = b.String()
		state.ProposalsForDescriptions = shown
		state.Metadata["result_count"] = len(shown)
	default:
		state.FinalAnswer = noResultsAnswer
	}
}

func composeSQL(count int64, examples []models.SearchResult) string {
	if count <= 0 {
		return noProposalsAnswer
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Found %d proposals", count)

	if len(examples) == 0 {
		return b.String()
	}

	b.WriteString(". Here are some examples:\n\n")

	for i, r := range examples[:min(maxExamples, len(examples))] {
		writeProposal(&b, i+1, r)
	}

	return b.String()
}

func writeProposal(b *strings.Builder, n int, r models.SearchResult) {
	fmt.Fprintf(b, "## Proposal %d: %s\n", n, orDefault(r.Title, "Untitled"))
	fmt.Fprintf(b, "**ID:** %s\n", orDefault(r.ID, "N/A"))
	fmt.Fprintf(b, "**Type:** %s\n", orDefault(r.Type, "Unknown"))
	fmt.Fprintf(b, "**Network:** %s\n", orDefault(r.Network, "Unknown"))
	fmt.Fprintf(b, "**Proposer:** %s\n", orDefault(r.Proposer, "Unknown"))
	fmt.Fprintf(b, "**Status:** %s\n", orDefault(r.Status, "Unknown"))

	created := "Unknown"
	if r.CreatedAt != nil {
		created = r.CreatedAt.UTC().Format(time.RFC3339)
	}

	fmt.Fprintf(b, "**Created:** %s\n", created)

	if r.Amount != nil && *r.Amount != 0 {
		amount := strconv.FormatFloat(*r.Amount, 'f', -1, 64)
		if r.Currency != nil && *r.Currency != "" {
			amount += " " + *r.Currency
		}

		fmt.Fprintf(b, "**Amount:** %s\n", amount)
	}

	fmt.Fprintf(b, "**Description:** %s\n\n", truncate(orDefault(r.Description, "No description available"), descriptionMaxChars))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}

	return s
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	return string([]rune(s)[:max]) + "..."
}

// RowsToResults converts SQL example rows into the result shape shared with retrieval.
// Unknown or mistyped columns are left empty.
func RowsToResults(rows []models.Row) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(rows))

	for _, row := range rows {
		r := models.SearchResult{
			ID:          rowString(row, "id"),
			Title:       rowString(row, "title"),
			Network:     rowString(row, "network"),
			Type:        rowString(row, "type"),
			Status:      rowString(row, "status"),
			Proposer:    rowString(row, "proposer"),
			Description: rowString(row, "description"),
		}

		if amount, ok := row["amount_numeric"].(float64); ok {
			r.Amount = &amount
		}

		if currency := rowString(row, "currency"); currency != "" {
			r.Currency = &currency
		}

		if created := rowString(row, "created_at"); created != "" {
			if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
				r.CreatedAt = &t
			}
		}

		r.Snippet = retrieval.Snippet(r.Title, r.Description)
		out = append(out, r)
	}

	return out
}

func rowString(row models.Row, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
