package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/govquery/explorer/internal/models"
)

func TestRouter_Classify(t *testing.T) {
	r := NewRouter(DefaultLexicon())

	tests := []struct {
		name      string
		query     string
		wantRoute models.Route
		wantRule  Rule
	}{
		{"aggregate count", "How many proposals are there?", models.RouteSQL, RuleAnalytical},
		{"proposal with number", "Show proposal 1234", models.RouteSQL, RuleExactLookup},
		{"explicit id phrase", "what is the proposal with id abc", models.RouteSQL, RuleExactLookup},
		{"details phrase", "Give me the details about the clarys tip", models.RouteSQL, RuleExactLookup},
		{"mixed count and examples", "How many treasury proposals and show some", models.RouteSQL, RuleMixed},
		{"highest amount", "Which spend had the highest amount", models.RouteSQL, RuleAnalytical},
		{"month name", "Anything from August?", models.RouteSQL, RuleDate},
		{"iso date", "created after 2025-08-01", models.RouteSQL, RuleDate},
		{"network with verb", "List kusama referenda", models.RouteSQL, RuleFiltered},
		{"entity only", "clarys proposal", models.RouteRetrieval, RuleSemantic},
		{"search verb", "tell me about subsquare", models.RouteRetrieval, RuleSemantic},
		{"bare proposal", "proposals about wallets", models.RouteRetrieval, RuleSemantic},
		{"default", "hello there", models.RouteDirect, RuleDefault},
		{"empty", "", models.RouteDirect, RuleDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, rule := r.Classify(tt.query)
			assert.Equal(t, tt.wantRoute, route)
			assert.Equal(t, tt.wantRule, rule)
		})
	}
}

func TestRouter_CaseInsensitiveAndDeterministic(t *testing.T) {
	r := NewRouter(DefaultLexicon())

	for _, q := range []string{"HOW MANY proposals?", "how many proposals?", "How Many Proposals?"} {
		for range 3 {
			assert.Equal(t, models.RouteSQL, r.Route(q), q)
		}
	}
}

func TestRouter_AggregateWithoutExamplesIsSQL(t *testing.T) {
	r := NewRouter(DefaultLexicon())

	for _, q := range []string{
		"how many referenda passed",
		"how many tips",
		"tell me how many bounties exist",
		"How many proposals does clarys have",
	} {
		assert.Equal(t, models.RouteSQL, r.Route(q), q)
	}
}

func TestRouter_BareEntityIsRetrieval(t *testing.T) {
	r := NewRouter(DefaultLexicon())

	for _, q := range []string{"clarys", "subsquare proposal", "proposal for a wallet", "bounty"} {
		assert.Equal(t, models.RouteRetrieval, r.Route(q), q)
	}
}

func TestRouter_WordBoundaries(t *testing.T) {
	r := NewRouter(DefaultLexicon())

	// "summary" must not trigger the "sum" cue, "decimal" not "dec", "almost" not "most".
	assert.False(t, r.IsAnalytical("a summary please"))
	assert.False(t, r.IsDateFiltered("decimal places"))
	assert.False(t, r.IsAnalytical("almost there"))
	assert.True(t, r.IsAnalytical("amounts requested"))
}

func TestRouter_CustomLexicon(t *testing.T) {
	lex := DefaultLexicon()
	lex.Entities = append(lex.Entities, "moonbeam")

	r := NewRouter(lex)
	assert.Equal(t, models.RouteRetrieval, r.Route("moonbeam"))
	assert.Equal(t, models.RouteDirect, NewRouter(DefaultLexicon()).Route("moonbeam"))
}
