// Package intent classifies a free-text question into the pipeline route that should answer it.
package intent

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/govquery/explorer/internal/models"
)

// Rule names the classifier that produced a decision.
type Rule string

// Rules in priority order. The first matching rule wins.
const (
	RuleExactLookup Rule = "exact_lookup"
	RuleMixed       Rule = "mixed"
	RuleAnalytical  Rule = "analytical"
	RuleDate        Rule = "date_filtered"
	RuleFiltered    Rule = "structured_filter"
	RuleSemantic    Rule = "semantic"
	RuleDefault     Rule = "default"
)

// Lexicon holds the cue vocabulary for each rule. Terms are matched case-insensitively on word
// boundaries; a trailing plural "s" is tolerated on word terms.
type Lexicon struct {
	ExactPhrases   []string
	DetailPhrases  []string
	ProposalTerm   string
	AggregateCues  []string
	ExampleCues    []string
	AnalyticalCues []string
	DateTerms      []string
	DatePatterns   []string
	Networks       []string
	ProposalTypes  []string
	FilterVerbs    []string
	SearchVerbs    []string
	Entities       []string
	BareExclusions []string
}

// DefaultLexicon returns the governance-proposal vocabulary.
func DefaultLexicon() Lexicon {
	return Lexicon{
		ExactPhrases: []string{
			"proposal with id", "proposal id", "id is", "id =", "id:",
			"proposal #", "proposal number", "specific proposal", "details of proposal",
		},
		DetailPhrases: []string{"give me the details", "show me the details", "get the details"},
		ProposalTerm:  "proposal",
		AggregateCues: []string{"how many", "count", "total"},
		ExampleCues: []string{
			"show some", "name a few", "give examples", "show examples",
			"and show", "and name", "and give",
		},
		AnalyticalCues: []string{
			"how many", "count", "total", "number of", "amount", "highest", "lowest",
			"average", "sum", "statistics", "most", "least", "maximum", "minimum",
		},
		DateTerms: []string{
			"recent", "recently", "latest", "after", "before", "between", "since", "until",
			"january", "february", "march", "april", "may", "june", "july", "august",
			"september", "october", "november", "december",
			"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		},
		DatePatterns: []string{
			`\b20\d{2}\b`,
			`\d{4}-\d{2}-\d{2}`,
			`\d{4}/\d{2}/\d{2}`,
			`\d{1,2}/\d{1,2}/\d{4}`,
		},
		Networks:      []string{"kusama", "polkadot", "westend", "rococo"},
		ProposalTypes: []string{"treasury", "council", "referendum", "bounty", "tip", "motion"},
		FilterVerbs:   []string{"find", "what", "show me", "get", "list", "all"},
		SearchVerbs: []string{
			"find", "search", "show me", "tell me about", "what", "which",
			"get", "look for", "discover",
		},
		Entities: []string{
			"clarys", "subsquare", "polkadot", "kusama", "treasury",
			"council", "referendum", "bounty", "tip",
		},
		BareExclusions: []string{"how many", "count", "total", "amount"},
	}
}

// termSet matches any of a list of terms on word boundaries.
type termSet struct {
	re *regexp.Regexp
}

func newTermSet(terms []string) termSet {
	if len(terms) == 0 {
		return termSet{}
	}

	alts := make([]string, 0, len(terms))
	for _, term := range terms {
		alts = append(alts, termPattern(strings.ToLower(term)))
	}

	return termSet{re: regexp.MustCompile(strings.Join(alts, "|"))}
}

// termPattern anchors term on word boundaries where its first or last rune is a word character.
func termPattern(term string) string {
	p := regexp.QuoteMeta(term)

	first, last := rune(term[0]), rune(term[len(term)-1])
	if isWordRune(first) {
		p = `\b` + p
	}

	if isWordRune(last) {
		p += `s?\b`
	}

	return "(?:" + p + ")"
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (s termSet) match(q string) bool {
	return s.re != nil && s.re.MatchString(q)
}

// Router is a deterministic, side-effect-free query classifier. It is safe for concurrent use.
type Router struct {
	exact       termSet
	details     termSet
	proposal    termSet
	aggregate   termSet
	examples    termSet
	analytical  termSet
	dateTerms   termSet
	datePattern []*regexp.Regexp
	filterNouns termSet
	filterVerbs termSet
	searchVerbs termSet
	entities    termSet
	exclusions  termSet
}

// NewRouter compiles lex. It panics on an invalid date pattern, which is a programming error.
func NewRouter(lex Lexicon) *Router {
	patterns := make([]*regexp.Regexp, 0, len(lex.DatePatterns))
	for _, p := range lex.DatePatterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}

	nouns := append(append([]string{}, lex.Networks...), lex.ProposalTypes...)

	return &Router{
		exact:       newTermSet(lex.ExactPhrases),
		details:     newTermSet(lex.DetailPhrases),
		proposal:    newTermSet([]string{lex.ProposalTerm}),
		aggregate:   newTermSet(lex.AggregateCues),
		examples:    newTermSet(lex.ExampleCues),
		analytical:  newTermSet(lex.AnalyticalCues),
		dateTerms:   newTermSet(lex.DateTerms),
		datePattern: patterns,
		filterNouns: newTermSet(nouns),
		filterVerbs: newTermSet(lex.FilterVerbs),
		searchVerbs: newTermSet(lex.SearchVerbs),
		entities:    newTermSet(lex.Entities),
		exclusions:  newTermSet(lex.BareExclusions),
	}
}

// Route returns the route for query.
func (r *Router) Route(query string) models.Route {
	route, _ := r.Classify(query)

	return route
}

// Classify returns the route for query and the rule that decided it.
func (r *Router) Classify(query string) (models.Route, Rule) {
	q := strings.ToLower(strings.TrimSpace(query))

	switch {
	case r.IsExactLookup(q):
		return models.RouteSQL, RuleExactLookup
	case r.IsMixed(q):
		return models.RouteSQL, RuleMixed
	case r.IsAnalytical(q):
		return models.RouteSQL, RuleAnalytical
	case r.IsDateFiltered(q):
		return models.RouteSQL, RuleDate
	case r.IsStructuredFilter(q):
		return models.RouteSQL, RuleFiltered
	case r.IsSemantic(q):
		return models.RouteRetrieval, RuleSemantic
	default:
		return models.RouteDirect, RuleDefault
	}
}

// IsExactLookup matches explicit id references, or "proposal" alongside a number.
func (r *Router) IsExactLookup(q string) bool {
	if r.exact.match(q) || r.details.match(q) {
		return true
	}

	return r.proposal.match(q) && hasDigit(q)
}

// IsMixed matches an aggregate cue combined with a request for examples.
func (r *Router) IsMixed(q string) bool {
	return r.aggregate.match(q) && r.examples.match(q)
}

// IsAnalytical matches aggregate and statistics cues.
func (r *Router) IsAnalytical(q string) bool {
	return r.analytical.match(q)
}

// IsDateFiltered matches month names, years, date literals and relative time terms.
func (r *Router) IsDateFiltered(q string) bool {
	if r.dateTerms.match(q) {
		return true
	}

	for _, re := range r.datePattern {
		if re.MatchString(q) {
			return true
		}
	}

	return false
}

// IsStructuredFilter matches a known network or proposal type together with a filter verb.
func (r *Router) IsStructuredFilter(q string) bool {
	return r.filterNouns.match(q) && r.filterVerbs.match(q)
}

// IsSemantic matches search verbs, known entities, or a bare proposal question.
func (r *Router) IsSemantic(q string) bool {
	if r.searchVerbs.match(q) || r.entities.match(q) {
		return true
	}

	return r.proposal.match(q) && !hasDigit(q) && !r.exclusions.match(q)
}

func hasDigit(s string) bool {
	return strings.ContainsFunc(s, unicode.IsDigit)
}
