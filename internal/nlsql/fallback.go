package nlsql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/govquery/explorer/internal/models"
)

// examplesColumns is the projection used for sample rows that accompany a COUNT.
const examplesColumns = "id, title, type, network, proposer, status, amount_numeric, description, created_at"

// sampleLimit bounds example-phrased queries and the rows that accompany a COUNT.
const sampleLimit = 5

// Filters are the structured predicates extracted from a question.
type Filters struct {
	Network string
	Type    string
	Start   *time.Time
	End     *time.Time
}

// IsEmpty reports whether no predicate was extracted.
func (f Filters) IsEmpty() bool {
	return f.Network == "" && f.Type == "" && f.Start == nil && f.End == nil
}

// Where renders the filters as AND-joined predicates with positional parameters starting at $1.
// The returned clause is empty, or begins with " WHERE ".
func (f Filters) Where() (string, []any) {
	var (
		conditions []string
		args       []any
	)

	argCount := 1

	add := func(expr string, arg any) {
		conditions = append(conditions, fmt.Sprintf(expr, argCount))
		args = append(args, arg)
		argCount++
	}

	if f.Type != "" {
		add("type = $%d", f.Type)
	}

	if f.Network != "" {
		add("network = $%d", f.Network)
	}

	if f.Start != nil {
		add("created_at >= $%d", *f.Start)
	}

	if f.End != nil {
		add("created_at < $%d", *f.End)
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// describe renders the filters for a plan string, e.g. "for kusama in 2025-08-01..2025-09-01".
// Treasury is named by the plan head instead.
func (f Filters) describe() string {
	var parts []string

	if f.Type != "" && f.Type != "TreasuryProposal" {
		parts = append(parts, "of type "+f.Type)
	}

	if f.Network != "" {
		parts = append(parts, "for "+f.Network)
	}

	if f.Start != nil && f.End != nil {
		parts = append(parts, fmt.Sprintf("in %s..%s", f.Start.Format(time.DateOnly), f.End.Format(time.DateOnly)))
	}

	return strings.Join(parts, " ")
}

// networkAliases maps canonical network names to the tokens that select them.
var networkAliases = []struct {
	network string
	re      *regexp.Regexp
}{
	{models.NetworkPolkadot, regexp.MustCompile(`\b(polkadot|dot)\b`)},
	{models.NetworkKusama, regexp.MustCompile(`\b(kusama|ksm)\b`)},
	{"substrate", regexp.MustCompile(`\bsubstrate\b`)},
	{"westend", regexp.MustCompile(`\bwestend\b`)},
	{"rococo", regexp.MustCompile(`\brococo\b`)},
}

// typeAliases maps question tokens to stored proposal type values.
var typeAliases = []struct {
	typ string
	re  *regexp.Regexp
}{
	{"TreasuryProposal", regexp.MustCompile(`\btreasury\b`)},
	{"ReferendumV2", regexp.MustCompile(`\b(referendum|referenda|referendums)\b`)},
	{"CouncilMotion", regexp.MustCompile(`\b(council|motions?)\b`)},
	{"ChildBounty", regexp.MustCompile(`\b(child ?bounty|child ?bounties|bounty|bounties)\b`)},
	{"Tip", regexp.MustCompile(`\btips?\b`)},
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April, "may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var monthYearPattern = regexp.MustCompile(
	`\b(january|february|march|april|may|june|july|august|september|october|november|december|` +
		`jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?\s+(?:of\s+)?(\d{4})\b`)

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	yearMonthPattern = regexp.MustCompile(`\b(\d{4})-(\d{2})\b`)
	yearPattern      = regexp.MustCompile(`\b(20\d{2})\b`)
)

// ExtractNetwork returns the canonical network named in q, or "".
func ExtractNetwork(q string) string {
	q = strings.ToLower(q)

	for _, alias := range networkAliases {
		if alias.re.MatchString(q) {
			return alias.network
		}
	}

	return ""
}

// ExtractType returns the stored proposal type named in q, or "".
func ExtractType(q string) string {
	q = strings.ToLower(q)

	for _, alias := range typeAliases {
		if alias.re.MatchString(q) {
			return alias.typ
		}
	}

	return ""
}

// ExtractDateRange returns a half-open [start, end) UTC range from a month name with a year,
// an ISO date, a YYYY-MM string, or a bare year. ok is false when q names no date.
func ExtractDateRange(q string) (start, end time.Time, ok bool) {
	q = strings.ToLower(q)

	if m := monthYearPattern.FindStringSubmatch(q); m != nil {
		year, _ := strconv.Atoi(m[2])
		start = time.Date(year, months[m[1]], 1, 0, 0, 0, 0, time.UTC)

		return start, start.AddDate(0, 1, 0), true
	}

	if m := isoDatePattern.FindStringSubmatch(q); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])

		if validMonth(month) && day >= 1 && day <= 31 {
			start = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)

			return start, start.AddDate(0, 0, 1), true
		}
	}

	if m := yearMonthPattern.FindStringSubmatch(q); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])

		if validMonth(month) {
			start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

			return start, start.AddDate(0, 1, 0), true
		}
	}

	if m := yearPattern.FindStringSubmatch(q); m != nil {
		year, _ := strconv.Atoi(m[1])
		start = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

		return start, start.AddDate(1, 0, 0), true
	}

	return time.Time{}, time.Time{}, false
}

func validMonth(m int) bool {
	return m >= 1 && m <= 12
}

// ExtractFilters collects the network, type and date range named in q.
func ExtractFilters(q string) Filters {
	f := Filters{
		Network: ExtractNetwork(q),
		Type:    ExtractType(q),
	}

	if start, end, ok := ExtractDateRange(q); ok {
		f.Start, f.End = &start, &end
	}

	return f
}

var (
	aggregatePhrase = regexp.MustCompile(`\b(how many|count|number of|total)\b`)
	recentPhrase    = regexp.MustCompile(`\b(recent|recently|latest|newest)\b`)
)

// IsAggregateQuestion reports whether q asks for a count.
func IsAggregateQuestion(q string) bool {
	return aggregatePhrase.MatchString(strings.ToLower(q))
}

// BuildFallback synthesizes a parameterized plan from q without a completion service. Aggregate
// questions become COUNT(*) with a matching examples query; everything else becomes a bounded
// sample, newest first when the question asks for recent proposals.
func BuildFallback(q string) models.SQLPlan {
	lower := strings.ToLower(q)
	filters := ExtractFilters(lower)
	where, args := filters.Where()

	subject := "proposals"
	if filters.Type == "TreasuryProposal" {
		subject = "treasury proposals"
	}

	var plan models.SQLPlan

	switch {
	case IsAggregateQuestion(lower):
		head := "Count all proposals"
		if filters.Type == "TreasuryProposal" {
			head = "Count treasury proposals"
		}

		plan = models.SQLPlan{
			Plan:           joinPlan(head, filters),
			SQL:            "SELECT COUNT(*) FROM proposals" + where,
			IsCount:        true,
			ExamplesSQL:    ExamplesSQL(where),
			ExamplesParams: args,
		}
	case recentPhrase.MatchString(lower):
		plan = models.SQLPlan{
			Plan: joinPlan("Get recent "+subject, filters),
			SQL:  fmt.Sprintf("SELECT * FROM proposals%s ORDER BY created_at DESC LIMIT %d", where, sampleLimit),
		}
	default:
		plan = models.SQLPlan{
			Plan: joinPlan("Get sample "+subject, filters),
			SQL:  fmt.Sprintf("SELECT * FROM proposals%s LIMIT %d", where, sampleLimit),
		}
	}

	plan.Params = args
	plan.Fallback = true

	return plan
}

// ExamplesSQL returns the bounded, newest-first sample query for a rendered WHERE clause.
func ExamplesSQL(where string) string {
	return fmt.Sprintf("SELECT %s FROM proposals%s ORDER BY created_at DESC LIMIT %d", examplesColumns, where, sampleLimit)
}

func joinPlan(head string, f Filters) string {
	if d := f.describe(); d != "" {
		return head + " " + d
	}

	return head
}
