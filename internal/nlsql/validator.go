package nlsql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/govquery/explorer/internal/apperrors"
)

const maxCandidateLength = 4000

// DefaultAllowedTables are the only relations a generated statement may read.
var DefaultAllowedTables = []string{"proposals", "proposals_embeddings"}

// DefaultAllowedColumns are the proposal and embedding columns a generated statement may reference.
var DefaultAllowedColumns = []string{
	"id", "network", "type", "title", "description", "proposer", "amount_numeric",
	"currency", "status", "created_at", "updated_at", "proposal_id", "embedding",
}

// DefaultGenericColumns are output names commonly produced by aggregates and row builders.
var DefaultGenericColumns = []string{"count", "samples", "data", "result", "row"}

// DefaultCTEPrefixes mark names reserved for query-local common table expressions.
var DefaultCTEPrefixes = []string{"kusama_", "polkadot_", "temp_", "cte_", "with_"}

// DefaultAllowedFunctions are the SQL functions a generated statement may call.
var DefaultAllowedFunctions = []string{
	"count", "sum", "avg", "min", "max", "round", "floor", "ceil", "abs",
	"lower", "upper", "length", "substring", "substr", "trim", "btrim", "ltrim", "rtrim", "concat", "left",
	"date_trunc", "date_part", "extract", "to_char", "now", "age",
	"array_agg", "json_agg", "jsonb_agg", "row_to_json", "json_build_object", "string_agg",
	"coalesce", "nullif",
}

var dangerousKeywords = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|EXEC|EXECUTE|GRANT|REVOKE|COPY|MERGE|CALL|VACUUM)\b`)

// Statement is a validated, executable SELECT.
type Statement struct {
	SQL     string
	IsCount bool
	// Recovered is true when trailing statements were dropped and only the first SELECT kept.
	Recovered bool
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithCTEPrefixes replaces the reserved CTE name prefixes.
func WithCTEPrefixes(prefixes ...string) ValidatorOption {
	return func(v *Validator) {
		v.ctePrefixes = lowerAll(prefixes)
	}
}

// Validator proves a candidate SQL string safe to execute against the proposal store.
// It is safe for concurrent use.
type Validator struct {
	tables      map[string]struct{}
	columns     map[string]struct{}
	functions   map[string]struct{}
	ctePrefixes []string
}

// NewValidator returns a Validator over the default allow-lists.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		tables:      toSet(DefaultAllowedTables),
		columns:     toSet(append(append([]string{}, DefaultAllowedColumns...), DefaultGenericColumns...)),
		functions:   toSet(DefaultAllowedFunctions),
		ctePrefixes: DefaultCTEPrefixes,
	}
	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Validate checks candidate and returns the statement to execute, or a *apperrors.SecurityError.
// Positional parameters written as @N or ? are rewritten to $N. On a payload of several
// SELECT statements only the first is kept; any other trailing statement is rejected.
func (v *Validator) Validate(candidate string) (Statement, error) {
	sql := strings.TrimSpace(candidate)
	if sql == "" {
		return Statement{}, apperrors.NewSecurityError(apperrors.ReasonEmpty, "no sql")
	}

	if len(sql) > maxCandidateLength {
		return Statement{}, apperrors.NewSecurityError(apperrors.ReasonParseError, "sql too long")
	}

	code := blankLiterals(sql)

	if strings.Contains(code, "--") || strings.Contains(code, "/*") {
		return Statement{}, apperrors.NewSecurityError(apperrors.ReasonComment, "comment markers are not allowed")
	}

	if kw := dangerousKeywords.FindString(code); kw != "" {
		return Statement{}, apperrors.NewSecurityError(apperrors.ReasonDangerousKeyword, strings.ToUpper(kw))
	}

	sql = RewriteParams(sql)

	result, err := pg_query.Parse(sql)
	if err != nil {
		return Statement{}, apperrors.NewSecurityError(apperrors.ReasonParseError, err.Error())
	}

	if len(result.GetStmts()) == 0 {
		return Statement{}, apperrors.NewSecurityError(apperrors.ReasonEmpty, "no statement")
	}

	recovered := false

	if len(result.GetStmts()) > 1 {
		for _, raw := range result.GetStmts() {
			if raw.GetStmt().GetSelectStmt() == nil {
				return Statement{}, apperrors.NewSecurityError(apperrors.ReasonNotSelect, "trailing statement is not a SELECT")
			}
		}

		first := result.GetStmts()[0]
		sql = statementText(sql, first)
		recovered = true

		if result, err = pg_query.Parse(sql); err != nil || len(result.GetStmts()) != 1 {
			return Statement{}, apperrors.NewSecurityError(apperrors.ReasonMultipleStatements, "could not isolate first statement")
		}
	}

	sel := result.GetStmts()[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return Statement{}, apperrors.NewSecurityError(apperrors.ReasonNotSelect, "top-level statement is not a SELECT")
	}

	if err := v.check(sel); err != nil {
		return Statement{}, err
	}

	return Statement{
		SQL:       strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sql), ";")),
		IsCount:   isCountSelect(sel),
		Recovered: recovered,
	}, nil
}

// statementText slices one raw statement out of a multi-statement string.
func statementText(sql string, raw *pg_query.RawStmt) string {
	start := int(raw.GetStmtLocation())
	end := len(sql)

	if l := int(raw.GetStmtLen()); l > 0 && start+l <= len(sql) {
		end = start + l
	}

	if start < 0 || start > end {
		return sql
	}

	return strings.TrimSpace(sql[start:end])
}

func (v *Validator) check(sel *pg_query.SelectStmt) error {
	aliases := map[string]struct{}{}

	inspect(sel, func(m proto.Message) {
		switch n := m.(type) {
		case *pg_query.ResTarget:
			if n.GetName() != "" {
				aliases[strings.ToLower(n.GetName())] = struct{}{}
			}
		case *pg_query.Alias:
			for _, col := range n.GetColnames() {
				if s := col.GetString_(); s != nil {
					aliases[strings.ToLower(s.GetSval())] = struct{}{}
				}
			}
		case *pg_query.CommonTableExpr:
			for _, col := range n.GetAliascolnames() {
				if s := col.GetString_(); s != nil {
					aliases[strings.ToLower(s.GetSval())] = struct{}{}
				}
			}
		}
	})

	w := &walker{v: v, aliases: aliases}
	w.visit(sel)

	return w.err
}

// walker checks relations, columns, functions and set operations with CTE scope tracking.
type walker struct {
	v       *Validator
	aliases map[string]struct{}
	scopes  [][]string
	inCTE   int
	err     error
}

func (w *walker) fail(reason apperrors.SecurityReason, detail string) {
	if w.err == nil {
		w.err = apperrors.NewSecurityError(reason, detail)
	}
}

func (w *walker) visit(m proto.Message) {
	if w.err != nil || m == nil {
		return
	}

	switch n := m.(type) {
	case *pg_query.SelectStmt:
		w.selectStmt(n)

		return
	case *pg_query.RangeVar:
		w.rangeVar(n)
	case *pg_query.ColumnRef:
		w.columnRef(n)
	case *pg_query.FuncCall:
		w.funcCall(n)
	case *pg_query.RangeFunction:
		if n.GetLateral() {
			w.fail(apperrors.ReasonFunctionNotAllowed, "lateral functions are not allowed")

			return
		}
	}

	w.children(m, "")
}

func (w *walker) selectStmt(n *pg_query.SelectStmt) {
	if n.GetIntoClause() != nil || len(n.GetLockingClause()) > 0 {
		w.fail(apperrors.ReasonNotSelect, "SELECT INTO and locking clauses are not allowed")

		return
	}

	switch n.GetOp() {
	case pg_query.SetOperation_SETOP_UNION, pg_query.SetOperation_SETOP_INTERSECT, pg_query.SetOperation_SETOP_EXCEPT:
		if w.inCTE == 0 {
			w.fail(apperrors.ReasonUnion, "set operations are only allowed inside a WITH clause")

			return
		}
	}

	if wc := n.GetWithClause(); wc != nil {
		names := make([]string, 0, len(wc.GetCtes()))
		for _, c := range wc.GetCtes() {
			if cte := c.GetCommonTableExpr(); cte != nil {
				names = append(names, strings.ToLower(cte.GetCtename()))
			}
		}

		w.scopes = append(w.scopes, names)
		defer func() { w.scopes = w.scopes[:len(w.scopes)-1] }()

		for _, c := range wc.GetCtes() {
			cte := c.GetCommonTableExpr()
			if cte == nil {
				continue
			}

			if cte.GetCtequery().GetSelectStmt() == nil {
				w.fail(apperrors.ReasonNotSelect, "WITH clause body must be a SELECT")

				return
			}

			w.inCTE++
			w.visit(cte.GetCtequery())
			w.inCTE--
		}
	}

	w.children(n, "with_clause")
}

func (w *walker) children(m proto.Message, skip protoreflect.Name) {
	m.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, val protoreflect.Value) bool {
		if w.err != nil {
			return false
		}

		if fd.Name() == skip || fd.Message() == nil || fd.IsMap() {
			return true
		}

		if fd.IsList() {
			list := val.List()
			for i := range list.Len() {
				w.visit(list.Get(i).Message().Interface())
			}

			return true
		}

		w.visit(val.Message().Interface())

		return true
	})
}

func (w *walker) rangeVar(n *pg_query.RangeVar) {
	name := strings.ToLower(n.GetRelname())

	if schema := strings.ToLower(n.GetSchemaname()); schema != "" && schema != "public" {
		w.fail(apperrors.ReasonTableNotAllowed, n.GetSchemaname()+"."+n.GetRelname())

		return
	}

	if _, ok := w.v.tables[name]; ok {
		return
	}

	if w.isLocalCTE(name) {
		return
	}

	w.fail(apperrors.ReasonTableNotAllowed, n.GetRelname())
}

// isLocalCTE reports whether name carries a reserved prefix and is defined by an enclosing WITH.
func (w *walker) isLocalCTE(name string) bool {
	if !w.v.hasCTEPrefix(name) {
		return false
	}

	for _, scope := range w.scopes {
		for _, cte := range scope {
			if cte == name {
				return true
			}
		}
	}

	return false
}

func (w *walker) columnRef(n *pg_query.ColumnRef) {
	var parts []string

	for _, f := range n.GetFields() {
		if f.GetAStar() != nil {
			parts = append(parts, "*")

			continue
		}

		if s := f.GetString_(); s != nil {
			parts = append(parts, strings.ToLower(s.GetSval()))
		}
	}

	if len(parts) == 0 {
		return
	}

	col := parts[len(parts)-1]
	if col == "*" {
		return
	}

	if len(parts) > 1 && w.isLocalCTE(parts[len(parts)-2]) {
		return
	}

	if _, ok := w.v.columns[col]; ok {
		return
	}

	if _, ok := w.aliases[col]; ok {
		return
	}

	w.fail(apperrors.ReasonColumnNotAllowed, col)
}

func (w *walker) funcCall(n *pg_query.FuncCall) {
	var name string

	for _, part := range n.GetFuncname() {
		if s := part.GetString_(); s != nil {
			name = strings.ToLower(s.GetSval())
		}
	}

	if _, ok := w.v.functions[name]; !ok {
		w.fail(apperrors.ReasonFunctionNotAllowed, name)
	}
}

func (v *Validator) hasCTEPrefix(name string) bool {
	for _, p := range v.ctePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}

	return false
}

// inspect calls fn for every message in the tree rooted at m, depth first.
func inspect(m proto.Message, fn func(proto.Message)) {
	if m == nil {
		return
	}

	fn(m)

	m.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, val protoreflect.Value) bool {
		if fd.Message() == nil || fd.IsMap() {
			return true
		}

		if fd.IsList() {
			list := val.List()
			for i := range list.Len() {
				inspect(list.Get(i).Message().Interface(), fn)
			}

			return true
		}

		inspect(val.Message().Interface(), fn)

		return true
	})
}

// isCountSelect reports whether the statement yields one scalar COUNT(...) row. Grouped,
// distinct or set-operation counts return one row per group and take the row path instead.
func isCountSelect(sel *pg_query.SelectStmt) bool {
	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE ||
		len(sel.GetGroupClause()) > 0 ||
		sel.GetHavingClause() != nil ||
		len(sel.GetDistinctClause()) > 0 {
		return false
	}

	targets := sel.GetTargetList()
	if len(targets) != 1 {
		return false
	}

	fc := targets[0].GetResTarget().GetVal().GetFuncCall()
	if fc == nil || len(fc.GetFuncname()) == 0 || fc.GetOver() != nil {
		return false
	}

	last := fc.GetFuncname()[len(fc.GetFuncname())-1].GetString_()

	return last != nil && strings.EqualFold(last.GetSval(), "count")
}

// literalSpan is the byte range [start, end) of one string constant, delimiters included.
type literalSpan struct {
	start, end int
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= '0' && c <= '9') || (c|0x20 >= 'a' && c|0x20 <= 'z')
}

func isTagStart(c byte) bool {
	return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z')
}

// literalSpans finds quoted ('...'), escape (E'...') and dollar-quoted ($tag$...$tag$) string
// constants. An unterminated constant runs to the end of sql.
func literalSpans(sql string) []literalSpan {
	var spans []literalSpan

	for i := 0; i < len(sql); {
		switch c := sql[i]; {
		case c == '\'':
			start := i
			escape := i > 0 && (sql[i-1] == 'E' || sql[i-1] == 'e') && (i < 2 || !isIdentByte(sql[i-2]))

			if escape {
				start = i - 1
			}

			j := i + 1
			for j < len(sql) {
				if escape && sql[j] == '\\' {
					j += 2

					continue
				}

				if sql[j] == '\'' {
					if j+1 < len(sql) && sql[j+1] == '\'' {
						j += 2

						continue
					}

					break
				}

				j++
			}

			end := min(j+1, len(sql))
			spans = append(spans, literalSpan{start: start, end: end})
			i = end
		case c == '$' && (i == 0 || !isIdentByte(sql[i-1])):
			k := i + 1
			if k < len(sql) && isTagStart(sql[k]) {
				for k < len(sql) && sql[k] != '$' && isIdentByte(sql[k]) {
					k++
				}
			}

			if k >= len(sql) || sql[k] != '$' {
				i++

				continue
			}

			delim := sql[i : k+1]
			end := len(sql)

			if closing := strings.Index(sql[k+1:], delim); closing >= 0 {
				end = k + 1 + closing + len(delim)
			}

			spans = append(spans, literalSpan{start: i, end: end})
			i = end
		default:
			i++
		}
	}

	return spans
}

// blankLiterals replaces every string constant with spaces so keyword and comment scans only
// see SQL code.
func blankLiterals(sql string) string {
	b := []byte(sql)

	for _, sp := range literalSpans(sql) {
		for i := sp.start; i < sp.end; i++ {
			b[i] = ' '
		}
	}

	return string(b)
}

var atParam = regexp.MustCompile(`^@(\d+)`)

// RewriteParams converts @N and ? placeholders outside string constants to PostgreSQL $N syntax.
func RewriteParams(sql string) string {
	var (
		out   strings.Builder
		next  = 1
		spans = literalSpans(sql)
	)

	for i := 0; i < len(sql); i++ {
		if len(spans) > 0 && i == spans[0].start {
			out.WriteString(sql[spans[0].start:spans[0].end])
			i = spans[0].end - 1
			spans = spans[1:]

			continue
		}

		switch c := sql[i]; c {
		case '@':
			if loc := atParam.FindStringSubmatchIndex(sql[i:]); loc != nil {
				n, _ := strconv.Atoi(sql[i+loc[2] : i+loc[3]])
				fmt.Fprintf(&out, "$%d", n)

				if n >= next {
					next = n + 1
				}

				i += loc[1] - 1

				continue
			}

			out.WriteByte(c)
		case '?':
			fmt.Fprintf(&out, "$%d", next)
			next++
		default:
			out.WriteByte(c)
		}
	}

	return out.String()
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}

	return set
}

func lowerAll(items []string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = strings.ToLower(it)
	}

	return out
}
