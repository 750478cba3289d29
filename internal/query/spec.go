package query

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Spec accumulates the clauses of a SELECT against one table.
//
// Every fluent method appends a typed fragment and returns the receiver;
// SQL text is produced on demand by Render. Bind values are kept beside the
// fragment that owns them, so the rendered placeholders and BindArgs always
// line up.
//
// A Spec is not safe for concurrent mutation. Clone before sharing.
type Spec struct {
	table    string
	distinct bool
	columns  []string

	where []Fragment

	groupBy    []string
	having     string
	havingArgs []any

	orderBy []Order

	limit     int
	offset    int
	hasLimit  bool
	hasOffset bool

	err error
}

// New returns an empty specification for table.
func New(table string) *Spec {
	return &Spec{table: table}
}

// Table returns the table the specification selects from.
func (s *Spec) Table() string {
	return s.table
}

// Err returns the first construction error, e.g. a raw fragment whose
// placeholder count does not match its arguments.
func (s *Spec) Err() error {
	return s.err
}

// Clone returns a deep copy.
func (s *Spec) Clone() *Spec {
	c := *s
	c.columns = slices.Clone(s.columns)
	c.where = make([]Fragment, len(s.where))
	for i, f := range s.where {
		c.where[i] = cloneFragment(f)
	}
	c.groupBy = slices.Clone(s.groupBy)
	c.havingArgs = slices.Clone(s.havingArgs)
	c.orderBy = slices.Clone(s.orderBy)
	return &c
}

// Distinct selects distinct rows only.
func (s *Spec) Distinct() *Spec {
	s.distinct = true
	return s
}

// Columns sets the projection. No columns means "*".
func (s *Spec) Columns(cols ...string) *Spec {
	s.columns = append(s.columns[:0], cols...)
	return s
}

func (s *Spec) EqualTo(column string, value any) *Spec {
	return s.condition(column, OpEqual, value)
}

func (s *Spec) NotEqualTo(column string, value any) *Spec {
	return s.condition(column, OpNotEqual, value)
}

func (s *Spec) LessThan(column string, value any) *Spec {
	return s.condition(column, OpLessThan, value)
}

func (s *Spec) LessThanOrEqualTo(column string, value any) *Spec {
	return s.condition(column, OpLessThanOrEqual, value)
}

func (s *Spec) GreaterThan(column string, value any) *Spec {
	return s.condition(column, OpGreaterThan, value)
}

func (s *Spec) GreaterThanOrEqualTo(column string, value any) *Spec {
	return s.condition(column, OpGreaterThanOrEqual, value)
}

func (s *Spec) Like(column string, pattern any) *Spec {
	return s.condition(column, OpLike, pattern)
}

// Between matches low <= column <= high.
func (s *Spec) Between(column string, low, high any) *Spec {
	return s.condition(column, OpBetween, low, high)
}

// IsTrue matches a boolean column stored as 1.
func (s *Spec) IsTrue(column string) *Spec {
	return s.condition(column, OpEqual, 1)
}

// IsFalse matches a boolean column stored as 0.
func (s *Spec) IsFalse(column string) *Spec {
	return s.condition(column, OpEqual, 0)
}

func (s *Spec) IsNull(column string) *Spec {
	return s.condition(column, OpIsNull)
}

func (s *Spec) NotNull(column string) *Spec {
	return s.condition(column, OpNotNull)
}

// In matches column against values, one placeholder each.
func (s *Spec) In(column string, values ...any) *Spec {
	s.where = append(s.where, InList{Column: column, Values: slices.Clone(values)})
	return s
}

// InSelect matches column against a sub-select carrying its own placeholders.
func (s *Spec) InSelect(column, subselect string, args ...any) *Spec {
	s.checkPlaceholders(subselect, args)
	s.where = append(s.where, InSelect{Column: column, Select: subselect, Args: slices.Clone(args)})
	return s
}

// AppendWhere appends a raw condition and its bind values.
func (s *Spec) AppendWhere(where string, args ...any) *Spec {
	s.checkPlaceholders(where, args)
	s.where = append(s.where, Raw{SQL: where, Args: slices.Clone(args)})
	return s
}

// And joins the previous and next condition with AND. Adjacent conditions
// are AND-ed anyway; And exists for readability next to Or.
func (s *Spec) And() *Spec {
	s.where = append(s.where, Conjunction{})
	return s
}

// Or joins the previous and next condition with OR.
func (s *Spec) Or() *Spec {
	s.where = append(s.where, Conjunction{Or: true})
	return s
}

// BeginGroup opens a parenthesis.
func (s *Spec) BeginGroup() *Spec {
	s.where = append(s.where, GroupStart{})
	return s
}

// EndGroup closes a parenthesis.
func (s *Spec) EndGroup() *Spec {
	s.where = append(s.where, GroupEnd{})
	return s
}

// GroupBy appends grouping columns.
func (s *Spec) GroupBy(columns ...string) *Spec {
	s.groupBy = append(s.groupBy, columns...)
	return s
}

// Having sets the HAVING condition, replacing any earlier one. Its bind
// values follow every WHERE value in BindArgs.
func (s *Spec) Having(having string, args ...any) *Spec {
	s.checkPlaceholders(having, args)
	s.having = having
	s.havingArgs = slices.Clone(args)
	return s
}

// OrderBy appends an ascending sort term.
func (s *Spec) OrderBy(column string) *Spec {
	s.orderBy = append(s.orderBy, Order{Column: column})
	return s
}

// OrderByDesc appends a descending sort term.
func (s *Spec) OrderByDesc(column string) *Spec {
	s.orderBy = append(s.orderBy, Order{Column: column, Desc: true})
	return s
}

// Limit caps the row count and clears any offset.
func (s *Spec) Limit(n int) *Spec {
	s.limit, s.hasLimit = n, true
	s.offset, s.hasOffset = 0, false
	return s
}

// OffsetLimit skips offset rows and returns at most n, rendered as
// "LIMIT offset, n".
func (s *Spec) OffsetLimit(offset, n int) *Spec {
	s.limit, s.hasLimit = n, true
	s.offset, s.hasOffset = offset, true
	return s
}

// Render returns the SELECT statement:
//
//	SELECT [DISTINCT ]<cols> FROM <table>[ WHERE c][ GROUP BY a, b][ HAVING c][ ORDER BY x ASC, y DESC][ LIMIT [o, ]n]
func (s *Spec) Render() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(s.columns, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(s.table)

	s.writeWhere(&b)

	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(s.groupBy, ", "))
	}
	if s.having != "" {
		b.WriteString(" HAVING ")
		b.WriteString(s.having)
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.orderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.Column)
			if o.Desc {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}
	if s.hasLimit {
		b.WriteString(" LIMIT ")
		if s.hasOffset {
			b.WriteString(strconv.Itoa(s.offset))
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(s.limit))
	}
	return b.String()
}

// String is Render.
func (s *Spec) String() string {
	return s.Render()
}

// BindArgs returns WHERE values in call order followed by HAVING values.
// Never nil.
func (s *Spec) BindArgs() []any {
	var b strings.Builder
	args := renderWhere(&b, s.where)
	if s.having != "" {
		args = append(args, s.havingArgs...)
	}
	return args
}

// WhereArgs returns the WHERE values only. Never nil.
func (s *Spec) WhereArgs() []any {
	var b strings.Builder
	return renderWhere(&b, s.where)
}

// RenderDelete returns "DELETE FROM <table>[ WHERE c]". It binds WhereArgs.
func (s *Spec) RenderDelete() string {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(s.table)
	s.writeWhere(&b)
	return b.String()
}

// RenderUpdate returns "UPDATE <table> SET a = ?, b = ?[ WHERE c]". It
// binds the column values followed by WhereArgs.
func (s *Spec) RenderUpdate(columns ...string) string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(s.table)
	b.WriteString(" SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c)
		b.WriteString(" = ?")
	}
	s.writeWhere(&b)
	return b.String()
}

// RenderAggregate returns "SELECT FN(column) FROM <table>[ WHERE c]".
// It binds WhereArgs.
func (s *Spec) RenderAggregate(fn, column string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(fn)
	b.WriteString("(")
	b.WriteString(column)
	b.WriteString(") FROM ")
	b.WriteString(s.table)
	s.writeWhere(&b)
	return b.String()
}

func (s *Spec) writeWhere(b *strings.Builder) {
	if len(s.where) == 0 {
		return
	}
	b.WriteString(" WHERE ")
	renderWhere(b, s.where)
}

func (s *Spec) condition(column string, op Operator, args ...any) *Spec {
	if len(args) != op.Arity() && s.err == nil {
		s.err = fmt.Errorf("%s%s: want %d values, got %d", column, op, op.Arity(), len(args))
	}
	s.where = append(s.where, Condition{Column: column, Op: op, Args: args})
	return s
}

func (s *Spec) checkPlaceholders(sql string, args []any) {
	if s.err != nil {
		return
	}
	if n := CountPlaceholders(sql); n != len(args) {
		s.err = fmt.Errorf("%q has %d placeholders but %d values", sql, n, len(args))
	}
}

func cloneFragment(f Fragment) Fragment {
	switch frag := f.(type) {
	case Condition:
		frag.Args = slices.Clone(frag.Args)
		return frag
	case InList:
		frag.Values = slices.Clone(frag.Values)
		return frag
	case InSelect:
		frag.Args = slices.Clone(frag.Args)
		return frag
	case Raw:
		frag.Args = slices.Clone(frag.Args)
		return frag
	default:
		return f
	}
}
