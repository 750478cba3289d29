package query

import "strings"

// Operator is the text appended after a column name by a comparison
// predicate. Each "?" in it consumes one bind value.
type Operator string

const (
	OpEqual              Operator = " = ?"
	OpNotEqual           Operator = " <> ?"
	OpLessThan           Operator = " < ?"
	OpLessThanOrEqual    Operator = " <= ?"
	OpGreaterThan        Operator = " > ?"
	OpGreaterThanOrEqual Operator = " >= ?"
	OpLike               Operator = " LIKE ?"
	OpBetween            Operator = " BETWEEN ? AND ?"
	OpIsNull             Operator = " IS NULL"
	OpNotNull            Operator = " NOT NULL"
)

// Arity returns the number of bind values the operator consumes.
func (o Operator) Arity() int {
	return strings.Count(string(o), "?")
}

// Fragment is one piece of a WHERE clause.
//
// This is a sealed interface: only types in this package implement it, so
// the renderer's type switch is exhaustive.
//
// Fragment types:
//   - Condition: column plus Operator
//   - InList: column IN(?, ?, ...)
//   - InSelect: column IN(<subselect>)
//   - Raw: caller-supplied SQL
//   - Conjunction: explicit AND / OR
//   - GroupStart, GroupEnd: parentheses
type Fragment interface {
	fragmentNode()
}

// Condition compares a column using Operator.
type Condition struct {
	Column string
	Op     Operator
	Args   []any
}

func (Condition) fragmentNode() {}

// InList matches a column against a fixed set of values.
type InList struct {
	Column string
	Values []any
}

func (InList) fragmentNode() {}

// InSelect matches a column against the rows of a sub-select.
type InSelect struct {
	Column string
	Select string
	Args   []any
}

func (InSelect) fragmentNode() {}

// Raw is a caller-written condition with its own placeholders.
type Raw struct {
	SQL  string
	Args []any
}

func (Raw) fragmentNode() {}

// Conjunction joins the surrounding conditions explicitly.
type Conjunction struct {
	Or bool
}

func (Conjunction) fragmentNode() {}

// GroupStart opens a parenthesized group.
type GroupStart struct{}

func (GroupStart) fragmentNode() {}

// GroupEnd closes a parenthesized group.
type GroupEnd struct{}

func (GroupEnd) fragmentNode() {}

// isTerm reports whether f is a complete condition, i.e. something an
// implicit AND may follow.
func isTerm(f Fragment) bool {
	switch f.(type) {
	case Condition, InList, InSelect, Raw, GroupEnd:
		return true
	default:
		return false
	}
}

// opensTerm reports whether f starts a new condition.
func opensTerm(f Fragment) bool {
	switch f.(type) {
	case Condition, InList, InSelect, Raw, GroupStart:
		return true
	default:
		return false
	}
}

// renderWhere writes the fragments and returns their bind values in order.
// Two adjacent conditions with no explicit Conjunction are joined by AND.
func renderWhere(b *strings.Builder, fragments []Fragment) []any {
	args := []any{}
	var prev Fragment
	for _, f := range fragments {
		if prev != nil && isTerm(prev) && opensTerm(f) {
			b.WriteString(" AND ")
		}

		switch frag := f.(type) {
		case Condition:
			b.WriteString(frag.Column)
			b.WriteString(string(frag.Op))
			args = append(args, frag.Args...)
		case InList:
			b.WriteString(frag.Column)
			b.WriteString(" IN(")
			b.WriteString(placeholders(len(frag.Values)))
			b.WriteString(")")
			args = append(args, frag.Values...)
		case InSelect:
			b.WriteString(frag.Column)
			b.WriteString(" IN(")
			b.WriteString(frag.Select)
			b.WriteString(")")
			args = append(args, frag.Args...)
		case Raw:
			b.WriteString(frag.SQL)
			args = append(args, frag.Args...)
		case Conjunction:
			if frag.Or {
				b.WriteString(" OR ")
			} else {
				b.WriteString(" AND ")
			}
		case GroupStart:
			b.WriteString("(")
		case GroupEnd:
			b.WriteString(")")
		}
		prev = f
	}
	return args
}

// placeholders returns n comma-separated "?".
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// CountPlaceholders counts positional "?" parameters in sql, ignoring any
// inside quoted strings or identifiers.
func CountPlaceholders(sql string) int {
	n := 0
	var quote rune
	for _, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '[':
			quote = ']'
		case r == '?':
			n++
		}
	}
	return n
}
