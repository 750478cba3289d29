// Package provider translates resource-identifier addressed requests into
// statements against a store.
//
// An identifier with one path segment addresses a table; one with two
// segments, the second all digits, addresses a single row by _id. Every
// successful write publishes a change event for the identifier it was
// addressed to.
package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/livesql/internal/query"
	"github.com/roach88/livesql/internal/schema"
	"github.com/roach88/livesql/internal/store"
)

// MIME type prefixes returned by Type.
const (
	MIMEDir  = "vnd.livesql.cursor.dir/"
	MIMEItem = "vnd.livesql.cursor.item/"
)

var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Executor runs statements. *store.Store implements it.
type Executor interface {
	Query(ctx context.Context, query string, args ...any) (*store.Rows, error)
	ExecuteInsert(ctx context.Context, query string, args ...any) (int64, error)
	ExecuteUpdateDelete(ctx context.Context, query string, args ...any) (int64, error)
}

// Notifier receives change events. *notify.Bus implements it.
type Notifier interface {
	NotifyChange(id schema.ResourceID)
}

// Tables reports which tables may be addressed. *schema.Registry
// implements it.
type Tables interface {
	HasTable(table string) bool
}

// Match classifies a resource identifier.
type Match int

const (
	// MatchTable addresses every row of a table.
	MatchTable Match = iota + 1
	// MatchRow addresses one row by _id.
	MatchRow
)

// UnknownURIError is returned for identifiers that address neither a table
// nor a row.
type UnknownURIError struct {
	URI    string
	Reason string
}

// Error implements the error interface.
func (e *UnknownURIError) Error() string {
	return fmt.Sprintf("unknown uri %q: %s", e.URI, e.Reason)
}

// IsUnknownURI reports whether err is, or wraps, an UnknownURIError.
func IsUnknownURI(err error) bool {
	var ue *UnknownURIError
	return errors.As(err, &ue)
}

// MatchURI classifies id and returns its table and, for MatchRow, its row id.
func MatchURI(id schema.ResourceID) (Match, string, int64, error) {
	segs := id.Segments()
	switch {
	case len(segs) == 1:
		if !identifier.MatchString(segs[0]) {
			return 0, "", 0, &UnknownURIError{URI: id.String(), Reason: "invalid table name"}
		}
		return MatchTable, segs[0], 0, nil

	case len(segs) == 2 && digitsOnly(segs[1]):
		if !identifier.MatchString(segs[0]) {
			return 0, "", 0, &UnknownURIError{URI: id.String(), Reason: "invalid table name"}
		}
		rowID, err := strconv.ParseInt(segs[1], 10, 64)
		if err != nil {
			return 0, "", 0, &UnknownURIError{URI: id.String(), Reason: "row id out of range"}
		}
		return MatchRow, segs[0], rowID, nil

	default:
		return 0, "", 0, &UnknownURIError{URI: id.String(), Reason: "expected /<table> or /<table>/<id>"}
	}
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Option configures a Provider.
type Option func(*Provider)

// WithTables restricts the provider to the tables t knows.
func WithTables(t Tables) Option {
	return func(p *Provider) {
		p.tables = t
	}
}

// Provider serves table and row requests.
//
// Thread-safety: safe for concurrent use if the Executor is.
type Provider struct {
	exec     Executor
	notifier Notifier
	tables   Tables
}

// New creates a Provider. notifier may be nil.
func New(exec Executor, notifier Notifier, opts ...Option) *Provider {
	p := &Provider{exec: exec, notifier: notifier}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cursor is a fully read query result. NotificationURI is the table
// identifier whose change events invalidate it.
type Cursor struct {
	*store.Rows
	NotificationURI schema.ResourceID
}

// Query selects columns from the addressed rows. Empty columns selects
// every column. For a row identifier where and whereArgs are replaced by
// the _id match. orderBy is a comma separated list of "column [ASC|DESC]".
func (p *Provider) Query(ctx context.Context, uri schema.ResourceID, columns []string, where string, whereArgs []any, orderBy string) (*Cursor, error) {
	spec, err := p.spec(uri, where, whereArgs)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	for _, c := range columns {
		if c != "*" && !identifier.MatchString(c) {
			return nil, fmt.Errorf("query: invalid column %q", c)
		}
	}
	spec.Columns(columns...)
	if err := applyOrder(spec, orderBy); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if err := spec.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	rows, err := p.exec.Query(ctx, spec.Render(), spec.BindArgs()...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", spec.Table(), err)
	}
	return &Cursor{Rows: rows, NotificationURI: uri.Base()}, nil
}

// Insert adds a row and returns its identifier, <table>/<rowid>. A row
// identifier sets _id to its row id.
func (p *Provider) Insert(ctx context.Context, uri schema.ResourceID, values map[string]any) (schema.ResourceID, error) {
	match, table, rowID, err := p.match(uri)
	if err != nil {
		return schema.ResourceID{}, fmt.Errorf("insert: %w", err)
	}
	if match == MatchRow {
		values = cloneValues(values)
		values[schema.IDColumn] = rowID
	}

	columns, args, err := columnsOf(values)
	if err != nil {
		return schema.ResourceID{}, fmt.Errorf("insert: %w", err)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	if len(columns) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		b.WriteString("(")
		b.WriteString(strings.Join(columns, ", "))
		b.WriteString(") VALUES (")
		b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
		b.WriteString(")")
	}

	newID, err := p.exec.ExecuteInsert(ctx, b.String(), args...)
	if err != nil {
		return schema.ResourceID{}, fmt.Errorf("insert into %s: %w", table, err)
	}
	p.notify(uri)
	return uri.Base().Append(newID), nil
}

// Update sets values on the addressed rows and returns how many changed.
func (p *Provider) Update(ctx context.Context, uri schema.ResourceID, values map[string]any, where string, whereArgs []any) (int64, error) {
	spec, err := p.spec(uri, where, whereArgs)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	if err := spec.Err(); err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}

	columns, args, err := columnsOf(values)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	if len(columns) == 0 {
		return 0, errors.New("update: no values")
	}

	n, err := p.exec.ExecuteUpdateDelete(ctx, spec.RenderUpdate(columns...), append(args, spec.WhereArgs()...)...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", spec.Table(), err)
	}
	if n > 0 {
		p.notify(uri)
	}
	return n, nil
}

// Delete removes the addressed rows and returns how many were removed.
func (p *Provider) Delete(ctx context.Context, uri schema.ResourceID, where string, whereArgs []any) (int64, error) {
	spec, err := p.spec(uri, where, whereArgs)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	if err := spec.Err(); err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	n, err := p.exec.ExecuteUpdateDelete(ctx, spec.RenderDelete(), spec.WhereArgs()...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", spec.Table(), err)
	}
	if n > 0 {
		p.notify(uri)
	}
	return n, nil
}

// Type returns the MIME type of the addressed data.
func (p *Provider) Type(uri schema.ResourceID) (string, error) {
	match, table, _, err := p.match(uri)
	if err != nil {
		return "", err
	}
	if match == MatchRow {
		return MIMEItem + table, nil
	}
	return MIMEDir + table, nil
}

func (p *Provider) match(uri schema.ResourceID) (Match, string, int64, error) {
	match, table, rowID, err := MatchURI(uri)
	if err != nil {
		return 0, "", 0, err
	}
	if p.tables != nil && !p.tables.HasTable(table) {
		return 0, "", 0, &UnknownURIError{URI: uri.String(), Reason: "no such table"}
	}
	return match, table, rowID, nil
}

// spec starts a statement over the addressed rows.
func (p *Provider) spec(uri schema.ResourceID, where string, whereArgs []any) (*query.Spec, error) {
	match, table, rowID, err := p.match(uri)
	if err != nil {
		return nil, err
	}

	spec := query.New(table)
	switch {
	case match == MatchRow:
		spec.EqualTo(schema.IDColumn, rowID)
	case where != "":
		spec.AppendWhere(where, whereArgs...)
	}
	return spec, nil
}

func (p *Provider) notify(uri schema.ResourceID) {
	if p.notifier != nil {
		p.notifier.NotifyChange(uri)
	}
}

// applyOrder parses "a, b DESC" into spec's ORDER BY.
func applyOrder(spec *query.Spec, orderBy string) error {
	if strings.TrimSpace(orderBy) == "" {
		return nil
	}
	for _, term := range strings.Split(orderBy, ",") {
		fields := strings.Fields(term)
		if len(fields) == 0 || len(fields) > 2 || !identifier.MatchString(fields[0]) {
			return fmt.Errorf("invalid order term %q", strings.TrimSpace(term))
		}
		desc := false
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC":
			case "DESC":
				desc = true
			default:
				return fmt.Errorf("invalid order direction %q", fields[1])
			}
		}
		if desc {
			spec.OrderByDesc(fields[0])
		} else {
			spec.OrderBy(fields[0])
		}
	}
	return nil
}

// columnsOf returns the sorted column names of values and their values in
// the same order.
func columnsOf(values map[string]any) ([]string, []any, error) {
	columns := make([]string, 0, len(values))
	for c := range values {
		if !identifier.MatchString(c) {
			return nil, nil, fmt.Errorf("invalid column %q", c)
		}
		columns = append(columns, c)
	}
	slices.Sort(columns)

	args := make([]any, 0, len(columns))
	for _, c := range columns {
		args = append(args, values[c])
	}
	return columns, args, nil
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	return out
}
