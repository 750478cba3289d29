package query

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/livesql/internal/result"
	"github.com/roach88/livesql/internal/schema"
	"github.com/roach88/livesql/internal/store"
)

// Executor runs rendered statements. *store.Store implements it.
type Executor interface {
	result.Executor
	Read(ctx context.Context, query string, args []any, scan func(*sqlx.Rows) error) error
	Query(ctx context.Context, query string, args ...any) (*store.Rows, error)
	QueryForScalar(ctx context.Context, query string, args ...any) (any, error)
}

// Query is a Spec bound to an entity type and an Executor.
//
// The fluent methods mirror Spec. Execution methods render the current state
// and run it; a Result keeps its own copy of the query, so later changes to
// q do not affect results already produced.
type Query[T any, P schema.Record[T]] struct {
	spec *Spec
	id   schema.ResourceID
	exec Executor
	err  error
}

// From starts a query over T's table. An unregistered T is reported by the
// first execution method and by Err.
func From[T any, P schema.Record[T]](reg *schema.Registry, exec Executor) *Query[T, P] {
	return FromType[T, P](reg, exec, schema.TypeOf[T]())
}

// FromType is From with an explicit registry key.
func FromType[T any, P schema.Record[T]](reg *schema.Registry, exec Executor, typ reflect.Type) *Query[T, P] {
	q := &Query[T, P]{exec: exec}

	table, err := reg.ResolveTable(typ)
	if err != nil {
		q.err = err
		q.spec = New("")
		return q
	}
	q.spec = New(table)

	q.id, err = reg.ResolveResourceID(typ)
	if err != nil {
		q.err = err
	}
	return q
}

// Err returns the resolution or construction error, if any.
func (q *Query[T, P]) Err() error {
	if q.err != nil {
		return q.err
	}
	return q.spec.Err()
}

// Spec returns the underlying specification.
func (q *Query[T, P]) Spec() *Spec {
	return q.spec
}

// ResourceID returns the identifier of T's table.
func (q *Query[T, P]) ResourceID() schema.ResourceID {
	return q.id
}

// Clone returns an independent copy.
func (q *Query[T, P]) Clone() *Query[T, P] {
	c := *q
	c.spec = q.spec.Clone()
	return &c
}

func (q *Query[T, P]) Render() string  { return q.spec.Render() }
func (q *Query[T, P]) String() string  { return q.spec.Render() }
func (q *Query[T, P]) BindArgs() []any { return q.spec.BindArgs() }

func (q *Query[T, P]) Distinct() *Query[T, P] { q.spec.Distinct(); return q }

func (q *Query[T, P]) Columns(cols ...string) *Query[T, P] { q.spec.Columns(cols...); return q }

func (q *Query[T, P]) EqualTo(column string, value any) *Query[T, P] {
	q.spec.EqualTo(column, value)
	return q
}

func (q *Query[T, P]) NotEqualTo(column string, value any) *Query[T, P] {
	q.spec.NotEqualTo(column, value)
	return q
}

func (q *Query[T, P]) LessThan(column string, value any) *Query[T, P] {
	q.spec.LessThan(column, value)
	return q
}

func (q *Query[T, P]) LessThanOrEqualTo(column string, value any) *Query[T, P] {
	q.spec.LessThanOrEqualTo(column, value)
	return q
}

func (q *Query[T, P]) GreaterThan(column string, value any) *Query[T, P] {
	q.spec.GreaterThan(column, value)
	return q
}

func (q *Query[T, P]) GreaterThanOrEqualTo(column string, value any) *Query[T, P] {
	q.spec.GreaterThanOrEqualTo(column, value)
	return q
}

func (q *Query[T, P]) Like(column string, pattern any) *Query[T, P] {
	q.spec.Like(column, pattern)
	return q
}

func (q *Query[T, P]) Between(column string, low, high any) *Query[T, P] {
	q.spec.Between(column, low, high)
	return q
}

func (q *Query[T, P]) IsTrue(column string) *Query[T, P]  { q.spec.IsTrue(column); return q }
func (q *Query[T, P]) IsFalse(column string) *Query[T, P] { q.spec.IsFalse(column); return q }
func (q *Query[T, P]) IsNull(column string) *Query[T, P]  { q.spec.IsNull(column); return q }
func (q *Query[T, P]) NotNull(column string) *Query[T, P] { q.spec.NotNull(column); return q }

func (q *Query[T, P]) In(column string, values ...any) *Query[T, P] {
	q.spec.In(column, values...)
	return q
}

func (q *Query[T, P]) InSelect(column, subselect string, args ...any) *Query[T, P] {
	q.spec.InSelect(column, subselect, args...)
	return q
}

func (q *Query[T, P]) AppendWhere(where string, args ...any) *Query[T, P] {
	q.spec.AppendWhere(where, args...)
	return q
}

func (q *Query[T, P]) And() *Query[T, P]        { q.spec.And(); return q }
func (q *Query[T, P]) Or() *Query[T, P]         { q.spec.Or(); return q }
func (q *Query[T, P]) BeginGroup() *Query[T, P] { q.spec.BeginGroup(); return q }
func (q *Query[T, P]) EndGroup() *Query[T, P]   { q.spec.EndGroup(); return q }

func (q *Query[T, P]) GroupBy(columns ...string) *Query[T, P] {
	q.spec.GroupBy(columns...)
	return q
}

func (q *Query[T, P]) Having(having string, args ...any) *Query[T, P] {
	q.spec.Having(having, args...)
	return q
}

func (q *Query[T, P]) OrderBy(column string) *Query[T, P]     { q.spec.OrderBy(column); return q }
func (q *Query[T, P]) OrderByDesc(column string) *Query[T, P] { q.spec.OrderByDesc(column); return q }

func (q *Query[T, P]) Limit(n int) *Query[T, P] { q.spec.Limit(n); return q }

func (q *Query[T, P]) OffsetLimit(offset, n int) *Query[T, P] {
	q.spec.OffsetLimit(offset, n)
	return q
}

// List runs the query and materializes every row.
func (q *Query[T, P]) List(ctx context.Context) (*result.Result[T, P], error) {
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	opts := result.Options[T, P]{
		Table:      q.spec.Table(),
		ResourceID: q.id,
		Executor:   q.exec,
		Source:     q.Clone(),
	}

	var res *result.Result[T, P]
	err := q.exec.Read(ctx, q.spec.Render(), q.spec.BindArgs(), func(rows *sqlx.Rows) error {
		var err error
		res, err = result.Materialize(ctx, rows, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.spec.Table(), err)
	}
	return res, nil
}

// One returns the first row. The query itself is not limited; a copy is.
// Returns an error wrapping sql.ErrNoRows when nothing matches.
func (q *Query[T, P]) One(ctx context.Context) (*T, error) {
	res, err := q.Clone().Limit(1).List(ctx)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	n, err := res.Len()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("one %s: %w", q.spec.Table(), sql.ErrNoRows)
	}
	return res.Get(0)
}

// WithID returns the row whose id is id, combined with any conditions
// already on the query.
func (q *Query[T, P]) WithID(ctx context.Context, id int64) (*T, error) {
	return q.Clone().EqualTo(schema.IDColumn, id).One(ctx)
}

// Cursor runs the query and returns its rows as column-keyed maps, fully
// read, for projections that do not fit T.
func (q *Query[T, P]) Cursor(ctx context.Context) (*store.Rows, error) {
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	rows, err := q.exec.Query(ctx, q.spec.Render(), q.spec.BindArgs()...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.spec.Table(), err)
	}
	return rows, nil
}

// Remove deletes every row matching the WHERE clause and returns how many
// were deleted. A change event is recorded when at least one was.
func (q *Query[T, P]) Remove(ctx context.Context) (int64, error) {
	if err := q.Err(); err != nil {
		return 0, fmt.Errorf("remove: %w", err)
	}
	n, err := q.exec.ExecuteUpdateDelete(ctx, q.spec.RenderDelete(), q.spec.WhereArgs()...)
	if err != nil {
		return 0, fmt.Errorf("remove from %s: %w", q.spec.Table(), err)
	}
	if n > 0 {
		q.exec.Changed(q.id)
	}
	return n, nil
}

func (q *Query[T, P]) Min(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "MIN", column)
}

func (q *Query[T, P]) Max(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "MAX", column)
}

// Sum returns SUM(column). SQLite yields NULL when no row matches, which is
// reported as a NumericParseError.
func (q *Query[T, P]) Sum(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "SUM", column)
}

func (q *Query[T, P]) Count(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "COUNT", column)
}

func (q *Query[T, P]) aggregate(ctx context.Context, fn, column string) (float64, error) {
	if err := q.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", fn, err)
	}
	v, err := q.exec.QueryForScalar(ctx, q.spec.RenderAggregate(fn, column), q.spec.WhereArgs()...)
	if err != nil {
		return 0, fmt.Errorf("%s(%s): %w", fn, column, err)
	}
	return ParseNumber(fn, column, v)
}
