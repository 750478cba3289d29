// Package result holds materialized query results that stay writable.
//
// A Result reads every row of its cursor up front, in cursor order, and
// keeps the row id of each element. Add and Remove write through to the
// database, adjust the in-memory sequence and record a change event; they
// never re-query. The sequence is refreshed only by running the query again
// (Refresh, or a loader reacting to a change event), so the last local write
// wins until then.
package result

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/livesql/internal/schema"
)

// Executor runs the statements a Result issues. *store.Store implements it.
type Executor interface {
	ExecuteInsert(ctx context.Context, query string, args ...any) (int64, error)
	ExecuteUpdateDelete(ctx context.Context, query string, args ...any) (int64, error)
	Changed(id schema.ResourceID)
}

// Source re-runs the query a Result came from.
type Source[T any, P schema.Record[T]] interface {
	List(ctx context.Context) (*Result[T, P], error)
	ResourceID() schema.ResourceID
}

// ClosedResultError is returned by operations on a closed Result.
type ClosedResultError struct {
	Op string
}

// Error implements the error interface.
func (e *ClosedResultError) Error() string {
	return fmt.Sprintf("%s: result is closed", e.Op)
}

// IsClosedResult reports whether err is, or wraps, a ClosedResultError.
func IsClosedResult(err error) bool {
	var ce *ClosedResultError
	return errors.As(err, &ce)
}

// Result is an ordered, writable set of entities of type T.
//
// Thread-safety: reads may run concurrently; Add, Remove and Close take an
// exclusive lock.
type Result[T any, P schema.Record[T]] struct {
	table string
	id    schema.ResourceID
	exec  Executor
	src   Source[T, P]

	mu     sync.RWMutex
	items  []*T
	ids    []int64
	closed bool
}

// Options describes where a Result writes to.
type Options[T any, P schema.Record[T]] struct {
	Table      string
	ResourceID schema.ResourceID
	Executor   Executor
	Source     Source[T, P]
}

// Materialize reads every row of rows into a new Result and closes rows.
// ctx is checked before each row; cancellation stops the read and returns
// ctx.Err().
func Materialize[T any, P schema.Record[T]](ctx context.Context, rows *sqlx.Rows, opts Options[T, P]) (*Result[T, P], error) {
	defer rows.Close()

	r := New[T, P](opts)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", opts.Table, err)
		}

		item := new(T)
		if err := rows.StructScan(item); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", opts.Table, err)
		}
		r.items = append(r.items, item)
		r.ids = append(r.ids, P(item).ID())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("materialize %s: %w", opts.Table, err)
	}
	return r, nil
}

// New returns an empty Result.
func New[T any, P schema.Record[T]](opts Options[T, P]) *Result[T, P] {
	return &Result[T, P]{
		table: opts.Table,
		id:    opts.ResourceID,
		exec:  opts.Executor,
		src:   opts.Source,
		items: []*T{},
		ids:   []int64{},
	}
}

// Len returns the number of elements.
func (r *Result[T, P]) Len() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, &ClosedResultError{Op: "len"}
	}
	return len(r.items), nil
}

// Get returns the element at i.
func (r *Result[T, P]) Get(i int) (*T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, &ClosedResultError{Op: "get"}
	}
	if i < 0 || i >= len(r.items) {
		return nil, fmt.Errorf("get: index %d out of range [0, %d)", i, len(r.items))
	}
	return r.items[i], nil
}

// ID returns the row id of the element at i.
func (r *Result[T, P]) ID(i int) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, &ClosedResultError{Op: "id"}
	}
	if i < 0 || i >= len(r.ids) {
		return 0, fmt.Errorf("id: index %d out of range [0, %d)", i, len(r.ids))
	}
	return r.ids[i], nil
}

// All returns an iterator over a snapshot of the elements. Ranging over it
// again starts from the first element of the same snapshot.
func (r *Result[T, P]) All() (iter.Seq2[int, *T], error) {
	items, err := r.Slice()
	if err != nil {
		return nil, &ClosedResultError{Op: "all"}
	}
	return slices.All(items), nil
}

// Slice returns a copy of the element slice.
func (r *Result[T, P]) Slice() ([]*T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, &ClosedResultError{Op: "slice"}
	}
	return slices.Clone(r.items), nil
}

// ResourceID returns the identifier change events are recorded against.
func (r *Result[T, P]) ResourceID() schema.ResourceID {
	return r.id
}

// Add inserts e, assigns it the new row id and appends it.
func (r *Result[T, P]) Add(ctx context.Context, e *T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &ClosedResultError{Op: "add"}
	}

	rowID, err := r.exec.ExecuteInsert(ctx, InsertSQL(r.table, P(e).Columns()), P(e).Values()...)
	if err != nil {
		return fmt.Errorf("add to %s: %w", r.table, err)
	}
	P(e).SetID(rowID)

	r.items = append(r.items, e)
	r.ids = append(r.ids, rowID)
	r.exec.Changed(r.id)
	return nil
}

// Remove deletes the row behind element i and drops it from the sequence.
func (r *Result[T, P]) Remove(ctx context.Context, i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &ClosedResultError{Op: "remove"}
	}
	if i < 0 || i >= len(r.items) {
		return fmt.Errorf("remove: index %d out of range [0, %d)", i, len(r.items))
	}

	query := "DELETE FROM " + r.table + " WHERE " + schema.IDColumn + " = ?"
	if _, err := r.exec.ExecuteUpdateDelete(ctx, query, r.ids[i]); err != nil {
		return fmt.Errorf("remove from %s: %w", r.table, err)
	}

	r.items = slices.Delete(r.items, i, i+1)
	r.ids = slices.Delete(r.ids, i, i+1)
	r.exec.Changed(r.id)
	return nil
}

// Refresh runs the originating query again and returns a new Result.
// The receiver is left untouched.
func (r *Result[T, P]) Refresh(ctx context.Context) (*Result[T, P], error) {
	r.mu.RLock()
	closed, src := r.closed, r.src
	r.mu.RUnlock()

	if closed {
		return nil, &ClosedResultError{Op: "refresh"}
	}
	if src == nil {
		return nil, fmt.Errorf("refresh %s: no source", r.table)
	}
	return src.List(ctx)
}

// Close releases the elements. Idempotent.
func (r *Result[T, P]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.items = nil
	r.ids = nil
	return nil
}

// IsClosed reports whether Close has been called.
func (r *Result[T, P]) IsClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// InsertSQL returns "INSERT INTO table(a, b) VALUES (?, ?)", or the
// DEFAULT VALUES form when there are no columns.
func InsertSQL(table string, columns []string) string {
	if len(columns) == 0 {
		return "INSERT INTO " + table + " DEFAULT VALUES"
	}
	return "INSERT INTO " + table + "(" + strings.Join(columns, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
}
