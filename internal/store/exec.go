package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/jmoiron/sqlx"
)

// Execute runs a statement that returns no rows.
func (s *Store) Execute(ctx context.Context, query string, args ...any) error {
	_, err := s.exec(ctx, "execute", query, args)
	return err
}

// ExecuteInsert runs an INSERT and returns the new row id.
func (s *Store) ExecuteInsert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.exec(ctx, "insert", query, args)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, engineError("insert", query, err)
	}
	return id, nil
}

// ExecuteUpdateDelete runs an UPDATE or DELETE and returns the number of
// affected rows.
func (s *Store) ExecuteUpdateDelete(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.exec(ctx, "update", query, args)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, engineError("update", query, err)
	}
	return n, nil
}

// QueryForScalar returns the first column of the first row. The value is
// nil, int64, float64, string, []byte or time.Time as the driver reports it.
// Returns an error wrapping sql.ErrNoRows when the query yields nothing.
func (s *Store) QueryForScalar(ctx context.Context, query string, args ...any) (any, error) {
	bound, err := NormalizeArgs(args, s.cfg.NormalizeText)
	if err != nil {
		return nil, fmt.Errorf("query scalar: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, release, err := s.statementLocked(ctx, query)
	if err != nil {
		return nil, err
	}
	defer release()

	var v any
	if err := stmt.QueryRowxContext(ctx, bound...).Scan(&v); err != nil {
		return nil, engineError("query scalar", query, err)
	}
	if b, ok := v.([]byte); ok {
		v = append([]byte(nil), b...)
	}
	return v, nil
}

// Read runs a SELECT and hands its cursor to scan, closing it when scan
// returns. The store's only connection and its lock are held for the whole
// scan, so scan must not call back into the store.
func (s *Store) Read(ctx context.Context, query string, args []any, scan func(*sqlx.Rows) error) error {
	bound, err := NormalizeArgs(args, s.cfg.NormalizeText)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, release, err := s.statementLocked(ctx, query)
	if err != nil {
		return err
	}
	defer release()

	rows, err := stmt.QueryxContext(ctx, bound...)
	if err != nil {
		return engineError("query", query, err)
	}
	defer rows.Close()

	if err := scan(rows); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return engineError("query", query, err)
	}
	return nil
}

// Query runs a SELECT and reads every row. The returned Rows hold no
// connection, so the caller may write while still reading them.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	out := &Rows{records: []map[string]any{}}
	err := s.Read(ctx, query, args, func(rows *sqlx.Rows) error {
		columns, err := rows.Columns()
		if err != nil {
			return engineError("query", query, err)
		}
		out.columns = columns

		for rows.Next() {
			record := make(map[string]any, len(columns))
			if err := rows.MapScan(record); err != nil {
				return engineError("query", query, err)
			}
			for k, v := range record {
				if b, ok := v.([]byte); ok {
					record[k] = slices.Clone(b)
				}
			}
			out.records = append(out.records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args []any) (sql.Result, error) {
	bound, err := NormalizeArgs(args, s.cfg.NormalizeText)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, release, err := s.statementLocked(ctx, query)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := stmt.ExecContext(ctx, bound...)
	if err != nil {
		return nil, engineError(op, query, err)
	}
	return res, nil
}

// statementLocked returns a compiled statement for query and the function
// that releases it. Inside a transaction the statement comes from, or is
// added to, the cache and release is a no-op; idle statements are closed by
// release. The caller holds s.mu.
func (s *Store) statementLocked(ctx context.Context, query string) (*sqlx.Stmt, func(), error) {
	if s.closed {
		return nil, nil, ErrClosed
	}

	if s.tx == nil {
		stmt, err := s.db.PreparexContext(ctx, query)
		if err != nil {
			return nil, nil, engineError("prepare", query, err)
		}
		return stmt, func() { stmt.Close() }, nil
	}

	if stmt, ok := s.stmts[query]; ok {
		return stmt, func() {}, nil
	}
	stmt, err := s.tx.PreparexContext(ctx, query)
	if err != nil {
		return nil, nil, engineError("prepare", query, err)
	}
	s.stmts[query] = stmt
	return stmt, func() {}, nil
}
