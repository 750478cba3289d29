package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// BeginTransaction starts a transaction. It is a no-op when one is already
// open; there is no nesting count.
//
// The transaction outlives ctx: cancelling ctx does not roll it back.
func (s *Store) BeginTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.tx != nil {
		return nil
	}

	tx, err := s.db.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", engineError("begin", "", err))
	}
	s.tx = tx
	slog.Debug("transaction started")
	return nil
}

// EndTransaction closes every cached statement, then commits or rolls back.
// Change events recorded during the transaction are published after a
// successful commit and discarded otherwise. A no-op when idle.
func (s *Store) EndTransaction(commit bool) error {
	s.mu.Lock()
	if s.tx == nil {
		s.mu.Unlock()
		return nil
	}
	pending := s.pending
	committed, err := s.finishLocked(commit)
	n := s.notifier
	s.mu.Unlock()

	if committed && n != nil {
		for _, id := range pending {
			n.NotifyChange(id)
		}
	}
	return err
}

// InTransaction reports whether a transaction is open.
func (s *Store) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// CachedStatements returns the number of statements currently cached.
// Always zero while idle.
func (s *Store) CachedStatements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stmts)
}

// finishLocked releases the statement cache and ends the transaction.
// The caller holds s.mu. The store is Idle afterwards whatever the outcome.
// committed reports whether the transaction's writes are durable.
func (s *Store) finishLocked(commit bool) (committed bool, err error) {
	var errs []error
	for query, stmt := range s.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, engineError("close statement", query, err))
		}
		delete(s.stmts, query)
	}

	tx := s.tx
	s.tx = nil
	s.pending = nil

	if commit {
		if cerr := tx.Commit(); cerr != nil {
			errs = append(errs, engineError("commit", "", cerr))
		} else {
			committed = true
		}
	} else if rerr := tx.Rollback(); rerr != nil {
		errs = append(errs, engineError("rollback", "", rerr))
	}

	if err := errors.Join(errs...); err != nil {
		return committed, fmt.Errorf("end transaction: %w", err)
	}
	slog.Debug("transaction ended", "commit", commit)
	return committed, nil
}
