package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/livesql/internal/config"
	"github.com/roach88/livesql/internal/schema"
)

// SchemaSource supplies the DDL run when the database is created or
// recreated. *schema.Registry implements it.
type SchemaSource interface {
	CreateStatements() []string
	DropStatements() []string
}

// Notifier receives change events. Implementations must not call back into
// the store synchronously.
type Notifier interface {
	NotifyChange(id schema.ResourceID)
}

// Option configures a Store.
type Option func(*Store)

// WithSchema sets the source of CREATE and DROP statements used by the
// create and upgrade hooks.
func WithSchema(src SchemaSource) Option {
	return func(s *Store) {
		s.schema = src
	}
}

// WithNotifier sets where change events are published.
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// Store owns a single SQLite connection and the statements compiled on it.
//
// The store is either Idle or InTransaction. While idle every call prepares,
// executes and closes its statement. While in a transaction statements are
// cached by exact SQL text and reused until EndTransaction, which closes
// them all whether it commits or rolls back.
//
// Thread-safety: all methods are safe for concurrent use; executions are
// serialized by one mutex. Only one transaction exists at a time and callers
// must not interleave unrelated work between BeginTransaction and
// EndTransaction from several goroutines.
type Store struct {
	db  *sqlx.DB
	cfg *config.Config

	schema   SchemaSource
	notifier Notifier

	mu      sync.Mutex
	tx      *sqlx.Tx
	stmts   map[string]*sqlx.Stmt
	pending []schema.ResourceID
	closed  bool
}

// Open opens the database described by cfg.
//
// The connection pool is limited to one connection, so an in-memory database
// lives as long as the store. Pragmas run on open, then PRAGMA user_version
// decides between the create hook (version 0), the upgrade hook (older than
// cfg.Version) or nothing.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also pins :memory:.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:    db,
		cfg:   cfg,
		stmts: make(map[string]*sqlx.Stmt),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.applyPragmas(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	slog.Debug("store opened",
		"driver", cfg.Driver,
		"database", cfg.Database,
		"version", cfg.Version,
	)
	return s, nil
}

// Close rolls back any open transaction and closes the connection.
// Pending change events are discarded. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var txErr error
	if s.tx != nil {
		_, txErr = s.finishLocked(false)
	}
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return txErr
}

// DB returns the underlying handle. Statements run on it bypass the
// transaction state and the statement cache.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Config returns the configuration the store was opened with.
func (s *Store) Config() *config.Config {
	return s.cfg
}

// SetNotifier replaces the change-event sink.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Changed records that data behind id changed. Idle stores publish at once;
// inside a transaction the event is held until commit and dropped on rollback.
func (s *Store) Changed(id schema.ResourceID) {
	s.mu.Lock()
	if s.tx != nil {
		s.pending = append(s.pending, id)
		s.mu.Unlock()
		return
	}
	n := s.notifier
	s.mu.Unlock()

	if n != nil {
		n.NotifyChange(id)
	}
}

// Version returns the stored PRAGMA user_version.
func (s *Store) Version(ctx context.Context) (int, error) {
	v, err := s.QueryForScalar(ctx, "PRAGMA user_version")
	if err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("get user_version: unexpected %T", v)
	}
	return int(n), nil
}

func (s *Store) applyPragmas(ctx context.Context) error {
	for _, pragma := range s.cfg.Pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, engineError("pragma", pragma, err))
		}
	}
	return nil
}

// migrate runs the create or upgrade hook in one transaction and records
// cfg.Version in user_version.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	target := s.cfg.Version
	if version == target {
		return nil
	}
	if version > target {
		return fmt.Errorf("cannot downgrade database from version %d to %d", version, target)
	}

	var stmts []string
	if version == 0 {
		stmts = s.createStatements()
		slog.Info("creating database", "database", s.cfg.Database, "version", target)
	} else {
		stmts = s.upgradeStatements()
		slog.Info("upgrading database", "database", s.cfg.Database, "from", version, "to", target)
	}
	stmts = append(stmts, fmt.Sprintf("PRAGMA user_version = %d", target))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", engineError("begin", "", err))
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", target, engineError("exec", stmt, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", engineError("commit", "", err))
	}
	return nil
}

func (s *Store) createStatements() []string {
	stmts := append([]string(nil), s.cfg.Create...)
	if s.schema != nil {
		stmts = append(stmts, s.schema.CreateStatements()...)
	}
	return stmts
}

// upgradeStatements returns cfg.Upgrade, or drops every registered table and
// runs the create hook again when no upgrade path is configured.
func (s *Store) upgradeStatements() []string {
	if len(s.cfg.Upgrade) > 0 {
		return append([]string(nil), s.cfg.Upgrade...)
	}
	var stmts []string
	if s.schema != nil {
		stmts = append(stmts, s.schema.DropStatements()...)
	}
	return append(stmts, s.createStatements()...)
}
