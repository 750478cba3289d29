// Package livedb wires a registry, store, bus and loader pool into one
// handle.
//
// Typical use:
//
//	db, err := livedb.Open(ctx, cfg, livedb.Entity[User]("users", schema.Descriptor{
//		Create: []string{"CREATE TABLE users(_id INTEGER PRIMARY KEY, name TEXT)"},
//	}))
//	...
//	res, err := livedb.Where[User](db).GreaterThan("age", 21).List(ctx)
package livedb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/livesql/internal/config"
	"github.com/roach88/livesql/internal/loader"
	"github.com/roach88/livesql/internal/notify"
	"github.com/roach88/livesql/internal/provider"
	"github.com/roach88/livesql/internal/query"
	"github.com/roach88/livesql/internal/result"
	"github.com/roach88/livesql/internal/schema"
	"github.com/roach88/livesql/internal/store"
	"github.com/roach88/livesql/internal/watch"
)

// ErrInMemory is returned by Watch for in-memory databases.
var ErrInMemory = errors.New("in-memory database cannot be watched")

// Registration adds an entity type to a registry.
type Registration func(*schema.Registry)

// Entity registers T under table.
func Entity[T any, P schema.Record[T]](table string, d schema.Descriptor) Registration {
	return func(r *schema.Registry) {
		schema.RegisterEntity[T](r, table, d)
	}
}

// DB is an open database with change notification.
//
// Thread-safety: safe for concurrent use. Transactions follow the store's
// rules: one at a time, from one goroutine.
type DB struct {
	cfg      *config.Config
	registry *schema.Registry
	store    *store.Store
	bus      *notify.Bus
	pool     *loader.Pool
	provider *provider.Provider

	mu      sync.Mutex
	loaders []interface{ Reset() }

	busDone   chan struct{}
	busCancel context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Open registers the entities, starts the bus and opens the store, running
// create or upgrade statements as the stored version requires.
func Open(ctx context.Context, cfg *config.Config, regs ...Registration) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	reg := schema.NewRegistry(cfg.Authority)
	for _, r := range regs {
		r(reg)
	}

	bus := notify.NewBus()
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := bus.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("bus stopped", "error", err)
		}
	}()

	s, err := store.Open(ctx, cfg, store.WithSchema(reg), store.WithNotifier(bus))
	if err != nil {
		bus.Close()
		cancel()
		<-done
		return nil, err
	}

	db := &DB{
		cfg:       cfg,
		registry:  reg,
		store:     s,
		bus:       bus,
		pool:      loader.NewPool(0),
		busDone:   done,
		busCancel: cancel,
	}
	db.provider = provider.New(s, storeNotifier{s}, provider.WithTables(reg))

	slog.Debug("database opened", "database", cfg.Database, "tables", strings.Join(reg.Tables(), ","))
	return db, nil
}

// storeNotifier routes provider events through the store, so writes inside
// a transaction publish at commit.
type storeNotifier struct {
	s *store.Store
}

func (n storeNotifier) NotifyChange(id schema.ResourceID) { n.s.Changed(id) }

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config { return db.cfg }

// Registry returns the entity registry.
func (db *DB) Registry() *schema.Registry { return db.registry }

// Store returns the underlying store.
func (db *DB) Store() *store.Store { return db.store }

// Bus returns the change-notification bus.
func (db *DB) Bus() *notify.Bus { return db.bus }

// Provider returns the identifier-addressed request handler.
func (db *DB) Provider() *provider.Provider { return db.provider }

// Where starts a query over T's table.
func Where[T any, P schema.Record[T]](db *DB) *query.Query[T, P] {
	return query.From[T, P](db.registry, db.store)
}

// URIOf returns T's resource identifier with segments appended.
func URIOf[T any](db *DB, segments ...any) (schema.ResourceID, error) {
	return db.registry.ResolveResourceID(schema.TypeOf[T](), segments...)
}

// Save writes e. An entity with a row id replaces that row; one without is
// inserted and given its new id. With notifyChange set a change is recorded
// for T's table.
func Save[T any, P schema.Record[T]](ctx context.Context, db *DB, e P, notifyChange bool) error {
	typ := schema.TypeOf[T]()
	table, err := db.registry.ResolveTable(typ)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	columns := e.Columns()
	values := e.Values()
	stmt := result.InsertSQL(table, columns)
	if e.ID() > 0 {
		columns = append([]string{schema.IDColumn}, columns...)
		values = append([]any{e.ID()}, values...)
		stmt = "INSERT OR REPLACE" + strings.TrimPrefix(result.InsertSQL(table, columns), "INSERT")
	}

	rowID, err := db.store.ExecuteInsert(ctx, stmt, values...)
	if err != nil {
		return fmt.Errorf("save %s: %w", table, err)
	}
	e.SetID(rowID)

	if notifyChange {
		id, err := db.registry.ResolveResourceID(typ)
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
		db.store.Changed(id)
	}
	return nil
}

// NewLoader binds q to its table's change events. deliver runs on the bus
// goroutine. Close resets every loader created here.
func NewLoader[T any, P schema.Record[T]](db *DB, q *query.Query[T, P], deliver func(*result.Result[T, P]), opts ...loader.Option) *loader.Loader[T, P] {
	l := loader.New[T, P](db.bus, db.pool, q, deliver, opts...)
	db.mu.Lock()
	db.loaders = append(db.loaders, l)
	db.mu.Unlock()
	return l
}

// BeginTransaction starts a transaction. Change events recorded inside it
// are published at commit.
func (db *DB) BeginTransaction(ctx context.Context) error {
	return db.store.BeginTransaction(ctx)
}

// EndTransaction commits or rolls back.
func (db *DB) EndTransaction(commit bool) error {
	return db.store.EndTransaction(commit)
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) error {
	return db.store.Execute(ctx, sql, args...)
}

// RawQuery runs sql and returns every row it yields.
func (db *DB) RawQuery(ctx context.Context, sql string, args ...any) (*store.Rows, error) {
	return db.store.Query(ctx, sql, args...)
}

// Watch publishes a change for every table when another process writes the
// database file. Blocks until ctx is cancelled.
func (db *DB) Watch(ctx context.Context) error {
	if db.cfg.InMemory() {
		return ErrInMemory
	}
	return watch.New(db.cfg.Database, db.registry, db.bus).Watch(ctx)
}

// Close resets the loaders, stops the loader pool, drains the bus and
// closes the store. Idempotent.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.mu.Lock()
		loaders := db.loaders
		db.loaders = nil
		db.mu.Unlock()
		for _, l := range loaders {
			l.Reset()
		}

		poolErr := db.pool.Close()

		db.bus.Close()
		<-db.busDone
		db.busCancel()

		storeErr := db.store.Close()
		db.registry.Shutdown()

		db.closeErr = errors.Join(poolErr, storeErr)
		slog.Debug("database closed", "database", db.cfg.Database)
	})
	return db.closeErr
}
