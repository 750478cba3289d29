package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/roach88/livesql/internal/config"
	"github.com/roach88/livesql/internal/schema"
)

const usersDDL = "CREATE TABLE IF NOT EXISTS users(_id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, age INTEGER)"

// fakeSchema is a fixed SchemaSource.
type fakeSchema struct {
	create []string
	drop   []string
}

func (f fakeSchema) CreateStatements() []string { return f.create }
func (f fakeSchema) DropStatements() []string   { return f.drop }

var usersSchema = fakeSchema{
	create: []string{usersDDL},
	drop:   []string{"DROP TABLE IF EXISTS users"},
}

// recordingNotifier collects change events.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []schema.ResourceID
}

func (r *recordingNotifier) NotifyChange(id schema.ResourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordingNotifier) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, id.String())
	}
	return out
}

// fileConfig returns a configuration for a database under t.TempDir.
func fileConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Driver = driver
	cfg.Database = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

// createTestStore opens a file-backed store with a users table.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return openTestStore(t, fileConfig(t, config.DriverCGo), opts...)
}

func openTestStore(t *testing.T, cfg *config.Config, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithSchema(usersSchema)}, opts...)
	s, err := Open(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
