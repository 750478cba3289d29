package livedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesql/internal/config"
	"github.com/roach88/livesql/internal/loader"
	"github.com/roach88/livesql/internal/result"
	"github.com/roach88/livesql/internal/schema"
)

type task struct {
	RowID int64  `db:"_id"`
	Title string `db:"title"`
	Done  bool   `db:"done"`
}

func (t *task) ID() int64         { return t.RowID }
func (t *task) SetID(id int64)    { t.RowID = id }
func (t *task) Columns() []string { return []string{"title", "done"} }
func (t *task) Values() []any     { return []any{t.Title, t.Done} }

var tasks = Entity[task]("tasks", schema.Descriptor{
	Create: []string{"CREATE TABLE tasks(_id INTEGER PRIMARY KEY, title TEXT NOT NULL, done INTEGER NOT NULL DEFAULT 0)"},
})

const waitFor = 2 * time.Second

func openDB(t *testing.T, cfg *config.Config) *DB {
	t.Helper()
	db, err := Open(context.Background(), cfg, tasks)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func syncBus(t *testing.T, db *DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, db.Bus().Sync(ctx))
}

func length(t *testing.T, r *result.Result[task, *task]) int {
	t.Helper()
	n, err := r.Len()
	require.NoError(t, err)
	return n
}

func receive(t *testing.T, ch <-chan *result.Result[task, *task]) *result.Result[task, *task] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("no result delivered")
		return nil
	}
}

func TestOpen_DefaultsToInMemory(t *testing.T) {
	db := openDB(t, nil)
	assert.True(t, db.Config().InMemory())
	assert.True(t, db.Registry().HasTable("tasks"))
	assert.NotNil(t, db.Store())
	assert.NotNil(t, db.Provider())
}

func TestOpen_Failure(t *testing.T) {
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "missing", "app.db")

	_, err := Open(context.Background(), cfg, tasks)
	assert.Error(t, err)
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, nil)

	a := &task{Title: "write docs"}
	require.NoError(t, Save(ctx, db, a, false))
	assert.Equal(t, int64(1), a.RowID)

	a.Done = true
	a.Title = "write more docs"
	require.NoError(t, Save(ctx, db, a, false))
	assert.Equal(t, int64(1), a.RowID, "saving an entity with an id replaces the row")

	got, err := Where[task](db).WithID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "write more docs", got.Title)
	assert.True(t, got.Done)

	n, err := Where[task](db).Count(ctx, "_id")
	require.NoError(t, err)
	assert.Equal(t, 1.0, n)
}

func TestURIOf(t *testing.T) {
	db := openDB(t, nil)

	id, err := URIOf[task](db)
	require.NoError(t, err)
	assert.Equal(t, "content://livesql/tasks", id.String())

	id, err = URIOf[task](db, 7)
	require.NoError(t, err)
	assert.Equal(t, "content://livesql/tasks/7", id.String())

	type other struct{}
	_, err = URIOf[other](db)
	assert.True(t, schema.IsUnknownEntity(err))
}

func TestExecAndRawQuery(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, nil)

	require.NoError(t, db.Exec(ctx, "INSERT INTO tasks(title) VALUES(?), (?)", "a", "b"))

	rows, err := db.RawQuery(ctx, "SELECT title FROM tasks ORDER BY _id DESC")
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, rows.Columns())

	var titles []string
	for _, row := range rows.Maps() {
		titles = append(titles, row["title"].(string))
	}
	assert.Equal(t, []string{"b", "a"}, titles)
}

func TestRawQuery_ExecWhileIterating(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, nil)
	require.NoError(t, db.Exec(ctx, "INSERT INTO tasks(title) VALUES(?), (?)", "a", "b"))

	rows, err := db.RawQuery(ctx, "SELECT _id FROM tasks")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		for _, row := range rows.Maps() {
			if err := db.Exec(ctx, "UPDATE tasks SET done = 1 WHERE _id = ?", row["_id"]); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Exec blocked behind RawQuery rows")
	}

	n, err := Where[task](db).IsTrue("done").Count(ctx, "_id")
	require.NoError(t, err)
	assert.Equal(t, float64(2), n)
}

func TestLoader_ReloadsOnSave(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, nil)

	got := make(chan *result.Result[task, *task], 8)
	l := NewLoader(db, Where[task](db).OrderBy("title"), func(r *result.Result[task, *task]) { got <- r })
	t.Cleanup(l.Reset)

	l.Start()
	assert.Equal(t, 0, length(t, receive(t, got)))

	require.NoError(t, Save(ctx, db, &task{Title: "b"}, true))
	assert.Equal(t, 1, length(t, receive(t, got)))

	// Without notification no reload happens.
	require.NoError(t, Save(ctx, db, &task{Title: "a"}, false))
	syncBus(t, db)
	assert.Empty(t, got)
}

func TestLoader_TransactionDefersReload(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, nil)

	got := make(chan *result.Result[task, *task], 8)
	l := NewLoader(db, Where[task](db), func(r *result.Result[task, *task]) { got <- r })
	t.Cleanup(l.Reset)
	l.Start()
	receive(t, got)

	require.NoError(t, db.BeginTransaction(ctx))
	require.NoError(t, Save(ctx, db, &task{Title: "a"}, true))
	uri, err := URIOf[task](db)
	require.NoError(t, err)
	_, err = db.Provider().Insert(ctx, uri, map[string]any{"title": "b"})
	require.NoError(t, err)

	syncBus(t, db)
	assert.Empty(t, got, "no reload before commit")

	require.NoError(t, db.EndTransaction(true))
	receive(t, got)

	// Both events arrive; the last reload sees both rows.
	require.Eventually(t, func() bool {
		res := l.Result()
		if res == nil {
			return false
		}
		n, err := res.Len()
		return err == nil && n == 2
	}, waitFor, 10*time.Millisecond)
}

func TestLoader_RollbackDropsEvents(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, nil)

	got := make(chan *result.Result[task, *task], 8)
	l := NewLoader(db, Where[task](db), func(r *result.Result[task, *task]) { got <- r })
	t.Cleanup(l.Reset)
	l.Start()
	receive(t, got)

	require.NoError(t, db.BeginTransaction(ctx))
	require.NoError(t, Save(ctx, db, &task{Title: "a"}, true))
	require.NoError(t, db.EndTransaction(false))

	syncBus(t, db)
	assert.Empty(t, got)
}

func TestWatch(t *testing.T) {
	db := openDB(t, nil)
	assert.ErrorIs(t, db.Watch(context.Background()), ErrInMemory)

	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "app.db")
	fileDB := openDB(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- fileDB.Watch(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Watch did not stop")
	}
}

func TestClose_Idempotent(t *testing.T) {
	db, err := Open(context.Background(), nil, tasks)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.False(t, db.Registry().HasTable("tasks"))
}

func TestClose_ResetsLoaders(t *testing.T) {
	db, err := Open(context.Background(), nil, tasks)
	require.NoError(t, err)

	got := make(chan *result.Result[task, *task], 8)
	l := NewLoader(db, Where[task](db), func(r *result.Result[task, *task]) { got <- r })
	l.Start()
	r := receive(t, got)

	require.NoError(t, db.Close())
	assert.True(t, r.IsClosed())
	assert.Equal(t, loader.Reset, l.State())
	assert.Nil(t, l.Result())
}
