package query

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesql/internal/config"
	"github.com/roach88/livesql/internal/result"
	"github.com/roach88/livesql/internal/schema"
	"github.com/roach88/livesql/internal/store"
)

type user struct {
	RowID   int64   `db:"_id"`
	Name    string  `db:"name"`
	Age     int     `db:"age"`
	Weight  float64 `db:"weight"`
	Avatar  []byte  `db:"avatar"`
	Enabled bool    `db:"enabled"`
}

func (u *user) ID() int64         { return u.RowID }
func (u *user) SetID(id int64)    { u.RowID = id }
func (u *user) Columns() []string { return []string{"name", "age", "weight", "avatar", "enabled"} }
func (u *user) Values() []any     { return []any{u.Name, u.Age, u.Weight, u.Avatar, u.Enabled} }

type unregistered struct {
	RowID int64 `db:"_id"`
}

func (u *unregistered) ID() int64         { return u.RowID }
func (u *unregistered) SetID(id int64)    { u.RowID = id }
func (u *unregistered) Columns() []string { return nil }
func (u *unregistered) Values() []any     { return nil }

var seedUsers = []user{
	{Name: "Liam", Age: 20, Weight: 70.5, Avatar: []byte{0, 0, 0, 0, 0}},
	{Name: "Olivia", Age: 22, Weight: 60.5, Avatar: []byte{0, 1, 0, 0, 0}},
	{Name: "Jacob", Age: 25, Weight: 55.8, Avatar: []byte{0, 0, 1, 0, 0}},
	{Name: "Isabella", Age: 21, Weight: 45.0, Avatar: []byte{0, 0, 0, 1, 0}},
	{Name: "Ethan", Age: 28, Weight: 80.75, Avatar: []byte{0, 0, 0, 0, 1}},
	{Name: "Mia", Age: 23, Weight: 50.3, Avatar: []byte{1, 1, 0, 0, 0}},
	{Name: "Alexander", Age: 30, Weight: 66.7, Avatar: []byte{0, 1, 1, 0, 0}},
	{Name: "Abigail", Age: 19, Weight: 45.2, Avatar: []byte{0, 0, 1, 1, 0}},
	{Name: "James", Age: 15, Weight: 40.4, Avatar: []byte{0, 0, 0, 1, 1}},
	{Name: "Charlotte", Age: 18, Weight: 48.1, Avatar: []byte{1, 1, 1, 0, 0}},
}

// changeLog records change events synchronously.
type changeLog struct {
	ids []string
}

func (c *changeLog) NotifyChange(id schema.ResourceID) {
	c.ids = append(c.ids, id.String())
}

type fixture struct {
	reg     *schema.Registry
	store   *store.Store
	changes *changeLog
}

func (f *fixture) users() *Query[user, *user] {
	return From[user](f.reg, f.store)
}

// newFixture opens an in-memory store with the ten seed users.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reg := schema.NewRegistry("com.example")
	schema.RegisterEntity[user](reg, "users", schema.Descriptor{
		Create: []string{"CREATE TABLE IF NOT EXISTS users(" +
			"_id INTEGER PRIMARY KEY, name TEXT, age INTEGER, weight REAL, avatar BLOB, enabled INTEGER)"},
	})

	changes := &changeLog{}
	s, err := store.Open(ctx, config.Default(), store.WithSchema(reg), store.WithNotifier(changes))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.BeginTransaction(ctx))
	for _, u := range seedUsers {
		_, err := s.ExecuteInsert(ctx,
			"INSERT INTO users(name, age, weight, avatar, enabled) VALUES(?, ?, ?, ?, ?)",
			u.Name, u.Age, u.Weight, u.Avatar, u.Age > 18)
		require.NoError(t, err)
	}
	require.NoError(t, s.EndTransaction(true))

	return &fixture{reg: reg, store: s, changes: changes}
}

func length(t *testing.T, res *result.Result[user, *user]) int {
	t.Helper()
	n, err := res.Len()
	require.NoError(t, err)
	return n
}

func names(t *testing.T, q *Query[user, *user]) []string {
	t.Helper()
	res, err := q.List(context.Background())
	require.NoError(t, err)
	defer res.Close()

	all, err := res.All()
	require.NoError(t, err)
	out := []string{}
	for _, u := range all {
		out = append(out, u.Name)
	}
	return out
}

func TestList_Predicates(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name     string
		query    *Query[user, *user]
		expected int
	}{
		{"distinct", f.users().Distinct(), 10},
		{"equal to", f.users().EqualTo("name", "James"), 1},
		{"not equal to", f.users().NotEqualTo("age", 25), 9},
		{"less than", f.users().LessThan("weight", 50), 4},
		{"less than or equal to", f.users().LessThanOrEqualTo("weight", 70.5), 9},
		{"greater than", f.users().GreaterThan("age", 25), 2},
		{"greater than or equal to", f.users().GreaterThanOrEqualTo("age", 25), 3},
		{"like", f.users().Like("name", "Ja%"), 2},
		{"between", f.users().Between("age", 22, 28), 4},
		{"is true", f.users().IsTrue("enabled"), 8},
		{"is false", f.users().IsFalse("enabled"), 2},
		{"is null", f.users().IsNull("name"), 0},
		{"not null", f.users().NotNull("name"), 10},
		{"in", f.users().In("_id", 1, 2, 3), 3},
		{"in select", f.users().InSelect("_id", "SELECT _id FROM users WHERE age > ?", 25), 2},
		{"group by having", f.users().GroupBy("name").Having("age > ?", 20), 6},
		{"or group", f.users().EqualTo("name", "James").Or().
			BeginGroup().GreaterThan("age", 25).LessThan("weight", 70).EndGroup(), 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Len(t, names(t, tc.query), tc.expected)
		})
	}
}

func TestList_OrderBy(t *testing.T) {
	f := newFixture(t)

	asc := names(t, f.users().OrderBy("name"))
	require.Len(t, asc, 10)
	assert.Equal(t, "Abigail", asc[0])

	desc := names(t, f.users().OrderByDesc("name"))
	require.Len(t, desc, 10)
	assert.Equal(t, "Olivia", desc[0])
}

func TestList_OrderByLimit(t *testing.T) {
	f := newFixture(t)

	got := names(t, f.users().OrderBy("name").Limit(5))
	assert.Equal(t, []string{"Abigail", "Alexander", "Charlotte", "Ethan", "Isabella"}, got)
}

func TestList_Limit(t *testing.T) {
	f := newFixture(t)

	got := names(t, f.users().Limit(5))
	assert.Equal(t, []string{"Liam", "Olivia", "Jacob", "Isabella", "Ethan"}, got)
}

func TestList_OffsetLimit(t *testing.T) {
	f := newFixture(t)

	got := names(t, f.users().OffsetLimit(5, 2))
	assert.Equal(t, []string{"Mia", "Alexander"}, got)
}

func TestList_MaterializesAllColumns(t *testing.T) {
	f := newFixture(t)

	res, err := f.users().List(context.Background())
	require.NoError(t, err)
	defer res.Close()

	require.Equal(t, len(seedUsers), length(t, res))
	for i, want := range seedUsers {
		got, err := res.Get(i)
		require.NoError(t, err)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Age, got.Age)
		assert.InDelta(t, want.Weight, got.Weight, 1e-9)
		assert.Equal(t, want.Avatar, got.Avatar)
		assert.Equal(t, want.Age > 18, got.Enabled)

		id, err := res.ID(i)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), id)
		assert.Equal(t, id, got.RowID)
	}
	assert.Equal(t, "content://com.example/users", res.ResourceID().String())
}

func TestList_CancelledContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.users().List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.users().OrderByDesc("age")
	u, err := q.One(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alexander", u.Name)
	assert.Equal(t, "SELECT * FROM users ORDER BY age DESC", q.Render(), "One does not limit the query itself")

	_, err = f.users().EqualTo("name", "Nobody").One(ctx)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestWithID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.users().WithID(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, "Mia", u.Name)

	_, err = f.users().WithID(ctx, 99)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCursor(t *testing.T) {
	f := newFixture(t)

	rows, err := f.users().Columns("name").EqualTo("age", 30).Cursor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"name"}, rows.Columns())
	assert.Equal(t, []map[string]any{{"name": "Alexander"}}, rows.Maps())
}

func TestCursor_WriteWhileReading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows, err := f.users().Columns("_id").LessThanOrEqualTo("age", 18).Cursor(ctx)
	require.NoError(t, err)
	require.NotZero(t, rows.Len())

	for _, row := range rows.Maps() {
		_, err := f.store.ExecuteUpdateDelete(ctx, "UPDATE users SET enabled = 1 WHERE _id = ?", row["_id"])
		require.NoError(t, err)
	}

	n, err := f.users().IsFalse("enabled").Count(ctx, "_id")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.users().EqualTo("name", "Mia").Remove(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"content://com.example/users"}, f.changes.ids)

	assert.NotContains(t, names(t, f.users()), "Mia")
	assert.Len(t, names(t, f.users()), 9)

	n, err = f.users().EqualTo("name", "Mia").Remove(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Len(t, f.changes.ids, 1, "nothing removed, nothing notified")
}

func TestRemove_All(t *testing.T) {
	f := newFixture(t)

	n, err := f.users().Remove(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Empty(t, names(t, f.users()))
}

func TestAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	minAge, err := f.users().Min(ctx, "age")
	require.NoError(t, err)
	assert.Equal(t, 15.0, minAge)

	maxAge, err := f.users().Max(ctx, "age")
	require.NoError(t, err)
	assert.Equal(t, 30.0, maxAge)

	sum, err := f.users().Sum(ctx, "weight")
	require.NoError(t, err)
	assert.InDelta(t, 563.25, sum, 1e-6)

	count, err := f.users().Count(ctx, "_id")
	require.NoError(t, err)
	assert.Equal(t, 10.0, count)

	count, err = f.users().LessThan("weight", 50).Count(ctx, "_id")
	require.NoError(t, err)
	assert.Equal(t, 4.0, count)

	count, err = f.users().GroupBy("name").Having("age > ?", 99).Count(ctx, "_id")
	require.NoError(t, err)
	assert.Equal(t, 10.0, count, "aggregates use the WHERE clause only")
}

func TestAggregates_NonNumeric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users().EqualTo("name", "Nobody").Sum(ctx, "weight")
	require.Error(t, err)
	assert.True(t, IsNumericParse(err))

	_, err = f.users().Max(ctx, "name")
	require.Error(t, err)
	assert.True(t, IsNumericParse(err))
}

func TestQuery_UnknownEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := From[unregistered](f.reg, f.store)
	require.Error(t, q.Err())
	assert.True(t, schema.IsUnknownEntity(q.Err()))

	_, err := q.List(ctx)
	assert.True(t, schema.IsUnknownEntity(err))
	_, err = q.Remove(ctx)
	assert.True(t, schema.IsUnknownEntity(err))
	_, err = q.Count(ctx, "_id")
	assert.True(t, schema.IsUnknownEntity(err))
}

func TestQuery_ConstructionError(t *testing.T) {
	f := newFixture(t)

	_, err := f.users().AppendWhere("age > ? AND age < ?", 1).List(context.Background())
	assert.Error(t, err)
}

func TestResult_RefreshUsesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.users().GreaterThan("age", 25)
	res, err := q.List(ctx)
	require.NoError(t, err)
	defer res.Close()

	q.LessThan("age", 0)

	again, err := res.Refresh(ctx)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 2, length(t, again))
}

func TestParseNumber(t *testing.T) {
	testCases := []struct {
		name     string
		input    any
		expected float64
		wantErr  bool
	}{
		{name: "int64", input: int64(3), expected: 3},
		{name: "float64", input: 2.5, expected: 2.5},
		{name: "text", input: "4.25", expected: 4.25},
		{name: "bytes", input: []byte(" 7 "), expected: 7},
		{name: "null", input: nil, wantErr: true},
		{name: "word", input: "Liam", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseNumber("SUM", "x", tc.input)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, IsNumericParse(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
