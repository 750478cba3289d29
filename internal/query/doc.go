// Package query builds SELECT, DELETE and aggregate statements against one
// entity table without hand-written SQL.
//
// A Spec holds typed WHERE fragments, grouping, ordering and limits, and
// renders them on demand:
//
//	New("users").GreaterThan("age", 25).OrderBy("name").Limit(5).Render()
//	// SELECT * FROM users WHERE age > ? ORDER BY name ASC LIMIT 5
//
// Bind values are positional. BindArgs returns WHERE values in the order the
// predicates were added, then HAVING values. Adjacent conditions are joined
// with AND unless Or, And or a group boundary sits between them.
//
// Query wraps a Spec with an entity type and an Executor, adding List, One,
// WithID, Cursor, Remove and the Min, Max, Sum and Count aggregates.
package query
