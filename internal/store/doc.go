// Package store owns the SQLite connection: statement compilation, the
// transaction state machine, bind-value normalization and change-event
// buffering.
//
// # Statement lifetime
//
// Idle: each call prepares, binds, executes and closes its statement.
// InTransaction: statements are cached by exact SQL text and rebound on every
// call. EndTransaction closes every cached statement before it commits or
// rolls back, so CachedStatements is 0 once it returns.
//
// # Reads
//
// The store holds a single connection, so no cursor outlives the call that
// opened it. Query returns fully read Rows; Read streams a cursor to a
// callback while the store lock is held.
//
// # Change events
//
// Mutating callers report changes with Changed. Outside a transaction the
// event goes straight to the Notifier; inside one it is held until commit
// and discarded on rollback.
//
// # Database Configuration
//
// Driven by config.Config:
//   - Pragmas run once per open (WAL, synchronous=NORMAL, busy_timeout=5000,
//     foreign_keys=ON by default)
//   - PRAGMA user_version 0 runs the create hook
//   - an older user_version runs the upgrade hook, or drops and recreates
//     every registered table when no upgrade statements are configured
//
// Both github.com/mattn/go-sqlite3 ("sqlite3") and modernc.org/sqlite
// ("sqlite") are registered. Engine failures from either surface as
// *StorageEngineError carrying the SQLite result code.
package store
