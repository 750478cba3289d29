// Package schema maps entity types to physical tables and resource identifiers.
//
// A Registry is the single source of truth for three facts about every entity
// type known to the process:
//   - the table its rows live in
//   - the Descriptor holding its CREATE and DROP statements
//   - the ResourceID used as the unit of change notification
//
// Mappings are established once, normally at startup, and never change
// afterwards. Register is idempotent: the first writer wins and later calls for
// the same type are ignored. Reads are lock-free.
//
// Resource identifiers use the text form
//
//	content://<authority>/<table>[/<id>]
//
// and are immutable values. Appending segments returns a new identifier.
package schema
