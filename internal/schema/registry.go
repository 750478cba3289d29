package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// IDColumn is the primary-key column every entity table carries.
const IDColumn = "_id"

// Entity is the static capability set a pointer-to-entity type provides.
//
// Columns and Values describe the non-id columns written on insert and update,
// in matching order. Rows are read back by struct scanning, so the entity's
// fields carry `db` tags, including `db:"_id"` for the row id.
type Entity interface {
	ID() int64
	SetID(id int64)
	Columns() []string
	Values() []any
}

// Record constrains a type parameter to *T where *T implements Entity.
// Generic code takes [T any, P Record[T]] so it can allocate a T and call
// Entity methods on its pointer.
type Record[T any] interface {
	*T
	Entity
}

// Descriptor carries the DDL for one entity table.
type Descriptor struct {
	// Create holds CREATE TABLE / INDEX / TRIGGER statements, run in order
	// when the database is first created or recreated on upgrade.
	Create []string

	// Drop holds extra statements run before the table itself is dropped
	// on a destructive upgrade. The table is always dropped afterwards.
	Drop []string
}

// UnknownEntityError is returned when an entity type has not been registered.
type UnknownEntityError struct {
	Type reflect.Type
}

// Error implements the error interface.
func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity type %v: no table registered", e.Type)
}

// IsUnknownEntity reports whether err is, or wraps, an UnknownEntityError.
func IsUnknownEntity(err error) bool {
	var ue *UnknownEntityError
	return errors.As(err, &ue)
}

// entry is the value stored per entity type. Immutable once stored.
type entry struct {
	table      string
	descriptor Descriptor
}

// Registry resolves entity types to tables and resource identifiers.
//
// Thread-safety: all methods are safe for concurrent use. Reads never block;
// the first Register for a type wins via sync.Map.LoadOrStore.
type Registry struct {
	authority atomic.Pointer[string]

	entries sync.Map // reflect.Type -> *entry
	tables  sync.Map // table name -> reflect.Type
	ids     sync.Map // reflect.Type -> ResourceID

	// order records registration order for deterministic DDL.
	// Appended only by the goroutine that wins LoadOrStore.
	mu    sync.Mutex
	order []reflect.Type
}

// NewRegistry creates an empty registry. A non-empty authority is fixed
// immediately; otherwise the first SetAuthority call fixes it.
func NewRegistry(authority string) *Registry {
	r := &Registry{}
	if authority != "" {
		r.SetAuthority(authority)
	}
	return r
}

// SetAuthority fixes the process-wide authority used in resource identifiers.
// Only the first call has an effect. Returns whether this call set it.
func (r *Registry) SetAuthority(authority string) bool {
	return r.authority.CompareAndSwap(nil, &authority)
}

// Authority returns the configured authority, or "" when unset.
func (r *Registry) Authority() string {
	if p := r.authority.Load(); p != nil {
		return *p
	}
	return ""
}

// Register maps an entity type to its table and descriptor.
//
// Idempotent: the first registration for a type wins and is never
// overwritten. Returns true when this call stored the mapping.
func (r *Registry) Register(typ reflect.Type, table string, d Descriptor) bool {
	typ = indirect(typ)
	e := &entry{
		table: table,
		descriptor: Descriptor{
			Create: append([]string(nil), d.Create...),
			Drop:   append([]string(nil), d.Drop...),
		},
	}

	if _, loaded := r.entries.LoadOrStore(typ, e); loaded {
		return false
	}
	r.tables.LoadOrStore(table, typ)

	r.mu.Lock()
	r.order = append(r.order, typ)
	r.mu.Unlock()

	return true
}

// RegisterEntity is the generic form of Register.
func RegisterEntity[T any](r *Registry, table string, d Descriptor) bool {
	return r.Register(TypeOf[T](), table, d)
}

// TypeOf returns the registry key for T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// ResolveTable returns the table registered for typ.
func (r *Registry) ResolveTable(typ reflect.Type) (string, error) {
	e, err := r.lookup(typ)
	if err != nil {
		return "", err
	}
	return e.table, nil
}

// ResolveResourceID returns the resource identifier of typ's table.
//
// The base identifier is derived once and cached; extra segments (typically a
// row id) produce a new identifier without touching the cached one.
func (r *Registry) ResolveResourceID(typ reflect.Type, extra ...any) (ResourceID, error) {
	typ = indirect(typ)

	if cached, ok := r.ids.Load(typ); ok {
		return cached.(ResourceID).Append(extra...), nil
	}

	e, err := r.lookup(typ)
	if err != nil {
		return ResourceID{}, err
	}

	id, _ := r.ids.LoadOrStore(typ, NewResourceID(r.Authority(), e.table))
	return id.(ResourceID).Append(extra...), nil
}

// Descriptor returns the descriptor registered for typ.
func (r *Registry) Descriptor(typ reflect.Type) (Descriptor, error) {
	e, err := r.lookup(typ)
	if err != nil {
		return Descriptor{}, err
	}
	return e.descriptor, nil
}

// HasTable reports whether some entity type is registered with table.
func (r *Registry) HasTable(table string) bool {
	_, ok := r.tables.Load(table)
	return ok
}

// Entities returns registered entity types in registration order.
func (r *Registry) Entities() []reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reflect.Type(nil), r.order...)
}

// Tables returns registered table names in registration order.
func (r *Registry) Tables() []string {
	types := r.Entities()
	tables := make([]string, 0, len(types))
	for _, typ := range types {
		if e, err := r.lookup(typ); err == nil {
			tables = append(tables, e.table)
		}
	}
	return tables
}

// BaseIDs returns the base resource identifier of every registered entity.
func (r *Registry) BaseIDs() []ResourceID {
	types := r.Entities()
	ids := make([]ResourceID, 0, len(types))
	for _, typ := range types {
		if id, err := r.ResolveResourceID(typ); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// CreateStatements returns every registered CREATE statement in registration order.
func (r *Registry) CreateStatements() []string {
	var stmts []string
	for _, typ := range r.Entities() {
		if e, err := r.lookup(typ); err == nil {
			stmts = append(stmts, e.descriptor.Create...)
		}
	}
	return stmts
}

// DropStatements returns the statements that remove every registered table,
// in reverse registration order so dependent tables go first.
func (r *Registry) DropStatements() []string {
	types := r.Entities()
	var stmts []string
	for i := len(types) - 1; i >= 0; i-- {
		e, err := r.lookup(types[i])
		if err != nil {
			continue
		}
		stmts = append(stmts, e.descriptor.Drop...)
		stmts = append(stmts, "DROP TABLE IF EXISTS "+e.table)
	}
	return stmts
}

// Shutdown clears every mapping. The authority is kept.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries.Range(func(k, _ any) bool { r.entries.Delete(k); return true })
	r.tables.Range(func(k, _ any) bool { r.tables.Delete(k); return true })
	r.ids.Range(func(k, _ any) bool { r.ids.Delete(k); return true })
	r.order = nil
}

func (r *Registry) lookup(typ reflect.Type) (*entry, error) {
	typ = indirect(typ)
	v, ok := r.entries.Load(typ)
	if !ok {
		return nil, &UnknownEntityError{Type: typ}
	}
	return v.(*entry), nil
}

// indirect maps *T to T so callers may pass either.
func indirect(typ reflect.Type) reflect.Type {
	if typ != nil && typ.Kind() == reflect.Pointer {
		return typ.Elem()
	}
	return typ
}
