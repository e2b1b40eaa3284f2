// Package store defines the public surface of the tuplestore: the
// Store interface, the definition records accepted by the schema
// registry, and the error kinds implementations report.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/facetdb/facet/types"
)

// ErrNotInitialized is returned when the bootstrap schema is missing.
var ErrNotInitialized = errors.New("store not initialized")

// ErrUnknownPartition is returned by the allocator for a partition
// ident that does not exist.
var ErrUnknownPartition = errors.New("unknown partition")

// ErrUnknownAttribute is returned when a view definition or lookup
// references an ident with no attribute definition.
var ErrUnknownAttribute = errors.New("unknown attribute")

// ErrUnknownValueType is returned when an attribute declaration names a
// type outside the closed set.
var ErrUnknownValueType = errors.New("unknown value type")

// ErrUnknownCardinality is returned when an attribute declaration names
// a cardinality other than one/many.
var ErrUnknownCardinality = errors.New("unknown cardinality")

// ErrValueCoercion is returned when a row value cannot be converted to
// the attribute's logical type.
var ErrValueCoercion = errors.New("value coercion failed")

// ErrViewHasNoRequiredAttributes is returned when a view definition
// would produce an empty plan.
var ErrViewHasNoRequiredAttributes = errors.New("view has no required attributes")

// AttributeDef is the input to DefineAttribute.
type AttributeDef struct {
	// Ident is the namespaced name, e.g. "person/name". Unique.
	Ident string
	// ValueType is one of the 13 logical types.
	ValueType types.ValueType
	// Cardinality is one or many.
	Cardinality types.Cardinality
	// Unique is optional declared metadata; not enforced by the core.
	Unique types.Unique
	// Doc is an optional docstring.
	Doc string
}

// Attribute is a fully resolved attribute definition as read back from
// the store.
type Attribute struct {
	ID types.EntityID
	AttributeDef
}

// ViewDef is the input to DefineView.
type ViewDef struct {
	// Name is the table-shaped name of the view, e.g. "persons".
	Name string
	// Required attribute idents. A row exists per entity possessing all
	// of them. Must not be empty.
	Required []string
	// Optional attribute idents, joined with left semantics.
	Optional []string
	// Doc is an optional docstring.
	Doc string
}

// ViewUpdate carries the changed fields for UpdateView. Nil slices and
// empty strings mean "leave unchanged".
type ViewUpdate struct {
	Name     string
	Required []string
	Optional []string
	Doc      *string
}

// View is a resolved view definition as read back from the store.
type View struct {
	ID types.EntityID
	ViewDef
}

// State reports bootstrap/migration status for health checks.
type State struct {
	// SchemaVersion is the applied migration number.
	SchemaVersion int
	// MigrationStatus is a human readable status line.
	MigrationStatus string
	// MigrationRunning is true while a migration task is active.
	MigrationRunning bool
	// Err holds a terminal migration error, if any.
	Err error
}

// Store is a bitemporal tuplestore. All facts are datoms; relational
// projections over them are managed with DefineView and queried with
// Query/QueryAsOf.
type Store interface {
	// DefineAttribute declares an attribute and provisions its typed
	// child relation and indexes. Returns the attribute entity id.
	DefineAttribute(ctx context.Context, def AttributeDef) (types.EntityID, error)

	// AttrID resolves an attribute ident to its entity id.
	AttrID(ctx context.Context, ident string) (types.EntityID, error)

	// Attributes lists every declared attribute, system ones included.
	Attributes(ctx context.Context) ([]Attribute, error)

	// DefineView records a view definition and generates its three SQL
	// views plus DML triggers. Returns the view entity id.
	DefineView(ctx context.Context, def ViewDef) (types.EntityID, error)

	// UpdateView changes an existing definition and regenerates.
	UpdateView(ctx context.Context, name string, upd ViewUpdate) error

	// DeleteView retracts the definition and drops the generated views.
	DeleteView(ctx context.Context, name string) error

	// Views lists every view definition.
	Views(ctx context.Context) ([]View, error)

	// RegenerateViews recompiles every stored view definition.
	RegenerateViews(ctx context.Context) error

	// AllocateEntity mints a fresh id from the named partition.
	AllocateEntity(ctx context.Context, partition string) (types.EntityID, error)

	// NewTransaction allocates a transaction entity and records its instant.
	NewTransaction(ctx context.Context) (types.TxID, error)

	// Query runs sql against the current visibility context.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)

	// QueryAsOf runs sql with the as-of point pinned for that query
	// only. A nil asOf pins "current".
	QueryAsOf(ctx context.Context, asOf *types.TxID, sql string, args ...interface{}) (pgx.Rows, error)

	// SetAsOf sets the session visibility point; nil means current.
	SetAsOf(ctx context.Context, asOf *types.TxID) error

	// GetAsOf reads the session visibility point; nil means current.
	GetAsOf(ctx context.Context) (*types.TxID, error)

	// WithAsOf runs f with the session pinned to asOf, restoring the
	// previous point on both success and error.
	WithAsOf(ctx context.Context, asOf types.TxID, f func(context.Context) error) error

	// Health reports bootstrap and migration state.
	Health(ctx context.Context) (State, error)

	// Close releases the connection pool.
	Close()
}
