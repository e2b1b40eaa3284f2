package sqlgen

import (
	"fmt"

	"github.com/facetdb/facet/store/postgres/internal/codec"
	"github.com/facetdb/facet/types"
)

// IndexSpec is one index applied to an attribute child relation.
type IndexSpec struct {
	// Suffix is appended to the relation name to form the index name.
	Suffix string
	// Columns is the parenthesised indexed column list.
	Columns string
	// Where is the partial-index predicate; empty for a full index.
	Where string
	// RefOnly restricts the index to reference-typed attributes.
	RefOnly bool
}

// RelationIndexes is the index strategy applied to every attribute
// child relation: current-state value lookups, per-entity fetch,
// history scans by transaction, and reverse traversal for references.
// The bootstrap relations and the runtime provisioning function are
// both emitted from this list.
var RelationIndexes = []IndexSpec{
	{Suffix: "_v", Columns: "(v_typed)", Where: "retracted_by IS NULL"},
	{Suffix: "_e", Columns: "(e)", Where: "retracted_by IS NULL"},
	{Suffix: "_tx", Columns: "(tx)"},
	{Suffix: "_ve", Columns: "(v_typed, e)", Where: "retracted_by IS NULL", RefOnly: true},
}

// RelationSpec describes one attribute child relation: its name and
// parent, the typed generated column, the check predicate pinning the
// relation to its attribute id, and its indexes.
type RelationSpec struct {
	Name           string
	Parent         string
	TypedColumn    string
	TypedExpr      string
	CheckPredicate string
	Indexes        []IndexSpec
}

// AttrRelation builds the relation spec for one attribute from the
// value codec and the shared index strategy.
func AttrRelation(attrID types.EntityID, ident string, vt types.ValueType) RelationSpec {
	cspec := codec.ForType(vt)
	var indexes []IndexSpec
	for _, ix := range RelationIndexes {
		if ix.RefOnly && vt != types.TypeRef {
			continue
		}
		indexes = append(indexes, ix)
	}
	return RelationSpec{
		Name:           AttrTableName(ident),
		Parent:         "datoms",
		TypedColumn:    cspec.ColumnType,
		TypedExpr:      cspec.DecodeExpr,
		CheckPredicate: fmt.Sprintf("a = %d", attrID),
		Indexes:        indexes,
	}
}

// DDL emits the relation and its indexes. Idempotent.
func (r RelationSpec) DDL() []string {
	out := []string{fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n"+
			"  v_typed %s GENERATED ALWAYS AS (%s) STORED,\n"+
			"  PRIMARY KEY (e, a, v_raw, tx),\n"+
			"  CHECK (%s)\n"+
			") INHERITS (%s);",
		r.Name, r.TypedColumn, r.TypedExpr, r.CheckPredicate, r.Parent)}
	for _, ix := range r.Indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s%s ON %s %s",
			r.Name, ix.Suffix, r.Name, ix.Columns)
		if ix.Where != "" {
			stmt += " WHERE " + ix.Where
		}
		out = append(out, stmt+";")
	}
	return out
}
