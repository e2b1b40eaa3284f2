// Package schema owns the bootstrap of the tuplestore: the static DDL
// (tables, allocator, visibility, DML translator), the type-dispatch
// SQL functions generated from the value codec, and the seed data that
// makes the store self-describing from transaction 0.
package schema

import (
	"fmt"
	"strings"

	"github.com/facetdb/facet/store/postgres/internal/codec"
	"github.com/facetdb/facet/store/postgres/internal/sqlgen"
	"github.com/facetdb/facet/types"
)

// Entity ids fixed at bootstrap. Everything below 300 in the db
// partition is reserved; next_id is seeded past it.
const (
	AttrIdent          types.EntityID = 1
	AttrValueType      types.EntityID = 2
	AttrCardinality    types.EntityID = 3
	AttrUnique         types.EntityID = 4
	AttrDoc            types.EntityID = 5
	AttrViewIdent      types.EntityID = 10
	AttrViewAttributes types.EntityID = 11
	AttrViewDoc        types.EntityID = 12
	AttrViewOptional   types.EntityID = 13
	AttrTxAuthor       types.EntityID = 20
	AttrTxReason       types.EntityID = 21
)

// SystemAttr is one bootstrap attribute definition.
type SystemAttr struct {
	ID          types.EntityID
	Ident       string
	Type        types.ValueType
	Cardinality types.Cardinality
	Doc         string
}

// SystemAttrs are the attributes the store needs to describe itself,
// written under transaction 0.
var SystemAttrs = []SystemAttr{
	{AttrIdent, "db/ident", types.TypeText, types.CardinalityOne, "unique programmatic name of an entity"},
	{AttrValueType, "db/valueType", types.TypeRef, types.CardinalityOne, "logical type of an attribute's values"},
	{AttrCardinality, "db/cardinality", types.TypeRef, types.CardinalityOne, "whether an attribute holds one value or a set"},
	{AttrUnique, "db/unique", types.TypeRef, types.CardinalityOne, "declared uniqueness; metadata only"},
	{AttrDoc, "db/doc", types.TypeText, types.CardinalityOne, "docstring"},
	{AttrViewIdent, "db.view/ident", types.TypeText, types.CardinalityOne, "table-shaped name of a derived view"},
	{AttrViewAttributes, "db.view/attributes", types.TypeRef, types.CardinalityMany, "required attributes of a view"},
	{AttrViewDoc, "db.view/doc", types.TypeText, types.CardinalityOne, ""},
	{AttrViewOptional, "db.view/optional-attributes", types.TypeRef, types.CardinalityMany, "optional attributes of a view"},
	{AttrTxAuthor, "db.tx/author", types.TypeText, types.CardinalityOne, ""},
	{AttrTxReason, "db.tx/reason", types.TypeText, types.CardinalityOne, ""},
}

// enumEntity is a bootstrap entity that only carries an ident.
type enumEntity struct {
	ID    types.EntityID
	Ident string
}

func enumEntities() []enumEntity {
	var out []enumEntity
	for vt := types.ValueType(0); vt < types.NumValueTypes; vt++ {
		out = append(out, enumEntity{vt.Entity(), vt.Ident()})
	}
	out = append(out,
		enumEntity{types.CardinalityOne.Entity(), types.CardinalityOne.Ident()},
		enumEntity{types.CardinalityMany.Entity(), types.CardinalityMany.Ident()},
		enumEntity{types.UniqueIdentity.Entity(), types.UniqueIdentity.Ident()},
		enumEntity{types.UniqueValue.Entity(), types.UniqueValue.Ident()},
	)
	return out
}

// Setup returns the full idempotent bootstrap script.
func Setup() string {
	var b strings.Builder
	b.WriteString(SetupPostgresSql)
	b.WriteString(typeDispatchSQL())
	b.WriteString(createAttrTableSQL())
	b.WriteString(seedSQL())
	b.WriteString(SetupViewsSql)
	return b.String()
}

// typeDispatchSQL renders the three SQL helpers that dispatch on a
// value type, from the codec's table. The closed set lives in one
// place; the SQL side is generated from it.
func typeDispatchSQL() string {
	var cols, exprs, encs []string
	for vt := types.ValueType(0); vt < types.NumValueTypes; vt++ {
		spec := codec.ForType(vt)
		cols = append(cols, fmt.Sprintf("    WHEN '%s' THEN %s", vt, quoteLiteral(spec.ColumnType)))
		exprs = append(exprs, fmt.Sprintf("    WHEN '%s' THEN %s", vt, quoteLiteral(spec.DecodeExpr)))
		encs = append(encs, fmt.Sprintf("    WHEN '%s' THEN RETURN %s;", vt, fmt.Sprintf(spec.EncodeExpr, "val")))
	}

	var b strings.Builder
	b.WriteString("\n-- Generated from the value codec; one arm per logical type.\n")

	fmt.Fprintf(&b, `CREATE OR REPLACE FUNCTION facet_typed_column(value_type text) RETURNS text
LANGUAGE sql IMMUTABLE AS $gen$
  SELECT CASE value_type
%s
  END
$gen$;

`, strings.Join(cols, "\n"))

	fmt.Fprintf(&b, `CREATE OR REPLACE FUNCTION facet_typed_expr(value_type text) RETURNS text
LANGUAGE sql IMMUTABLE AS $gen$
  SELECT CASE value_type
%s
  END
$gen$;

`, strings.Join(exprs, "\n"))

	fmt.Fprintf(&b, `CREATE OR REPLACE FUNCTION facet_encode(value_type text, val text) RETURNS text
LANGUAGE plpgsql STABLE AS $gen$
BEGIN
  CASE value_type
%s
    ELSE RAISE EXCEPTION 'unknown value type "%%"', value_type USING ERRCODE = 'FA003';
  END CASE;
END;
$gen$;

`, strings.Join(encs, "\n"))

	return b.String()
}

// createAttrTableSQL renders the runtime provisioning function. Its
// table shape and index statements are emitted from the same
// sqlgen.RelationIndexes strategy the bootstrap relations use, so the
// two paths cannot drift.
func createAttrTableSQL() string {
	var b strings.Builder
	b.WriteString(`CREATE OR REPLACE FUNCTION facet_create_attr_table(attr_id bigint, attr_ident text, value_type text) RETURNS text
LANGUAGE plpgsql AS $gen$
DECLARE
  tname text := facet_attr_table(attr_ident);
BEGIN
  EXECUTE format(
    'CREATE TABLE IF NOT EXISTS %I ('
    || 'v_typed %s GENERATED ALWAYS AS (%s) STORED, '
    || 'PRIMARY KEY (e, a, v_raw, tx), '
    || 'CHECK (a = %L::bigint)'
    || ') INHERITS (datoms)',
    tname, facet_typed_column(value_type), facet_typed_expr(value_type), attr_id);
`)
	for _, ix := range sqlgen.RelationIndexes {
		stmt := "CREATE INDEX IF NOT EXISTS %I ON %I " + ix.Columns
		if ix.Where != "" {
			stmt += " WHERE " + ix.Where
		}
		line := "  EXECUTE format(" + quoteLiteral(stmt) + ",\n    tname || '" + ix.Suffix + "', tname);\n"
		if ix.RefOnly {
			line = "  IF value_type = 'ref' THEN\n  " + strings.ReplaceAll(line, "\n    ", "\n      ") + "  END IF;\n"
		}
		b.WriteString(line)
	}
	b.WriteString(`  RETURN tname;
END;
$gen$;

`)
	return b.String()
}

// seedSQL provisions the system attribute relations from their
// relation specs, then writes the bootstrap datoms under transaction
// 0. Every statement is idempotent.
func seedSQL() string {
	var b strings.Builder
	b.WriteString("\n-- Bootstrap seed: partitions, transaction 0, system schema.\n")
	b.WriteString("INSERT INTO partitions (id, ident, next_id) VALUES\n")
	b.WriteString("  (0, 'db', 300), (1, 'tx', 1), (2, 'user', 1)\n")
	b.WriteString("  ON CONFLICT (id) DO NOTHING;\n")
	b.WriteString("INSERT INTO transactions (id, instant) VALUES (0, now()) ON CONFLICT (id) DO NOTHING;\n\n")

	for _, attr := range SystemAttrs {
		for _, stmt := range sqlgen.AttrRelation(attr.ID, attr.Ident, attr.Type).DDL() {
			b.WriteString(stmt + "\n")
		}
	}

	var idents, valueTypes, cards, docs []string
	for _, attr := range SystemAttrs {
		idents = append(idents, seedValues(attr.ID, AttrIdent, attr.Ident))
		valueTypes = append(valueTypes, seedValues(attr.ID, AttrValueType, attr.Type.Entity().String()))
		cards = append(cards, seedValues(attr.ID, AttrCardinality, attr.Cardinality.Entity().String()))
		if attr.Doc != "" {
			docs = append(docs, seedValues(attr.ID, AttrDoc, attr.Doc))
		}
	}
	for _, ent := range enumEntities() {
		idents = append(idents, seedValues(ent.ID, AttrIdent, ent.Ident))
	}

	writeSeedInsert(&b, sqlgen.AttrTableName("db/ident"), idents)
	writeSeedInsert(&b, sqlgen.AttrTableName("db/valueType"), valueTypes)
	writeSeedInsert(&b, sqlgen.AttrTableName("db/cardinality"), cards)
	writeSeedInsert(&b, sqlgen.AttrTableName("db/doc"), docs)
	return b.String()
}

func seedValues(e, a types.EntityID, raw string) string {
	return fmt.Sprintf("  (%d, %d, %s, 0)", e, a, quoteLiteral(raw))
}

func writeSeedInsert(b *strings.Builder, table string, rows []string) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "\nINSERT INTO %s (e, a, v_raw, tx) VALUES\n%s\n  ON CONFLICT DO NOTHING;\n",
		table, strings.Join(rows, ",\n"))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
