package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facetdb/facet/types"
)

func TestAttrRelationDDL(t *testing.T) {
	ddl := AttrRelation(1, "db/ident", types.TypeText).DDL()
	require.Len(t, ddl, 4)

	assert.Equal(t, `CREATE TABLE IF NOT EXISTS attr_db_ident (
  v_typed text GENERATED ALWAYS AS (v_raw) STORED,
  PRIMARY KEY (e, a, v_raw, tx),
  CHECK (a = 1)
) INHERITS (datoms);`, ddl[0])

	assert.Equal(t,
		"CREATE INDEX IF NOT EXISTS attr_db_ident_v ON attr_db_ident (v_typed) WHERE retracted_by IS NULL;",
		ddl[1])
	assert.Equal(t,
		"CREATE INDEX IF NOT EXISTS attr_db_ident_e ON attr_db_ident (e) WHERE retracted_by IS NULL;",
		ddl[2])
	assert.Equal(t,
		"CREATE INDEX IF NOT EXISTS attr_db_ident_tx ON attr_db_ident (tx);",
		ddl[3])
}

func TestRefRelationGetsReverseIndex(t *testing.T) {
	spec := AttrRelation(2, "db/valueType", types.TypeRef)
	ddl := spec.DDL()
	require.Len(t, ddl, 5)

	assert.Contains(t, ddl[0], "v_typed bigint GENERATED ALWAYS AS ((v_raw::bigint)) STORED")
	assert.Contains(t, ddl[0], "CHECK (a = 2)")
	assert.Equal(t,
		"CREATE INDEX IF NOT EXISTS attr_db_valuetype_ve ON attr_db_valuetype (v_typed, e) WHERE retracted_by IS NULL;",
		ddl[4])
}

func TestNonRefRelationHasNoReverseIndex(t *testing.T) {
	for _, ix := range AttrRelation(5, "db/doc", types.TypeText).Indexes {
		assert.False(t, ix.RefOnly)
	}
}

func TestRelationTypedColumnFollowsCodec(t *testing.T) {
	tests := map[types.ValueType]string{
		types.TypeTimestamptz: "timestamptz",
		types.TypeNumeric:     "numeric",
		types.TypeBytea:       "bytea",
	}
	for vt, column := range tests {
		spec := AttrRelation(300, "thing/when", vt)
		assert.Equal(t, column, spec.TypedColumn, vt)
		assert.Equal(t, "datoms", spec.Parent)
	}
}
