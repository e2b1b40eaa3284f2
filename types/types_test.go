package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityIDRoundTrip(t *testing.T) {
	tests := []struct {
		partition PartitionID
		counter   int64
	}{
		{PartitionDb, 1},
		{PartitionTx, 1},
		{PartitionUser, 1},
		{PartitionUser, 1 << 40},
		{PartitionDb, 299},
		{65535, (1 << 48) - 1},
	}
	for _, tc := range tests {
		id := MakeEntityID(tc.partition, tc.counter)
		assert.Equal(t, tc.partition, id.Partition())
		assert.Equal(t, tc.counter, id.Counter())
	}
}

func TestEntityIDFirstOfPartition(t *testing.T) {
	// First id from partition p is (p << 48) | 1.
	assert.Equal(t, EntityID(1), MakeEntityID(PartitionDb, 1))
	assert.Equal(t, EntityID(1<<48|1), MakeEntityID(PartitionTx, 1))
	assert.Equal(t, EntityID(2<<48|1), MakeEntityID(PartitionUser, 1))
}

func TestValueTypeNames(t *testing.T) {
	names := []string{
		"text", "int4", "int8", "float4", "float8", "numeric", "bool",
		"timestamptz", "date", "uuid", "bytea", "jsonb", "ref",
	}
	require.Len(t, names, NumValueTypes)
	for i, name := range names {
		vt := ValueType(i)
		assert.Equal(t, name, vt.String())
		assert.Equal(t, "db.type/"+name, vt.Ident())
		assert.Equal(t, EntityID(100+i), vt.Entity())

		parsed, ok := ValueTypeFromName(name)
		require.True(t, ok, name)
		assert.Equal(t, vt, parsed)

		parsed, ok = ValueTypeFromName(vt.Ident())
		require.True(t, ok, vt.Ident())
		assert.Equal(t, vt, parsed)

		fromEntity, ok := ValueTypeFromEntity(vt.Entity())
		require.True(t, ok)
		assert.Equal(t, vt, fromEntity)
	}

	_, ok := ValueTypeFromName("varchar")
	assert.False(t, ok)
	_, ok = ValueTypeFromEntity(113)
	assert.False(t, ok)
	_, ok = ValueTypeFromEntity(99)
	assert.False(t, ok)
}

func TestCardinalityAndUnique(t *testing.T) {
	assert.Equal(t, EntityID(200), CardinalityOne.Entity())
	assert.Equal(t, EntityID(201), CardinalityMany.Entity())
	assert.Equal(t, EntityID(210), UniqueIdentity.Entity())
	assert.Equal(t, EntityID(211), UniqueValue.Entity())

	card, ok := CardinalityFromName("db.cardinality/many")
	require.True(t, ok)
	assert.Equal(t, CardinalityMany, card)
	_, ok = CardinalityFromName("several")
	assert.False(t, ok)

	uni, ok := UniqueFromName("")
	require.True(t, ok)
	assert.Equal(t, UniqueNone, uni)
	assert.Equal(t, "", UniqueNone.Ident())
	uni, ok = UniqueFromName("identity")
	require.True(t, ok)
	assert.Equal(t, UniqueIdentity, uni)
	_, ok = UniqueFromName("primary")
	assert.False(t, ok)
}

func TestDatomVisibleAt(t *testing.T) {
	tx5 := TxID(5)
	tx9 := TxID(9)

	current := Datom{E: 100, A: 1, VRaw: "x", Tx: 5}
	retracted := Datom{E: 100, A: 1, VRaw: "x", Tx: 5, RetractedBy: &tx9}

	// Current state.
	assert.True(t, current.VisibleAt(nil))
	assert.False(t, retracted.VisibleAt(nil))

	// Before assertion.
	before := TxID(4)
	assert.False(t, current.VisibleAt(&before))
	assert.False(t, retracted.VisibleAt(&before))

	// Between assertion and retraction.
	assert.True(t, retracted.VisibleAt(&tx5))
	mid := TxID(8)
	assert.True(t, retracted.VisibleAt(&mid))

	// At and after the retraction point.
	assert.False(t, retracted.VisibleAt(&tx9))
	after := TxID(100)
	assert.False(t, retracted.VisibleAt(&after))
	assert.True(t, current.VisibleAt(&after))

	assert.False(t, current.Retracted())
	assert.True(t, retracted.Retracted())
}

func TestTransactionIsEntity(t *testing.T) {
	tr := Transaction{ID: MakeEntityID(PartitionTx, 7), Instant: time.Now()}
	assert.Equal(t, PartitionTx, tr.ID.Partition())
	assert.Equal(t, int64(7), tr.ID.Counter())
}
