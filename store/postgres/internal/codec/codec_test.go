package codec

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facetdb/facet/store"
	"github.com/facetdb/facet/types"
)

func TestEncodeCanonicalForms(t *testing.T) {
	ts := time.Date(2023, 4, 5, 6, 7, 8, 910_000_000, time.UTC)
	u := uuid.MustParse("A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11")

	tests := []struct {
		name string
		vt   types.ValueType
		in   interface{}
		want string
	}{
		{"text", types.TypeText, "Alice", "Alice"},
		{"int4", types.TypeInt4, int32(-7), "-7"},
		{"int8", types.TypeInt8, int64(1) << 40, "1099511627776"},
		{"float8", types.TypeFloat8, 1.5, "1.5"},
		{"numeric", types.TypeNumeric, "12345.6789", "12345.6789"},
		{"bool true", types.TypeBool, true, "true"},
		{"bool false", types.TypeBool, false, "false"},
		{"timestamptz", types.TypeTimestamptz, ts, "1680674828910000"},
		{"date", types.TypeDate, time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC), "1"},
		{"uuid lowercases", types.TypeUUID, u, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"},
		{"bytea", types.TypeBytea, []byte{0xde, 0xad, 0xbe, 0xef}, "deadbeef"},
		{"jsonb compacts", types.TypeJSONB, `{"a": 1,  "b": [true]}`, `{"a":1,"b":[true]}`},
		{"ref", types.TypeRef, types.MakeEntityID(types.PartitionUser, 3), "562949953421315"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Encode(tc.vt, tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	ts := time.Date(2023, 4, 5, 6, 7, 8, 910_000_000, time.UTC)

	tests := []struct {
		vt types.ValueType
		in interface{}
	}{
		{types.TypeText, "hello"},
		{types.TypeInt4, int32(42)},
		{types.TypeInt8, int64(-99)},
		{types.TypeFloat8, 2.25},
		{types.TypeBool, true},
		{types.TypeTimestamptz, ts},
		{types.TypeDate, time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)},
		{types.TypeUUID, uuid.MustParse("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11")},
		{types.TypeBytea, []byte{1, 2, 3}},
		{types.TypeRef, types.EntityID(512)},
	}
	for _, tc := range tests {
		t.Run(tc.vt.String(), func(t *testing.T) {
			raw, err := Encode(tc.vt, tc.in)
			require.NoError(t, err)
			back, err := Decode(tc.vt, raw)
			require.NoError(t, err)
			assert.Equal(t, tc.in, back)
		})
	}
}

func TestDecodeJSONB(t *testing.T) {
	back, err := Decode(types.TypeJSONB, `{"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"x":1}`), back)
}

func TestCoercionFailures(t *testing.T) {
	tests := []struct {
		name string
		vt   types.ValueType
		in   interface{}
	}{
		{"int for text", types.TypeText, 7},
		{"string for int8", types.TypeInt8, "12"},
		{"int4 overflow", types.TypeInt4, int64(1) << 40},
		{"bad numeric", types.TypeNumeric, "12.3.4"},
		{"bad uuid", types.TypeUUID, "not-a-uuid"},
		{"bad json", types.TypeJSONB, `{"a":`},
		{"bool for float", types.TypeFloat8, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.vt, tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, store.ErrValueCoercion), err)
		})
	}

	for _, raw := range []string{"x"} {
		for _, vt := range []types.ValueType{
			types.TypeInt4, types.TypeInt8, types.TypeFloat8, types.TypeBool,
			types.TypeTimestamptz, types.TypeDate, types.TypeUUID, types.TypeJSONB, types.TypeRef,
		} {
			_, err := Decode(vt, raw)
			require.Error(t, err, vt)
			assert.True(t, errors.Is(err, store.ErrValueCoercion), vt)
		}
	}
}

// Every logical type must carry a complete spec; the generated SQL
// dispatch functions are built from these entries.
func TestSpecsAreTotal(t *testing.T) {
	for vt := types.ValueType(0); vt < types.NumValueTypes; vt++ {
		spec := ForType(vt)
		assert.NotEmpty(t, spec.ColumnType, vt)
		assert.NotEmpty(t, spec.DecodeExpr, vt)
		assert.Contains(t, spec.EncodeExpr, "%s", vt)
	}
}

func TestRefUsesBigintColumn(t *testing.T) {
	assert.Equal(t, "bigint", ForType(types.TypeRef).ColumnType)
	assert.Equal(t, "bigint", ForType(types.TypeInt8).ColumnType)
}
