// Package codec maps the closed set of logical value types onto their
// stored representations: the canonical string form kept in
// datoms.v_raw, the typed column of each attribute child relation, and
// the SQL expressions that convert between the two. Everything that
// dispatches on a value type goes through the table in this package.
package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/facetdb/facet/store"
	"github.com/facetdb/facet/types"
)

// Spec describes one logical type's stored representation.
type Spec struct {
	// ColumnType is the host column type of the typed projection.
	ColumnType string

	// DecodeExpr is the SQL expression deriving the typed column from
	// v_raw. It must be immutable: timestamps and dates are therefore
	// carried as epoch counts, bytea as hex.
	DecodeExpr string

	// EncodeExpr is the SQL expression converting a text value (bound
	// as %s) into the canonical v_raw form.
	EncodeExpr string
}

var specs = [types.NumValueTypes]Spec{
	types.TypeText: {
		ColumnType: "text",
		DecodeExpr: "v_raw",
		EncodeExpr: "%s",
	},
	types.TypeInt4: {
		ColumnType: "integer",
		DecodeExpr: "(v_raw::integer)",
		EncodeExpr: "(%s::integer)::text",
	},
	types.TypeInt8: {
		ColumnType: "bigint",
		DecodeExpr: "(v_raw::bigint)",
		EncodeExpr: "(%s::bigint)::text",
	},
	types.TypeFloat4: {
		ColumnType: "real",
		DecodeExpr: "(v_raw::real)",
		EncodeExpr: "(%s::real)::text",
	},
	types.TypeFloat8: {
		ColumnType: "double precision",
		DecodeExpr: "(v_raw::double precision)",
		EncodeExpr: "(%s::double precision)::text",
	},
	types.TypeNumeric: {
		ColumnType: "numeric",
		DecodeExpr: "(v_raw::numeric)",
		EncodeExpr: "(%s::numeric)::text",
	},
	types.TypeBool: {
		ColumnType: "boolean",
		DecodeExpr: "(v_raw::boolean)",
		EncodeExpr: "(%s::boolean)::text",
	},
	types.TypeTimestamptz: {
		// Canonical form is microseconds since the unix epoch; a text
		// timestamp cast would not be immutable.
		ColumnType: "timestamptz",
		DecodeExpr: "to_timestamp((v_raw::bigint)::double precision / 1000000)",
		EncodeExpr: "round(extract(epoch from (%s::timestamptz))::numeric * 1000000)::bigint::text",
	},
	types.TypeDate: {
		// Days since the unix epoch.
		ColumnType: "date",
		DecodeExpr: "(date 'epoch' + v_raw::integer)",
		EncodeExpr: "(%s::date - date 'epoch')::text",
	},
	types.TypeUUID: {
		ColumnType: "uuid",
		DecodeExpr: "(v_raw::uuid)",
		EncodeExpr: "(%s::uuid)::text",
	},
	types.TypeBytea: {
		// Lowercase hex without the \x prefix.
		ColumnType: "bytea",
		DecodeExpr: "decode(v_raw, 'hex')",
		EncodeExpr: "encode(%s::bytea, 'hex')",
	},
	types.TypeJSONB: {
		ColumnType: "jsonb",
		DecodeExpr: "(v_raw::jsonb)",
		EncodeExpr: "(%s::jsonb)::text",
	},
	types.TypeRef: {
		ColumnType: "bigint",
		DecodeExpr: "(v_raw::bigint)",
		EncodeExpr: "(%s::bigint)::text",
	},
}

// ForType returns the Spec of a logical type.
func ForType(vt types.ValueType) Spec {
	return specs[vt]
}

// secondsPerDay converts epoch days for the date type.
const secondsPerDay = 24 * 60 * 60

// Encode converts a Go value into the canonical v_raw string.
func Encode(vt types.ValueType, v interface{}) (string, error) {
	switch vt {
	case types.TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case types.TypeInt4:
		if n, ok := asInt64(v); ok {
			if n < -1<<31 || n > 1<<31-1 {
				return "", fmt.Errorf("Encode() int4 out of range %d: %w", n, store.ErrValueCoercion)
			}
			return strconv.FormatInt(n, 10), nil
		}
	case types.TypeInt8, types.TypeRef:
		if n, ok := asInt64(v); ok {
			return strconv.FormatInt(n, 10), nil
		}
		if e, ok := v.(types.EntityID); ok {
			return strconv.FormatInt(int64(e), 10), nil
		}
	case types.TypeFloat4:
		if f, ok := asFloat64(v); ok {
			return strconv.FormatFloat(f, 'g', -1, 32), nil
		}
	case types.TypeFloat8:
		if f, ok := asFloat64(v); ok {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
	case types.TypeNumeric:
		s, ok := v.(string)
		if !ok {
			if f, okf := asFloat64(v); okf {
				return strconv.FormatFloat(f, 'g', -1, 64), nil
			}
			break
		}
		if _, valid := new(big.Rat).SetString(s); !valid {
			return "", fmt.Errorf("Encode() bad numeric %q: %w", s, store.ErrValueCoercion)
		}
		return s, nil
	case types.TypeBool:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b), nil
		}
	case types.TypeTimestamptz:
		if t, ok := v.(time.Time); ok {
			return strconv.FormatInt(t.UnixNano()/1000, 10), nil
		}
	case types.TypeDate:
		if t, ok := v.(time.Time); ok {
			return strconv.FormatInt(t.UTC().Unix()/secondsPerDay, 10), nil
		}
	case types.TypeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String(), nil
		case string:
			parsed, err := uuid.Parse(u)
			if err != nil {
				return "", fmt.Errorf("Encode() bad uuid %q: %w", u, store.ErrValueCoercion)
			}
			return parsed.String(), nil
		}
	case types.TypeBytea:
		if b, ok := v.([]byte); ok {
			return hex.EncodeToString(b), nil
		}
	case types.TypeJSONB:
		var raw []byte
		switch j := v.(type) {
		case json.RawMessage:
			raw = j
		case []byte:
			raw = j
		case string:
			raw = []byte(j)
		}
		if raw != nil {
			var buf bytes.Buffer
			if err := json.Compact(&buf, raw); err != nil {
				return "", fmt.Errorf("Encode() bad json: %v: %w", err, store.ErrValueCoercion)
			}
			return buf.String(), nil
		}
	}
	return "", fmt.Errorf("Encode() cannot coerce %T to %s: %w", v, vt, store.ErrValueCoercion)
}

// Decode converts a canonical v_raw string back into a Go value.
func Decode(vt types.ValueType, raw string) (interface{}, error) {
	switch vt {
	case types.TypeText:
		return raw, nil
	case types.TypeInt4:
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return int32(n), nil
	case types.TypeInt8:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return n, nil
	case types.TypeRef:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return types.EntityID(n), nil
	case types.TypeFloat4:
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return float32(f), nil
	case types.TypeFloat8:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return f, nil
	case types.TypeNumeric:
		if _, valid := new(big.Rat).SetString(raw); !valid {
			return nil, coercionErr(vt, raw, nil)
		}
		return raw, nil
	case types.TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return b, nil
	case types.TypeTimestamptz:
		micros, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return time.Unix(micros/1e6, (micros%1e6)*1000).UTC(), nil
	case types.TypeDate:
		days, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return time.Unix(days*secondsPerDay, 0).UTC(), nil
	case types.TypeUUID:
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return u, nil
	case types.TypeBytea:
		b, err := hex.DecodeString(raw)
		if err != nil {
			return nil, coercionErr(vt, raw, err)
		}
		return b, nil
	case types.TypeJSONB:
		if !json.Valid([]byte(raw)) {
			return nil, coercionErr(vt, raw, nil)
		}
		return json.RawMessage(raw), nil
	}
	return nil, fmt.Errorf("Decode() unknown value type %d: %w", int(vt), store.ErrUnknownValueType)
}

func coercionErr(vt types.ValueType, raw string, err error) error {
	if err != nil {
		return fmt.Errorf("Decode() bad %s %q: %v: %w", vt, raw, err, store.ErrValueCoercion)
	}
	return fmt.Errorf("Decode() bad %s %q: %w", vt, raw, store.ErrValueCoercion)
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	return 0, false
}
