package types

import "fmt"

// ValueType enumerates the logical types an attribute can hold. The set
// is closed; adding a member requires a new type entity at bootstrap.
type ValueType int

const (
	TypeText ValueType = iota
	TypeInt4
	TypeInt8
	TypeFloat4
	TypeFloat8
	TypeNumeric
	TypeBool
	TypeTimestamptz
	TypeDate
	TypeUUID
	TypeBytea
	TypeJSONB
	TypeRef
)

// NumValueTypes is the size of the closed ValueType set.
const NumValueTypes = 13

var valueTypeNames = [NumValueTypes]string{
	"text", "int4", "int8", "float4", "float8", "numeric", "bool",
	"timestamptz", "date", "uuid", "bytea", "jsonb", "ref",
}

func (vt ValueType) String() string {
	if vt < 0 || int(vt) >= len(valueTypeNames) {
		return fmt.Sprintf("ValueType(%d)", int(vt))
	}
	return valueTypeNames[vt]
}

// Ident returns the bootstrap ident of the type entity, e.g. "db.type/int8".
func (vt ValueType) Ident() string {
	return "db.type/" + vt.String()
}

// Entity returns the fixed bootstrap entity id of the type, e.g. 100 for text.
func (vt ValueType) Entity() EntityID {
	return EntityID(100 + int64(vt))
}

// ValueTypeFromName parses a bare type name ("int8") or a full ident
// ("db.type/int8"). ok is false for anything outside the closed set.
func ValueTypeFromName(name string) (ValueType, bool) {
	const prefix = "db.type/"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		name = name[len(prefix):]
	}
	for i, n := range valueTypeNames {
		if n == name {
			return ValueType(i), true
		}
	}
	return 0, false
}

// ValueTypeFromEntity maps a bootstrap type entity id back to the enum.
func ValueTypeFromEntity(e EntityID) (ValueType, bool) {
	if e < 100 || e >= 100+NumValueTypes {
		return 0, false
	}
	return ValueType(e - 100), true
}

// Cardinality says how many current values an attribute may carry per entity.
type Cardinality int

const (
	// CardinalityOne allows at most one current datom per (e, a).
	CardinalityOne Cardinality = iota
	// CardinalityMany allows a set of current datoms per (e, a).
	CardinalityMany
)

func (c Cardinality) String() string {
	if c == CardinalityMany {
		return "many"
	}
	return "one"
}

// Ident returns the bootstrap ident, e.g. "db.cardinality/many".
func (c Cardinality) Ident() string {
	return "db.cardinality/" + c.String()
}

// Entity returns the fixed bootstrap entity id (200 one, 201 many).
func (c Cardinality) Entity() EntityID {
	return EntityID(200 + int64(c))
}

// CardinalityFromName parses "one"/"many" or the full ident form.
func CardinalityFromName(name string) (Cardinality, bool) {
	switch name {
	case "one", "db.cardinality/one":
		return CardinalityOne, true
	case "many", "db.cardinality/many":
		return CardinalityMany, true
	}
	return 0, false
}

// Unique is declared metadata only; the core does not enforce it.
type Unique int

const (
	// UniqueNone means no uniqueness declared.
	UniqueNone Unique = iota
	// UniqueIdentity marks the attribute as an external identifier.
	UniqueIdentity
	// UniqueValue declares value uniqueness.
	UniqueValue
)

func (u Unique) String() string {
	switch u {
	case UniqueIdentity:
		return "identity"
	case UniqueValue:
		return "value"
	}
	return ""
}

// Ident returns the bootstrap ident, e.g. "db.unique/identity", or ""
// for UniqueNone.
func (u Unique) Ident() string {
	if u == UniqueNone {
		return ""
	}
	return "db.unique/" + u.String()
}

// Entity returns the fixed bootstrap entity id (210 identity, 211
// value) or 0 for UniqueNone.
func (u Unique) Entity() EntityID {
	switch u {
	case UniqueIdentity:
		return 210
	case UniqueValue:
		return 211
	}
	return 0
}

// UniqueFromName parses "identity"/"value", full idents, or "" (none).
func UniqueFromName(name string) (Unique, bool) {
	switch name {
	case "":
		return UniqueNone, true
	case "identity", "db.unique/identity":
		return UniqueIdentity, true
	case "value", "db.unique/value":
		return UniqueValue, true
	}
	return 0, false
}
