package vss

import (
	"encoding/json"
	"math"
)

// Datatype is the set of leaf datatypes spec.md §3 allows.
type Datatype string

const (
	DatatypeUint8   Datatype = "uint8"
	DatatypeUint16  Datatype = "uint16"
	DatatypeUint32  Datatype = "uint32"
	DatatypeUint64  Datatype = "uint64"
	DatatypeInt8    Datatype = "int8"
	DatatypeInt16   Datatype = "int16"
	DatatypeInt32   Datatype = "int32"
	DatatypeInt64   Datatype = "int64"
	DatatypeFloat   Datatype = "float"
	DatatypeDouble  Datatype = "double"
	DatatypeBoolean Datatype = "boolean"
	DatatypeString  Datatype = "string"
)

func (d Datatype) isValid() bool {
	switch d {
	case DatatypeUint8, DatatypeUint16, DatatypeUint32, DatatypeUint64,
		DatatypeInt8, DatatypeInt16, DatatypeInt32, DatatypeInt64,
		DatatypeFloat, DatatypeDouble, DatatypeBoolean, DatatypeString:
		return true
	default:
		return false
	}
}

// ValueKind tags the dynamic JSON sum type a Value holds.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt
	ValueUint
	ValueFloat
	ValueString
)

// Value is the tagged variant described in spec.md §9: values flow through
// the system as a dynamic JSON sum type and get coerced to the leaf's
// declared datatype only at the tree boundary.
type Value struct {
	Kind ValueKind
	B    bool
	I    int64
	U    uint64
	F    float64
	S    string
}

var NullValue = Value{Kind: ValueNull}

func ValueFromBool(b bool) Value    { return Value{Kind: ValueBool, B: b} }
func ValueFromInt(i int64) Value    { return Value{Kind: ValueInt, I: i} }
func ValueFromUint(u uint64) Value  { return Value{Kind: ValueUint, U: u} }
func ValueFromFloat(f float64) Value { return Value{Kind: ValueFloat, F: f} }
func ValueFromString(s string) Value { return Value{Kind: ValueString, S: s} }

// ValueFromJSON decodes a raw JSON scalar into a Value without knowledge of
// the target datatype; the coercion against a declared datatype happens
// later in coerce().
func ValueFromJSON(raw json.RawMessage) (Value, error) {
	var any_ any
	if err := json.Unmarshal(raw, &any_); err != nil {
		return NullValue, newError(KindMalformedRequest, "invalid value: %s", err)
	}
	return valueFromAny(any_)
}

func valueFromAny(any_ any) (Value, error) {
	switch v := any_.(type) {
	case nil:
		return NullValue, nil
	case bool:
		return ValueFromBool(v), nil
	case float64:
		return ValueFromFloat(v), nil
	case string:
		return ValueFromString(v), nil
	default:
		return NullValue, newError(KindMalformedRequest, "unsupported value type %T", any_)
	}
}

// MarshalJSON renders the Value back to its natural JSON scalar, used both
// for "get" responses and for dumpMetadata's default round trip.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNull:
		return json.Marshal(nil)
	case ValueBool:
		return json.Marshal(v.B)
	case ValueInt:
		return json.Marshal(v.I)
	case ValueUint:
		return json.Marshal(v.U)
	case ValueFloat:
		return json.Marshal(v.F)
	case ValueString:
		return json.Marshal(v.S)
	default:
		return json.Marshal(nil)
	}
}

func (v Value) isNull() bool {
	return v.Kind == ValueNull
}

var intRanges = map[Datatype][2]int64{
	DatatypeInt8:  {math.MinInt8, math.MaxInt8},
	DatatypeInt16: {math.MinInt16, math.MaxInt16},
	DatatypeInt32: {math.MinInt32, math.MaxInt32},
	DatatypeInt64: {math.MinInt64, math.MaxInt64},
}

var uintRanges = map[Datatype][2]uint64{
	DatatypeUint8:  {0, math.MaxUint8},
	DatatypeUint16: {0, math.MaxUint16},
	DatatypeUint32: {0, math.MaxUint32},
	DatatypeUint64: {0, math.MaxUint64},
}

// coerce applies the type-coercion rules of spec.md §4.2 and returns the
// Value normalized to the declared datatype's Kind, or a *Error with Kind
// TypeMismatch/OutOfBounds.
func coerce(datatype Datatype, v Value) (Value, error) {
	switch datatype {
	case DatatypeBoolean:
		if v.Kind != ValueBool {
			return NullValue, newError(KindTypeMismatch, "expected boolean, got %v", v.Kind)
		}
		return v, nil

	case DatatypeString:
		if v.Kind != ValueString {
			return NullValue, newError(KindTypeMismatch, "expected string, got %v", v.Kind)
		}
		return v, nil

	case DatatypeFloat, DatatypeDouble:
		f, ok := numericValue(v)
		if !ok {
			return NullValue, newError(KindTypeMismatch, "expected number, got %v", v.Kind)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return NullValue, newError(KindOutOfBounds, "value is not finite")
		}
		return ValueFromFloat(f), nil

	default:
		if rng, ok := intRanges[datatype]; ok {
			f, numeric := numericValue(v)
			if !numeric || f != math.Trunc(f) {
				return NullValue, newError(KindTypeMismatch, "expected integer, got %v", v.Kind)
			}
			i := int64(f)
			if float64(i) != f || i < rng[0] || i > rng[1] {
				return NullValue, newError(KindOutOfBounds, "value passed is out of bounds")
			}
			return ValueFromInt(i), nil
		}
		if rng, ok := uintRanges[datatype]; ok {
			f, numeric := numericValue(v)
			if !numeric || f != math.Trunc(f) || f < 0 {
				return NullValue, newError(KindTypeMismatch, "expected unsigned integer, got %v", v.Kind)
			}
			u := uint64(f)
			if float64(u) != f || u < rng[0] || u > rng[1] {
				return NullValue, newError(KindOutOfBounds, "value passed is out of bounds")
			}
			return ValueFromUint(u), nil
		}
		return NullValue, newError(KindSchemaError, "unknown datatype %q", datatype)
	}
}

func numericValue(v Value) (float64, bool) {
	switch v.Kind {
	case ValueFloat:
		return v.F, true
	case ValueInt:
		return float64(v.I), true
	case ValueUint:
		return float64(v.U), true
	default:
		return 0, false
	}
}
