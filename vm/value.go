// Package vm implements the plan execution virtual machine: the variable
// store and expression interpolator, the plan/instruction data model, the
// instruction dispatcher, and the VM state machine that drives them.
package vm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind discriminates the tag of a Value.
type Kind int

// Value kinds. A Value is always exactly one of these.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

// String renders the kind name for error messages and debugging.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the tagged union the VM operates on: null, boolean, integer,
// floating-point, string, ordered sequence of Value, or mapping from string
// to Value. It is JSON-isomorphic: every JSON document round-trips through a
// Value without loss of shape, and canonical JSON marshaling (sorted object
// keys) makes Values suitable for content-hashing and diffing.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null is the singular null Value.
var Null = Value{kind: KindNull}

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int constructs an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float constructs a floating-point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String constructs a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array constructs a sequence Value. The slice is copied defensively.
func Array(vs []Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{kind: KindArray, arr: cp}
}

// Object constructs a mapping Value. The map is copied defensively.
func Object(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

// Kind returns the Value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null Value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload. ok is false if v is not a boolean.
func (v Value) AsBool() (val bool, ok bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsInt returns the integer payload. ok is false if v is not an integer.
func (v Value) AsInt() (val int64, ok bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsFloat returns the float payload. ok is false if v is not a float.
func (v Value) AsFloat() (val float64, ok bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

// AsString returns the string payload. ok is false if v is not a string.
func (v Value) AsString() (val string, ok bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsArray returns the sequence payload. ok is false if v is not an array.
func (v Value) AsArray() (val []Value, ok bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsObject returns the mapping payload. ok is false if v is not an object.
func (v Value) AsObject() (val map[string]Value, ok bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// IsNumber reports whether v holds an integer or float.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// Number returns v's numeric payload as a float64 along with whether the
// underlying Value was an integer (so callers can preserve integer results
// when every operand and operation is integer-exact).
func (v Value) Number() (f float64, isInt bool, ok bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true, true
	case KindFloat:
		return v.f, false, true
	default:
		return 0, false, false
	}
}

// ToDisplayString renders a human-readable form used when a Value is interpolated
// into a larger string (case 5 of the assignment rules in §4.1).
func (v Value) ToDisplayString() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return v.s
	default:
		b, _ := v.MarshalJSON()
		return string(b)
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Equal reports whether v and other represent the same value, recursively.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, vv := range v.obj {
			ov, ok := other.obj[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON implements canonical JSON encoding: object keys are sorted so
// that two structurally equal Values always serialize byte-for-byte
// identically (required for content-hashing and snapshot diffing, §4.5).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		parts := make([]json.RawMessage, len(v.arr))
		for i, e := range v.arr {
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			parts[i] = b
		}
		return json.Marshal(parts)
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf []byte
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	default:
		return nil, fmt.Errorf("vm: unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON implements JSON decoding, producing the tagged union shape:
// JSON numbers without a fractional part or exponent decode as KindInt,
// everything else as the obvious kind.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// FromAny converts a decoded-with-UseNumber `any` (as produced by
// encoding/json when the decoder has UseNumber enabled) into a Value.
// json.Number is classified as KindInt when it parses as an integer,
// KindFloat otherwise.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("vm: invalid number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			cv, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			vs[i] = cv
		}
		return Array(vs), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			cv, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = cv
		}
		return Object(m), nil
	default:
		return Value{}, fmt.Errorf("vm: cannot convert %T to Value", raw)
	}
}
