// Package jsonvalue holds schema-free JSON documents (remote properties, widget
// configuration blobs) as a tagged union with optional accessors, so callers never
// assume the shape of a document they did not produce.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one JSON node. The zero value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	a    []Value
	m    map[string]Value
}

func NewNull() Value { return Value{} }
func NewBool(b bool) Value { return Value{kind: Bool, b: b} }
func NewNumber(n float64) Value { return Value{kind: Number, n: n} }
func NewString(s string) Value { return Value{kind: String, s: s} }
func NewArray(a ...Value) Value { return Value{kind: Array, a: a} }
func NewObject(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: Object, m: m}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == Null }

func (v Value) AsBool() (bool, bool) {
	if v.kind != Bool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsNumber() (float64, bool) {
	if v.kind != Number {
		return 0, false
	}
	return v.n, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.s, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != Array {
		return nil, false
	}
	return v.a, true
}

func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != Object {
		return nil, false
	}
	return v.m, true
}

// Get returns the member key of an object value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	member, ok := v.m[key]
	return member, ok
}

func (v Value) String(key string) (string, bool) {
	member, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return member.AsString()
}

func (v Value) Bool(key string) (bool, bool) {
	member, ok := v.Get(key)
	if !ok {
		return false, false
	}
	return member.AsBool()
}

func (v Value) Number(key string) (float64, bool) {
	member, ok := v.Get(key)
	if !ok {
		return 0, false
	}
	return member.AsNumber()
}

func (v Value) Array(key string) ([]Value, bool) {
	member, ok := v.Get(key)
	if !ok {
		return nil, false
	}
	return member.AsArray()
}

func (v Value) Object(key string) (Value, bool) {
	member, ok := v.Get(key)
	if !ok || member.kind != Object {
		return Value{}, false
	}
	return member, true
}

// Path walks nested objects, e.g. Path("status", "name").
func (v Value) Path(keys ...string) (Value, bool) {
	current := v
	for _, key := range keys {
		next, ok := current.Get(key)
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return current, true
}

// Keys returns the object member names in sorted order.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for key := range v.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Null:
		return []byte("null"), nil
	case Bool:
		return json.Marshal(v.b)
	case Number:
		return json.Marshal(v.n)
	case String:
		return json.Marshal(v.s)
	case Array:
		if v.a == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.a)
	case Object:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("jsonvalue: unknown kind %d", int(v.kind))
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("jsonvalue: empty document")
	}
	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = NewBool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = NewString(s)
	case '[':
		var a []Value
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*v = NewArray(a...)
	case '{':
		var m map[string]Value
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*v = NewObject(m)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NewNumber(n)
	}
	return nil
}

// Parse decodes a raw JSON document.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}
