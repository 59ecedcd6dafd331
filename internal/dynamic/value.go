package dynamic

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Kind discriminates the variants of Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBinary
	KindList
	KindRecord
	KindTagged
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	case KindTagged:
		return "tagged"
	}
	return "unknown"
}

// Value is the self-describing value that flows through the interpreter:
// upstream JSON, GraphQL arguments, and every intermediate resolver value.
type Value interface {
	Kind() Kind
}

type Null struct{}

type Bool bool

type Int int64

type Float float64

type String string

type Binary []byte

type List []Value

// Record is a string-keyed mapping with insertion order preserved.
type Record struct {
	keys   []string
	fields map[string]Value
}

// Tagged is an enum constructor name with an optional payload.
// Options are represented as Tagged{"Some", v} and Tagged{"None", nil}.
type Tagged struct {
	Name  string
	Value Value
}

func (Null) Kind() Kind    { return KindNull }
func (Bool) Kind() Kind    { return KindBool }
func (Int) Kind() Kind     { return KindInt }
func (Float) Kind() Kind   { return KindFloat }
func (String) Kind() Kind  { return KindString }
func (Binary) Kind() Kind  { return KindBinary }
func (List) Kind() Kind    { return KindList }
func (*Record) Kind() Kind { return KindRecord }
func (Tagged) Kind() Kind  { return KindTagged }

// NewRecord returns an empty ordered record.
func NewRecord() *Record {
	return &Record{fields: map[string]Value{}}
}

// RecordOf builds a record from alternating key/value pairs.
func RecordOf(pairs ...any) *Record {
	if len(pairs)%2 != 0 {
		panic("dynamic: RecordOf requires key/value pairs")
	}
	r := NewRecord()
	for i := 0; i < len(pairs); i += 2 {
		r.Set(pairs[i].(string), pairs[i+1].(Value))
	}
	return r
}

// Set inserts or overwrites a field. An overwrite keeps the original position.
func (r *Record) Set(key string, v Value) {
	if r.fields == nil {
		r.fields = map[string]Value{}
	}
	if _, ok := r.fields[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.fields[key] = v
}

// Get returns the field value and whether the key is present.
func (r *Record) Get(key string) (Value, bool) {
	if r == nil || r.fields == nil {
		return nil, false
	}
	v, ok := r.fields[key]
	return v, ok
}

// Delete removes a field, preserving the order of the rest.
func (r *Record) Delete(key string) {
	if r == nil || r.fields == nil {
		return
	}
	if _, ok := r.fields[key]; !ok {
		return
	}
	delete(r.fields, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	return r.keys
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Some wraps v as the present arm of an option.
func Some(v Value) Tagged { return Tagged{Name: "Some", Value: v} }

// None is the absent arm of an option.
func None() Tagged { return Tagged{Name: "None"} }

// IsNull reports whether v is nil or the Null variant.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal compares values structurally. Record comparison is key-set based,
// not order based, matching JSON object equality.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if a.Kind() != b.Kind() {
		// Numeric cross-kind comparison keeps 1 == 1.0.
		if isNumeric(a) && isNumeric(b) {
			return numeric(a) == numeric(b)
		}
		return false
	}
	switch av := a.(type) {
	case Bool:
		return av == b.(Bool)
	case Int:
		return av == b.(Int)
	case Float:
		return av == b.(Float)
	case String:
		return av == b.(String)
	case Binary:
		return bytes.Equal(av, b.(Binary))
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Record:
		bv := b.(*Record)
		if av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.keys {
			w, ok := bv.Get(k)
			if !ok || !Equal(av.fields[k], w) {
				return false
			}
		}
		return true
	case Tagged:
		bv := b.(Tagged)
		return av.Name == bv.Name && Equal(av.Value, bv.Value)
	}
	return false
}

func isNumeric(v Value) bool {
	k := v.Kind()
	return k == KindInt || k == KindFloat
}

func numeric(v Value) float64 {
	switch n := v.(type) {
	case Int:
		return float64(n)
	case Float:
		return float64(n)
	}
	return 0
}

// Text renders v the way mustache substitution stringifies a leaf:
// strings unquoted, numbers and booleans in canonical form, structured
// values as compact JSON.
func Text(v Value) string {
	switch t := v.(type) {
	case nil, Null:
		return "null"
	case Bool:
		return strconv.FormatBool(bool(t))
	case Int:
		return strconv.FormatInt(int64(t), 10)
	case Float:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case String:
		return string(t)
	case Tagged:
		if t.Name == "Some" {
			return Text(t.Value)
		}
		if t.Name == "None" {
			return "null"
		}
	}
	b, err := EncodeJSON(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.Kind())
	}
	return string(b)
}

// FromAny converts plain Go values (the shapes produced by encoding/json and
// gqlparser variable coercion) into Values. Map key order is not observable
// on map[string]any inputs, so keys are sorted for determinism.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(t)
	case int32:
		return Int(t)
	case int64:
		return Int(t)
	case uint64:
		return Int(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case float32:
		return FromAny(float64(t))
	case string:
		return String(t)
	case []byte:
		return Binary(t)
	case []any:
		out := make(List, len(t))
		for i := range t {
			out[i] = FromAny(t[i])
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		r := NewRecord()
		for _, k := range keys {
			r.Set(k, FromAny(t[k]))
		}
		return r
	}
	return String(fmt.Sprint(v))
}

// ToAny converts a Value into plain Go values for JSON encoding boundaries
// that do not need ordering.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case String:
		return string(t)
	case Binary:
		return []byte(t)
	case List:
		out := make([]any, len(t))
		for i := range t {
			out[i] = ToAny(t[i])
		}
		return out
	case *Record:
		out := make(map[string]any, t.Len())
		for _, k := range t.keys {
			out[k] = ToAny(t.fields[k])
		}
		return out
	case Tagged:
		switch t.Name {
		case "Some":
			return ToAny(t.Value)
		case "None":
			return nil
		}
		return map[string]any{t.Name: ToAny(t.Value)}
	}
	return nil
}
