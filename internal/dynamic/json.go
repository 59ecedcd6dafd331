package dynamic

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// DecodeJSON parses raw JSON into a Value. Object key order is preserved,
// which is what jsonparser gives us and encoding/json does not.
func DecodeJSON(data []byte) (Value, error) {
	v, dt, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, fmt.Errorf("dynamic: decode json: %w", err)
	}
	return fromParsed(v, dt)
}

func fromParsed(data []byte, dt jsonparser.ValueType) (Value, error) {
	switch dt {
	case jsonparser.Null:
		return Null{}, nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(data)
		if err != nil {
			return nil, err
		}
		return Bool(b), nil
	case jsonparser.Number:
		s := string(data)
		if !strings.ContainsAny(s, ".eE") {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return Int(n), nil
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(data)
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case jsonparser.Array:
		out := List{}
		var inner error
		_, err := jsonparser.ArrayEach(data, func(item []byte, idt jsonparser.ValueType, _ int, _ error) {
			if inner != nil {
				return
			}
			v, err := fromParsed(item, idt)
			if err != nil {
				inner = err
				return
			}
			out = append(out, v)
		})
		if err != nil {
			return nil, err
		}
		if inner != nil {
			return nil, inner
		}
		return out, nil
	case jsonparser.Object:
		r := NewRecord()
		err := jsonparser.ObjectEach(data, func(key []byte, value []byte, vdt jsonparser.ValueType, _ int) error {
			v, err := fromParsed(value, vdt)
			if err != nil {
				return err
			}
			r.Set(string(key), v)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("dynamic: unsupported json value type %v", dt)
}

// EncodeJSON renders v as compact JSON. Record fields keep insertion order.
func EncodeJSON(v Value) ([]byte, error) {
	var sb strings.Builder
	if err := appendJSON(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func appendJSON(sb *strings.Builder, v Value) error {
	switch t := v.(type) {
	case nil, Null:
		sb.WriteString("null")
	case Bool:
		sb.WriteString(strconv.FormatBool(bool(t)))
	case Int:
		sb.WriteString(strconv.FormatInt(int64(t), 10))
	case Float:
		sb.WriteString(strconv.FormatFloat(float64(t), 'f', -1, 64))
	case String:
		sb.WriteString(strconv.Quote(string(t)))
	case Binary:
		// Binary round-trips as a JSON string.
		sb.WriteString(strconv.Quote(string(t)))
	case List:
		sb.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := appendJSON(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case *Record:
		sb.WriteByte('{')
		for i, k := range t.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			f, _ := t.Get(k)
			if err := appendJSON(sb, f); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case Tagged:
		switch t.Name {
		case "Some":
			return appendJSON(sb, t.Value)
		case "None":
			sb.WriteString("null")
		default:
			sb.WriteByte('{')
			sb.WriteString(strconv.Quote(t.Name))
			sb.WriteByte(':')
			if err := appendJSON(sb, t.Value); err != nil {
				return err
			}
			sb.WriteByte('}')
		}
	default:
		return fmt.Errorf("dynamic: cannot encode %T", v)
	}
	return nil
}

// MarshalJSON lets ordered records pass through encoding/json unharmed.
func (r *Record) MarshalJSON() ([]byte, error) { return EncodeJSON(r) }

func (l List) MarshalJSON() ([]byte, error) { return EncodeJSON(l) }
