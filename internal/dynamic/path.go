package dynamic

import "strconv"

// Path walks v by the given segments: record lookup by key, list lookup by
// decimal index, Some unwrapped transparently. The boolean reports whether
// every segment resolved.
func Path(v Value, segments []string) (Value, bool) {
	cur := v
	for _, seg := range segments {
		if t, ok := cur.(Tagged); ok {
			switch t.Name {
			case "Some":
				cur = t.Value
			case "None":
				return nil, false
			}
		}
		switch c := cur.(type) {
		case *Record:
			next, ok := c.Get(seg)
			if !ok {
				return nil, false
			}
			cur = next
		case List:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
