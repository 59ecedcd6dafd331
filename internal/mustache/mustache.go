// Package mustache implements the tiny {{a.b.c}} template language used by
// endpoint paths, query values, headers, and bodies.
package mustache

import (
	"encoding/json"
	"strings"

	"github.com/weavegql/weave/internal/dynamic"
)

// Template is a parsed sequence of segments.
type Template struct {
	Segments []Segment
}

// Segment is either literal text or a dotted parameter path.
type Segment struct {
	Text string
	Path []string // non-empty for parameter segments
}

func (s Segment) IsParam() bool { return len(s.Path) > 0 }

// Parse accepts Mustache ::= (Text | "{{" Ident ("." Ident)* "}}")*.
// Malformed braces are kept as literal text, so Parse is total.
func Parse(s string) Template {
	var segs []Segment
	for len(s) > 0 {
		open := strings.Index(s, "{{")
		if open < 0 {
			segs = append(segs, Segment{Text: s})
			break
		}
		close_ := strings.Index(s[open:], "}}")
		if close_ < 0 {
			segs = append(segs, Segment{Text: s})
			break
		}
		close_ += open
		inner := strings.TrimSpace(s[open+2 : close_])
		path := splitPath(inner)
		if path == nil {
			// Not a valid parameter; emit up to and including the braces as text.
			segs = append(segs, Segment{Text: s[:close_+2]})
			s = s[close_+2:]
			continue
		}
		if open > 0 {
			segs = append(segs, Segment{Text: s[:open]})
		}
		segs = append(segs, Segment{Path: path})
		s = s[close_+2:]
	}
	return Template{Segments: segs}
}

func splitPath(inner string) []string {
	if inner == "" {
		return nil
	}
	// A leading dot is tolerated: "{{.company}}" means "{{company}}".
	inner = strings.TrimPrefix(inner, ".")
	parts := strings.Split(inner, ".")
	for _, p := range parts {
		if !isIdent(p) {
			return nil
		}
	}
	return parts
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// IsConst reports whether the template contains no parameters.
func (t Template) IsConst() bool {
	for _, s := range t.Segments {
		if s.IsParam() {
			return false
		}
	}
	return true
}

// String is the inverse of Parse on the template grammar.
func (t Template) String() string {
	var sb strings.Builder
	for _, s := range t.Segments {
		if s.IsParam() {
			sb.WriteString("{{")
			sb.WriteString(strings.Join(s.Path, "."))
			sb.WriteString("}}")
		} else {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// Evaluate substitutes each parameter by walking v. A parameter that does not
// resolve re-emits as its literal {{...}} form.
func (t Template) Evaluate(v dynamic.Value) string {
	var sb strings.Builder
	for _, s := range t.Segments {
		if !s.IsParam() {
			sb.WriteString(s.Text)
			continue
		}
		leaf, ok := dynamic.Path(v, s.Path)
		if !ok {
			sb.WriteString("{{")
			sb.WriteString(strings.Join(s.Path, "."))
			sb.WriteString("}}")
			continue
		}
		sb.WriteString(dynamic.Text(leaf))
	}
	return sb.String()
}

// EvaluateValue substitutes parameters inside a JSON-shaped template value:
// string leaves are rendered as templates, and a rendered leaf that parses as
// JSON is inlined as that value rather than a string. Non-string leaves pass
// through unchanged.
func EvaluateValue(tmpl dynamic.Value, input dynamic.Value) dynamic.Value {
	switch t := tmpl.(type) {
	case dynamic.String:
		parsed := Parse(string(t))
		if parsed.IsConst() {
			return t
		}
		rendered := parsed.Evaluate(input)
		if json.Valid([]byte(rendered)) {
			if v, err := dynamic.DecodeJSON([]byte(rendered)); err == nil {
				return v
			}
		}
		return dynamic.String(rendered)
	case dynamic.List:
		out := make(dynamic.List, len(t))
		for i, item := range t {
			out[i] = EvaluateValue(item, input)
		}
		return out
	case *dynamic.Record:
		out := dynamic.NewRecord()
		for _, k := range t.Keys() {
			f, _ := t.Get(k)
			out.Set(k, EvaluateValue(f, input))
		}
		return out
	}
	return tmpl
}
