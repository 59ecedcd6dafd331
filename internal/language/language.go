// Package language wraps the gqlparser AST behind local names and adds the
// query manipulation helpers the gateway needs: parsing, fragment flattening
// and selection-set printing for upstream forwarding.
package language

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Flatten inlines every fragment spread and inline fragment in set, using doc
// to look up named fragments. Upstream services never see our fragment names.
func Flatten(doc *QueryDocument, set SelectionSet) SelectionSet {
	return flatten(doc, set, map[string]bool{})
}

func flatten(doc *QueryDocument, set SelectionSet, seen map[string]bool) SelectionSet {
	out := make(SelectionSet, 0, len(set))
	for _, sel := range set {
		switch s := sel.(type) {
		case *Field:
			if len(s.SelectionSet) == 0 {
				out = append(out, s)
				continue
			}
			c := *s
			c.SelectionSet = flatten(doc, s.SelectionSet, seen)
			out = append(out, &c)
		case *InlineFragment:
			out = append(out, flatten(doc, s.SelectionSet, seen)...)
		case *FragmentSpread:
			if seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			if def := doc.Fragments.ForName(s.Name); def != nil {
				out = append(out, flatten(doc, def.SelectionSet, seen)...)
			}
			delete(seen, s.Name)
		}
	}
	return out
}

// FormatSelectionSet renders a flattened selection set back to GraphQL query
// syntax, compactly.
func FormatSelectionSet(set SelectionSet) string {
	var b strings.Builder
	writeSelectionSet(&b, set)
	return b.String()
}

func writeSelectionSet(b *strings.Builder, set SelectionSet) {
	b.WriteString("{ ")
	for _, sel := range set {
		f, ok := sel.(*Field)
		if !ok {
			continue
		}
		if f.Alias != "" && f.Alias != f.Name {
			b.WriteString(f.Alias)
			b.WriteString(": ")
		}
		b.WriteString(f.Name)
		if len(f.Arguments) > 0 {
			b.WriteByte('(')
			for i, arg := range f.Arguments {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(arg.Name)
				b.WriteString(": ")
				b.WriteString(arg.Value.String())
			}
			b.WriteByte(')')
		}
		if len(f.SelectionSet) > 0 {
			b.WriteByte(' ')
			writeSelectionSet(b, f.SelectionSet)
		}
		b.WriteByte(' ')
	}
	b.WriteString("}")
}
