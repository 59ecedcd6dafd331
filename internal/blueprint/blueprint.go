// Package blueprint is the compiled, validated, content-addressed form of a
// gateway configuration: the runtime schema, its field resolvers, batching
// and caching hints. Blueprints are immutable after compilation.
package blueprint

import (
	"time"

	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/expr"
)

type Blueprint struct {
	QueryType    string
	MutationType string
	Types        map[string]*Type

	Server   ServerOptions
	Upstream UpstreamOptions

	// Vars are server-level static variables exposed to resolver templates.
	Vars map[string]string
}

type TypeKind string

const (
	KindScalar      TypeKind = "SCALAR"
	KindObject      TypeKind = "OBJECT"
	KindInputObject TypeKind = "INPUT_OBJECT"
	KindEnum        TypeKind = "ENUM"
)

type Type struct {
	Name       string
	Kind       TypeKind
	Fields     []*Field    // OBJECT
	Inputs     []*Argument // INPUT_OBJECT
	EnumValues []string    // ENUM
}

func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type Field struct {
	Name string
	Type *TypeRef
	Args []*Argument

	// Resolver is nil for plain projection fields; otherwise an expression of
	// shape Context -> DynamicValue.
	Resolver expr.Expr

	// Group is the batching hint when the resolver's endpoint call is
	// batchable.
	Group *expr.Group

	// Cache enables the HTTP cache for this field's upstream call.
	Cache *CacheHint
}

// HasResolver reports whether the field resolves through an expression
// rather than projecting from its parent value.
func (f *Field) HasResolver() bool { return f.Resolver != nil }

// IsAsync reports whether resolving the field suspends on upstream I/O.
// Projection fields and pure expressions resolve synchronously.
func (f *Field) IsAsync() bool { return f.Resolver != nil && expr.HasEndpointCall(f.Resolver) }

type Argument struct {
	Name    string
	Type    *TypeRef
	Default dynamic.Value
}

type CacheHint struct {
	MaxAge time.Duration
}

type ServerOptions struct {
	Port            int
	Hostname        string
	Timeout         time.Duration
	QueryValidation bool
}

type UpstreamOptions struct {
	BaseURL        string
	HTTPCache      bool
	AllowedHeaders []string
	Batch          BatchOptions
	Proxy          string
}

type BatchOptions struct {
	Delay   time.Duration
	MaxSize int
	Headers []string
}

// TypeRef mirrors GraphQL type wrapping: named, list, non-null.
type TypeRef struct {
	Named   string
	Elem    *TypeRef // list element
	NonNull bool
}

func Named(name string) *TypeRef            { return &TypeRef{Named: name} }
func ListOf(elem *TypeRef) *TypeRef         { return &TypeRef{Elem: elem} }
func NonNull(inner *TypeRef) *TypeRef       { c := *inner; c.NonNull = true; return &c }
func (t *TypeRef) IsNonNull() bool          { return t != nil && t.NonNull }
func (t *TypeRef) IsList() bool             { return t != nil && t.Elem != nil }

// Unwrap strips one layer: non-null first, then list.
func (t *TypeRef) Unwrap() *TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		c := *t
		c.NonNull = false
		return &c
	}
	if t.Elem != nil {
		return t.Elem
	}
	return t
}

// NamedType reaches the innermost named type.
func (t *TypeRef) NamedType() string {
	cur := t
	for cur != nil {
		if cur.Named != "" {
			return cur.Named
		}
		cur = cur.Elem
	}
	return ""
}

func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	var s string
	if t.Elem != nil {
		s = "[" + t.Elem.String() + "]"
	} else {
		s = t.Named
	}
	if t.NonNull {
		s += "!"
	}
	return s
}

// Query returns the root query type, nil when absent.
func (b *Blueprint) Query() *Type { return b.Types[b.QueryType] }

// Mutation returns the root mutation type, nil when absent.
func (b *Blueprint) Mutation() *Type { return b.Types[b.MutationType] }

// HasCacheHints reports whether any field declares an explicit cache maxAge.
func (b *Blueprint) HasCacheHints() bool {
	for _, t := range b.Types {
		for _, f := range t.Fields {
			if f.Cache != nil {
				return true
			}
		}
	}
	return false
}

// IsLeaf reports whether the named type completes without a selection set.
func (b *Blueprint) IsLeaf(name string) bool {
	t, ok := b.Types[name]
	if !ok {
		// Unknown types are treated as scalars; built-ins are pre-seeded.
		return true
	}
	return t.Kind == KindScalar || t.Kind == KindEnum
}

// BuiltinScalars are always present in a compiled blueprint.
var BuiltinScalars = []string{"String", "Int", "Float", "Boolean", "ID", "JSON"}

// WithBuiltins seeds the scalar types every blueprint carries.
func (b *Blueprint) WithBuiltins() *Blueprint {
	if b.Types == nil {
		b.Types = map[string]*Type{}
	}
	for _, s := range BuiltinScalars {
		if _, ok := b.Types[s]; !ok {
			b.Types[s] = &Type{Name: s, Kind: KindScalar}
		}
	}
	return b
}
