package executor

import (
	"testing"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/endpoint"
	"github.com/weavegql/weave/internal/expr"
	"github.com/weavegql/weave/internal/language"
)

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

// asyncResolver marks a blueprint field async; the MockRuntime supplies the
// actual value, so the endpoint here is never called.
func asyncResolver() expr.Expr {
	return expr.EndpointCall{Endpoint: &endpoint.Endpoint{
		Scheme: "http", Host: "upstream.test", Path: "/",
	}}
}

// field builds an async test field.
func asyncField(name string, typ *blueprint.TypeRef) *blueprint.Field {
	return &blueprint.Field{Name: name, Type: typ, Resolver: asyncResolver()}
}

// syncField builds a projection test field.
func syncField(name string, typ *blueprint.TypeRef) *blueprint.Field {
	return &blueprint.Field{Name: name, Type: typ}
}
