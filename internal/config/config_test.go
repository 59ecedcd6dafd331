package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/expr"
)

const sampleSDL = `
schema @server(port: 9000, vars: {token: "s3cret"}) @upstream(baseURL: "http://api.internal:8080", httpCache: true, allowedHeaders: ["Authorization"], batch: {delay: 5, maxSize: 100}) {
  query: Query
}

type Query {
  user(id: Int!): User @http(path: "/users/{{args.id}}")
  users: [User] @http(path: "/users")
  version: String @const(data: "1.4.2")
}

type User {
  id: Int!
  name: String
  companyName: String @http(path: "/users/{{value.id}}", select: "{{.company.name}}")
  posts: [Post] @http(path: "/posts", query: [{key: "userId", value: "{{value.id}}"}], groupBy: ["userId"])
}

type Post {
  id: Int!
  title: String
  secret: String @omit
}

enum Role {
  ADMIN
  MEMBER
}
`

func TestFromSDL(t *testing.T) {
	c, err := FromSDL(sampleSDL)
	require.NoError(t, err)

	require.Equal(t, "Query", c.Schema.Query)
	require.Equal(t, 9000, c.Server.Port)
	require.Equal(t, map[string]string{"token": "s3cret"}, c.Server.Vars)
	require.Equal(t, "http://api.internal:8080", c.Upstream.BaseURL)
	require.True(t, c.Upstream.HTTPCache)
	require.Equal(t, []string{"Authorization"}, c.Upstream.AllowedHeaders)
	require.NotNil(t, c.Upstream.Batch)
	require.Equal(t, 5, c.Upstream.Batch.Delay)
	require.Equal(t, 100, c.Upstream.Batch.MaxSize)

	user := c.Types["User"]
	require.NotNil(t, user)
	require.Equal(t, &Field{Type: "Int", Required: true}, user.Fields["id"])

	posts := user.Fields["posts"]
	require.True(t, posts.List)
	require.Equal(t, []string{"userId"}, posts.HTTP.GroupBy)
	require.Equal(t, []KV{{Key: "userId", Value: "{{value.id}}"}}, posts.HTTP.Query)

	company := user.Fields["companyName"]
	require.Equal(t, "{{.company.name}}", company.HTTP.Select)

	userArg := c.Types["Query"].Fields["user"].Args["id"]
	require.Equal(t, &Arg{Type: "Int", Required: true}, userArg)

	require.Equal(t, []string{"ADMIN", "MEMBER"}, c.Types["Role"].Variants)
	require.True(t, c.Types["Post"].Fields["secret"].Omit)
}

func TestFormatRoundTrips(t *testing.T) {
	want, err := FromSDL(sampleSDL)
	require.NoError(t, err)
	want.Compress()

	for _, format := range []Format{FormatJSON, FormatYAML, FormatSDL} {
		t.Run(string(format), func(t *testing.T) {
			encoded, err := Encode(want, format)
			require.NoError(t, err)
			got, err := Decode(encoded, format)
			require.NoError(t, err)
			got.Compress()
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("round trip through %s changed the config:\n%s", format, diff)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	for name, want := range map[string]Format{
		"app.json":    FormatJSON,
		"app.yml":     FormatYAML,
		"app.yaml":    FormatYAML,
		"app.graphql": FormatSDL,
		"app.gql":     FormatSDL,
	} {
		got, err := DetectFormat(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := DetectFormat("app.toml")
	require.Error(t, err)
}

func TestCompile(t *testing.T) {
	c, err := FromSDL(sampleSDL)
	require.NoError(t, err)
	bp, err := Compile(c)
	require.NoError(t, err)

	require.Equal(t, "Query", bp.QueryType)
	require.Equal(t, 9000, bp.Server.Port)
	require.Equal(t, 30*time.Second, bp.Server.Timeout)
	require.Equal(t, 5*time.Millisecond, bp.Upstream.Batch.Delay)
	require.Equal(t, map[string]string{"token": "s3cret"}, bp.Vars)

	user := bp.Types["Query"].Field("user")
	require.NotNil(t, user)
	require.True(t, user.IsAsync())
	call, ok := user.Resolver.(expr.EndpointCall)
	require.True(t, ok)
	require.Equal(t, "GET", call.Endpoint.Method)
	require.Equal(t, "api.internal", call.Endpoint.Host)
	require.Equal(t, 8080, call.Endpoint.Port)
	require.Equal(t, "/users/{{args.id}}", call.Endpoint.Path)

	version := bp.Types["Query"].Field("version")
	require.Equal(t, expr.Literal{Value: dynamic.String("1.4.2")}, version.Resolver)
	require.False(t, version.IsAsync())

	posts := bp.Types["User"].Field("posts")
	require.NotNil(t, posts.Group)
	require.Equal(t, "userId", posts.Group.Key)
	require.Equal(t, []string{"userId"}, posts.Group.BatchKey)
	require.True(t, posts.Group.ExpectList)

	company := bp.Types["User"].Field("companyName")
	pipe, ok := company.Resolver.(expr.Pipe)
	require.True(t, ok)
	require.Equal(t, expr.Select{Path: "company.name"}, pipe.Second)

	// @omit drops the field from the compiled type.
	require.Nil(t, bp.Types["Post"].Field("secret"))

	// Built-in scalars are seeded.
	require.True(t, bp.IsLeaf("JSON"))
}

func TestCompile_Defaults(t *testing.T) {
	c, err := FromSDL(`
schema @upstream(baseURL: "http://example.com") { query: Query }
type Query { ping: String @http(path: "/ping") }
`)
	require.NoError(t, err)
	bp, err := Compile(c)
	require.NoError(t, err)

	require.Equal(t, DefaultPort, bp.Server.Port)
	require.Equal(t, time.Duration(DefaultTimeout)*time.Millisecond, bp.Server.Timeout)
	require.Equal(t, time.Duration(DefaultBatchDelay)*time.Millisecond, bp.Upstream.Batch.Delay)

	call := bp.Types["Query"].Field("ping").Resolver.(expr.EndpointCall)
	require.Equal(t, "GET", call.Endpoint.Method)
}

func TestCompile_CollectsAllErrors(t *testing.T) {
	c, err := FromSDL(`
schema { query: Query }
type Query {
  a: Missing
  b: String @http(path: "/b")
  c: [Thing] @http(url: "http://x.test", path: "/c", query: [{key: "k", value: "{{value.id}}"}, {key: "k", value: "static"}], groupBy: ["k"])
}
type Thing { id: Int }
`)
	require.NoError(t, err)
	_, err = Compile(c)
	require.Error(t, err)

	errs, ok := err.(CompileErrors)
	require.True(t, ok)
	require.Len(t, errs, 3)

	byLocation := map[string]string{}
	for _, e := range errs {
		byLocation[e.Location] = e.Message
	}
	require.Contains(t, byLocation["Query.a"], "unknown type")
	require.Contains(t, byLocation["Query.b"], "baseURL")
	require.Contains(t, byLocation["Query.c"], "reserved by groupBy")
}

func TestCompile_MissingQueryRoot(t *testing.T) {
	_, err := Compile(&Config{Types: map[string]*Type{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "query root")
}

func TestCompile_AddField(t *testing.T) {
	c, err := FromSDL(`
schema @upstream(baseURL: "http://example.com") { query: Query }
type Query { user: User @http(path: "/user") }
type User @addField(name: "street", path: ["address", "street"]) {
  id: Int!
  address: Address
}
type Address { street: String! }
`)
	require.NoError(t, err)
	bp, err := Compile(c)
	require.NoError(t, err)

	street := bp.Types["User"].Field("street")
	require.NotNil(t, street)
	// The lifted field is nullable even though the source is non-null: any
	// step of the path may be absent.
	require.Equal(t, "String", street.Type.String())

	fold, ok := street.Resolver.(expr.Fold)
	require.True(t, ok)
	require.Equal(t, expr.PathExpr{Segments: []string{"value", "address", "street"}}, fold.Value)
	require.False(t, street.IsAsync())
}

func TestCompile_GraphQLSource(t *testing.T) {
	c, err := FromSDL(`
schema { query: Query }
type Query {
  user(id: Int!): User @graphQL(url: "http://users.test/graphql", name: "user", args: {id: "{{args.id}}"})
  users: [User] @graphQL(url: "http://users.test/graphql", name: "user", args: {id: "{{value.userId}}"}, batch: true)
}
type User { id: Int name: String }
`)
	require.NoError(t, err)
	bp, err := Compile(c)
	require.NoError(t, err)

	user := bp.Types["Query"].Field("user")
	pipe := user.Resolver.(expr.Pipe)
	call := pipe.First.(expr.EndpointCall)
	require.Equal(t, "POST", call.Endpoint.Method)
	require.Equal(t, "/graphql", call.Endpoint.Path)
	require.Equal(t, expr.Select{Path: "data.user"}, pipe.Second)

	query, ok := call.Endpoint.BodyTemplate.(*dynamic.Record).Get("query")
	require.True(t, ok)
	require.Equal(t,
		dynamic.String("query { user(id: {{args.id}}) { id name } }"),
		query)
	require.Nil(t, call.Group)

	users := bp.Types["Query"].Field("users")
	batched := users.Resolver.(expr.Pipe).First.(expr.EndpointCall)
	require.NotNil(t, batched.Group)
	require.Equal(t, "", batched.Group.Key)
	require.True(t, batched.Group.ExpectList)
}

func TestSDLDeterministic(t *testing.T) {
	c, err := FromSDL(sampleSDL)
	require.NoError(t, err)
	first := ToSDL(c)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, ToSDL(c))
	}
	// Rendered SDL parses back.
	_, err = FromSDL(first)
	require.NoError(t, err)
}
