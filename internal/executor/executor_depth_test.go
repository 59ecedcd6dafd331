package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/dynamic"
)

func userBlueprint() *blueprint.Blueprint {
	return (&blueprint.Blueprint{
		QueryType: "Query",
		Types: map[string]*blueprint.Type{
			"Query": {Name: "Query", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				asyncField("user", blueprint.Named("User")),
			}},
			"User": {Name: "User", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("name", blueprint.Named("String")),
				asyncField("posts", blueprint.ListOf(blueprint.Named("Post"))),
			}},
			"Post": {Name: "Post", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("title", blueprint.Named("String")),
			}},
		},
	}).WithBuiltins()
}

func userRuntime() *MockRuntime {
	return NewMockRuntime(map[string]MockResolver{
		"Query.user": NewMockValueResolver(dynamic.RecordOf("name", dynamic.String("Ada"))),
		"User.name": func(ctx context.Context, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error) {
			v, _ := dynamic.Path(source, []string{"name"})
			return v, nil
		},
		"User.posts": NewMockValueResolver(dynamic.List{
			dynamic.RecordOf("title", dynamic.String("p1")),
			dynamic.RecordOf("title", dynamic.String("p2")),
		}),
		"Post.title": func(ctx context.Context, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error) {
			v, _ := dynamic.Path(source, []string{"title"})
			return v, nil
		},
	})
}

// Async fields at the same depth flush in a single batch; each nested async
// level adds exactly one more batch.
func TestDepth_OneBatchPerAsyncLevel(t *testing.T) {
	rt := userRuntime()
	exec := NewExecutor(rt, userBlueprint())
	doc := mustParseQuery(t, `{
		u1: user { name posts { title } }
		u2: user { name posts { title } }
	}`)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	require.Equal(t,
		`{"u1":{"name":"Ada","posts":[{"title":"p1"},{"title":"p2"}]},"u2":{"name":"Ada","posts":[{"title":"p1"},{"title":"p2"}]}}`,
		resultJSON(t, res))

	// Depth 1: both user tasks. Depth 2: both posts tasks. Two batches total.
	require.Equal(t, 2, rt.BatchCount())

	var perBatch = map[int]int{}
	for _, c := range rt.GetCalls() {
		if c.Kind == CallKindAsync {
			perBatch[c.BatchID]++
		}
	}
	require.Equal(t, map[int]int{1: 2, 2: 2}, perBatch)
}

func TestDepth_AsyncErrorIsPartial(t *testing.T) {
	rt := userRuntime()
	rt.SetResolver("User", "posts", NewMockErrorResolver(errors.New("posts upstream unavailable")))
	exec := NewExecutor(rt, userBlueprint())
	doc := mustParseQuery(t, `{ user { name posts { title } } }`)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0].Message, "posts upstream unavailable")
	require.Equal(t, Path{"user", "posts"}, res.Errors[0].Path)

	// Sibling field survives; the failed field is null.
	require.Equal(t, `{"user":{"name":"Ada","posts":null}}`, resultJSON(t, res))
}

func TestDepth_MutationRootExecutes(t *testing.T) {
	bp := (&blueprint.Blueprint{
		QueryType:    "Query",
		MutationType: "Mutation",
		Types: map[string]*blueprint.Type{
			"Query": {Name: "Query", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("ok", blueprint.Named("Boolean")),
			}},
			"Mutation": {Name: "Mutation", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				asyncField("createUser", blueprint.Named("String")),
			}},
		},
	}).WithBuiltins()

	rt := NewMockRuntime(map[string]MockResolver{
		"Mutation.createUser": NewMockValueResolver(dynamic.String("u1")),
	})
	exec := NewExecutor(rt, bp)
	doc := mustParseQuery(t, `mutation { createUser }`)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, `{"createUser":"u1"}`, resultJSON(t, res))
}

func TestDepth_OperationSelection(t *testing.T) {
	rt := userRuntime()
	exec := NewExecutor(rt, userBlueprint())
	doc := mustParseQuery(t, `
		query A { user { name } }
		query B { user { name posts { title } } }
	`)

	res := exec.ExecuteRequest(context.Background(), doc, "A", nil, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, `{"user":{"name":"Ada"}}`, resultJSON(t, res))

	res = exec.ExecuteRequest(context.Background(), doc, "missing", nil, nil)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0].Message, "operation not found")
}
