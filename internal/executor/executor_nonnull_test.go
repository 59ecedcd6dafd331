package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/dynamic"
)

func TestNonNull_SyncViolationPropagatesToNullableParent(t *testing.T) {
	bp := (&blueprint.Blueprint{
		QueryType: "Query",
		Types: map[string]*blueprint.Type{
			"Query": {Name: "Query", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("user", blueprint.Named("User")),
			}},
			"User": {Name: "User", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("name", blueprint.NonNull(blueprint.Named("String"))),
				syncField("bio", blueprint.Named("String")),
			}},
		},
	}).WithBuiltins()

	rt := NewMockRuntime(map[string]MockResolver{
		"Query.user": NewMockValueResolver(dynamic.NewRecord()),
		"User.name":  NewMockValueResolver(dynamic.Null{}),
		"User.bio":   NewMockValueResolver(dynamic.String("hi")),
	})
	exec := NewExecutor(rt, bp)
	doc := mustParseQuery(t, `{ user { name bio } }`)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0].Message, "non-nullable field user.name")
	require.Equal(t, `{"user":null}`, resultJSON(t, res))
}

func TestNonNull_AsyncViolationNullsTopLevelField(t *testing.T) {
	bp := (&blueprint.Blueprint{
		QueryType: "Query",
		Types: map[string]*blueprint.Type{
			"Query": {Name: "Query", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("user", blueprint.Named("User")),
			}},
			"User": {Name: "User", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				{Name: "avatar", Type: blueprint.NonNull(blueprint.Named("String")), Resolver: asyncResolver()},
				asyncField("posts", blueprint.ListOf(blueprint.Named("String"))),
			}},
		},
	}).WithBuiltins()

	rt := NewMockRuntime(map[string]MockResolver{
		"Query.user":  NewMockValueResolver(dynamic.NewRecord()),
		"User.avatar": NewMockValueResolver(dynamic.Null{}),
		"User.posts":  NewMockValueResolver(dynamic.List{dynamic.String("p")}),
	})
	exec := NewExecutor(rt, bp)
	doc := mustParseQuery(t, `{ user { avatar posts } }`)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.NotEmpty(t, res.Errors)

	// The nearest nullable ancestor is the top-level user field.
	require.Equal(t, `{"user":null}`, resultJSON(t, res))
}

func TestNonNull_ListElementViolationNullsList(t *testing.T) {
	bp := (&blueprint.Blueprint{
		QueryType: "Query",
		Types: map[string]*blueprint.Type{
			"Query": {Name: "Query", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("tags", blueprint.ListOf(blueprint.NonNull(blueprint.Named("String")))),
			}},
		},
	}).WithBuiltins()

	rt := NewMockRuntime(map[string]MockResolver{
		"Query.tags": NewMockValueResolver(dynamic.List{
			dynamic.String("a"),
			dynamic.Null{},
			dynamic.String("c"),
		}),
	})
	exec := NewExecutor(rt, bp)
	doc := mustParseQuery(t, `{ tags }`)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Len(t, res.Errors, 1)
	require.Equal(t, Path{"tags", 1}, res.Errors[0].Path)
	require.Equal(t, `{"tags":null}`, resultJSON(t, res))
}

func TestNonNull_NullableListElementStaysNull(t *testing.T) {
	bp := (&blueprint.Blueprint{
		QueryType: "Query",
		Types: map[string]*blueprint.Type{
			"Query": {Name: "Query", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("tags", blueprint.ListOf(blueprint.Named("String"))),
			}},
		},
	}).WithBuiltins()

	rt := NewMockRuntime(map[string]MockResolver{
		"Query.tags": NewMockValueResolver(dynamic.List{
			dynamic.String("a"),
			dynamic.Null{},
		}),
	})
	exec := NewExecutor(rt, bp)
	doc := mustParseQuery(t, `{ tags }`)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, `{"tags":["a",null]}`, resultJSON(t, res))
}

func TestNonNull_TombstoneDropsQueuedTasks(t *testing.T) {
	bp := (&blueprint.Blueprint{
		QueryType: "Query",
		Types: map[string]*blueprint.Type{
			"Query": {Name: "Query", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				syncField("user", blueprint.Named("User")),
			}},
			"User": {Name: "User", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				{Name: "avatar", Type: blueprint.NonNull(blueprint.Named("String")), Resolver: asyncResolver()},
				asyncField("slow", blueprint.Named("Slow")),
			}},
			"Slow": {Name: "Slow", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				asyncField("leaf", blueprint.Named("String")),
			}},
		},
	}).WithBuiltins()

	rt := NewMockRuntime(map[string]MockResolver{
		"Query.user":  NewMockValueResolver(dynamic.NewRecord()),
		"User.avatar": NewMockValueResolver(dynamic.Null{}),
		"User.slow":   NewMockValueResolver(dynamic.NewRecord()),
		"Slow.leaf":   NewMockValueResolver(dynamic.String("x")),
	})
	exec := NewExecutor(rt, bp)
	doc := mustParseQuery(t, `{ user { avatar slow { leaf } } }`)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Equal(t, `{"user":null}`, resultJSON(t, res))

	// Slow.leaf was queued under the nullified path and must never reach the
	// runtime.
	for _, c := range rt.GetCalls() {
		require.NotEqual(t, "leaf", c.Field)
	}
}
