package expr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/endpoint"
)

func evalOK(t *testing.T, e Expr, input dynamic.Value) dynamic.Value {
	t.Helper()
	v, err := (&Evaluator{}).Eval(context.Background(), e, input)
	require.NoError(t, err)
	return v
}

func evalErr(t *testing.T, e Expr, input dynamic.Value) error {
	t.Helper()
	_, err := (&Evaluator{}).Eval(context.Background(), e, input)
	require.Error(t, err)
	return err
}

func TestEval_LiteralAndIdentity(t *testing.T) {
	require.Equal(t, dynamic.Int(5), evalOK(t, Literal{Value: dynamic.Int(5)}, nil))
	require.Equal(t, dynamic.String("in"), evalOK(t, Identity{}, dynamic.String("in")))
}

func TestEval_LiteralSchemaMismatch(t *testing.T) {
	err := evalErr(t, Literal{Value: dynamic.Int(5), Schema: dynamic.TString{}}, nil)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
}

func TestEval_PipeOrder(t *testing.T) {
	// (x + 1) * 2
	e := Compose(
		Math{Op: MathAdd, Left: Identity{}, Right: Literal{Value: dynamic.Int(1)}},
		Math{Op: MathMul, Left: Identity{}, Right: Literal{Value: dynamic.Int(2)}},
	)
	require.Equal(t, dynamic.Int(8), evalOK(t, e, dynamic.Int(3)))
}

func TestEval_Bindings(t *testing.T) {
	var b Bindings
	// fn x -> (fn y -> x) applied with the pipe input
	outer := b.Fresh()
	inner := b.Fresh()
	e := FunctionDef{Binding: outer, Body: Pipe{
		First:  Literal{Value: dynamic.String("shadow")},
		Second: FunctionDef{Binding: inner, Body: Lookup{Binding: outer}},
	}}
	require.Equal(t, dynamic.Int(7), evalOK(t, e, dynamic.Int(7)))
}

func TestEval_LookupUnbound(t *testing.T) {
	evalErr(t, Lookup{Binding: 42}, nil)
}

func TestEval_BindingDroppedAfterBody(t *testing.T) {
	var b Bindings
	id := b.Fresh()
	// The binding only exists inside the FunctionDef body.
	e := Pipe{
		First:  FunctionDef{Binding: id, Body: Identity{}},
		Second: Lookup{Binding: id},
	}
	evalErr(t, e, dynamic.Int(1))
}

func TestEval_Math(t *testing.T) {
	lit := func(n int64) Expr { return Literal{Value: dynamic.Int(n)} }
	cases := []struct {
		op   MathOp
		l, r int64
		want dynamic.Value
	}{
		{MathAdd, 2, 3, dynamic.Int(5)},
		{MathSub, 2, 3, dynamic.Int(-1)},
		{MathMul, 2, 3, dynamic.Int(6)},
		{MathDiv, 7, 2, dynamic.Int(3)},
		{MathMod, 7, 2, dynamic.Int(1)},
		{MathGt, 3, 2, dynamic.Bool(true)},
		{MathGte, 2, 2, dynamic.Bool(true)},
	}
	for _, tc := range cases {
		got := evalOK(t, Math{Op: tc.op, Left: lit(tc.l), Right: lit(tc.r)}, nil)
		require.Equal(t, tc.want, got)
	}

	require.Equal(t, dynamic.Int(-4), evalOK(t, Math{Op: MathNeg, Left: lit(4)}, nil))
	require.Equal(t, dynamic.Float(2.5), evalOK(t, Math{Op: MathAdd, Left: lit(2), Right: Literal{Value: dynamic.Float(0.5)}}, nil))
}

func TestEval_DivisionByZero(t *testing.T) {
	lit := func(n int64) Expr { return Literal{Value: dynamic.Int(n)} }
	evalErr(t, Math{Op: MathDiv, Left: lit(1), Right: lit(0)}, nil)
	evalErr(t, Math{Op: MathMod, Left: lit(1), Right: lit(0)}, nil)
}

func TestEval_Logical(t *testing.T) {
	tr := Literal{Value: dynamic.Bool(true)}
	fa := Literal{Value: dynamic.Bool(false)}
	require.Equal(t, dynamic.Bool(false), evalOK(t, And{Left: tr, Right: fa}, nil))
	require.Equal(t, dynamic.Bool(true), evalOK(t, Or{Left: tr, Right: fa}, nil))
	require.Equal(t, dynamic.Bool(false), evalOK(t, Not{Value: tr}, nil))
	require.Equal(t, dynamic.Int(1), evalOK(t, Cond{If: tr, Then: Literal{Value: dynamic.Int(1)}, Else: Literal{Value: dynamic.Int(2)}}, nil))

	// Non-boolean condition is an evaluation error.
	evalErr(t, Cond{If: Literal{Value: dynamic.Int(1)}, Then: tr, Else: fa}, nil)
}

func TestEval_Options(t *testing.T) {
	some := Literal{Value: dynamic.Some(dynamic.Int(1))}
	none := Literal{Value: dynamic.None()}

	require.Equal(t, dynamic.Bool(true), evalOK(t, IsSome{Value: some}, nil))
	require.Equal(t, dynamic.Bool(false), evalOK(t, IsSome{Value: none}, nil))
	require.Equal(t, dynamic.Bool(true), evalOK(t, IsNone{Value: none}, nil))
	require.Equal(t, dynamic.Some(dynamic.Int(2)), evalOK(t, Wrap{Value: Literal{Value: dynamic.Int(2)}}, nil))

	fold := Fold{
		Value:    some,
		NoneCase: Literal{Value: dynamic.Int(0)},
		SomeCase: Math{Op: MathAdd, Left: Identity{}, Right: Literal{Value: dynamic.Int(10)}},
	}
	require.Equal(t, dynamic.Int(11), evalOK(t, fold, nil))

	fold.Value = none
	require.Equal(t, dynamic.Int(0), evalOK(t, fold, nil))
}

func TestEval_Apply(t *testing.T) {
	double := Math{Op: MathMul, Left: Identity{}, Right: Literal{Value: dynamic.Int(2)}}

	some := Literal{Value: dynamic.Some(dynamic.Int(3))}
	require.Equal(t, dynamic.Some(dynamic.Int(6)), evalOK(t, Apply{Value: some, Fn: double}, nil))

	none := Literal{Value: dynamic.None()}
	require.Equal(t, dynamic.None(), evalOK(t, Apply{Value: none, Fn: double}, nil))
	require.Equal(t, dynamic.None(), evalOK(t, Apply{Value: Literal{Value: dynamic.Null{}}, Fn: double}, nil))

	// A bare value applies as Some; Fn failures surface unchanged.
	require.Equal(t, dynamic.Some(dynamic.Int(8)), evalOK(t, Apply{Value: Literal{Value: dynamic.Int(4)}, Fn: double}, nil))
	evalErr(t, Apply{Value: some, Fn: Die{Message: "boom"}}, nil)
}

func TestEval_Dict(t *testing.T) {
	d := Literal{Value: dynamic.RecordOf("a", dynamic.Int(1))}
	key := func(s string) Expr { return Literal{Value: dynamic.String(s)} }

	require.Equal(t, dynamic.Some(dynamic.Int(1)), evalOK(t, DictGet{Key: key("a"), Dict: d}, nil))
	require.Equal(t, dynamic.None(), evalOK(t, DictGet{Key: key("z"), Dict: d}, nil))

	put := evalOK(t, DictPut{Key: key("b"), Value: Literal{Value: dynamic.Int(2)}, Dict: d}, nil)
	rec := put.(*dynamic.Record)
	require.Equal(t, []string{"a", "b"}, rec.Keys())

	pairs := evalOK(t, DictToPairs{Dict: Literal{Value: dynamic.RecordOf("x", dynamic.Int(9))}}, nil)
	require.True(t, dynamic.Equal(pairs, dynamic.List{dynamic.RecordOf("key", dynamic.String("x"), "value", dynamic.Int(9))}))
}

func TestEval_DynamicOps(t *testing.T) {
	input := dynamic.RecordOf("a", dynamic.RecordOf("b", dynamic.Int(3)))

	require.Equal(t, dynamic.Some(dynamic.Int(3)), evalOK(t, PathExpr{Segments: []string{"a", "b"}}, input))
	require.Equal(t, dynamic.None(), evalOK(t, PathExpr{Segments: []string{"a", "z"}}, input))

	s := dynamic.TObject{Fields: []dynamic.ObjectField{{Name: "a", Schema: dynamic.TObject{Fields: []dynamic.ObjectField{{Name: "b", Schema: dynamic.TInt{}}}}}}}
	typed := evalOK(t, ToTyped{Schema: s}, input)
	require.Equal(t, "Some", typed.(dynamic.Tagged).Name)
	require.Equal(t, dynamic.None(), evalOK(t, ToTyped{Schema: dynamic.TString{}}, input))

	erased := evalOK(t, ToDynamic{}, dynamic.Some(dynamic.RecordOf("k", dynamic.None())))
	require.True(t, dynamic.Equal(erased, dynamic.RecordOf("k", dynamic.Null{})))
}

func TestEval_Select(t *testing.T) {
	input := dynamic.RecordOf("company", dynamic.RecordOf("name", dynamic.String("FOO")))
	require.Equal(t, dynamic.String("FOO"), evalOK(t, Select{Path: "company.name"}, input))
	require.Equal(t, dynamic.Null{}, evalOK(t, Select{Path: "missing"}, input))
}

func TestEval_Die(t *testing.T) {
	err := evalErr(t, Die{Message: "boom"}, nil)
	require.Contains(t, err.Error(), "boom")
}

type stubCaller struct {
	lastReq   endpoint.Request
	lastGroup *Group
	value     dynamic.Value
	err       error
}

func (s *stubCaller) Call(_ context.Context, req endpoint.Request) (dynamic.Value, error) {
	s.lastReq = req
	return s.value, s.err
}

func (s *stubCaller) CallBatched(_ context.Context, req endpoint.Request, g Group) (dynamic.Value, error) {
	s.lastReq = req
	s.lastGroup = &g
	return s.value, s.err
}

func TestEval_EndpointCall(t *testing.T) {
	caller := &stubCaller{value: dynamic.RecordOf("id", dynamic.Int(1))}
	ev := &Evaluator{Caller: caller}
	ep := &endpoint.Endpoint{Scheme: "http", Host: "example.com", Path: "/users/{{args.id}}"}

	input := dynamic.RecordOf("args", dynamic.RecordOf("id", dynamic.Int(1)))
	v, err := ev.Eval(context.Background(), EndpointCall{Endpoint: ep}, input)
	require.NoError(t, err)
	require.True(t, dynamic.Equal(v, caller.value))
	require.Equal(t, "http://example.com/users/1", caller.lastReq.URL)
	require.Nil(t, caller.lastGroup)

	_, err = ev.Eval(context.Background(), EndpointCall{Endpoint: ep, Group: &Group{Key: "fooId", BatchKey: []string{"fooId"}}}, input)
	require.NoError(t, err)
	require.NotNil(t, caller.lastGroup)
	require.Equal(t, "fooId", caller.lastGroup.Key)
}

func TestEval_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Evaluator{}).eval(ctx, Literal{Value: dynamic.Int(1)}, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}
