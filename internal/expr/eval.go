package expr

import (
	"context"
	"fmt"

	"github.com/jensneuse/abstractlogger"
	"github.com/tidwall/gjson"

	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/endpoint"
	"github.com/weavegql/weave/internal/mustache"
)

// EvalError is a runtime failure inside an expression.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string { return e.Message }

func evalErrorf(format string, args ...any) error {
	return &EvalError{Message: fmt.Sprintf(format, args...)}
}

// Caller executes evaluated endpoint requests. The per-request data loader
// implements it; tests stub it.
type Caller interface {
	// Call issues (or joins) a deduplicated upstream call.
	Call(ctx context.Context, req endpoint.Request) (dynamic.Value, error)
	// CallBatched places the request into a batch window and returns the
	// caller's share of the grouped response.
	CallBatched(ctx context.Context, req endpoint.Request, group Group) (dynamic.Value, error)
}

// Evaluator interprets expressions. It is stateless across calls; lexical
// bindings live in a per-evaluation environment.
type Evaluator struct {
	Caller Caller
	Log    abstractlogger.Logger
}

// env is an immutable binding chain. Appending returns a child; failure or
// success both drop it by returning to the parent frame.
type env struct {
	parent  *env
	binding int
	value   dynamic.Value
}

func (e *env) lookup(binding int) (dynamic.Value, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.binding == binding {
			return cur.value, true
		}
	}
	return nil, false
}

// Eval interprets expression e against input.
func (ev *Evaluator) Eval(ctx context.Context, e Expr, input dynamic.Value) (dynamic.Value, error) {
	return ev.eval(ctx, e, input, nil)
}

func (ev *Evaluator) eval(ctx context.Context, e Expr, input dynamic.Value, bindings *env) (dynamic.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch t := e.(type) {
	case Literal:
		if t.Schema != nil && !dynamic.Conforms(t.Value, t.Schema) {
			return nil, evalErrorf("literal %s does not conform to its schema", dynamic.Text(t.Value))
		}
		return t.Value, nil

	case Identity:
		return input, nil

	case Pipe:
		mid, err := ev.eval(ctx, t.First, input, bindings)
		if err != nil {
			return nil, err
		}
		return ev.eval(ctx, t.Second, mid, bindings)

	case FunctionDef:
		return ev.eval(ctx, t.Body, input, &env{parent: bindings, binding: t.Binding, value: input})

	case Lookup:
		v, ok := bindings.lookup(t.Binding)
		if !ok {
			return nil, evalErrorf("unbound variable %d", t.Binding)
		}
		return v, nil

	case EqualTo:
		l, err := ev.eval(ctx, t.Left, input, bindings)
		if err != nil {
			return nil, err
		}
		r, err := ev.eval(ctx, t.Right, input, bindings)
		if err != nil {
			return nil, err
		}
		return dynamic.Bool(dynamic.Equal(l, r)), nil

	case Math:
		return ev.evalMath(ctx, t, input, bindings)

	case And:
		return ev.evalBoolPair(ctx, t.Left, t.Right, input, bindings, func(a, b bool) bool { return a && b })

	case Or:
		return ev.evalBoolPair(ctx, t.Left, t.Right, input, bindings, func(a, b bool) bool { return a || b })

	case Not:
		b, err := ev.evalBool(ctx, t.Value, input, bindings)
		if err != nil {
			return nil, err
		}
		return dynamic.Bool(!b), nil

	case Cond:
		b, err := ev.evalBool(ctx, t.If, input, bindings)
		if err != nil {
			return nil, err
		}
		if b {
			return ev.eval(ctx, t.Then, input, bindings)
		}
		return ev.eval(ctx, t.Else, input, bindings)

	case IsSome:
		v, err := ev.eval(ctx, t.Value, input, bindings)
		if err != nil {
			return nil, err
		}
		tag, ok := v.(dynamic.Tagged)
		return dynamic.Bool(ok && tag.Name == "Some"), nil

	case IsNone:
		v, err := ev.eval(ctx, t.Value, input, bindings)
		if err != nil {
			return nil, err
		}
		if dynamic.IsNull(v) {
			return dynamic.Bool(true), nil
		}
		tag, ok := v.(dynamic.Tagged)
		return dynamic.Bool(ok && tag.Name == "None"), nil

	case Wrap:
		v, err := ev.eval(ctx, t.Value, input, bindings)
		if err != nil {
			return nil, err
		}
		return dynamic.Some(v), nil

	case Apply:
		v, err := ev.eval(ctx, t.Value, input, bindings)
		if err != nil {
			return nil, err
		}
		if tag, ok := v.(dynamic.Tagged); ok {
			switch tag.Name {
			case "Some":
				out, err := ev.eval(ctx, t.Fn, tag.Value, bindings)
				if err != nil {
					return nil, err
				}
				return dynamic.Some(out), nil
			case "None":
				return v, nil
			}
		}
		if dynamic.IsNull(v) {
			return dynamic.None(), nil
		}
		// A bare value applies as Some.
		out, err := ev.eval(ctx, t.Fn, v, bindings)
		if err != nil {
			return nil, err
		}
		return dynamic.Some(out), nil

	case Fold:
		v, err := ev.eval(ctx, t.Value, input, bindings)
		if err != nil {
			return nil, err
		}
		if tag, ok := v.(dynamic.Tagged); ok {
			switch tag.Name {
			case "Some":
				return ev.eval(ctx, t.SomeCase, tag.Value, bindings)
			case "None":
				return ev.eval(ctx, t.NoneCase, input, bindings)
			}
		}
		if dynamic.IsNull(v) {
			return ev.eval(ctx, t.NoneCase, input, bindings)
		}
		// A bare value folds as Some.
		return ev.eval(ctx, t.SomeCase, v, bindings)

	case DictGet:
		return ev.evalDictGet(ctx, t, input, bindings)

	case DictPut:
		return ev.evalDictPut(ctx, t, input, bindings)

	case DictToPairs:
		v, err := ev.eval(ctx, t.Dict, input, bindings)
		if err != nil {
			return nil, err
		}
		rec, ok := v.(*dynamic.Record)
		if !ok {
			return nil, evalErrorf("toPairs expects a record, got %s", kindOf(v))
		}
		out := make(dynamic.List, 0, rec.Len())
		for _, k := range rec.Keys() {
			f, _ := rec.Get(k)
			out = append(out, dynamic.RecordOf("key", dynamic.String(k), "value", f))
		}
		return out, nil

	case ToTyped:
		typed, ok := dynamic.ToTyped(input, t.Schema)
		if !ok {
			return dynamic.None(), nil
		}
		return dynamic.Some(typed), nil

	case ToDynamic:
		return erase(input), nil

	case PathExpr:
		sub, ok := dynamic.Path(input, t.Segments)
		if !ok {
			return dynamic.None(), nil
		}
		return dynamic.Some(sub), nil

	case Select:
		return evalSelect(t.Path, input)

	case Render:
		return mustache.EvaluateValue(t.Template, input), nil

	case EndpointCall:
		return ev.evalEndpointCall(ctx, t, input)

	case Debug:
		v, err := ev.eval(ctx, t.Value, input, bindings)
		if err != nil {
			return nil, err
		}
		if ev.Log != nil {
			ev.Log.Debug("expr debug", abstractlogger.String("prefix", t.Prefix), abstractlogger.String("value", dynamic.Text(v)))
		}
		return v, nil

	case Die:
		return nil, evalErrorf("%s", t.Message)
	}
	return nil, evalErrorf("unknown expression %T", e)
}

func (ev *Evaluator) evalBool(ctx context.Context, e Expr, input dynamic.Value, bindings *env) (bool, error) {
	v, err := ev.eval(ctx, e, input, bindings)
	if err != nil {
		return false, err
	}
	b, ok := v.(dynamic.Bool)
	if !ok {
		return false, evalErrorf("expected a boolean, got %s", kindOf(v))
	}
	return bool(b), nil
}

func (ev *Evaluator) evalBoolPair(ctx context.Context, l, r Expr, input dynamic.Value, bindings *env, f func(a, b bool) bool) (dynamic.Value, error) {
	a, err := ev.evalBool(ctx, l, input, bindings)
	if err != nil {
		return nil, err
	}
	b, err := ev.evalBool(ctx, r, input, bindings)
	if err != nil {
		return nil, err
	}
	return dynamic.Bool(f(a, b)), nil
}

func (ev *Evaluator) evalMath(ctx context.Context, m Math, input dynamic.Value, bindings *env) (dynamic.Value, error) {
	l, err := ev.eval(ctx, m.Left, input, bindings)
	if err != nil {
		return nil, err
	}
	if m.Op == MathNeg {
		switch n := l.(type) {
		case dynamic.Int:
			return dynamic.Int(-n), nil
		case dynamic.Float:
			return dynamic.Float(-n), nil
		}
		return nil, evalErrorf("cannot negate %s", kindOf(l))
	}
	r, err := ev.eval(ctx, m.Right, input, bindings)
	if err != nil {
		return nil, err
	}

	li, lIsInt := l.(dynamic.Int)
	ri, rIsInt := r.(dynamic.Int)
	if lIsInt && rIsInt {
		switch m.Op {
		case MathAdd:
			return li + ri, nil
		case MathSub:
			return li - ri, nil
		case MathMul:
			return li * ri, nil
		case MathDiv:
			if ri == 0 {
				return nil, evalErrorf("division by zero")
			}
			return li / ri, nil
		case MathMod:
			if ri == 0 {
				return nil, evalErrorf("division by zero")
			}
			return li % ri, nil
		case MathGt:
			return dynamic.Bool(li > ri), nil
		case MathGte:
			return dynamic.Bool(li >= ri), nil
		}
	}

	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, evalErrorf("math on non-numeric operands %s and %s", kindOf(l), kindOf(r))
	}
	switch m.Op {
	case MathAdd:
		return dynamic.Float(lf + rf), nil
	case MathSub:
		return dynamic.Float(lf - rf), nil
	case MathMul:
		return dynamic.Float(lf * rf), nil
	case MathDiv:
		if rf == 0 {
			return nil, evalErrorf("division by zero")
		}
		return dynamic.Float(lf / rf), nil
	case MathMod:
		return nil, evalErrorf("mod requires integer operands")
	case MathGt:
		return dynamic.Bool(lf > rf), nil
	case MathGte:
		return dynamic.Bool(lf >= rf), nil
	}
	return nil, evalErrorf("unknown math op %d", m.Op)
}

func toFloat(v dynamic.Value) (float64, bool) {
	switch n := v.(type) {
	case dynamic.Int:
		return float64(n), true
	case dynamic.Float:
		return float64(n), true
	}
	return 0, false
}

func (ev *Evaluator) evalDictGet(ctx context.Context, t DictGet, input dynamic.Value, bindings *env) (dynamic.Value, error) {
	key, err := ev.evalString(ctx, t.Key, input, bindings)
	if err != nil {
		return nil, err
	}
	d, err := ev.eval(ctx, t.Dict, input, bindings)
	if err != nil {
		return nil, err
	}
	rec, ok := d.(*dynamic.Record)
	if !ok {
		return nil, evalErrorf("get expects a record, got %s", kindOf(d))
	}
	v, ok := rec.Get(key)
	if !ok {
		return dynamic.None(), nil
	}
	return dynamic.Some(v), nil
}

func (ev *Evaluator) evalDictPut(ctx context.Context, t DictPut, input dynamic.Value, bindings *env) (dynamic.Value, error) {
	key, err := ev.evalString(ctx, t.Key, input, bindings)
	if err != nil {
		return nil, err
	}
	val, err := ev.eval(ctx, t.Value, input, bindings)
	if err != nil {
		return nil, err
	}
	d, err := ev.eval(ctx, t.Dict, input, bindings)
	if err != nil {
		return nil, err
	}
	rec, ok := d.(*dynamic.Record)
	if !ok {
		return nil, evalErrorf("put expects a record, got %s", kindOf(d))
	}
	out := dynamic.NewRecord()
	for _, k := range rec.Keys() {
		f, _ := rec.Get(k)
		out.Set(k, f)
	}
	out.Set(key, val)
	return out, nil
}

func (ev *Evaluator) evalString(ctx context.Context, e Expr, input dynamic.Value, bindings *env) (string, error) {
	v, err := ev.eval(ctx, e, input, bindings)
	if err != nil {
		return "", err
	}
	s, ok := v.(dynamic.String)
	if !ok {
		return "", evalErrorf("expected a string key, got %s", kindOf(v))
	}
	return string(s), nil
}

func evalSelect(path string, input dynamic.Value) (dynamic.Value, error) {
	raw, err := dynamic.EncodeJSON(input)
	if err != nil {
		return nil, evalErrorf("select: %v", err)
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return dynamic.Null{}, nil
	}
	out, err := dynamic.DecodeJSON([]byte(res.Raw))
	if err != nil {
		return nil, evalErrorf("select %q: %v", path, err)
	}
	return out, nil
}

func (ev *Evaluator) evalEndpointCall(ctx context.Context, t EndpointCall, input dynamic.Value) (dynamic.Value, error) {
	if ev.Caller == nil {
		return nil, evalErrorf("no upstream caller configured")
	}
	req, err := t.Endpoint.Evaluate(input)
	if err != nil {
		return nil, err
	}
	if t.Group != nil {
		return ev.Caller.CallBatched(ctx, req, *t.Group)
	}
	return ev.Caller.Call(ctx, req)
}

// erase flattens option wrappers back into plain dynamic values.
func erase(v dynamic.Value) dynamic.Value {
	switch t := v.(type) {
	case dynamic.Tagged:
		switch t.Name {
		case "Some":
			return erase(t.Value)
		case "None":
			return dynamic.Null{}
		}
		return t
	case dynamic.List:
		out := make(dynamic.List, len(t))
		for i := range t {
			out[i] = erase(t[i])
		}
		return out
	case *dynamic.Record:
		out := dynamic.NewRecord()
		for _, k := range t.Keys() {
			f, _ := t.Get(k)
			out.Set(k, erase(f))
		}
		return out
	}
	return v
}

func kindOf(v dynamic.Value) string {
	if v == nil {
		return "null"
	}
	return v.Kind().String()
}
