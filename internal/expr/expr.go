// Package expr defines the tagged-variant resolver IR and its interpreter.
// Every field resolver compiles to an Expr of shape Context -> DynamicValue.
package expr

import (
	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/endpoint"
)

// Expr is a node in the resolver IR. Expressions are plain values; the
// interpreter in eval.go gives them meaning.
type Expr interface {
	exprNode()
}

// Literal yields a constant value checked against a structural schema.
// A nil Schema skips the check.
type Literal struct {
	Value  dynamic.Value
	Schema dynamic.Schema
}

// Identity yields the current input unchanged.
type Identity struct{}

// Pipe feeds the result of First into Second.
type Pipe struct {
	First  Expr
	Second Expr
}

// FunctionDef introduces a lexical binding for its body: the body sees the
// current input under Binding. Binding ids are small ints handed out by the
// compiler; see NextBinding.
type FunctionDef struct {
	Binding int
	Body    Expr
}

// Lookup reads a lexical binding.
type Lookup struct {
	Binding int
}

// EqualTo compares two sub-expressions structurally.
type EqualTo struct {
	Left  Expr
	Right Expr
}

type MathOp int

const (
	MathAdd MathOp = iota
	MathSub
	MathMul
	MathDiv
	MathMod
	MathGt
	MathGte
	MathNeg
)

// Math applies an arithmetic or comparison op. Right is nil for MathNeg.
type Math struct {
	Op    MathOp
	Left  Expr
	Right Expr
}

// And, Or, Not, Cond are the logical ops.
type And struct{ Left, Right Expr }
type Or struct{ Left, Right Expr }
type Not struct{ Value Expr }

// Cond evaluates Then or Else depending on the boolean value of If.
type Cond struct {
	If   Expr
	Then Expr
	Else Expr
}

// Option ops.
type IsSome struct{ Value Expr }
type IsNone struct{ Value Expr }

// Wrap lifts a value into Some.
type Wrap struct{ Value Expr }

// Apply maps over an option: Some(x) evaluates Fn with x as input and
// rewraps the result, None passes through untouched.
type Apply struct {
	Value Expr
	Fn    Expr
}

// Fold eliminates an option: None evaluates NoneCase against the original
// input; Some evaluates SomeCase with the unwrapped value as input.
type Fold struct {
	Value    Expr
	NoneCase Expr
	SomeCase Expr
}

// Dict ops.
type DictGet struct {
	Key  Expr
	Dict Expr
}

type DictPut struct {
	Key   Expr
	Value Expr
	Dict  Expr
}

// DictToPairs turns a record into a list of {key, value} records.
type DictToPairs struct{ Dict Expr }

// Dynamic-value ops.

// ToTyped shapes the value to Schema, yielding Some(typed) or None.
type ToTyped struct{ Schema dynamic.Schema }

// ToDynamic erases a typed value back to its plain dynamic form.
type ToDynamic struct{ Schema dynamic.Schema }

// PathExpr projects a sub-path, yielding Some(sub) or None. Never errors.
type PathExpr struct{ Segments []string }

// Select projects with a gjson path over the JSON form of the input and
// yields the selected value, or Null when nothing matches.
type Select struct{ Path string }

// Render evaluates a JSON-shaped template: string leaves containing mustache
// expressions are substituted against the input, and re-parse as JSON when
// the rendered text forms valid JSON.
type Render struct{ Template dynamic.Value }

// Unsafe ops.

// EndpointCall evaluates the endpoint template against the input and defers
// execution to the per-request data loader. Group marks the call batchable.
type EndpointCall struct {
	Endpoint *endpoint.Endpoint
	Group    *Group
}

// Group describes the batching hint of an endpoint call: Key is the reserved
// query parameter whose values coalesce, BatchKey the response field used to
// attribute rows back to callers. ExpectList controls whether a caller gets
// every matching row or just the first.
type Group struct {
	Key        string
	BatchKey   []string
	ExpectList bool
}

// Debug logs the value flowing through and passes it on.
type Debug struct {
	Prefix string
	Value  Expr
}

// Die fails evaluation with an explicit message.
type Die struct{ Message string }

func (Literal) exprNode()      {}
func (Identity) exprNode()     {}
func (Pipe) exprNode()         {}
func (FunctionDef) exprNode()  {}
func (Lookup) exprNode()       {}
func (EqualTo) exprNode()      {}
func (Math) exprNode()         {}
func (And) exprNode()          {}
func (Or) exprNode()           {}
func (Not) exprNode()          {}
func (Cond) exprNode()         {}
func (IsSome) exprNode()       {}
func (IsNone) exprNode()       {}
func (Wrap) exprNode()         {}
func (Apply) exprNode()        {}
func (Fold) exprNode()         {}
func (DictGet) exprNode()      {}
func (DictPut) exprNode()      {}
func (DictToPairs) exprNode()  {}
func (ToTyped) exprNode()      {}
func (ToDynamic) exprNode()    {}
func (PathExpr) exprNode()     {}
func (Select) exprNode()       {}
func (Render) exprNode()       {}
func (EndpointCall) exprNode() {}
func (Debug) exprNode()        {}
func (Die) exprNode()          {}

// Compose pipes a through b through the rest, left to right.
func Compose(first Expr, rest ...Expr) Expr {
	out := first
	for _, e := range rest {
		out = Pipe{First: out, Second: e}
	}
	return out
}
