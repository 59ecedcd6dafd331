// Package steps turns a blueprint into a tree of resolver steps, one per
// schema field. The step table is built in two passes so recursive types
// resolve through pre-declared slots.
package steps

import (
	"context"
	"fmt"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/expr"
)

// Step is a node in the resolver tree.
type Step interface {
	stepNode()
}

// PureStep is an already-resolved value.
type PureStep struct {
	Value dynamic.Value
}

// FunctionStep consumes the field's coerced arguments and yields the step to
// run. Argument defaults are applied before Make is called.
type FunctionStep struct {
	Args []*blueprint.Argument
	Make func(args *dynamic.Record) Step
}

// QueryStep is an asynchronous resolution; Run suspends on upstream I/O.
type QueryStep struct {
	Run func(ctx context.Context, input dynamic.Value) (dynamic.Value, error)
}

// ObjectStep branches to a child step per selected field. Fields is a slot
// filled by the generator's second pass, so recursive types terminate.
type ObjectStep struct {
	Name   string
	Fields map[string]Step
}

// ListStep applies Elem to each element of a sequence value. A nil Elem
// passes elements through unchanged (list of leaves).
type ListStep struct {
	Elem Step
}

func (PureStep) stepNode()     {}
func (FunctionStep) stepNode() {}
func (QueryStep) stepNode()    {}
func (*ObjectStep) stepNode()  {}
func (ListStep) stepNode()     {}

// Plan is the compiled step table for one blueprint.
type Plan struct {
	objects map[string]*ObjectStep
}

// Object returns the object step slot for a type name.
func (p *Plan) Object(name string) (*ObjectStep, bool) {
	o, ok := p.objects[name]
	return o, ok
}

// FieldStep resolves the step for Type.field.
func (p *Plan) FieldStep(typeName, field string) (Step, bool) {
	o, ok := p.objects[typeName]
	if !ok {
		return nil, false
	}
	s, ok := o.Fields[field]
	return s, ok
}

// Generator builds a Plan from a blueprint and the evaluator that will
// interpret resolver expressions.
type Generator struct {
	bp   *blueprint.Blueprint
	eval *expr.Evaluator
}

func NewGenerator(bp *blueprint.Blueprint, eval *expr.Evaluator) *Generator {
	return &Generator{bp: bp, eval: eval}
}

// Build runs the two passes: declare a slot per object type, then wire every
// field. A field step constructed during the second pass may reference any
// slot, including its own type's.
func (g *Generator) Build() *Plan {
	plan := &Plan{objects: map[string]*ObjectStep{}}

	for name, t := range g.bp.Types {
		if t.Kind == blueprint.KindObject {
			plan.objects[name] = &ObjectStep{Name: name, Fields: map[string]Step{}}
		}
	}

	for name, t := range g.bp.Types {
		if t.Kind != blueprint.KindObject {
			continue
		}
		slot := plan.objects[name]
		for _, f := range t.Fields {
			slot.Fields[f.Name] = g.fieldStep(f, plan)
		}
	}
	return plan
}

func (g *Generator) fieldStep(f *blueprint.Field, plan *Plan) Step {
	inner := composeShape(g.resolveStep(f, plan), g.shapeStep(f.Type, plan))
	if len(f.Args) == 0 {
		return inner
	}
	return FunctionStep{
		Args: f.Args,
		Make: func(args *dynamic.Record) Step { return inner },
	}
}

// shapeStep maps the declared result type onto the step tree: list types
// traverse elements through a ListStep, named object types terminate in the
// type's dispatch slot. Leaf results need no traversal step.
func (g *Generator) shapeStep(ref *blueprint.TypeRef, plan *Plan) Step {
	if ref == nil {
		return nil
	}
	if ref.IsList() {
		return ListStep{Elem: g.shapeStep(ref.Elem, plan)}
	}
	if slot, ok := plan.objects[ref.Named]; ok {
		return slot
	}
	return nil
}

// composeShape runs the resolver, then threads its result through the shape
// step as the traversal value. Null results skip traversal.
func composeShape(resolver, shape Step) Step {
	if shape == nil {
		return resolver
	}
	return QueryStep{Run: func(ctx context.Context, input dynamic.Value) (dynamic.Value, error) {
		rec, _ := input.(*dynamic.Record)
		if rec == nil {
			rec = dynamic.NewRecord()
		}
		v, err := Execute(ctx, resolver, rec)
		if err != nil {
			return nil, err
		}
		if dynamic.IsNull(v) {
			return dynamic.Null{}, nil
		}
		child := cloneContext(rec)
		child.Set("value", v)
		return Execute(ctx, shape, child)
	}}
}

func (g *Generator) resolveStep(f *blueprint.Field, plan *Plan) Step {
	if !f.HasResolver() {
		// No resolver: project the field out of the parent value carried in
		// the context, dispatching by the declared output type.
		name := f.Name
		return QueryStep{Run: func(ctx context.Context, input dynamic.Value) (dynamic.Value, error) {
			parent, _ := dynamic.Path(input, []string{"value"})
			if dynamic.IsNull(parent) {
				return dynamic.Null{}, nil
			}
			v, ok := dynamic.Path(parent, []string{name})
			if !ok {
				return dynamic.Null{}, nil
			}
			return v, nil
		}}
	}

	if lit, ok := f.Resolver.(expr.Literal); ok {
		return PureStep{Value: lit.Value}
	}

	resolver := f.Resolver
	eval := g.eval
	return QueryStep{Run: func(ctx context.Context, input dynamic.Value) (dynamic.Value, error) {
		return eval.Eval(ctx, resolver, input)
	}}
}

// Execute runs a step against the field's context record.
func Execute(ctx context.Context, s Step, input *dynamic.Record) (dynamic.Value, error) {
	switch t := s.(type) {
	case PureStep:
		return t.Value, nil
	case FunctionStep:
		args := argsWithDefaults(t.Args, input)
		input.Set("args", args)
		return Execute(ctx, t.Make(args), input)
	case QueryStep:
		return t.Run(ctx, input)
	case ListStep:
		parent, _ := input.Get("value")
		if dynamic.IsNull(parent) {
			return dynamic.Null{}, nil
		}
		list, ok := parent.(dynamic.List)
		if !ok {
			return nil, fmt.Errorf("steps: list step over %s", kindOf(parent))
		}
		if t.Elem == nil {
			return list, nil
		}
		out := make(dynamic.List, len(list))
		for i, item := range list {
			child := cloneContext(input)
			child.Set("value", item)
			v, err := Execute(ctx, t.Elem, child)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *ObjectStep:
		// Dispatch terminal: the executor selects child fields through the
		// slot's Fields table, so the record itself passes through here.
		parent, _ := input.Get("value")
		return parent, nil
	}
	return nil, fmt.Errorf("steps: unknown step %T", s)
}

func argsWithDefaults(defs []*blueprint.Argument, input *dynamic.Record) *dynamic.Record {
	out := dynamic.NewRecord()
	given, _ := input.Get("args")
	rec, _ := given.(*dynamic.Record)
	for _, a := range defs {
		if rec != nil {
			if v, ok := rec.Get(a.Name); ok {
				out.Set(a.Name, v)
				continue
			}
		}
		if a.Default != nil {
			out.Set(a.Name, a.Default)
		}
	}
	// Pass through extra args the schema did not declare defaults for.
	if rec != nil {
		for _, k := range rec.Keys() {
			if _, ok := out.Get(k); !ok {
				v, _ := rec.Get(k)
				out.Set(k, v)
			}
		}
	}
	return out
}

func cloneContext(r *dynamic.Record) *dynamic.Record {
	out := dynamic.NewRecord()
	for _, k := range r.Keys() {
		v, _ := r.Get(k)
		out.Set(k, v)
	}
	return out
}

func kindOf(v dynamic.Value) string {
	if v == nil {
		return "null"
	}
	return v.Kind().String()
}
