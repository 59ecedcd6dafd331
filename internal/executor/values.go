package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/language"
)

// coerceVariableValues coerces variable values according to their types
func coerceVariableValues(
	bp *blueprint.Blueprint,
	operation *language.OperationDefinition,
	variableValues map[string]dynamic.Value,
) (map[string]dynamic.Value, error) {
	if variableValues == nil {
		variableValues = make(map[string]dynamic.Value)
	}
	coerced := make(map[string]dynamic.Value)
	for _, varDef := range operation.VariableDefinitions {
		name := varDef.Variable
		t := varDef.Type
		val, ok := variableValues[name]
		if !ok {
			if v2, ok2 := variableValues[strings.TrimPrefix(name, "$")]; ok2 {
				val = v2
				ok = true
			}
		}
		if !ok {
			if varDef.DefaultValue != nil {
				val = astValue(varDef.DefaultValue)
			} else if t.NonNull {
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t.String())
			} else {
				continue
			}
		}
		if dynamic.IsNull(val) && t.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, t.String())
		}
		cv, err := coerceValue(bp, val, typeRefFromAST(t))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, t.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArgumentValues coerces argument values for a field. The returned
// record keeps the argument order from the query, then defaults in the
// schema's declared order.
func coerceArgumentValues(
	fieldDef *blueprint.Field,
	arguments language.ArgumentList,
	variableValues map[string]dynamic.Value,
	state *executionState,
	path Path,
) *dynamic.Record {
	coerced := dynamic.NewRecord()
	for _, arg := range arguments {
		var argDef *blueprint.Argument
		for _, a := range fieldDef.Args {
			if a.Name == arg.Name {
				argDef = a
				break
			}
		}
		if argDef == nil {
			continue
		}
		val := valueFromASTWithVars(arg.Value, variableValues)
		cv, err := coerceValue(state.blueprint, val, argDef.Type)
		if err != nil {
			state.addError(fmt.Sprintf("argument '%s' cannot be coerced: %v", arg.Name, err), path)
			continue
		}
		coerced.Set(arg.Name, cv)
	}
	for _, argDef := range fieldDef.Args {
		name := argDef.Name
		if _, ok := coerced.Get(name); !ok {
			if argDef.Default != nil {
				coerced.Set(name, argDef.Default)
			} else if argDef.Type.IsNonNull() {
				state.addError(fmt.Sprintf("argument '%s' of required type was not provided", name), path)
			}
		}
	}
	return coerced
}

// valueFromASTWithVars converts an AST value to a runtime value with variable substitution
func valueFromASTWithVars(value *language.Value, variableValues map[string]dynamic.Value) dynamic.Value {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		name := value.Raw
		if v, ok := variableValues[name]; ok {
			return v
		}
		if v, ok := variableValues[strings.TrimPrefix(name, "$")]; ok {
			return v
		}
		return nil
	default:
		return astValue(value)
	}
}

// astValue converts an AST value literal to a dynamic value
func astValue(value *language.Value) dynamic.Value {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		iv, _ := strconv.ParseInt(value.Raw, 10, 64)
		return dynamic.Int(iv)
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return dynamic.Float(fv)
	case language.StringValue, language.BlockValue:
		return dynamic.String(value.Raw)
	case language.BooleanValue:
		return dynamic.Bool(value.Raw == "true")
	case language.NullValue:
		return dynamic.Null{}
	case language.EnumValue:
		return dynamic.String(value.Raw)
	case language.ListValue:
		out := make(dynamic.List, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValue(c.Value)
		}
		return out
	case language.ObjectValue:
		rec := dynamic.NewRecord()
		for _, f := range value.Children {
			rec.Set(f.Name, astValue(f.Value))
		}
		return rec
	default:
		return nil
	}
}

// coerceValue coerces a value to the target type
func coerceValue(bp *blueprint.Blueprint, value dynamic.Value, targetType *blueprint.TypeRef) (dynamic.Value, error) {
	if targetType.IsNonNull() {
		if dynamic.IsNull(value) {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return coerceValue(bp, value, targetType.Unwrap())
	}

	if dynamic.IsNull(value) {
		return dynamic.Null{}, nil
	}

	if targetType.IsList() {
		return coerceListValue(bp, value, targetType)
	}

	named := targetType.NamedType()
	switch named {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	}

	if bp != nil {
		if t, ok := bp.Types[named]; ok && t.Kind == blueprint.KindInputObject {
			return coerceInputObject(bp, value, t)
		}
	}
	// Custom scalars and enums pass through as-is
	return value, nil
}

// coerceInputObject validates and coerces an input object field by field.
func coerceInputObject(bp *blueprint.Blueprint, value dynamic.Value, t *blueprint.Type) (dynamic.Value, error) {
	rec, ok := value.(*dynamic.Record)
	if !ok {
		return nil, fmt.Errorf("cannot coerce %s to input object %s", value.Kind(), t.Name)
	}
	out := dynamic.NewRecord()
	for _, in := range t.Inputs {
		v, present := rec.Get(in.Name)
		if !present {
			if in.Default != nil {
				out.Set(in.Name, in.Default)
				continue
			}
			if in.Type.IsNonNull() {
				return nil, fmt.Errorf("input %s: required field '%s' was not provided", t.Name, in.Name)
			}
			continue
		}
		cv, err := coerceValue(bp, v, in.Type)
		if err != nil {
			return nil, fmt.Errorf("input %s field '%s': %w", t.Name, in.Name, err)
		}
		out.Set(in.Name, cv)
	}
	for _, k := range rec.Keys() {
		known := false
		for _, in := range t.Inputs {
			if in.Name == k {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("input %s: unknown field '%s'", t.Name, k)
		}
	}
	return out, nil
}

// coerceListValue coerces a value to a list; a single value becomes a list of one
func coerceListValue(bp *blueprint.Blueprint, value dynamic.Value, listType *blueprint.TypeRef) (dynamic.Value, error) {
	inner := listType.Unwrap()
	if list, ok := value.(dynamic.List); ok {
		coerced := make(dynamic.List, len(list))
		for i, item := range list {
			cv, err := coerceValue(bp, item, inner)
			if err != nil {
				return nil, err
			}
			coerced[i] = cv
		}
		return coerced, nil
	}

	cv, err := coerceValue(bp, value, inner)
	if err != nil {
		return nil, err
	}
	return dynamic.List{cv}, nil
}

func coerceToInt(value dynamic.Value) (dynamic.Value, error) {
	switch v := value.(type) {
	case dynamic.Int:
		return v, nil
	case dynamic.Float:
		return dynamic.Int(int64(v)), nil
	case dynamic.String:
		if iv, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return dynamic.Int(iv), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %s to Int", value.Kind())
}

func coerceToFloat(value dynamic.Value) (dynamic.Value, error) {
	switch v := value.(type) {
	case dynamic.Float:
		return v, nil
	case dynamic.Int:
		return dynamic.Float(float64(v)), nil
	case dynamic.String:
		if fv, err := strconv.ParseFloat(string(v), 64); err == nil {
			return dynamic.Float(fv), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %s to Float", value.Kind())
}

func coerceToString(value dynamic.Value) (dynamic.Value, error) {
	if v, ok := value.(dynamic.String); ok {
		return v, nil
	}
	return dynamic.String(dynamic.Text(value)), nil
}

func coerceToBoolean(value dynamic.Value) (dynamic.Value, error) {
	if v, ok := value.(dynamic.Bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %s to Boolean", value.Kind())
}

func coerceToID(value dynamic.Value) (dynamic.Value, error) {
	switch v := value.(type) {
	case dynamic.String:
		return v, nil
	case dynamic.Int:
		return dynamic.String(strconv.FormatInt(int64(v), 10)), nil
	default:
		return dynamic.String(dynamic.Text(value)), nil
	}
}
