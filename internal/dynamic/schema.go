package dynamic

// Schema is a structural type descriptor used to validate and shape Values.
type Schema interface {
	schemaKind() string
}

type TString struct{}
type TInt struct{}
type TBool struct{}

type TOptional struct{ Elem Schema }
type TArray struct{ Elem Schema }
type TDict struct{ Elem Schema }

type TObject struct{ Fields []ObjectField }

type ObjectField struct {
	Name   string
	Schema Schema
}

func (TString) schemaKind() string   { return "string" }
func (TInt) schemaKind() string      { return "int" }
func (TBool) schemaKind() string     { return "bool" }
func (TOptional) schemaKind() string { return "optional" }
func (TArray) schemaKind() string    { return "array" }
func (TDict) schemaKind() string     { return "dict" }
func (TObject) schemaKind() string   { return "object" }

func (o TObject) field(name string) (Schema, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f.Schema, true
		}
	}
	return nil, false
}

// Conforms reports whether v structurally matches s. Objects are checked
// width-covariantly: extra fields on the value are fine.
func Conforms(v Value, s Schema) bool {
	switch t := s.(type) {
	case TString:
		_, ok := v.(String)
		return ok
	case TInt:
		_, ok := v.(Int)
		return ok
	case TBool:
		_, ok := v.(Bool)
		return ok
	case TOptional:
		if IsNull(v) {
			return true
		}
		if tag, ok := v.(Tagged); ok {
			switch tag.Name {
			case "None":
				return true
			case "Some":
				return Conforms(tag.Value, t.Elem)
			}
		}
		return Conforms(v, t.Elem)
	case TArray:
		list, ok := v.(List)
		if !ok {
			return false
		}
		for _, item := range list {
			if !Conforms(item, t.Elem) {
				return false
			}
		}
		return true
	case TDict:
		rec, ok := v.(*Record)
		if !ok {
			return false
		}
		for _, k := range rec.Keys() {
			f, _ := rec.Get(k)
			if !Conforms(f, t.Elem) {
				return false
			}
		}
		return true
	case TObject:
		rec, ok := v.(*Record)
		if !ok {
			return false
		}
		for _, f := range t.Fields {
			fv, present := rec.Get(f.Name)
			if !present {
				if _, opt := f.Schema.(TOptional); opt {
					continue
				}
				return false
			}
			if !Conforms(fv, f.Schema) {
				return false
			}
		}
		return true
	}
	return false
}

// SubtypeOf reports a <= b under the structural, width-covariant relation:
// object A is a subtype of object B iff every field of B has a subtype in A.
func SubtypeOf(a, b Schema) bool {
	switch bt := b.(type) {
	case TString:
		_, ok := a.(TString)
		return ok
	case TInt:
		_, ok := a.(TInt)
		return ok
	case TBool:
		_, ok := a.(TBool)
		return ok
	case TOptional:
		if at, ok := a.(TOptional); ok {
			return SubtypeOf(at.Elem, bt.Elem)
		}
		return SubtypeOf(a, bt.Elem)
	case TArray:
		at, ok := a.(TArray)
		return ok && SubtypeOf(at.Elem, bt.Elem)
	case TDict:
		at, ok := a.(TDict)
		return ok && SubtypeOf(at.Elem, bt.Elem)
	case TObject:
		at, ok := a.(TObject)
		if !ok {
			return false
		}
		for _, f := range bt.Fields {
			afs, present := at.field(f.Name)
			if !present || !SubtypeOf(afs, f.Schema) {
				return false
			}
		}
		return true
	}
	return false
}

// ToTyped shapes v to s, dropping object fields the schema does not name.
// The boolean is false when v does not conform.
func ToTyped(v Value, s Schema) (Value, bool) {
	if !Conforms(v, s) {
		return nil, false
	}
	switch t := s.(type) {
	case TOptional:
		if IsNull(v) {
			return None(), true
		}
		if tag, ok := v.(Tagged); ok && tag.Name == "None" {
			return None(), true
		}
		inner := v
		if tag, ok := v.(Tagged); ok && tag.Name == "Some" {
			inner = tag.Value
		}
		typed, ok := ToTyped(inner, t.Elem)
		if !ok {
			return nil, false
		}
		return Some(typed), true
	case TArray:
		list := v.(List)
		out := make(List, len(list))
		for i, item := range list {
			typed, ok := ToTyped(item, t.Elem)
			if !ok {
				return nil, false
			}
			out[i] = typed
		}
		return out, true
	case TObject:
		rec := v.(*Record)
		out := NewRecord()
		for _, f := range t.Fields {
			fv, present := rec.Get(f.Name)
			if !present {
				out.Set(f.Name, None())
				continue
			}
			typed, ok := ToTyped(fv, f.Schema)
			if !ok {
				return nil, false
			}
			out.Set(f.Name, typed)
		}
		return out, true
	}
	return v, true
}
