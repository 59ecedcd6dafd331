package expr

// Walk visits e and every sub-expression in evaluation order. The visitor
// returns false to stop the walk.
func Walk(e Expr, visit func(Expr) bool) bool {
	if e == nil {
		return true
	}
	if !visit(e) {
		return false
	}
	switch t := e.(type) {
	case Pipe:
		return Walk(t.First, visit) && Walk(t.Second, visit)
	case FunctionDef:
		return Walk(t.Body, visit)
	case EqualTo:
		return Walk(t.Left, visit) && Walk(t.Right, visit)
	case Math:
		return Walk(t.Left, visit) && Walk(t.Right, visit)
	case And:
		return Walk(t.Left, visit) && Walk(t.Right, visit)
	case Or:
		return Walk(t.Left, visit) && Walk(t.Right, visit)
	case Not:
		return Walk(t.Value, visit)
	case Cond:
		return Walk(t.If, visit) && Walk(t.Then, visit) && Walk(t.Else, visit)
	case IsSome:
		return Walk(t.Value, visit)
	case IsNone:
		return Walk(t.Value, visit)
	case Wrap:
		return Walk(t.Value, visit)
	case Apply:
		return Walk(t.Value, visit) && Walk(t.Fn, visit)
	case Fold:
		return Walk(t.Value, visit) && Walk(t.NoneCase, visit) && Walk(t.SomeCase, visit)
	case DictGet:
		return Walk(t.Key, visit) && Walk(t.Dict, visit)
	case DictPut:
		return Walk(t.Key, visit) && Walk(t.Value, visit) && Walk(t.Dict, visit)
	case DictToPairs:
		return Walk(t.Dict, visit)
	case Debug:
		return Walk(t.Value, visit)
	}
	return true
}

// HasEndpointCall reports whether e reaches upstream I/O anywhere in its tree.
func HasEndpointCall(e Expr) bool {
	found := false
	Walk(e, func(sub Expr) bool {
		if _, ok := sub.(EndpointCall); ok {
			found = true
			return false
		}
		return true
	})
	return found
}
