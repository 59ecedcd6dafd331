package expr

// Bindings hands out fresh lexical binding ids during compilation. A fresh id
// is attached whenever a FunctionDef is introduced.
type Bindings struct {
	next int
}

// Fresh returns a binding id that has not been handed out before.
func (b *Bindings) Fresh() int {
	b.next++
	return b.next
}

// NextBinding is a convenience for one-off function construction.
func NextBinding(b *Bindings, body func(binding int) Expr) FunctionDef {
	id := b.Fresh()
	return FunctionDef{Binding: id, Body: body(id)}
}
