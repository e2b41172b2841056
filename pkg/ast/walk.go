package ast

// Visitor is the interface for Walk callbacks.
//
// A Visitor's Visit method is invoked for each node encountered by Walk. If
// the result visitor w is not nil, Walk visits each of the children of node
// with the visitor w, followed by a call of w.Visit(nil).
//
// (see also: go/ast.Visitor)
type Visitor interface {
	Visit(Node) Visitor
}

// Walk traverses an expression tree in depth-first order, starting with
// v.Visit(n). Children are visited in source order, which matters for Case
// branches and And/Or operands.
func Walk(v Visitor, n Node) {
	w := v.Visit(n)
	if w == nil {
		return
	}
	for _, c := range children(n) {
		Walk(w, c)
	}
	w.Visit(nil)
}

type inspector func(Node) bool

func (f inspector) Visit(n Node) Visitor {
	if n != nil && f(n) {
		return f
	}
	return nil
}

// Inspect traverses the tree depth-first, calling f for each node. If f
// returns false, the node's children are skipped.
func Inspect(n Node, f func(Node) bool) {
	Walk(inspector(f), n)
}

func children(n Node) []Node {
	switch t := n.(type) {
	case Comparison:
		if t.Right == nil {
			return []Node{t.Left}
		}
		return []Node{t.Left, t.Right}
	case Not:
		return []Node{t.Operand}
	case And:
		return t.Operands
	case Or:
		return t.Operands
	case FunctionCall:
		return t.Args
	case ArrayLiteral:
		return t.Items
	case Case:
		var out []Node
		if t.Discriminant != nil {
			out = append(out, t.Discriminant)
		}
		for _, br := range t.Branches {
			out = append(out, br.When, br.Then)
		}
		if t.Else != nil {
			out = append(out, t.Else)
		}
		return out
	default:
		// Literal, ColumnRef, SessionSetting, Exists are leaves.
		return nil
	}
}
