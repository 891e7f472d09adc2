package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// Expression is a node of a parsed formula.
type Expression interface {
	String() string
	expressionNode()
}

// Literal is a constant: int64, float64, string, bool or nil.
type Literal struct {
	Value any
}

func (l *Literal) expressionNode() {}
func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), "'", `\'`) + "'"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// UnaryExpr is a prefix operator applied to one operand.
type UnaryExpr struct {
	Operator string
	Operand  Expression
}

func (u *UnaryExpr) expressionNode() {}
func (u *UnaryExpr) String() string {
	return fmt.Sprintf("(%s%s)", u.Operator, u.Operand)
}

// BinaryExpr is an infix operator.
type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (b *BinaryExpr) expressionNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Operator, b.Right)
}

// FunctionCall is a call of a built-in function. Name is lower case.
type FunctionCall struct {
	Name string
	Args []Expression
}

func (f *FunctionCall) expressionNode() {}
func (f *FunctionCall) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

// FieldRef reads a value of the row being evaluated by field name.
type FieldRef struct {
	Name string
}

func (f *FieldRef) expressionNode() {}
func (f *FieldRef) String() string {
	return "field(" + (&Literal{Value: f.Name}).String() + ")"
}

// DataRef reads a dotted ledger path, e.g. get('page_parameter.id').
type DataRef struct {
	Path string
}

func (d *DataRef) expressionNode() {}
func (d *DataRef) String() string {
	return "get(" + (&Literal{Value: d.Path}).String() + ")"
}

// Walk calls fn for e and every expression below it, parents first.
func Walk(e Expression, fn func(Expression)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *UnaryExpr:
		Walk(n.Operand, fn)
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *FunctionCall:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	}
}
