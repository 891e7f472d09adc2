package formula

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gridbase/gridbase/internal/ledger"
)

// EvalError reports a failure while evaluating a formula, such as a
// division by zero or an operand that is not a number.
type EvalError struct {
	Message string
	Expr    string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("formula: %s in %s", e.Message, e.Expr)
}

func evalErr(e Expression, format string, args ...any) error {
	return &EvalError{Message: fmt.Sprintf(format, args...), Expr: e.String()}
}

type function struct {
	minArgs int
	maxArgs int // -1 is variadic
	call    func(e *FunctionCall, args []any) (any, error)
}

var functions map[string]function

func init() {
	// if is evaluated lazily and field/get become references, so their call
	// is never invoked.
	functions = map[string]function{
		"field":  {minArgs: 1, maxArgs: 1},
		"get":    {minArgs: 1, maxArgs: 1},
		"if":     {minArgs: 2, maxArgs: 3},
		"concat": {minArgs: 1, maxArgs: -1, call: callConcat},
		"upper":  {minArgs: 1, maxArgs: 1, call: callUpper},
		"lower":  {minArgs: 1, maxArgs: 1, call: callLower},
		"len":    {minArgs: 1, maxArgs: 1, call: callLen},
		"round":  {minArgs: 1, maxArgs: 2, call: callRound},
	}
}

func eval(ctx context.Context, e Expression, l *ledger.Ledger) (any, error) {
	switch n := e.(type) {
	case *Literal:
		return n.Value, nil

	case *FieldRef:
		return resolve(ctx, l, ledger.RowProviderName+"."+ledger.EscapeSegment(n.Name))

	case *DataRef:
		return resolve(ctx, l, n.Path)

	case *UnaryExpr:
		v, err := eval(ctx, n.Operand, l)
		if err != nil || v == nil {
			return nil, err
		}
		x, err := number(n, v)
		if err != nil {
			return nil, err
		}
		if i, ok := x.(int64); ok {
			return -i, nil
		}
		return -x.(float64), nil

	case *BinaryExpr:
		left, err := eval(ctx, n.Left, l)
		if err != nil {
			return nil, err
		}
		right, err := eval(ctx, n.Right, l)
		if err != nil {
			return nil, err
		}
		return binary(n, left, right)

	case *FunctionCall:
		if n.Name == "if" {
			return evalIf(ctx, n, l)
		}
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			v, err := eval(ctx, a, l)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return functions[n.Name].call(n, args)

	default:
		return nil, fmt.Errorf("formula: unsupported expression %T", e)
	}
}

func resolve(ctx context.Context, l *ledger.Ledger, path string) (any, error) {
	if l == nil {
		return nil, nil
	}
	return l.Resolve(ctx, path)
}

func evalIf(ctx context.Context, n *FunctionCall, l *ledger.Ledger) (any, error) {
	cond, err := eval(ctx, n.Args[0], l)
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return eval(ctx, n.Args[1], l)
	}
	if len(n.Args) == 3 {
		return eval(ctx, n.Args[2], l)
	}
	return nil, nil
}

func binary(n *BinaryExpr, left, right any) (any, error) {
	switch n.Operator {
	case "&":
		return text(left) + text(right), nil
	case "=":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		if left == nil || right == nil {
			return false, nil
		}
		c, err := compare(n, left, right)
		if err != nil {
			return nil, err
		}
		switch n.Operator {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}

	// Arithmetic propagates null.
	if left == nil || right == nil {
		return nil, nil
	}
	lx, err := number(n, left)
	if err != nil {
		return nil, err
	}
	rx, err := number(n, right)
	if err != nil {
		return nil, err
	}

	li, lInt := lx.(int64)
	ri, rInt := rx.(int64)
	if lInt && rInt && n.Operator != "/" {
		switch n.Operator {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		}
	}

	lf, rf := asFloat(lx), asFloat(rx)
	switch n.Operator {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, evalErr(n, "division by zero")
		}
		return lf / rf, nil
	}
	return nil, evalErr(n, "unknown operator %s", n.Operator)
}

// number converts v to int64 or float64. Numeric strings are accepted.
func number(e Expression, v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		if f, err := x.Float64(); err == nil {
			return f, nil
		}
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
	}
	return nil, evalErr(e, "%v is not a number", v)
}

func asFloat(v any) float64 {
	if i, ok := v.(int64); ok {
		return float64(i)
	}
	return v.(float64)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int64, float64, json.Number:
		return true
	}
	return false
}

func equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if isNumeric(left) && isNumeric(right) {
		lx, _ := number(nil, left)
		rx, _ := number(nil, right)
		return asFloat(lx) == asFloat(rx)
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return text(left) == text(right)
}

func compare(e Expression, left, right any) (int, error) {
	if isNumeric(left) || isNumeric(right) {
		lx, err := number(e, left)
		if err != nil {
			return 0, err
		}
		rx, err := number(e, right)
		if err != nil {
			return 0, err
		}
		lf, rf := asFloat(lx), asFloat(rx)
		switch {
		case lf < rf:
			return -1, nil
		case lf > rf:
			return 1, nil
		}
		return 0, nil
	}
	return strings.Compare(text(left), text(right)), nil
}

// text renders a value for concatenation. Null renders empty.
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, text(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		for _, key := range []string{"value", "visible_name", "name", "id"} {
			if inner, ok := x[key]; ok {
				return text(inner)
			}
		}
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int64:
		return x != 0
	case int:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	default:
		return true
	}
}

func callConcat(_ *FunctionCall, args []any) (any, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(text(a))
	}
	return sb.String(), nil
}

func callUpper(_ *FunctionCall, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	return strings.ToUpper(text(args[0])), nil
}

func callLower(_ *FunctionCall, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	return strings.ToLower(text(args[0])), nil
}

func callLen(_ *FunctionCall, args []any) (any, error) {
	if args[0] == nil {
		return int64(0), nil
	}
	return int64(utf8.RuneCountInString(text(args[0]))), nil
}

// callRound rounds half away from zero. Zero places yields an integer.
func callRound(n *FunctionCall, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	x, err := number(n, args[0])
	if err != nil {
		return nil, err
	}
	places := int64(0)
	if len(args) == 2 && args[1] != nil {
		p, err := number(n, args[1])
		if err != nil {
			return nil, err
		}
		places = int64(asFloat(p))
	}
	if places < 0 || places > 10 {
		return nil, evalErr(n, "round places must be between 0 and 10")
	}
	if i, ok := x.(int64); ok {
		return i, nil
	}
	p := math.Pow(10, float64(places))
	r := math.Round(asFloat(x)*p) / p
	if places == 0 {
		return int64(r), nil
	}
	return r, nil
}
