package vm

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/constraints"

	"github.com/rhino1998/aslet/pkg/parser"
)

type binaryOperatorFunc func(a, b Value) (Value, error)

// binaryOperatorFuncs is keyed by the short kinds of the operands
// around the operator, e.g. "I+F".
var binaryOperatorFuncs = map[string]binaryOperatorFunc{
	"I+I":  intOp(opAdd[int64]),
	"I-I":  intOp(opSub[int64]),
	"I*I":  intOp(opMul[int64]),
	"I%I":  opModInt,
	"I//I": opFloorDivInt,

	"F+F":  floatOp(opAdd[float64]),
	"F-F":  floatOp(opSub[float64]),
	"F*F":  floatOp(opMul[float64]),
	"F%F":  opModFloat,
	"F//F": opFloorDivFloat,
	"F/F":  opDiv,

	"S+S": opConcatStr,
	"S*I": opRepeatStr,
	"I*S": swapped(opRepeatStr),

	"L+L": opConcatList,
	"L*I": opRepeatList,
	"I*L": swapped(opRepeatList),
	"T+T": opConcatTuple,

	"I<I":  compareOp(opLT[int64], intVal),
	"I<=I": compareOp(opLE[int64], intVal),
	"I>I":  compareOp(opGT[int64], intVal),
	"I>=I": compareOp(opGE[int64], intVal),

	"F<F":  compareOp(opLT[float64], floatVal),
	"F<=F": compareOp(opLE[float64], floatVal),
	"F>F":  compareOp(opGT[float64], floatVal),
	"F>=F": compareOp(opGE[float64], floatVal),

	"S<S":  compareOp(opLT[string], stringVal),
	"S<=S": compareOp(opLE[string], stringVal),
	"S>S":  compareOp(opGT[string], stringVal),
	"S>=S": compareOp(opGE[string], stringVal),
}

// shortKind names the operand kinds of the operator table. Bools are
// ints and mixed int/float arithmetic happens in floats.
func shortKind(v Value) string {
	switch v.(type) {
	case Int, Bool:
		return "I"
	case Float:
		return "F"
	case String:
		return "S"
	case *List:
		return "L"
	case Tuple:
		return "T"
	default:
		return "?"
	}
}

func binaryOperation(a Value, op parser.Token, b Value) string {
	return fmt.Sprintf("%s%s%s", shortKind(a), op, shortKind(b))
}

// Binary applies a binary operator.
func Binary(op parser.Token, a, b Value) (Value, error) {
	x, y := a, b

	switch op {
	case parser.EQL:
		return Bool(Equal(a, b)), nil
	case parser.NEQ:
		return Bool(!Equal(a, b)), nil
	case parser.IN:
		ok, err := contains(b, a)
		return Bool(ok), err
	case parser.NOT_IN:
		ok, err := contains(b, a)
		return Bool(!ok), err
	case parser.SLASH:
		// True division always yields a float.
		a, b = promote(a), promote(b)
	case parser.LT, parser.LE, parser.GT, parser.GE:
		if ak, bk := shortKind(a), shortKind(b); ak == "L" && bk == "L" || ak == "T" && bk == "T" {
			return compareSequences(op, a, b)
		}
	}

	if mixedNumbers(a, b) {
		a, b = promote(a), promote(b)
	}

	key := binaryOperation(a, op, b)
	if fn, ok := binaryOperatorFuncs[key]; ok {
		return fn(a, b)
	}

	if _, ok := a.(String); ok && op == parser.PERCENT {
		return opFormatStr(a, b)
	}

	switch op {
	case parser.LT, parser.LE, parser.GT, parser.GE:
		return nil, newError(TypeError, "'%s' not supported between instances of '%s' and '%s'", op, x.Type(), y.Type())
	default:
		return nil, newError(TypeError, "unsupported operand type(s) for %s: '%s' and '%s'", op, x.Type(), y.Type())
	}
}

// Unary applies a unary operator.
func Unary(op parser.Token, a Value) (Value, error) {
	switch op {
	case parser.NOT:
		return Bool(!a.Truth()), nil
	case parser.MINUS:
		switch a := a.(type) {
		case Int:
			return -a, nil
		case Bool:
			return -asInt(a), nil
		case Float:
			return -a, nil
		}
	case parser.PLUS:
		switch a := a.(type) {
		case Int, Float:
			return a, nil
		case Bool:
			return asInt(a), nil
		}
	}

	return nil, newError(TypeError, "bad operand type for unary %s: '%s'", op, a.Type())
}

func mixedNumbers(a, b Value) bool {
	ak, bk := shortKind(a), shortKind(b)
	return ak == "I" && bk == "F" || ak == "F" && bk == "I"
}

func promote(v Value) Value {
	switch v := v.(type) {
	case Int:
		return Float(v)
	case Bool:
		return Float(asInt(v))
	}
	return v
}

func asInt(v Value) Int {
	switch v := v.(type) {
	case Int:
		return v
	case Bool:
		if v {
			return 1
		}
		return 0
	}
	panic(fmt.Sprintf("vm: %s is not an int", v.Type()))
}

func asFloat(v Value) Float {
	return v.(Float)
}

func asString(v Value) String {
	return v.(String)
}

type number interface {
	constraints.Integer | constraints.Float
}

func opAdd[T number](a, b T) T { return a + b }
func opSub[T number](a, b T) T { return a - b }
func opMul[T number](a, b T) T { return a * b }

func opLT[T constraints.Ordered](a, b T) bool { return a < b }
func opLE[T constraints.Ordered](a, b T) bool { return a <= b }
func opGT[T constraints.Ordered](a, b T) bool { return a > b }
func opGE[T constraints.Ordered](a, b T) bool { return a >= b }

func intOp(f func(a, b int64) int64) binaryOperatorFunc {
	return func(a, b Value) (Value, error) {
		return Int(f(int64(asInt(a)), int64(asInt(b)))), nil
	}
}

func floatOp(f func(a, b float64) float64) binaryOperatorFunc {
	return func(a, b Value) (Value, error) {
		return Float(f(float64(asFloat(a)), float64(asFloat(b)))), nil
	}
}

func compareOp[T constraints.Ordered](f func(a, b T) bool, conv func(Value) T) binaryOperatorFunc {
	return func(a, b Value) (Value, error) {
		return Bool(f(conv(a), conv(b))), nil
	}
}

func intVal(v Value) int64     { return int64(asInt(v)) }
func floatVal(v Value) float64 { return float64(asFloat(v)) }
func stringVal(v Value) string { return string(asString(v)) }

func swapped(f binaryOperatorFunc) binaryOperatorFunc {
	return func(a, b Value) (Value, error) {
		return f(b, a)
	}
}

func opModInt(a, b Value) (Value, error) {
	x, y := asInt(a), asInt(b)
	if y == 0 {
		return nil, newError(ZeroDivisionError, "integer modulo by zero")
	}

	m := x % y
	if m != 0 && (m < 0) != (y < 0) {
		m += y
	}
	return m, nil
}

func opFloorDivInt(a, b Value) (Value, error) {
	x, y := asInt(a), asInt(b)
	if y == 0 {
		return nil, newError(ZeroDivisionError, "integer division or modulo by zero")
	}

	q := x / y
	if (x%y != 0) && (x < 0) != (y < 0) {
		q--
	}
	return q, nil
}

func opModFloat(a, b Value) (Value, error) {
	x, y := asFloat(a), asFloat(b)
	if y == 0 {
		return nil, newError(ZeroDivisionError, "float modulo")
	}

	m := Float(math.Mod(float64(x), float64(y)))
	if m != 0 && (m < 0) != (y < 0) {
		m += y
	}
	return m, nil
}

func opFloorDivFloat(a, b Value) (Value, error) {
	x, y := asFloat(a), asFloat(b)
	if y == 0 {
		return nil, newError(ZeroDivisionError, "float floor division by zero")
	}
	return Float(math.Floor(float64(x / y))), nil
}

func opDiv(a, b Value) (Value, error) {
	x, y := asFloat(a), asFloat(b)
	if y == 0 {
		return nil, newError(ZeroDivisionError, "division by zero")
	}
	return x / y, nil
}

func opConcatStr(a, b Value) (Value, error) {
	return asString(a) + asString(b), nil
}

func opRepeatStr(a, b Value) (Value, error) {
	n := int(asInt(b))
	if n < 0 {
		n = 0
	}
	return String(strings.Repeat(string(asString(a)), n)), nil
}

// opFormatStr implements printf-style formatting with %s, %d, %r and
// %f verbs.
func opFormatStr(a, b Value) (Value, error) {
	format := string(asString(a))

	args, ok := b.(Tuple)
	if !ok {
		args = Tuple{b}
	}

	var sb strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}

		i++
		if i == len(format) {
			return nil, newError(ValueError, "incomplete format")
		}

		verb := format[i]
		if verb == '%' {
			sb.WriteByte('%')
			continue
		}

		if next >= len(args) {
			return nil, newError(TypeError, "not enough arguments for format string")
		}
		arg := args[next]
		next++

		switch verb {
		case 's':
			sb.WriteString(arg.String())
		case 'r':
			sb.WriteString(Repr(arg))
		case 'd':
			switch arg := arg.(type) {
			case Int, Bool:
				sb.WriteString(asInt(arg).String())
			case Float:
				sb.WriteString(Int(arg).String())
			default:
				return nil, newError(TypeError, "%%d format: a number is required, not %s", arg.Type())
			}
		case 'f':
			switch arg := promote(arg).(type) {
			case Float:
				fmt.Fprintf(&sb, "%f", float64(arg))
			default:
				return nil, newError(TypeError, "must be real number, not %s", arg.Type())
			}
		default:
			return nil, newError(ValueError, "unsupported format character '%c'", verb)
		}
	}

	if next < len(args) {
		return nil, newError(TypeError, "not all arguments converted during string formatting")
	}

	return String(sb.String()), nil
}

func opConcatList(a, b Value) (Value, error) {
	x, y := a.(*List), b.(*List)
	elems := make([]Value, 0, len(x.elems)+len(y.elems))
	elems = append(elems, x.elems...)
	elems = append(elems, y.elems...)
	return NewList(elems...), nil
}

func opRepeatList(a, b Value) (Value, error) {
	l, n := a.(*List), int(asInt(b))
	var elems []Value
	for range max(n, 0) {
		elems = append(elems, l.elems...)
	}
	return NewList(elems...), nil
}

func opConcatTuple(a, b Value) (Value, error) {
	x, y := a.(Tuple), b.(Tuple)
	t := make(Tuple, 0, len(x)+len(y))
	t = append(t, x...)
	t = append(t, y...)
	return t, nil
}

func compareSequences(op parser.Token, a, b Value) (Value, error) {
	x, _ := collect(a)
	y, _ := collect(b)

	for i := 0; i < len(x) && i < len(y); i++ {
		if Equal(x[i], y[i]) {
			continue
		}
		return Binary(op, x[i], y[i])
	}

	switch op {
	case parser.LT:
		return Bool(len(x) < len(y)), nil
	case parser.LE:
		return Bool(len(x) <= len(y)), nil
	case parser.GT:
		return Bool(len(x) > len(y)), nil
	default:
		return Bool(len(x) >= len(y)), nil
	}
}

// Equal reports whether two values compare equal with ==.
func Equal(a, b Value) bool {
	if mixedNumbers(a, b) {
		return promote(a) == promote(b)
	}

	switch a := a.(type) {
	case Int, Bool:
		if shortKind(b) != "I" {
			return false
		}
		return asInt(a) == asInt(b)
	case Float:
		b, ok := b.(Float)
		return ok && a == b
	case String:
		b, ok := b.(String)
		return ok && a == b
	case NoneType:
		_, ok := b.(NoneType)
		return ok
	case *List:
		b, ok := b.(*List)
		return ok && equalElems(a.elems, b.elems)
	case Tuple:
		b, ok := b.(Tuple)
		return ok && equalElems(a, b)
	case *Dict:
		b, ok := b.(*Dict)
		if !ok || a.Len() != b.Len() {
			return false
		}
		for _, e := range a.entries {
			v, found, err := b.Get(e.key)
			if err != nil || !found || !Equal(e.value, v) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func equalElems(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func contains(container, v Value) (bool, error) {
	switch c := container.(type) {
	case String:
		s, ok := v.(String)
		if !ok {
			return false, newError(TypeError, "'in <string>' requires string as left operand, not %s", v.Type())
		}
		return strings.Contains(string(c), string(s)), nil
	case *Dict:
		_, found, err := c.Get(v)
		return found, err
	}

	it, err := iterate(container)
	if err != nil {
		return false, newError(TypeError, "argument of type '%s' is not iterable", container.Type())
	}

	for {
		elem, ok := it.Next()
		if !ok {
			return false, nil
		}
		if Equal(elem, v) {
			return true, nil
		}
	}
}
