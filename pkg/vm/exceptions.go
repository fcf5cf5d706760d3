package vm

import (
	"fmt"
	"strings"

	"github.com/rhino1998/aslet/pkg/parser"
)

type ExceptionType struct {
	name   string
	parent *ExceptionType
}

func (t *ExceptionType) String() string { return fmt.Sprintf("<class '%s'>", t.name) }
func (*ExceptionType) Type() string     { return "type" }
func (*ExceptionType) Truth() bool      { return true }
func (t *ExceptionType) Name() string   { return t.name }

// IsSubtype reports whether t is base or derives from it.
func (t *ExceptionType) IsSubtype(base *ExceptionType) bool {
	for ; t != nil; t = t.parent {
		if t == base {
			return true
		}
	}
	return false
}

var (
	BaseException     = &ExceptionType{name: "Exception"}
	AttributeError    = &ExceptionType{name: "AttributeError", parent: BaseException}
	EOFError          = &ExceptionType{name: "EOFError", parent: BaseException}
	IndexError        = &ExceptionType{name: "IndexError", parent: BaseException}
	KeyError          = &ExceptionType{name: "KeyError", parent: BaseException}
	NameError         = &ExceptionType{name: "NameError", parent: BaseException}
	RuntimeError      = &ExceptionType{name: "RuntimeError", parent: BaseException}
	TypeError         = &ExceptionType{name: "TypeError", parent: BaseException}
	UnboundLocalError = &ExceptionType{name: "UnboundLocalError", parent: NameError}
	ValueError        = &ExceptionType{name: "ValueError", parent: BaseException}
	ZeroDivisionError = &ExceptionType{name: "ZeroDivisionError", parent: BaseException}
)

var exceptionTypes = []*ExceptionType{
	AttributeError,
	EOFError,
	BaseException,
	IndexError,
	KeyError,
	NameError,
	RuntimeError,
	TypeError,
	UnboundLocalError,
	ValueError,
	ZeroDivisionError,
}

// An Exception is a raised program error. It can be caught by an
// except clause.
type Exception struct {
	typ  *ExceptionType
	args Tuple

	// trace records the frames the exception unwound through,
	// innermost first.
	trace []Frame
}

func NewException(typ *ExceptionType, args ...Value) *Exception {
	return &Exception{typ: typ, args: args}
}

func newError(typ *ExceptionType, format string, args ...any) *Exception {
	return NewException(typ, String(fmt.Sprintf(format, args...)))
}

func (e *Exception) ExceptionType() *ExceptionType { return e.typ }
func (e *Exception) Args() Tuple                   { return e.args }
func (e *Exception) Type() string                  { return e.typ.name }
func (*Exception) Truth() bool                     { return true }

func (e *Exception) String() string {
	switch len(e.args) {
	case 0:
		return ""
	case 1:
		return e.args[0].String()
	default:
		return e.args.String()
	}
}

func (e *Exception) repr() string {
	if len(e.args) == 1 {
		return fmt.Sprintf("%s(%s)", e.typ.name, Repr(e.args[0]))
	}
	return e.typ.name + e.args.String()
}

func (e *Exception) Error() string {
	msg := e.String()
	if msg == "" {
		return e.typ.name
	}
	return e.typ.name + ": " + msg
}

// A Frame is one entry of a backtrace.
type Frame struct {
	Name string
	Pos  parser.Position
}

func (f Frame) String() string {
	return fmt.Sprintf("%s: in %s", f.Pos, f.Name)
}

// An EvalError is an exception that escaped a program.
type EvalError struct {
	Err *Exception
	// CallStack lists the frames that were active when the exception
	// was raised, outermost first.
	CallStack []Frame
}

func (e *EvalError) Error() string {
	return e.Err.Error()
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Backtrace formats the error and the frames it unwound through.
func (e *EvalError) Backtrace() string {
	var sb strings.Builder
	sb.WriteString("Traceback (most recent call last):\n")
	for _, f := range e.CallStack {
		fmt.Fprintf(&sb, "  %v\n", f)
	}
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func newEvalError(exc *Exception) *EvalError {
	stack := make([]Frame, len(exc.trace))
	for i, f := range exc.trace {
		stack[len(stack)-1-i] = f
	}

	return &EvalError{Err: exc, CallStack: stack}
}
