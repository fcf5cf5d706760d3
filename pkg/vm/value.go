package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rhino1998/aslet/pkg/compiler"
)

// A Value is anything a program can compute with.
type Value interface {
	// String is the value as str() renders it.
	String() string
	Type() string
	Truth() bool
}

// An Iterable can be looped over.
type Iterable interface {
	Value
	Iterate() Iterator
}

type Iterator interface {
	Next() (Value, bool)
}

// A Sequence has a length.
type Sequence interface {
	Value
	Len() int
}

// A ContextManager can be used in a with statement.
type ContextManager interface {
	Value
	Enter() (Value, error)
	Exit() error
}

type Int int64

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }
func (Int) Type() string     { return "int" }
func (i Int) Truth() bool    { return i != 0 }

type Float float64

func (f Float) String() string {
	switch {
	case math.IsInf(float64(f), 1):
		return "inf"
	case math.IsInf(float64(f), -1):
		return "-inf"
	case math.IsNaN(float64(f)):
		return "nan"
	}

	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
func (Float) Type() string  { return "float" }
func (f Float) Truth() bool { return f != 0 }

type String string

func (s String) String() string { return string(s) }
func (String) Type() string     { return "str" }
func (s String) Truth() bool    { return s != "" }
func (s String) Len() int       { return len([]rune(string(s))) }

func (s String) Iterate() Iterator {
	runes := []rune(string(s))
	elems := make([]Value, len(runes))
	for i, r := range runes {
		elems[i] = String(string(r))
	}
	return &sliceIterator{elems: elems}
}

type Bool bool

func (b Bool) String() string {
	if b {
		return "True"
	}
	return "False"
}
func (Bool) Type() string  { return "bool" }
func (b Bool) Truth() bool { return bool(b) }

type NoneType struct{}

var None = NoneType{}

func (NoneType) String() string { return "None" }
func (NoneType) Type() string   { return "NoneType" }
func (NoneType) Truth() bool    { return false }

type List struct {
	elems []Value
}

func NewList(elems ...Value) *List {
	return &List{elems: elems}
}

func (l *List) String() string    { return "[" + reprJoin(l.elems) + "]" }
func (*List) Type() string        { return "list" }
func (l *List) Truth() bool       { return len(l.elems) > 0 }
func (l *List) Len() int          { return len(l.elems) }
func (l *List) Elems() []Value    { return l.elems }
func (l *List) Append(v Value)    { l.elems = append(l.elems, v) }
func (l *List) Iterate() Iterator { return &sliceIterator{elems: l.elems, list: l} }

type Tuple []Value

func (t Tuple) String() string {
	if len(t) == 1 {
		return "(" + Repr(t[0]) + ",)"
	}
	return "(" + reprJoin(t) + ")"
}
func (Tuple) Type() string        { return "tuple" }
func (t Tuple) Truth() bool       { return len(t) > 0 }
func (t Tuple) Len() int          { return len(t) }
func (t Tuple) Iterate() Iterator { return &sliceIterator{elems: t} }

type sliceIterator struct {
	elems []Value
	// list is consulted instead of elems so that appends made while
	// looping are seen.
	list *List
	i    int
}

func (it *sliceIterator) Next() (Value, bool) {
	elems := it.elems
	if it.list != nil {
		elems = it.list.elems
	}

	if it.i >= len(elems) {
		return nil, false
	}

	v := elems[it.i]
	it.i++
	return v, true
}

// A Range is the lazy sequence returned by range().
type Range struct {
	start, stop, step int64
}

func (r Range) String() string {
	if r.step == 1 {
		return fmt.Sprintf("range(%d, %d)", r.start, r.stop)
	}
	return fmt.Sprintf("range(%d, %d, %d)", r.start, r.stop, r.step)
}
func (Range) Type() string  { return "range" }
func (r Range) Truth() bool { return r.Len() > 0 }

func (r Range) Len() int {
	switch {
	case r.step > 0 && r.start < r.stop:
		return int((r.stop - r.start + r.step - 1) / r.step)
	case r.step < 0 && r.start > r.stop:
		return int((r.start - r.stop - r.step - 1) / -r.step)
	default:
		return 0
	}
}

func (r Range) Iterate() Iterator {
	return &rangeIterator{r: r}
}

func (r Range) at(i int) Int {
	return Int(r.start + int64(i)*r.step)
}

type rangeIterator struct {
	r Range
	i int
}

func (it *rangeIterator) Next() (Value, bool) {
	if it.i >= it.r.Len() {
		return nil, false
	}

	v := it.r.at(it.i)
	it.i++
	return v, true
}

type dictEntry struct {
	key   Value
	value Value
}

// A Dict keeps its entries in insertion order.
type Dict struct {
	entries []dictEntry
	index   map[any]int
}

func NewDict() *Dict {
	return &Dict{index: make(map[any]int)}
}

func (d *Dict) String() string {
	parts := make([]string, len(d.entries))
	for i, e := range d.entries {
		parts[i] = Repr(e.key) + ": " + Repr(e.value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
func (*Dict) Type() string  { return "dict" }
func (d *Dict) Truth() bool { return len(d.entries) > 0 }
func (d *Dict) Len() int    { return len(d.entries) }

func (d *Dict) Get(k Value) (Value, bool, error) {
	hk, err := hashKey(k)
	if err != nil {
		return nil, false, err
	}

	i, ok := d.index[hk]
	if !ok {
		return nil, false, nil
	}
	return d.entries[i].value, true, nil
}

func (d *Dict) Set(k, v Value) error {
	hk, err := hashKey(k)
	if err != nil {
		return err
	}

	if i, ok := d.index[hk]; ok {
		d.entries[i].value = v
		return nil
	}

	d.index[hk] = len(d.entries)
	d.entries = append(d.entries, dictEntry{key: k, value: v})
	return nil
}

func (d *Dict) Keys() []Value {
	keys := make([]Value, len(d.entries))
	for i, e := range d.entries {
		keys[i] = e.key
	}
	return keys
}

func (d *Dict) Iterate() Iterator {
	return &sliceIterator{elems: d.Keys()}
}

type tupleKey string

// hashKey maps a value to a comparable Go value so that keys which
// compare equal share an entry.
func hashKey(v Value) (any, error) {
	switch v := v.(type) {
	case Int:
		return int64(v), nil
	case Bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case Float:
		if f := float64(v); f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f), nil
		}
		return float64(v), nil
	case String:
		return string(v), nil
	case NoneType:
		return v, nil
	case Tuple:
		var sb strings.Builder
		for _, elem := range v {
			k, err := hashKey(elem)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&sb, "%T:%v;", k, k)
		}
		return tupleKey(sb.String()), nil
	case *Function, *Builtin, *Module, *ExceptionType, *Lock:
		return v, nil
	default:
		return nil, newError(TypeError, "unhashable type: '%s'", v.Type())
	}
}

// A Function is a closure over a compiled function body.
type Function struct {
	code     *compiler.Funcode
	module   *Module
	defaults []Value
	freevars []*cell
}

func (f *Function) String() string { return fmt.Sprintf("<function %s>", f.code.Name) }
func (*Function) Type() string     { return "function" }
func (*Function) Truth() bool      { return true }
func (f *Function) Name() string   { return f.code.Name }

type BuiltinFunc func(c *Call, args []Value) (Value, error)

type Builtin struct {
	name string
	fn   BuiltinFunc
}

func NewBuiltin(name string, fn BuiltinFunc) *Builtin {
	return &Builtin{name: name, fn: fn}
}

func (b *Builtin) String() string { return fmt.Sprintf("<built-in function %s>", b.name) }
func (*Builtin) Type() string     { return "builtin_function_or_method" }
func (*Builtin) Truth() bool      { return true }
func (b *Builtin) Name() string   { return b.name }

// A Module is the run-time instance of a compiled module.
type Module struct {
	name    string
	code    *compiler.Module
	globals map[string]Value
}

func newModule(code *compiler.Module) *Module {
	return &Module{
		name:    code.Name,
		code:    code,
		globals: make(map[string]Value),
	}
}

func (m *Module) String() string { return fmt.Sprintf("<module %s>", m.name) }
func (*Module) Type() string     { return "module" }
func (*Module) Truth() bool      { return true }
func (m *Module) Name() string   { return m.name }

// Global returns the value of a global variable.
func (m *Module) Global(name string) (Value, bool) {
	v, ok := m.globals[name]
	return v, ok
}

// A Lock is a mutual exclusion context manager. Programs run on a
// single goroutine, so acquiring a held lock is an error rather than a
// deadlock.
type Lock struct {
	locked bool
}

func (l *Lock) String() string {
	if l.locked {
		return "<lock locked>"
	}
	return "<lock unlocked>"
}
func (*Lock) Type() string   { return "Lock" }
func (*Lock) Truth() bool    { return true }
func (l *Lock) Locked() bool { return l.locked }

func (l *Lock) Enter() (Value, error) {
	if l.locked {
		return nil, newError(RuntimeError, "lock is already held")
	}
	l.locked = true
	return l, nil
}

func (l *Lock) Exit() error {
	if !l.locked {
		return newError(RuntimeError, "release of unlocked lock")
	}
	l.locked = false
	return nil
}

// cell holds a variable shared between a function and its closures.
type cell struct {
	v Value
}

func (*cell) String() string { return "<cell>" }
func (*cell) Type() string   { return "cell" }
func (*cell) Truth() bool    { return true }

func constantValue(c compiler.Constant) Value {
	switch c := c.(type) {
	case compiler.Int:
		return Int(c)
	case compiler.Float:
		return Float(c)
	case compiler.String:
		return String(c)
	case compiler.Bool:
		return Bool(c)
	case compiler.None:
		return None
	default:
		panic(fmt.Sprintf("vm: unexpected constant %T", c))
	}
}

// Repr renders v the way it appears inside a container.
func Repr(v Value) string {
	switch v := v.(type) {
	case String:
		return quote(string(v))
	case *Exception:
		return v.repr()
	default:
		return v.String()
	}
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			sb.WriteString(`\'`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

func reprJoin(elems []Value) string {
	parts := make([]string, len(elems))
	for i, elem := range elems {
		parts[i] = Repr(elem)
	}
	return strings.Join(parts, ", ")
}

func iterate(v Value) (Iterator, error) {
	it, ok := v.(Iterable)
	if !ok {
		return nil, newError(TypeError, "'%s' object is not iterable", v.Type())
	}
	return it.Iterate(), nil
}

func collect(v Value) ([]Value, error) {
	switch v := v.(type) {
	case *List:
		return v.elems, nil
	case Tuple:
		return v, nil
	}

	it, err := iterate(v)
	if err != nil {
		return nil, err
	}

	var elems []Value
	for {
		elem, ok := it.Next()
		if !ok {
			return elems, nil
		}
		elems = append(elems, elem)
	}
}
