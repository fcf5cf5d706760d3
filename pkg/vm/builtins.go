package vm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Builtins maps predeclared names to their values.
type Builtins map[string]Value

// DefaultBuiltins returns the builtins every program can use. The set
// matches the names the compiler predeclares.
func DefaultBuiltins() Builtins {
	b := Builtins{
		"bool": NewBuiltin("bool", func(_ *Call, args []Value) (Value, error) {
			if err := checkArgs("bool", args, 0, 1); err != nil {
				return nil, err
			}
			if len(args) == 0 {
				return Bool(false), nil
			}
			return Bool(args[0].Truth()), nil
		}),
		"dict":  NewBuiltin("dict", builtinDict),
		"dir":   NewBuiltin("dir", builtinDir),
		"float": NewBuiltin("float", builtinFloat),
		"globals": NewBuiltin("globals", func(c *Call, args []Value) (Value, error) {
			if err := checkArgs("globals", args, 0, 0); err != nil {
				return nil, err
			}
			return c.Globals(), nil
		}),
		"input":      NewBuiltin("input", builtinInput),
		"int":        NewBuiltin("int", builtinInt),
		"isinstance": NewBuiltin("isinstance", builtinIsInstance),
		"len": NewBuiltin("len", func(_ *Call, args []Value) (Value, error) {
			if err := checkArgs("len", args, 1, 1); err != nil {
				return nil, err
			}
			seq, ok := args[0].(Sequence)
			if !ok {
				return nil, newError(TypeError, "object of type '%s' has no len()", args[0].Type())
			}
			return Int(seq.Len()), nil
		}),
		"list": NewBuiltin("list", func(_ *Call, args []Value) (Value, error) {
			if err := checkArgs("list", args, 0, 1); err != nil {
				return nil, err
			}
			if len(args) == 0 {
				return NewList(), nil
			}
			elems, err := collect(args[0])
			if err != nil {
				return nil, err
			}
			return NewList(slices.Clone(elems)...), nil
		}),
		"locals": NewBuiltin("locals", func(c *Call, args []Value) (Value, error) {
			if err := checkArgs("locals", args, 0, 0); err != nil {
				return nil, err
			}
			return c.Locals(), nil
		}),
		"print": NewBuiltin("print", func(c *Call, args []Value) (Value, error) {
			parts := make([]string, len(args))
			for i, arg := range args {
				parts[i] = arg.String()
			}
			_, err := fmt.Fprintln(c.Stdout(), strings.Join(parts, " "))
			if err != nil {
				return nil, fmt.Errorf("failed to print: %w", err)
			}
			return None, nil
		}),
		"range": NewBuiltin("range", builtinRange),
		"str": NewBuiltin("str", func(_ *Call, args []Value) (Value, error) {
			if err := checkArgs("str", args, 0, 1); err != nil {
				return nil, err
			}
			if len(args) == 0 {
				return String(""), nil
			}
			return String(args[0].String()), nil
		}),
		"tuple": NewBuiltin("tuple", func(_ *Call, args []Value) (Value, error) {
			if err := checkArgs("tuple", args, 0, 1); err != nil {
				return nil, err
			}
			if len(args) == 0 {
				return Tuple{}, nil
			}
			elems, err := collect(args[0])
			if err != nil {
				return nil, err
			}
			return Tuple(slices.Clone(elems)), nil
		}),
		"Lock": NewBuiltin("Lock", func(_ *Call, args []Value) (Value, error) {
			if err := checkArgs("Lock", args, 0, 0); err != nil {
				return nil, err
			}
			return &Lock{}, nil
		}),
	}

	for _, typ := range exceptionTypes {
		b[typ.name] = typ
	}

	return b
}

func builtinDict(_ *Call, args []Value) (Value, error) {
	if err := checkArgs("dict", args, 0, 1); err != nil {
		return nil, err
	}

	d := NewDict()
	if len(args) == 0 {
		return d, nil
	}

	if src, ok := args[0].(*Dict); ok {
		for _, e := range src.entries {
			_ = d.Set(e.key, e.value)
		}
		return d, nil
	}

	pairs, err := collect(args[0])
	if err != nil {
		return nil, err
	}

	for i, pair := range pairs {
		kv, err := collect(pair)
		if err != nil || len(kv) != 2 {
			return nil, newError(ValueError, "dictionary update sequence element #%d has the wrong length", i)
		}
		if err := d.Set(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func builtinDir(c *Call, args []Value) (Value, error) {
	if err := checkArgs("dir", args, 0, 1); err != nil {
		return nil, err
	}

	var names []string
	if len(args) == 0 {
		names = c.Locals().stringKeys()
		slices.Sort(names)
	} else {
		names = attrNames(args[0])
	}

	elems := make([]Value, len(names))
	for i, name := range names {
		elems[i] = String(name)
	}
	return NewList(elems...), nil
}

func (d *Dict) stringKeys() []string {
	names := make([]string, 0, len(d.entries))
	for _, e := range d.entries {
		if s, ok := e.key.(String); ok {
			names = append(names, string(s))
		}
	}
	return names
}

func builtinFloat(_ *Call, args []Value) (Value, error) {
	if err := checkArgs("float", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return Float(0), nil
	}

	switch v := args[0].(type) {
	case Float:
		return v, nil
	case Int, Bool:
		return Float(asInt(v)), nil
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return nil, newError(ValueError, "could not convert string to float: %s", Repr(v))
		}
		return Float(f), nil
	default:
		return nil, newError(TypeError, "float() argument must be a string or a number, not '%s'", v.Type())
	}
}

func builtinInt(_ *Call, args []Value) (Value, error) {
	if err := checkArgs("int", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return Int(0), nil
	}

	switch v := args[0].(type) {
	case Int, Bool:
		return asInt(v), nil
	case Float:
		f := float64(v)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, newError(ValueError, "cannot convert float %s to integer", v)
		}
		return Int(math.Trunc(f)), nil
	case String:
		i, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		if err != nil {
			return nil, newError(ValueError, "invalid literal for int() with base 10: %s", Repr(v))
		}
		return Int(i), nil
	default:
		return nil, newError(TypeError, "int() argument must be a string or a number, not '%s'", v.Type())
	}
}

func builtinInput(c *Call, args []Value) (Value, error) {
	if err := checkArgs("input", args, 0, 1); err != nil {
		return nil, err
	}

	if len(args) == 1 {
		_, err := io.WriteString(c.Stdout(), args[0].String())
		if err != nil {
			return nil, fmt.Errorf("failed to write prompt: %w", err)
		}
	}

	line, err := c.ReadLine()
	if errors.Is(err, io.EOF) {
		return nil, newError(EOFError, "EOF when reading a line")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return String(line), nil
}

// isinstance accepts exception types and the conversion builtins,
// which stand for the types they convert to.
func builtinIsInstance(_ *Call, args []Value) (Value, error) {
	if err := checkArgs("isinstance", args, 2, 2); err != nil {
		return nil, err
	}

	v := args[0]
	types := []Value{args[1]}
	if t, ok := args[1].(Tuple); ok {
		types = t
	}

	for _, typ := range types {
		switch typ := typ.(type) {
		case *ExceptionType:
			if exc, ok := v.(*Exception); ok && exc.typ.IsSubtype(typ) {
				return Bool(true), nil
			}
		case *Builtin:
			if typ.name == v.Type() || typ.name == "int" && v.Type() == "bool" {
				return Bool(true), nil
			}
		default:
			return nil, newError(TypeError, "isinstance() arg 2 must be a type or tuple of types")
		}
	}

	return Bool(false), nil
}

func builtinRange(_ *Call, args []Value) (Value, error) {
	if err := checkArgs("range", args, 1, 3); err != nil {
		return nil, err
	}

	bounds := make([]int64, len(args))
	for i, arg := range args {
		if shortKind(arg) != "I" {
			return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", arg.Type())
		}
		bounds[i] = int64(asInt(arg))
	}

	r := Range{step: 1}
	switch len(bounds) {
	case 1:
		r.stop = bounds[0]
	case 2:
		r.start, r.stop = bounds[0], bounds[1]
	case 3:
		r.start, r.stop, r.step = bounds[0], bounds[1], bounds[2]
		if r.step == 0 {
			return nil, newError(ValueError, "range() arg 3 must not be zero")
		}
	}

	return r, nil
}
