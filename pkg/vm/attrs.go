package vm

import (
	"slices"
	"strings"
)

type method func(c *Call, recv Value, args []Value) (Value, error)

var (
	listMethods = map[string]method{
		"append": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("append", args, 1, 1); err != nil {
				return nil, err
			}
			recv.(*List).Append(args[0])
			return None, nil
		},
		"extend": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("extend", args, 1, 1); err != nil {
				return nil, err
			}
			elems, err := collect(args[0])
			if err != nil {
				return nil, err
			}
			l := recv.(*List)
			l.elems = append(l.elems, elems...)
			return None, nil
		},
		"pop": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("pop", args, 0, 1); err != nil {
				return nil, err
			}
			l := recv.(*List)
			if len(l.elems) == 0 {
				return nil, newError(IndexError, "pop from empty list")
			}

			i := len(l.elems) - 1
			if len(args) == 1 {
				n, err := toIndex(args[0], len(l.elems), "pop")
				if err != nil {
					return nil, err
				}
				i = n
			}

			v := l.elems[i]
			l.elems = slices.Delete(l.elems, i, i+1)
			return v, nil
		},
	}

	dictMethods = map[string]method{
		"get": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("get", args, 1, 2); err != nil {
				return nil, err
			}
			v, found, err := recv.(*Dict).Get(args[0])
			if err != nil {
				return nil, err
			}
			if found {
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return None, nil
		},
		"keys": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("keys", args, 0, 0); err != nil {
				return nil, err
			}
			return NewList(recv.(*Dict).Keys()...), nil
		},
		"values": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("values", args, 0, 0); err != nil {
				return nil, err
			}
			d := recv.(*Dict)
			values := make([]Value, len(d.entries))
			for i, e := range d.entries {
				values[i] = e.value
			}
			return NewList(values...), nil
		},
		"items": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("items", args, 0, 0); err != nil {
				return nil, err
			}
			d := recv.(*Dict)
			items := make([]Value, len(d.entries))
			for i, e := range d.entries {
				items[i] = Tuple{e.key, e.value}
			}
			return NewList(items...), nil
		},
	}

	stringMethods = map[string]method{
		"upper": stringFunc(strings.ToUpper),
		"lower": stringFunc(strings.ToLower),
		"strip": stringFunc(strings.TrimSpace),
		"split": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("split", args, 0, 1); err != nil {
				return nil, err
			}

			var parts []string
			if len(args) == 0 || args[0] == None {
				parts = strings.Fields(string(recv.(String)))
			} else {
				sep, ok := args[0].(String)
				if !ok {
					return nil, newError(TypeError, "must be str or None, not %s", args[0].Type())
				}
				if sep == "" {
					return nil, newError(ValueError, "empty separator")
				}
				parts = strings.Split(string(recv.(String)), string(sep))
			}

			elems := make([]Value, len(parts))
			for i, p := range parts {
				elems[i] = String(p)
			}
			return NewList(elems...), nil
		},
		"join": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("join", args, 1, 1); err != nil {
				return nil, err
			}
			elems, err := collect(args[0])
			if err != nil {
				return nil, err
			}

			parts := make([]string, len(elems))
			for i, elem := range elems {
				s, ok := elem.(String)
				if !ok {
					return nil, newError(TypeError, "sequence item %d: expected str instance, %s found", i, elem.Type())
				}
				parts[i] = string(s)
			}
			return String(strings.Join(parts, string(recv.(String)))), nil
		},
		"startswith": stringPredicate("startswith", strings.HasPrefix),
		"endswith":   stringPredicate("endswith", strings.HasSuffix),
		"replace": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("replace", args, 2, 2); err != nil {
				return nil, err
			}
			old, ok1 := args[0].(String)
			repl, ok2 := args[1].(String)
			if !ok1 || !ok2 {
				return nil, newError(TypeError, "replace() arguments must be str")
			}
			return String(strings.ReplaceAll(string(recv.(String)), string(old), string(repl))), nil
		},
	}

	lockMethods = map[string]method{
		"acquire": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("acquire", args, 0, 0); err != nil {
				return nil, err
			}
			_, err := recv.(*Lock).Enter()
			if err != nil {
				return nil, err
			}
			return True, nil
		},
		"release": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("release", args, 0, 0); err != nil {
				return nil, err
			}
			return None, recv.(*Lock).Exit()
		},
		"locked": func(_ *Call, recv Value, args []Value) (Value, error) {
			if err := checkArgs("locked", args, 0, 0); err != nil {
				return nil, err
			}
			return Bool(recv.(*Lock).Locked()), nil
		},
	}
)

const True = Bool(true)

func stringFunc(f func(string) string) method {
	return func(_ *Call, recv Value, args []Value) (Value, error) {
		if len(args) != 0 {
			return nil, newError(TypeError, "method takes no arguments (%d given)", len(args))
		}
		return String(f(string(recv.(String)))), nil
	}
}

func stringPredicate(name string, f func(s, affix string) bool) method {
	return func(_ *Call, recv Value, args []Value) (Value, error) {
		if err := checkArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		affix, ok := args[0].(String)
		if !ok {
			return nil, newError(TypeError, "%s arg must be str, not %s", name, args[0].Type())
		}
		return Bool(f(string(recv.(String)), string(affix))), nil
	}
}

func methodsOf(v Value) map[string]method {
	switch v.(type) {
	case *List:
		return listMethods
	case *Dict:
		return dictMethods
	case String:
		return stringMethods
	case *Lock:
		return lockMethods
	default:
		return nil
	}
}

// attrNames lists the attributes dir() reports for v.
func attrNames(v Value) []string {
	var names []string
	switch v := v.(type) {
	case *Module:
		for name := range v.globals {
			names = append(names, name)
		}
	case *Exception:
		names = append(names, "args")
	default:
		for name := range methodsOf(v) {
			names = append(names, name)
		}
	}

	slices.Sort(names)
	return names
}

// getAttr evaluates v.name.
func getAttr(v Value, name string) (Value, error) {
	switch v := v.(type) {
	case *Module:
		if g, ok := v.globals[name]; ok {
			return g, nil
		}
		return nil, newError(AttributeError, "module '%s' has no attribute '%s'", v.name, name)
	case *Exception:
		if name == "args" {
			return v.args, nil
		}
	}

	if m, ok := methodsOf(v)[name]; ok {
		return NewBuiltin(name, func(c *Call, args []Value) (Value, error) {
			return m(c, v, args)
		}), nil
	}

	return nil, newError(AttributeError, "'%s' object has no attribute '%s'", v.Type(), name)
}

// getIndex evaluates v[key].
func getIndex(v, key Value) (Value, error) {
	switch v := v.(type) {
	case *Dict:
		elem, found, err := v.Get(key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, NewException(KeyError, key)
		}
		return elem, nil
	case *List:
		i, err := toIndex(key, len(v.elems), "list")
		if err != nil {
			return nil, err
		}
		return v.elems[i], nil
	case Tuple:
		i, err := toIndex(key, len(v), "tuple")
		if err != nil {
			return nil, err
		}
		return v[i], nil
	case String:
		runes := []rune(string(v))
		i, err := toIndex(key, len(runes), "string")
		if err != nil {
			return nil, err
		}
		return String(string(runes[i])), nil
	case Range:
		i, err := toIndex(key, v.Len(), "range object")
		if err != nil {
			return nil, err
		}
		return v.at(i), nil
	default:
		return nil, newError(TypeError, "'%s' object is not subscriptable", v.Type())
	}
}

// setIndex performs v[key] = elem.
func setIndex(v, key, elem Value) error {
	switch v := v.(type) {
	case *Dict:
		return v.Set(key, elem)
	case *List:
		i, err := toIndex(key, len(v.elems), "list assignment")
		if err != nil {
			return err
		}
		v.elems[i] = elem
		return nil
	default:
		return newError(TypeError, "'%s' object does not support item assignment", v.Type())
	}
}

func toIndex(key Value, n int, what string) (int, error) {
	if shortKind(key) != "I" {
		return 0, newError(TypeError, "%s indices must be integers, not %s", what, key.Type())
	}

	i := int(asInt(key))
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, newError(IndexError, "%s index out of range", what)
	}
	return i, nil
}

func checkArgs(name string, args []Value, minArgs, maxArgs int) error {
	switch {
	case len(args) < minArgs || len(args) > maxArgs:
		if minArgs == maxArgs {
			return newError(TypeError, "%s() takes exactly %d argument(s) (%d given)", name, minArgs, len(args))
		}
		return newError(TypeError, "%s() takes from %d to %d arguments (%d given)", name, minArgs, maxArgs, len(args))
	default:
		return nil
	}
}
