package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rhino1998/aslet/pkg/compiler"
)

type handler struct {
	target int
	sp     int
	iters  int
}

type frame struct {
	code   *compiler.Funcode
	module *Module

	locals   []Value
	freevars []*cell

	stack    []Value
	iters    []Iterator
	handlers []handler

	// handling is the exception a bare raise re-raises.
	handling *Exception

	pc int
}

func (fr *frame) push(v Value) {
	fr.stack = append(fr.stack, v)
}

func (fr *frame) pop() Value {
	v := fr.stack[len(fr.stack)-1]
	fr.stack = fr.stack[:len(fr.stack)-1]
	return v
}

func (fr *frame) top() Value {
	return fr.stack[len(fr.stack)-1]
}

func (fr *frame) popN(n int) []Value {
	vs := make([]Value, n)
	copy(vs, fr.stack[len(fr.stack)-n:])
	fr.stack = fr.stack[:len(fr.stack)-n]
	return vs
}

func (fr *frame) clear(slot int) {
	if cl, ok := fr.locals[slot].(*cell); ok {
		cl.v = nil
		return
	}
	fr.locals[slot] = nil
}

func (fr *frame) unbound(slot int) bool {
	if cl, ok := fr.locals[slot].(*cell); ok {
		return cl.v == nil
	}
	return fr.locals[slot] == nil
}

func (r *Runtime) run(ctx context.Context, fr *frame) (Value, error) {
	code := fr.code.Code

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pc := fr.pc
		fr.pc++

		result, done, err := r.step(ctx, fr, code[pc])
		if err != nil {
			err = r.unwind(fr, pc, err)
			if err != nil {
				return nil, err
			}
			continue
		}

		if done {
			return result, nil
		}
	}
}

// unwind transfers control to the innermost handler of the frame,
// releasing the statement-local bindings of the statements the error
// leaves. Errors that are not exceptions are not caught.
func (r *Runtime) unwind(fr *frame, pc int, err error) error {
	var exc *Exception
	if !errors.As(err, &exc) {
		return err
	}

	if len(fr.handlers) == 0 {
		r.release(fr, fr.code.ReleasedSlots(pc, -1))
		exc.trace = append(exc.trace, Frame{Name: fr.code.Name, Pos: fr.code.Position(pc)})
		return exc
	}

	h := fr.handlers[len(fr.handlers)-1]
	fr.handlers = fr.handlers[:len(fr.handlers)-1]

	r.release(fr, fr.code.ReleasedSlots(pc, h.target))

	fr.stack = fr.stack[:h.sp]
	fr.iters = fr.iters[:h.iters]
	fr.push(exc)
	fr.handling = exc
	fr.pc = h.target

	return nil
}

func (r *Runtime) release(fr *frame, slots []int) {
	if len(slots) == 0 {
		return
	}

	for _, slot := range slots {
		fr.clear(slot)
	}

	r.logger.Debug("released statement-local bindings",
		slog.String("function", fr.code.Name),
		slog.Any("slots", slots),
	)
}

func (r *Runtime) step(ctx context.Context, fr *frame, bc compiler.Bytecode) (Value, bool, error) {
	switch code := bc.(type) {
	case compiler.Const:
		fr.push(constantValue(code.Value))

	case compiler.LoadLocal:
		v := fr.locals[code.Index]
		if v == nil {
			return nil, false, newError(UnboundLocalError, "local variable '%s' referenced before assignment", code.Local)
		}
		fr.push(v)

	case compiler.StoreLocal:
		fr.locals[code.Index] = fr.pop()

	case compiler.DeleteLocal:
		fr.clear(code.Index)

	case compiler.LoadCell:
		v := fr.locals[code.Index].(*cell).v
		if v == nil {
			return nil, false, newError(UnboundLocalError, "local variable '%s' referenced before assignment", code.Local)
		}
		fr.push(v)

	case compiler.StoreCell:
		fr.locals[code.Index].(*cell).v = fr.pop()

	case compiler.LoadCellRef:
		fr.push(fr.locals[code.Index])

	case compiler.LoadFree:
		v := fr.freevars[code.Index].v
		if v == nil {
			return nil, false, newError(NameError, "free variable '%s' referenced before assignment in enclosing scope", code.Free)
		}
		fr.push(v)

	case compiler.LoadFreeRef:
		fr.push(fr.freevars[code.Index])

	case compiler.LoadGlobal:
		if v, ok := fr.module.globals[code.Global]; ok {
			fr.push(v)
			break
		}
		if v, ok := r.builtins[code.Global]; ok {
			fr.push(v)
			break
		}
		return nil, false, newError(NameError, "name '%s' is not defined", code.Global)

	case compiler.StoreGlobal:
		fr.module.globals[code.Global] = fr.pop()

	case compiler.LoadBuiltin:
		v, ok := r.builtins[code.Builtin]
		if !ok {
			return nil, false, newError(NameError, "name '%s' is not defined", code.Builtin)
		}
		fr.push(v)

	case compiler.Pop:
		fr.pop()

	case compiler.Dup:
		fr.push(fr.top())

	case compiler.Dup2:
		n := len(fr.stack)
		fr.push(fr.stack[n-2])
		fr.push(fr.stack[n-1])

	case compiler.Rot3:
		n := len(fr.stack)
		x, y, z := fr.stack[n-3], fr.stack[n-2], fr.stack[n-1]
		fr.stack[n-3], fr.stack[n-2], fr.stack[n-1] = z, x, y

	case compiler.UnaryOp:
		v, err := Unary(code.Op, fr.pop())
		if err != nil {
			return nil, false, err
		}
		fr.push(v)

	case compiler.BinaryOp:
		y := fr.pop()
		x := fr.pop()
		v, err := Binary(code.Op, x, y)
		if err != nil {
			return nil, false, err
		}
		fr.push(v)

	case compiler.Jump:
		fr.pc = code.Target

	case compiler.JumpIfFalse:
		if !fr.pop().Truth() {
			fr.pc = code.Target
		}

	case compiler.JumpIfUnbound:
		if fr.unbound(code.Index) {
			fr.pc = code.Target
		}

	case compiler.JumpIfFalseOrPop:
		if !fr.top().Truth() {
			fr.pc = code.Target
		} else {
			fr.pop()
		}

	case compiler.JumpIfTrueOrPop:
		if fr.top().Truth() {
			fr.pc = code.Target
		} else {
			fr.pop()
		}

	case compiler.Call:
		args := fr.popN(code.Args)
		fn := fr.pop()
		v, err := r.call(ctx, fr, fn, args)
		if err != nil {
			return nil, false, err
		}
		fr.push(v)

	case compiler.Return:
		return fr.pop(), true, nil

	case compiler.MakeFunction:
		refs := fr.popN(code.FreeVars)
		defaults := fr.popN(code.Defaults)

		freevars := make([]*cell, len(refs))
		for i, ref := range refs {
			freevars[i] = ref.(*cell)
		}

		fr.push(&Function{
			code:     fr.code.Module.Functions[code.Func],
			module:   fr.module,
			defaults: defaults,
			freevars: freevars,
		})

	case compiler.MakeList:
		fr.push(NewList(fr.popN(code.N)...))

	case compiler.MakeTuple:
		fr.push(Tuple(fr.popN(code.N)))

	case compiler.MakeDict:
		kvs := fr.popN(2 * code.N)
		d := NewDict()
		for i := 0; i < len(kvs); i += 2 {
			err := d.Set(kvs[i], kvs[i+1])
			if err != nil {
				return nil, false, err
			}
		}
		fr.push(d)

	case compiler.Append:
		v := fr.pop()
		fr.top().(*List).Append(v)

	case compiler.Index:
		key := fr.pop()
		v, err := getIndex(fr.pop(), key)
		if err != nil {
			return nil, false, err
		}
		fr.push(v)

	case compiler.SetIndex:
		key := fr.pop()
		obj := fr.pop()
		err := setIndex(obj, key, fr.pop())
		if err != nil {
			return nil, false, err
		}

	case compiler.Attr:
		v, err := getAttr(fr.pop(), code.Attr)
		if err != nil {
			return nil, false, err
		}
		fr.push(v)

	case compiler.IterPush:
		it, err := iterate(fr.pop())
		if err != nil {
			return nil, false, err
		}
		fr.iters = append(fr.iters, it)

	case compiler.IterNext:
		v, ok := fr.iters[len(fr.iters)-1].Next()
		if !ok {
			fr.pc = code.Target
			break
		}
		fr.push(v)

	case compiler.IterPop:
		fr.iters = fr.iters[:len(fr.iters)-1]

	case compiler.Unpack:
		seq := fr.pop()
		elems, err := collect(seq)
		if err != nil {
			return nil, false, newError(TypeError, "cannot unpack non-iterable %s object", seq.Type())
		}
		switch {
		case len(elems) > code.N:
			return nil, false, newError(ValueError, "too many values to unpack (expected %d)", code.N)
		case len(elems) < code.N:
			return nil, false, newError(ValueError, "not enough values to unpack (expected %d, got %d)", code.N, len(elems))
		}
		for i := len(elems) - 1; i >= 0; i-- {
			fr.push(elems[i])
		}

	case compiler.Raise:
		if !code.Arg {
			if fr.handling == nil {
				return nil, false, newError(RuntimeError, "no active exception to reraise")
			}
			return nil, false, fr.handling
		}

		switch v := fr.pop().(type) {
		case *Exception:
			v.trace = nil
			return nil, false, v
		case *ExceptionType:
			return nil, false, NewException(v)
		default:
			return nil, false, newError(TypeError, "exceptions must derive from Exception")
		}

	case compiler.Reraise:
		return nil, false, fr.pop().(*Exception)

	case compiler.SetupTry:
		fr.handlers = append(fr.handlers, handler{
			target: code.Target,
			sp:     len(fr.stack),
			iters:  len(fr.iters),
		})

	case compiler.PopTry:
		fr.handlers = fr.handlers[:len(fr.handlers)-1]

	case compiler.ExceptMatch:
		typ := fr.pop()
		exc := fr.pop().(*Exception)
		ok, err := matchException(exc, typ)
		if err != nil {
			return nil, false, err
		}
		fr.push(Bool(ok))

	case compiler.WithEnter:
		v := fr.pop()
		cm, ok := v.(ContextManager)
		if !ok {
			return nil, false, newError(TypeError, "'%s' object does not support the context manager protocol", v.Type())
		}
		entered, err := cm.Enter()
		if err != nil {
			return nil, false, err
		}
		fr.push(entered)

	case compiler.WithExit:
		err := fr.pop().(ContextManager).Exit()
		if err != nil {
			return nil, false, err
		}

	case compiler.WithAbort:
		cm := fr.pop().(ContextManager)
		exc := fr.pop().(*Exception)
		err := cm.Exit()
		if err != nil {
			return nil, false, err
		}
		return nil, false, exc

	case compiler.Import:
		m, ok := r.modules[code.Module]
		if !ok {
			return nil, false, newError(RuntimeError, "module '%s' is not loaded", code.Module)
		}
		fr.push(m)

	default:
		return nil, false, fmt.Errorf("unhandled instruction %s", bc.Name())
	}

	return nil, false, nil
}

func matchException(exc *Exception, typ Value) (bool, error) {
	switch typ := typ.(type) {
	case *ExceptionType:
		return exc.typ.IsSubtype(typ), nil
	case Tuple:
		for _, t := range typ {
			ok, err := matchException(exc, t)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	default:
		return false, newError(TypeError, "catching classes that do not inherit from Exception is not allowed")
	}
}
