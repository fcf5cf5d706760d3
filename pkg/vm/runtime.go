package vm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/rhino1998/aslet/pkg/compiler"
)

const DefaultMaxDepth = 1000

var ErrUndefinedBuiltin = errors.New("undefined builtin")

type Runtime struct {
	logger   *slog.Logger
	prog     *compiler.Program
	builtins Builtins

	stdin  *bufio.Reader
	stdout io.Writer

	modules map[string]*Module

	// MaxDepth bounds the number of nested calls.
	MaxDepth int
	depth    int
}

// NewRuntime prepares prog to run. prog may be nil for a runtime that
// only executes chunks.
func NewRuntime(logger *slog.Logger, prog *compiler.Program, builtins Builtins, stdin io.Reader, stdout io.Writer) (*Runtime, error) {
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	r := &Runtime{
		logger:   logger,
		prog:     prog,
		builtins: builtins,
		stdin:    bufio.NewReader(stdin),
		stdout:   stdout,
		modules:  make(map[string]*Module),
		MaxDepth: DefaultMaxDepth,
	}

	if prog != nil {
		for _, m := range prog.Modules {
			err := r.checkBuiltins(m)
			if err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

func (r *Runtime) checkBuiltins(m *compiler.Module) error {
	for _, fn := range slices.Concat([]*compiler.Funcode{m.Toplevel}, m.Functions) {
		for pc, bc := range fn.Code {
			lb, ok := bc.(compiler.LoadBuiltin)
			if !ok {
				continue
			}

			if _, ok := r.builtins[lb.Builtin]; !ok {
				return fmt.Errorf("%s: %w %q", fn.Position(pc), ErrUndefinedBuiltin, lb.Builtin)
			}
		}
	}

	return nil
}

// Run initializes the modules of the program in import order. When
// entry is not empty only entry and the modules it depends on are
// initialized. An exception that escapes a module is returned as an
// *EvalError.
func (r *Runtime) Run(ctx context.Context, entry string) error {
	if r.prog == nil {
		return fmt.Errorf("no program to run")
	}

	order := r.prog.InitOrder()
	if entry != "" {
		m, ok := r.prog.Module(entry)
		if !ok {
			return fmt.Errorf("%w %q", compiler.ErrUnknownModule, entry)
		}

		needed := r.dependencies(m)
		order = slices.DeleteFunc(slices.Clone(order), func(m *compiler.Module) bool {
			_, ok := needed[m.Name]
			return !ok
		})
	}

	for _, m := range order {
		if _, ok := r.modules[m.Name]; ok {
			continue
		}

		_, err := r.exec(ctx, newModule(m), m)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Runtime) dependencies(m *compiler.Module) map[string]struct{} {
	seen := make(map[string]struct{})

	var visit func(m *compiler.Module)
	visit = func(m *compiler.Module) {
		if _, ok := seen[m.Name]; ok {
			return
		}
		seen[m.Name] = struct{}{}

		for _, imp := range m.Imports {
			if dep, ok := r.prog.Module(imp.Name); ok {
				visit(dep)
			}
		}
	}
	visit(m)

	return seen
}

// Exec runs a chunk compiled for an interactive session and returns
// the value of its trailing expression. Chunks with the same module
// name share globals.
func (r *Runtime) Exec(ctx context.Context, code *compiler.Module) (Value, error) {
	err := r.checkBuiltins(code)
	if err != nil {
		return nil, err
	}

	mod, ok := r.modules[code.Name]
	if !ok {
		mod = newModule(code)
	}
	mod.code = code

	return r.exec(ctx, mod, code)
}

func (r *Runtime) exec(ctx context.Context, mod *Module, code *compiler.Module) (Value, error) {
	r.modules[mod.name] = mod

	fn := &Function{code: code.Toplevel, module: mod}
	v, err := r.call(ctx, nil, fn, nil)
	if err != nil {
		var exc *Exception
		if errors.As(err, &exc) {
			return nil, newEvalError(exc)
		}
		return nil, err
	}

	r.logger.Debug("executed module", slog.String("module", mod.name))

	return v, nil
}

// Module returns an initialized module.
func (r *Runtime) Module(name string) (*Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Globals lists the global variables a module has defined so far.
func (r *Runtime) Globals(module string) []string {
	m, ok := r.modules[module]
	if !ok {
		return nil
	}

	return slices.Sorted(maps.Keys(m.globals))
}

// Invoke calls fn with args.
func (r *Runtime) Invoke(ctx context.Context, fn Value, args ...Value) (Value, error) {
	return r.call(ctx, nil, fn, args)
}

func (r *Runtime) call(ctx context.Context, caller *frame, fn Value, args []Value) (Value, error) {
	switch fn := fn.(type) {
	case *Function:
		return r.callFunction(ctx, fn, args)
	case *Builtin:
		return fn.fn(&Call{ctx: ctx, r: r, frame: caller}, args)
	case *ExceptionType:
		return NewException(fn, args...), nil
	default:
		return nil, newError(TypeError, "'%s' object is not callable", fn.Type())
	}
}

func (r *Runtime) callFunction(ctx context.Context, fn *Function, args []Value) (Value, error) {
	code := fn.code

	required := code.Params - len(fn.defaults)
	switch {
	case len(args) > code.Params:
		return nil, newError(TypeError, "%s() takes %d positional argument(s) but %d were given", code.Name, code.Params, len(args))
	case len(args) < required:
		return nil, newError(TypeError, "%s() missing %d required positional argument(s)", code.Name, required-len(args))
	}

	if r.depth >= r.MaxDepth {
		return nil, newError(RuntimeError, "maximum recursion depth exceeded")
	}
	r.depth++
	defer func() { r.depth-- }()

	fr := &frame{
		code:     code,
		module:   fn.module,
		locals:   make([]Value, len(code.Locals)),
		freevars: fn.freevars,
	}

	copy(fr.locals, args)
	for i := len(args); i < code.Params; i++ {
		fr.locals[i] = fn.defaults[i-required]
	}
	for _, slot := range code.Cells {
		fr.locals[slot] = &cell{v: fr.locals[slot]}
	}

	return r.run(ctx, fr)
}

// A Call gives a builtin access to the runtime and to the frame that
// called it.
type Call struct {
	ctx   context.Context
	r     *Runtime
	frame *frame
}

func (c *Call) Context() context.Context { return c.ctx }
func (c *Call) Runtime() *Runtime        { return c.r }
func (c *Call) Stdout() io.Writer        { return c.r.stdout }

// ReadLine reads a line from the runtime's input without its line
// terminator.
func (c *Call) ReadLine() (string, error) {
	line, err := c.r.stdin.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// Globals returns a snapshot of the calling module's globals.
func (c *Call) Globals() *Dict {
	d := NewDict()
	if c.frame == nil {
		return d
	}

	globals := c.frame.module.globals
	for _, name := range slices.Sorted(maps.Keys(globals)) {
		_ = d.Set(String(name), globals[name])
	}
	return d
}

// Locals returns a snapshot of the calling frame's variables. At the
// top level of a module these are the globals. Statement-local
// bindings and compiler temporaries are not included.
func (c *Call) Locals() *Dict {
	fr := c.frame
	if fr == nil || fr.code == fr.code.Module.Toplevel {
		return c.Globals()
	}

	d := NewDict()
	for i, local := range fr.code.Locals {
		if local.Hidden {
			continue
		}

		v := fr.locals[i]
		if cl, ok := v.(*cell); ok {
			v = cl.v
		}
		if v != nil {
			_ = d.Set(String(local.Name), v)
		}
	}

	for i, name := range fr.code.FreeVars {
		if v := fr.freevars[i].v; v != nil {
			_ = d.Set(String(name), v)
		}
	}

	return d
}
