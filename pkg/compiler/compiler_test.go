package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/rhino1998/aslet/internal/chunkedfile"
	"github.com/rhino1998/aslet/pkg/parser"
	"github.com/rhino1998/aslet/pkg/topological"
)

func compileFiles(t *testing.T, config Config, files map[string]string) (*Program, error) {
	t.Helper()

	c, err := New(slogt.New(t), config)
	require.NoError(t, err)

	for name, src := range files {
		require.NoError(t, c.AddFile(name, strings.NewReader(src)))
	}

	return c.Compile(context.Background())
}

func compileSource(t *testing.T, config Config, src string) *Module {
	t.Helper()

	prog, err := compileFiles(t, config, map[string]string{"test.asl": src})
	require.NoError(t, err)

	mod, ok := prog.Module("test")
	require.True(t, ok)

	return mod
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(slogt.New(t), Config{UndefinedNames: "sometimes"})
	require.ErrorContains(t, err, `invalid undefined_names policy "sometimes"`)
}

func TestEmitBindingExpression(t *testing.T) {
	r := require.New(t)

	mod := compileSource(t, Config{}, "print((f() as v), v)\n")

	r.Equal(BytecodeSnippet{
		LoadBuiltin{Builtin: "print"},
		LoadGlobal{Global: "f"},
		Call{Args: 0},
		Dup{},
		StoreLocal{Index: 0, Local: "v"},
		LoadLocal{Index: 0, Local: "v"},
		Call{Args: 2},
		Pop{},
		DeleteLocal{Index: 0, Local: "v"},
		Const{Value: None{}},
		Return{},
	}, mod.Toplevel.Code)

	r.Equal([]Local{{Name: "v", Hidden: true}}, mod.Toplevel.Locals)
	r.Equal([]ReleaseRange{{Start: 0, End: 8, Slots: []int{0}}}, mod.Toplevel.Releases)
	r.Len(mod.Toplevel.Positions, len(mod.Toplevel.Code))
}

func TestEmitShadowingAssignment(t *testing.T) {
	r := require.New(t)

	mod := compileSource(t, Config{}, "X = 0\nX = (X + 1 as X)\n")

	r.Equal(BytecodeSnippet{
		Const{Value: Int(0)},
		StoreGlobal{Global: "X"},
		LoadGlobal{Global: "X"},
		Const{Value: Int(1)},
		BinaryOp{Op: parser.PLUS},
		Dup{},
		StoreLocal{Index: 0, Local: "X"},
		StoreGlobal{Global: "X"},
		DeleteLocal{Index: 0, Local: "X"},
		DeleteLocal{Index: 0, Local: "X"},
		Const{Value: None{}},
		Return{},
	}, mod.Toplevel.Code)

	r.Equal([]ReleaseRange{{Start: 2, End: 9, Slots: []int{0}}}, mod.Toplevel.Releases)
	r.Equal([]string{"X"}, mod.Globals)
}

func TestEmitBreakReleasesBindings(t *testing.T) {
	r := require.New(t)

	mod := compileSource(t, Config{}, "for i in range(3):\n    if (i as j) > 1:\n        break\n")

	r.Equal(BytecodeSnippet{
		LoadBuiltin{Builtin: "range"},
		Const{Value: Int(3)},
		Call{Args: 1},
		IterPush{},
		IterNext{Label: "L2", Target: 16},
		StoreGlobal{Global: "i"},
		LoadGlobal{Global: "i"},
		Dup{},
		StoreLocal{Index: 0, Local: "j"},
		Const{Value: Int(1)},
		BinaryOp{Op: parser.GT},
		JumpIfFalse{Label: "L3", Target: 14},
		DeleteLocal{Index: 0, Local: "j"},
		Jump{Label: "L2", Target: 16},
		DeleteLocal{Index: 0, Local: "j"},
		Jump{Label: "L1", Target: 4},
		IterPop{},
		Const{Value: None{}},
		Return{},
	}, mod.Toplevel.Code)

	r.Equal([]ReleaseRange{{Start: 6, End: 14, Slots: []int{0}}}, mod.Toplevel.Releases)
}

func TestEmitDefaultArgumentUsesBinding(t *testing.T) {
	r := require.New(t)

	mod := compileSource(t, Config{}, "def outer():\n    if (1 as v):\n        def inner(x=v):\n            return x\n        return inner\n")

	r.Len(mod.Functions, 2)

	outer := mod.Functions[0]
	r.Equal("outer", outer.Name)
	r.Equal([]Local{{Name: "v", Hidden: true}, {Name: "inner"}}, outer.Locals)
	r.Equal(LoadLocal{Index: 0, Local: "v"}, outer.Code[4])
	r.Equal(MakeFunction{Func: 1, Defaults: 1, FreeVars: 0}, outer.Code[5])

	inner := mod.Functions[1]
	r.Equal("inner", inner.Name)
	r.Equal(1, inner.Params)
	r.Empty(inner.FreeVars)
}

func TestEmitClosure(t *testing.T) {
	r := require.New(t)

	mod := compileSource(t, Config{}, "def outer(a):\n    return lambda: a\n")

	outer := mod.Functions[0]
	r.Equal([]int{0}, outer.Cells)
	r.Equal(BytecodeSnippet{
		LoadCellRef{Index: 0, Local: "a"},
		MakeFunction{Func: 1, Defaults: 0, FreeVars: 1},
		Return{},
		Const{Value: None{}},
		Return{},
	}, outer.Code)

	lambda := mod.Functions[1]
	r.Equal([]string{"a"}, lambda.FreeVars)
	r.Equal(LoadFree{Index: 0, Free: "a"}, lambda.Code[0])
}

const noBindingsProgram = `
def counter(start=0):
    count = [start]
    def inc(step=1):
        count[0] += step
        return count[0]
    return inc

total = 0
for i in range(10):
    if i % 2 == 0:
        continue
    elif i > 7:
        break
    total += i

try:
    x = 1 / 0
except ZeroDivisionError as e:
    print("error", e)
finally:
    print("done")

with Lock() as l:
    print([n * n for n in range(3) if n])

a, b = 1, 2
while total > 0 and a < b:
    total -= 1
print(lambda p, q=2: p + q, {"k": (1, 2)}, not total, -total, a if b else None)
`

func TestEmitIdenticalWithoutBindings(t *testing.T) {
	r := require.New(t)

	enabled := compileSource(t, Config{}, noBindingsProgram)
	disabled := compileSource(t, Config{DisableStatementLocals: true}, noBindingsProgram)

	if diff := cmp.Diff(disabled.String(), enabled.String()); diff != "" {
		t.Fatalf("disassembly differs (-disabled +enabled):\n%s", diff)
	}

	for _, fn := range append([]*Funcode{enabled.Toplevel}, enabled.Functions...) {
		r.Empty(fn.Releases, fn.Name)
		for _, bc := range fn.Code {
			r.NotEqual("delete_local", bc.Name(), fn.Name)
		}
		for _, local := range fn.Locals {
			if local.Hidden {
				r.Equal("$with", local.Name)
			}
		}
	}
}

func TestEmitDeterministic(t *testing.T) {
	r := require.New(t)

	files := make(map[string]string)
	for i := range 16 {
		files[fmt.Sprintf("m%02d.asl", i)] = noBindingsProgram + "print((total as t), t)\n"
	}

	first, err := compileFiles(t, Config{}, files)
	r.NoError(err)

	second, err := compileFiles(t, Config{}, files)
	r.NoError(err)

	r.Len(first.Modules, 16)
	for i, mod := range first.Modules {
		r.Equal(fmt.Sprintf("m%02d", i), mod.Name)
		r.Equal(mod.String(), second.Modules[i].String())
	}
}

func TestDisassemble(t *testing.T) {
	r := require.New(t)

	prog, err := compileFiles(t, Config{}, map[string]string{
		"test.asl": "import util\ny = [(util.f() as v), v]\n",
		"util.asl": "def f():\n    return 1\n",
	})
	r.NoError(err)

	mod, ok := prog.Module("test")
	r.True(ok)

	var sb strings.Builder
	r.NoError(mod.Disassemble(&sb))

	r.Equal(`module test
imports: util
globals: util y

func <toplevel>
  locals: (v)
     0  IMPORT util
     1  STORE_GLOBAL util
     2  LOAD_GLOBAL util
     3  ATTR f
     4  CALL 0
     5  DUP
     6  STORE_LOCAL 0 (v)
     7  LOAD_LOCAL 0 (v)
     8  MAKE_LIST 2
     9  STORE_GLOBAL y
    10  DELETE_LOCAL 0 (v)
    11  CONST None
    12  RETURN
  release [2, 10) [0]
`, sb.String())
}

func TestDisassembleCheckedRead(t *testing.T) {
	r := require.New(t)

	mod := compileSource(t, Config{}, "for v in [(3 as m)]:\n    print(m)\n    m = v\n")

	r.Equal(`module test
globals: v m

func <toplevel>
  locals: (m)
     0  CONST 3
     1  DUP
     2  STORE_LOCAL 0 (m)
     3  MAKE_LIST 1
     4  ITER_PUSH
     5  ITER_NEXT 18
     6  STORE_GLOBAL v
     7  LOAD_BUILTIN print
     8  JUMP_IF_UNBOUND 0 (m) 11
     9  LOAD_LOCAL 0 (m)
    10  JUMP 12
    11  LOAD_GLOBAL m
    12  CALL 1
    13  POP
    14  DELETE_LOCAL 0 (m)
    15  LOAD_GLOBAL v
    16  STORE_GLOBAL m
    17  JUMP 5
    18  ITER_POP
    19  DELETE_LOCAL 0 (m)
    20  CONST None
    21  RETURN
  release [0, 19) [0]
`, mod.String())
}

func TestProgramInitOrder(t *testing.T) {
	r := require.New(t)

	prog, err := compileFiles(t, Config{}, map[string]string{
		"main.asl": "import util\nimport strs\nutil.run()\n",
		"util.asl": "import strs\ndef run():\n    print(strs.name)\n",
		"strs.asl": "name = 'strs'\n",
	})
	r.NoError(err)

	var names []string
	for _, mod := range prog.InitOrder() {
		names = append(names, mod.Name)
	}
	r.Equal([]string{"strs", "util", "main"}, names)

	mod, ok := prog.Module("main")
	r.True(ok)
	r.Equal([]ModuleImport{
		{Name: "util", Pos: parser.Position{File: "main.asl", Line: 1, Column: 8}},
		{Name: "strs", Pos: parser.Position{File: "main.asl", Line: 2, Column: 8}},
	}, mod.Imports)
}

func TestProgramImportErrors(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		_, err := compileFiles(t, Config{}, map[string]string{
			"a.asl": "import b\n",
			"b.asl": "import a\n",
		})
		require.ErrorIs(t, err, topological.ErrCycleDetected)
		require.ErrorContains(t, err, "import cycle detected: [a b]")
	})

	t.Run("unknown", func(t *testing.T) {
		r := require.New(t)

		_, err := compileFiles(t, Config{}, map[string]string{
			"a.asl": "import missing\n",
		})
		r.ErrorIs(err, ErrUnknownModule)

		diags := Diagnostics(err)
		r.Len(diags, 1)
		r.Equal(StaticError, diags[0].Kind)
		r.Equal(parser.Position{File: "a.asl", Line: 1, Column: 8}, diags[0].Pos)
		r.Equal(`unknown module "missing"`, diags[0].Msg)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := compileFiles(t, Config{}, map[string]string{
			"a.asl":     "pass\n",
			"lib/a.asl": "pass\n",
		})
		require.ErrorIs(t, err, ErrDuplicateModule)
	})
}

func TestCompileForbiddenContexts(t *testing.T) {
	tests := []struct {
		name string
		src  string
		is   error
		pos  parser.Position
	}{
		{
			name: "exception filter",
			src:  "try:\n    pass\nexcept (ValueError as e):\n    pass\n",
			is:   parser.ErrForbiddenInExceptionFilter,
			pos:  parser.Position{File: "test.asl", Line: 3, Column: 8},
		},
		{
			name: "exception filter tuple",
			src:  "try:\n    pass\nexcept (ValueError, (KeyError as e)):\n    pass\n",
			is:   parser.ErrForbiddenInExceptionFilter,
			pos:  parser.Position{File: "test.asl", Line: 3, Column: 21},
		},
		{
			name: "resource clause",
			src:  "with (Lock() as l):\n    pass\n",
			is:   parser.ErrForbiddenInResourceClause,
			pos:  parser.Position{File: "test.asl", Line: 1, Column: 6},
		},
		{
			name: "disabled",
			src:  "print((1 as x))\n",
			is:   parser.ErrBindingsDisabled,
			pos:  parser.Position{File: "test.asl", Line: 1, Column: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)

			config := Config{DisableStatementLocals: tt.is == parser.ErrBindingsDisabled}
			_, err := compileFiles(t, config, map[string]string{"test.asl": tt.src})
			r.ErrorIs(err, tt.is)

			var fileErr FileError
			r.ErrorAs(err, &fileErr)
			r.Equal("test.asl", fileErr.File)

			diags := Diagnostics(err)
			r.Len(diags, 1)
			r.Equal(SyntaxError, diags[0].Kind)
			r.Equal(tt.pos, diags[0].Pos)
		})
	}
}

func TestCompileNestedBindingInFilterAllowed(t *testing.T) {
	mod := compileSource(t, Config{}, "try:\n    pass\nexcept [ValueError, KeyError][(0 as i)]:\n    print(i)\n")
	require.NotEmpty(t, mod.Toplevel.Releases)
}

func TestCompileErrorsReported(t *testing.T) {
	r := require.New(t)

	_, err := compileFiles(t, Config{UndefinedNames: UndefinedNamesCompile}, map[string]string{
		"a.asl": "print(x)\n",
		"b.asl": "def f(:\n",
	})
	r.Error(err)

	var diags DiagnosticList
	n := Report(&diags, err)
	r.Equal(2, n)

	kinds := map[string]DiagnosticKind{}
	for _, d := range diags {
		kinds[d.Pos.File] = d.Kind
	}
	r.Equal(map[string]DiagnosticKind{
		"a.asl": UnresolvedNameError,
		"b.asl": SyntaxError,
	}, kinds)

	var sb strings.Builder
	Report(DiagnosticWriter{W: &sb}, err)
	r.Contains(sb.String(), "a.asl:1:7: UnresolvedNameError: undefined: x\n")
}

func TestCompileCanceled(t *testing.T) {
	c, err := New(slogt.New(t), Config{})
	require.NoError(t, err)
	require.NoError(t, c.AddFile("a.asl", strings.NewReader("pass\n")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Compile(ctx)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestCompileChunk(t *testing.T) {
	r := require.New(t)

	c, err := New(slogt.New(t), Config{UndefinedNames: UndefinedNamesCompile})
	r.NoError(err)

	mod, err := c.CompileChunk(context.Background(), "<stdin>", strings.NewReader("x + (1 as y) + y\n"), []string{"x"})
	r.NoError(err)

	code := mod.Toplevel.Code
	r.Equal(Return{}, code[len(code)-1])
	r.Equal(DeleteLocal{Index: 0, Local: "y"}, code[len(code)-2])

	_, err = c.CompileChunk(context.Background(), "<stdin>", strings.NewReader("x + z\n"), []string{"x"})
	r.ErrorIs(err, ErrUndefinedName)
}

func TestCompileErrorFile(t *testing.T) {
	for _, chunk := range chunkedfile.Read("testdata/errors.asl", t) {
		c, err := New(slogt.New(t), Config{UndefinedNames: UndefinedNamesCompile})
		require.NoError(t, err)
		require.NoError(t, c.AddFile("errors.asl", strings.NewReader(chunk.Source)))

		_, err = c.Compile(context.Background())
		for _, d := range Diagnostics(err) {
			chunk.GotError(d.Pos.Line, d.Msg)
		}
		chunk.Done()
	}
}
