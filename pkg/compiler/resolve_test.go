package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/rhino1998/aslet/pkg/parser"
)

func resolveSource(t *testing.T, config Config, src string) (*parser.File, error) {
	t.Helper()

	require.NoError(t, config.Validate(slogt.New(t)))

	file, err := parser.ParseReader("test.asl", strings.NewReader(src))
	require.NoError(t, err)

	predeclared := make(map[string]bool)
	for _, name := range Universe() {
		predeclared[name] = true
	}

	err = Resolve(slogt.New(t), file, config, func(name string) bool { return predeclared[name] })

	return file, err
}

func mustResolve(t *testing.T, src string) *parser.File {
	t.Helper()

	file, err := resolveSource(t, Config{}, src)
	require.NoError(t, err)

	return file
}

// identsNamed returns the identifiers called name in source order.
func identsNamed(n parser.Node, name string) []*parser.Ident {
	var ids []*parser.Ident
	parser.Walk(n, func(n parser.Node) bool {
		if id, ok := n.(*parser.Ident); ok && id.Name == name {
			ids = append(ids, id)
		}
		return true
	})

	return ids
}

func scopesOf(ids []*parser.Ident) []Scope {
	scopes := make([]Scope, len(ids))
	for i, id := range ids {
		scopes[i] = IdentBinding(id).Scope
	}

	return scopes
}

func TestResolveBindingIsStatementLocal(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "print((len([1]) as n), n + 1)\n")

	ids := identsNamed(file, "n")
	r.Len(ids, 2)
	r.Equal([]Scope{ScopeStatementLocal, ScopeStatementLocal}, scopesOf(ids))
	r.Same(IdentBinding(ids[0]), IdentBinding(ids[1]))

	released := Released(file.Statements[0])
	r.Len(released, 1)
	r.Equal("n", released[0].Name)
	r.Equal(0, released[0].Slot)

	toplevel := ModuleScopeOf(file).Toplevel
	r.Equal(1, toplevel.StatementLocals())
	r.Empty(ModuleScopeOf(file).Globals)
}

func TestResolveVisibleUntilStatementEnd(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "while (len([]) as n) > 0:\n    print(n)\nprint(n)\n")

	ids := identsNamed(file, "n")
	r.Len(ids, 3)
	r.Equal([]Scope{ScopeStatementLocal, ScopeStatementLocal, ScopeUndefined}, scopesOf(ids))
	r.Same(IdentBinding(ids[0]), IdentBinding(ids[1]))

	r.Len(Released(file.Statements[0]), 1)
	r.Empty(Released(file.Statements[1]))
}

func TestResolveSemicolonSeparatesStatements(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "print((1 as y)); print(y)\n")

	ids := identsNamed(file, "y")
	r.Equal([]Scope{ScopeStatementLocal, ScopeUndefined}, scopesOf(ids))
}

func TestResolveElifBelongsToStatement(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "if (len([]) as n) > 1:\n    pass\nelif n == 0:\n    print(n)\n")

	ids := identsNamed(file, "n")
	r.Equal([]Scope{ScopeStatementLocal, ScopeStatementLocal, ScopeStatementLocal}, scopesOf(ids))
	r.Len(Released(file.Statements[0]), 1)
}

func TestResolveAssignmentShadowsBinding(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "X = 0\nX = (X + 1 as X)\n")

	stmt := file.Statements[1].(*parser.AssignStatement)

	lhs := stmt.LHS.(*parser.Ident)
	r.Equal(ScopeGlobal, IdentBinding(lhs).Scope)

	rm, ok := lhs.Shadowed.(Removal)
	r.True(ok)
	r.Len(rm, 1)
	r.Equal("X", rm[0].Name)

	binding := unparen(stmt.RHS).(*parser.BindingExpr)
	r.Equal(ScopeGlobal, IdentBinding(binding.Wrapped.(*parser.BinaryExpr).X.(*parser.Ident)).Scope)
	r.Equal(ScopeStatementLocal, IdentBinding(binding.Name).Scope)

	r.Equal([]*StatementLocal{rm[0]}, Released(stmt))
}

func TestResolveNestedAssignmentRemovesBinding(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "if (1 as v):\n    v = 2\n    print(v)\n")

	ids := identsNamed(file, "v")
	r.Len(ids, 3)
	r.Equal([]Scope{ScopeStatementLocal, ScopeGlobal, ScopeGlobal}, scopesOf(ids))

	inner := file.Statements[0].(*parser.IfStatement).True[0].(*parser.AssignStatement)
	r.Len(shadowed(inner.Shadowed), 1)

	// The if statement still releases the binding it created.
	r.Len(Released(file.Statements[0]), 1)
}

func TestResolveForTargetShadowsBinding(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "if (3 as i):\n    for i in range(i):\n        print(i)\n")

	ids := identsNamed(file, "i")
	r.Len(ids, 4)
	// The loop header's iterable is evaluated after the target is
	// removed, so it no longer sees the binding.
	r.Equal([]Scope{ScopeStatementLocal, ScopeGlobal, ScopeGlobal, ScopeGlobal}, scopesOf(ids))

	loop := file.Statements[0].(*parser.IfStatement).True[0].(*parser.ForStatement)
	r.Len(shadowed(loop.Shadowed), 1)
}

func TestResolveElseSeesBindingRemovedInIf(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "if (5 as n) > 10:\n    n = 1\nelse:\n    print(n)\n")

	ids := identsNamed(file, "n")
	r.Len(ids, 3)
	r.Equal([]Scope{ScopeStatementLocal, ScopeGlobal, ScopeStatementLocal}, scopesOf(ids))
	r.Same(IdentBinding(ids[0]), IdentBinding(ids[2]))
	r.Empty(uncertain(ids[2]))

	// Removal in one branch does not affect the other.
	stmt := file.Statements[0].(*parser.IfStatement)
	r.Len(shadowed(stmt.True[0].(*parser.AssignStatement).Shadowed), 1)
}

func TestResolveReadAfterBranchesIsChecked(t *testing.T) {
	r := require.New(t)

	src := "i = 0\nwhile (i as n) < 3:\n    if n == 1:\n        n = 9\n    print(n)\n    i = i + 1\n"
	file := mustResolve(t, src)

	ids := identsNamed(file, "n")
	r.Len(ids, 4)
	r.Equal([]Scope{ScopeStatementLocal, ScopeGlobal, ScopeGlobal, ScopeGlobal}, scopesOf(ids))

	released := Released(file.Statements[1])
	r.Len(released, 1)

	// The body may have removed the binding on an earlier iteration,
	// and the if statement only on one of its paths.
	r.Equal(Removal{released[0]}, uncertain(ids[1]))
	r.Equal(Removal{released[0]}, uncertain(ids[3]))
	r.Equal(Removal{released[0]}, shadowOf(t, ids[2]))

	// A reference checked at run time is not reported as undefined.
	src = "try:\n    pass\nexcept [ValueError][(0 as e)]:\n    pass\nfinally:\n    print(e)\n"
	file, err := resolveSource(t, Config{UndefinedNames: UndefinedNamesCompile}, src)
	r.NoError(err)

	ids = identsNamed(file, "e")
	r.Equal([]Scope{ScopeStatementLocal, ScopeUndefined}, scopesOf(ids))
	r.Len(uncertain(ids[1]), 1)
}

func TestResolveHandlerSeesUnsettledBinding(t *testing.T) {
	r := require.New(t)

	src := "def f(x):\n    if (x as n) > 0:\n        try:\n            g(n)\n            n = 0\n        except ValueError:\n            print(n)\n        print(n)\n"
	file := mustResolve(t, src)

	ids := identsNamed(file, "n")
	r.Len(ids, 5)
	r.Equal([]Scope{ScopeStatementLocal, ScopeStatementLocal, ScopeLocal, ScopeLocal, ScopeLocal}, scopesOf(ids))

	r.Empty(uncertain(ids[1]))
	r.Len(uncertain(ids[3]), 1)
	r.Len(uncertain(ids[4]), 1)
}

func shadowOf(t *testing.T, id *parser.Ident) Removal {
	t.Helper()

	rm, ok := id.Shadowed.(Removal)
	require.True(t, ok)

	return rm
}

func TestResolveFunctionBodyDoesNotSeeBinding(t *testing.T) {
	r := require.New(t)

	src := "def outer():\n    if (1 as v):\n        def inner():\n            return v\n        return inner\n"

	file := mustResolve(t, src)
	ids := identsNamed(file, "v")
	r.Len(ids, 2)
	r.Equal([]Scope{ScopeStatementLocal, ScopeUndefined}, scopesOf(ids))

	_, err := resolveSource(t, Config{UndefinedNames: UndefinedNamesCompile}, src)
	r.ErrorIs(err, ErrUndefinedName)
	r.ErrorContains(err, "4:20: undefined: v (the binding expression at test.asl:2:14 is not visible inside a function body)")
}

func TestResolveDefaultArgumentSeesBinding(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "def outer():\n    if (1 as v):\n        def inner(x=v):\n            return x\n        return inner\n")

	ids := identsNamed(file, "v")
	r.Len(ids, 2)
	r.Equal([]Scope{ScopeStatementLocal, ScopeStatementLocal}, scopesOf(ids))
	r.Same(IdentBinding(ids[0]), IdentBinding(ids[1]))
}

func TestResolveBindingNotCapturedByLambda(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "def f():\n    g = ((1 as v), lambda: v)\n    return g\n")

	ids := identsNamed(file, "v")
	r.Equal([]Scope{ScopeStatementLocal, ScopeUndefined}, scopesOf(ids))

	fn := file.Statements[0].(*parser.DefStatement)
	scope := FunctionScopeOf(&fn.Function)
	r.Empty(scope.Cells())
}

func TestResolveComprehension(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "print([(x * 2 as y) + y for x in range(3) if x])\n")

	call := file.Statements[0].(*parser.ExprStatement).X.(*parser.CallExpr)
	comp := call.Args[0].(*parser.Comprehension)

	released, ok := comp.Releases.Bindings.([]*StatementLocal)
	r.True(ok)
	r.Len(released, 1)
	r.Equal("y", released[0].Name)
	r.Empty(Released(file.Statements[0]))

	r.Equal([]Scope{ScopeLocal, ScopeLocal, ScopeLocal}, scopesOf(identsNamed(file, "x")))
	r.Equal([]Scope{ScopeStatementLocal, ScopeStatementLocal}, scopesOf(identsNamed(file, "y")))
}

func TestResolveClosures(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "def outer(a):\n    def middle():\n        def inner():\n            return a\n        return inner\n    return middle\n")

	outer := file.Statements[0].(*parser.DefStatement)
	outerScope := FunctionScopeOf(&outer.Function)
	r.Equal([]int{0}, outerScope.Cells())

	ids := identsNamed(file, "a")
	r.Equal([]Scope{ScopeCell, ScopeFree}, scopesOf(ids))

	middle := outer.Body[0].(*parser.DefStatement)
	r.Len(FunctionScopeOf(&middle.Function).FreeVars, 1)

	inner := middle.Body[0].(*parser.DefStatement)
	innerScope := FunctionScopeOf(&inner.Function)
	r.Len(innerScope.FreeVars, 1)
	r.Equal(ScopeFree, innerScope.FreeVars[0].Scope)
}

func TestResolveBuiltins(t *testing.T) {
	r := require.New(t)

	file := mustResolve(t, "print(len)\nlen = 3\nprint(len)\n")

	// A module-level assignment makes the name global everywhere in
	// the module.
	r.Equal([]Scope{ScopeGlobal, ScopeGlobal, ScopeGlobal}, scopesOf(identsNamed(file, "len")))
	r.Equal([]Scope{ScopeBuiltin, ScopeBuiltin}, scopesOf(identsNamed(file, "print")))
}

func TestResolveStaticErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{
			name: "return outside function",
			src:  "return 1\n",
			msg:  "1:1: return statement not within a function",
		},
		{
			name: "break outside loop",
			src:  "break\n",
			msg:  "1:1: break not in a loop",
		},
		{
			name: "continue in function outside loop",
			src:  "while True:\n    def f():\n        continue\n",
			msg:  "3:9: continue not in a loop",
		},
		{
			name: "self import",
			src:  "import test\n",
			msg:  "1:1: module test cannot import itself",
		},
		{
			name: "required after optional",
			src:  "def f(a=1, b):\n    pass\n",
			msg:  "1:12: required parameter b may not follow optional",
		},
		{
			name: "duplicate parameter",
			src:  "def f(a, a):\n    pass\n",
			msg:  "1:10: duplicate parameter: a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)

			_, err := resolveSource(t, Config{}, tt.src)
			r.Error(err)
			r.ErrorContains(err, tt.msg)

			diags := Diagnostics(err)
			r.Len(diags, 1)
			r.Equal(StaticError, diags[0].Kind)
		})
	}
}

func TestResolveUndefinedNamesPolicy(t *testing.T) {
	r := require.New(t)

	_, err := resolveSource(t, Config{}, "print(missing)\n")
	r.NoError(err)

	_, err = resolveSource(t, Config{UndefinedNames: UndefinedNamesCompile}, "print(missing)\nprint(other)\n")
	r.Error(err)

	diags := Diagnostics(err)
	r.Len(diags, 2)
	for _, d := range diags {
		r.Equal(UnresolvedNameError, d.Kind)
		r.True(errors.Is(d.Err, ErrUndefinedName))
	}
	r.Equal("undefined: missing", diags[0].Msg)
	r.Equal(1, diags[0].Pos.Line)
	r.Equal("undefined: other", diags[1].Msg)
}
