package parser

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string, opts ...Option) *File {
	t.Helper()

	f, err := ParseReader("test.asl", strings.NewReader(src), opts...)
	require.NoError(t, err)

	return f
}

func TestParseBindingExpr(t *testing.T) {
	r := require.New(t)

	f := parse(t, "y = (x + 1 as x)\n")
	r.Len(f.Statements, 1)

	assign, ok := f.Statements[0].(*AssignStatement)
	r.True(ok)
	r.Equal(EQ, assign.Op)
	r.Equal("y", assign.LHS.(*Ident).Name)

	bind, ok := assign.RHS.(*BindingExpr)
	r.True(ok)
	r.Equal("x", bind.Name.Name)
	r.Equal(Position{File: "test.asl", Line: 1, Column: 5}, bind.Pos())

	sum, ok := bind.Wrapped.(*BinaryExpr)
	r.True(ok)
	r.Equal(PLUS, sum.Op)
}

func TestParseBindingExprPositions(t *testing.T) {
	r := require.New(t)

	srcs := []string{
		"print((f() as v), v)\n",
		"x = [(y as z) for y in ys if z]\n",
		"while (next() as item):\n  print(item)\n",
		"if (a as b) and b:\n  pass\n",
		"def f(p=(1 as one)):\n  return p\n",
		"g = lambda: (h() as w)\n",
		"d = {(k as kk): kk}\n",
		"try:\n  pass\nexcept f((E as e1)):\n  pass\n",
		"with f((lock as l)):\n  pass\n",
		"with (lock as l).inner:\n  pass\n",
		"return_value = ((a as b), (c as d))\n",
	}

	for _, src := range srcs {
		f := parse(t, src)
		r.NotZero(CountBindings(f), src)
	}
}

func TestParseElifDesugared(t *testing.T) {
	r := require.New(t)

	f := parse(t, "if a:\n  pass\nelif b:\n  pass\nelse:\n  x = 1\n")
	r.Len(f.Statements, 1)

	top := f.Statements[0].(*IfStatement)
	r.False(top.Elif)
	r.Len(top.False, 1)

	elif, ok := top.False[0].(*IfStatement)
	r.True(ok)
	r.True(elif.Elif)
	r.Equal("b", elif.Cond.(*Ident).Name)
	r.Len(elif.False, 1)
}

func TestParseStatements(t *testing.T) {
	r := require.New(t)

	src := `import util
x, y = 1, 2
x += 1; y -= 1
for i, v in pairs:
    if v: continue
    print(i)
def f(a, b=2):
    return a + b
try:
    raise ValueError("bad")
except ValueError as err:
    print(err)
except:
    pass
finally:
    done()
with Lock() as l:
    l.held
squares = [n * n for n in range(10) if n % 2 == 0]
neg = -x if x not in {1: 2} else lambda q: q
`
	f := parse(t, src)
	r.Len(f.Statements, 10)

	r.IsType(&ImportStatement{}, f.Statements[0])
	r.IsType(&TupleExpr{}, f.Statements[1].(*AssignStatement).LHS)
	r.Equal(PLUS_EQ, f.Statements[2].(*AssignStatement).Op)
	r.Equal(MINUS_EQ, f.Statements[3].(*AssignStatement).Op)

	loop := f.Statements[4].(*ForStatement)
	r.Len(loop.Vars.(*TupleExpr).List, 2)
	r.Len(loop.Body, 2)

	def := f.Statements[5].(*DefStatement)
	r.Equal("f", def.Name.Name)
	r.Len(def.Params, 2)
	r.Nil(def.Params[0].Default)
	r.NotNil(def.Params[1].Default)

	try := f.Statements[6].(*TryStatement)
	r.Len(try.Handlers, 2)
	r.Equal("err", try.Handlers[0].Name.Name)
	r.Nil(try.Handlers[1].Type)
	r.Len(try.Finally, 1)

	with := f.Statements[7].(*WithStatement)
	r.Equal("l", with.Name.Name)

	comp := f.Statements[8].(*AssignStatement).RHS.(*Comprehension)
	r.Len(comp.Clauses, 2)

	cond := f.Statements[9].(*AssignStatement).RHS.(*CondExpr)
	r.Equal(NOT_IN, cond.Cond.(*BinaryExpr).Op)
	r.IsType(&LambdaExpr{}, cond.False)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		opts []Option
		is   error
		msg  string
	}{
		{
			name: "filter binding with name",
			src:  "try:\n  pass\nexcept (E as e1) as e2:\n  pass\n",
			is:   ErrForbiddenInExceptionFilter,
			msg:  "3:8: except clause",
		},
		{
			name: "filter binding",
			src:  "try:\n  pass\nexcept (E as e1):\n  pass\n",
			is:   ErrForbiddenInExceptionFilter,
		},
		{
			name: "filter tuple element",
			src:  "try:\n  pass\nexcept (A, (B as b)):\n  pass\n",
			is:   ErrForbiddenInExceptionFilter,
		},
		{
			name: "resource binding with name",
			src:  "with (lock as l) as m:\n  pass\n",
			is:   ErrForbiddenInResourceClause,
			msg:  "1:6: with statement",
		},
		{
			name: "resource binding",
			src:  "with (lock as l):\n  pass\n",
			is:   ErrForbiddenInResourceClause,
		},
		{
			name: "unparenthesized",
			src:  "x = a as b\n",
			is:   ErrUnparenthesizedBinding,
		},
		{
			name: "unparenthesized argument",
			src:  "f(a as b)\n",
			is:   ErrUnparenthesizedBinding,
		},
		{
			name: "binding target",
			src:  "(a as b) = 1\n",
			msg:  "cannot assign to binding expression",
		},
		{
			name: "missing name",
			src:  "x = (a as)\n",
			msg:  "expected name after 'as'",
		},
		{
			name: "literal name",
			src:  "x = (a as 1)\n",
			msg:  "expected name after 'as'",
		},
		{
			name: "two names",
			src:  "x = (a as b as c)\n",
			msg:  "binds exactly one name",
		},
		{
			name: "tuple element",
			src:  "x = (a, b as c)\n",
			msg:  "own parentheses",
		},
		{
			name: "disabled",
			src:  "x = (a as b)\n",
			opts: []Option{DisableStatementLocals()},
			is:   ErrBindingsDisabled,
		},
		{
			name: "chained comparison",
			src:  "a < b < c\n",
			msg:  "< does not associate with <",
		},
		{
			name: "augmented tuple",
			src:  "a, b += 1\n",
			msg:  "invalid target for augmented assignment",
		},
		{
			name: "assign to call",
			src:  "f() = 1\n",
			msg:  "cannot assign to function call",
		},
		{
			name: "keyword argument",
			src:  "f(x=1)\n",
			msg:  "keyword arguments are not supported",
		},
		{
			name: "bare except not last",
			src:  "try:\n  pass\nexcept:\n  pass\nexcept E:\n  pass\n",
			msg:  "default 'except:' must be last",
		},
		{
			name: "try without handler",
			src:  "try:\n  pass\nx = 1\n",
			msg:  "want except or finally",
		},
		{
			name: "incomplete block",
			src:  "if x:\n",
			is:   io.ErrUnexpectedEOF,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := require.New(t)

			_, err := ParseReader("test.asl", strings.NewReader(test.src), test.opts...)
			r.Error(err)

			if test.is != nil {
				r.ErrorIs(err, test.is)
			}
			if test.msg != "" {
				r.ErrorContains(err, test.msg)
			}

			var posErr PositionError
			r.True(errors.As(err, &posErr))
			r.True(posErr.IsValid())
		})
	}
}

func TestParseRecoversAfterError(t *testing.T) {
	r := require.New(t)

	src := "x = )\ndef f():\n    y = )\n    return 1\nz = (a as b as c)\nok = 1\n"

	_, err := ParseReader("test.asl", strings.NewReader(src))
	r.Error(err)

	joined, ok := err.(interface{ Unwrap() []error })
	r.True(ok)
	r.Len(joined.Unwrap(), 3)
}

func TestParseExpr(t *testing.T) {
	r := require.New(t)

	x, err := ParseExpr("expr", "(a as b), b")
	r.NoError(err)

	tuple, ok := x.(*TupleExpr)
	r.True(ok)
	r.Len(tuple.List, 2)
	r.IsType(&BindingExpr{}, tuple.List[0])

	_, err = ParseExpr("expr", "a as b")
	r.ErrorIs(err, ErrUnparenthesizedBinding)
}
