package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatementScopesLazy(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()
	s.EnterStatement()
	r.Equal(2, s.Depth())
	r.False(s.Allocated())

	r.Empty(s.ExitStatement())
	r.Empty(s.ExitStatement())
	r.Equal(0, s.Depth())
	r.False(s.Allocated())
}

func TestStatementScopesBindLookup(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()
	x := s.Bind("x", 3)
	r.True(s.Allocated())
	r.Equal("x@3", x.String())

	s.EnterStatement()
	got, ok := s.Lookup("x")
	r.True(ok)
	r.Same(x, got)

	_, ok = s.Current("x")
	r.False(ok, "x belongs to the enclosing statement")

	y := s.Bind("y", 4)
	r.Equal([]*StatementLocal{y}, s.ExitStatement())

	_, ok = s.Lookup("y")
	r.False(ok)

	r.Equal([]*StatementLocal{x}, s.ExitStatement())

	_, ok = s.Lookup("x")
	r.False(ok)
}

func TestStatementScopesRebindSameStatement(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()

	first := s.Bind("x", 0)
	second := s.Bind("x", 7)
	r.Same(first, second)
	r.Equal(0, second.Slot)

	r.Len(s.ExitStatement(), 1)
}

func TestStatementScopesInnerShadowsOuter(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()
	outer := s.Bind("x", 0)

	s.EnterStatement()
	inner := s.Bind("x", 1)

	got, ok := s.Lookup("x")
	r.True(ok)
	r.Same(inner, got)

	s.ExitStatement()

	got, ok = s.Lookup("x")
	r.True(ok)
	r.Same(outer, got)
}

func TestStatementScopesRemove(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()
	x := s.Bind("x", 0)

	s.EnterStatement()
	removed, ok := s.Remove("x")
	r.True(ok)
	r.Equal(Removal{x}, removed)

	_, ok = s.Lookup("x")
	r.False(ok)

	_, ok = s.Remove("x")
	r.False(ok)

	r.Empty(s.ExitStatement())

	// Removed bindings are still released by their own statement.
	r.Equal([]*StatementLocal{x}, s.ExitStatement())
}

func TestStatementScopesCurrentAfterRemove(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()
	x := s.Bind("x", 2)
	s.Remove("x")

	got, ok := s.Current("x")
	r.True(ok)
	r.Same(x, got)

	// Binding the name again makes it visible with the same slot.
	again := s.Bind("x", 5)
	r.Same(x, again)

	got, ok = s.Lookup("x")
	r.True(ok)
	r.Same(x, got)
}

func TestStatementScopesBranches(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()
	x := s.Bind("x", 0)
	entry := s.Save()

	// One branch removes x, the other leaves it alone.
	s.EnterStatement()
	_, ok := s.Remove("x")
	r.True(ok)
	s.ExitStatement()
	taken := s.Save()

	s.Restore(entry)
	maybe, sure := s.Candidates("x")
	r.Empty(maybe)
	r.Same(x, sure)

	s.Join(taken)
	maybe, sure = s.Candidates("x")
	r.Equal(Removal{x}, maybe)
	r.Nil(sure)

	got, ok := s.Lookup("x")
	r.True(ok)
	r.Same(x, got)

	// Removing an uncertain binding makes it absent on every path.
	removed, ok := s.Remove("x")
	r.True(ok)
	r.Equal(Removal{x}, removed)

	_, ok = s.Lookup("x")
	r.False(ok)

	r.Equal([]*StatementLocal{x}, s.ExitStatement())
}

func TestStatementScopesRemoveChain(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()
	outer := s.Bind("x", 0)

	s.EnterStatement()
	before := s.Save()
	inner := s.Bind("x", 1)
	s.Join(before)

	maybe, sure := s.Candidates("x")
	r.Equal(Removal{inner}, maybe)
	r.Same(outer, sure)

	removed, ok := s.Remove("x")
	r.True(ok)
	r.Equal(Removal{inner, outer}, removed)

	// Only the outer binding may remain, and only on some paths.
	maybe, sure = s.Candidates("x")
	r.Equal(Removal{outer}, maybe)
	r.Nil(sure)
}

func TestStatementScopesRestoreDropsLaterScopes(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	s.EnterStatement()
	empty := s.Save()

	x := s.Bind("x", 0)
	bound := s.Save()

	s.Restore(empty)
	_, ok := s.Lookup("x")
	r.False(ok)

	s.Join(bound)
	maybe, sure := s.Candidates("x")
	r.Equal(Removal{x}, maybe)
	r.Nil(sure)

	// The slot is still released with the statement.
	r.Equal([]*StatementLocal{x}, s.ExitStatement())
}

func TestStatementScopesUnsettle(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	r.False(s.Active())

	s.EnterStatement()
	x := s.Bind("x", 0)
	y := s.Bind("y", 1)
	r.True(s.Active())

	s.Unsettle(map[string]bool{"x": true})

	maybe, sure := s.Candidates("x")
	r.Equal(Removal{x}, maybe)
	r.Nil(sure)

	maybe, sure = s.Candidates("y")
	r.Empty(maybe)
	r.Same(y, sure)

	// Binding the name again makes it certain.
	s.Bind("x", 0)
	maybe, sure = s.Candidates("x")
	r.Empty(maybe)
	r.Same(x, sure)
}

func TestStatementScopesMisuse(t *testing.T) {
	r := require.New(t)

	var s StatementScopes
	r.Panics(func() { s.ExitStatement() })
	r.Panics(func() { s.Bind("x", 0) })

	scope := newStatementScope(1)
	scope.bind("x", 0)
	scope.release()
	r.Panics(func() { scope.release() })
	r.Panics(func() { scope.bind("y", 1) })
}
