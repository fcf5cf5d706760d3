package compiler

import (
	"fmt"
	"maps"
)

type scopeState uint8

const (
	scopeCreated scopeState = iota
	scopeActive
	scopeReleased
)

var scopeStateNames = [...]string{
	scopeCreated:  "created",
	scopeActive:   "active",
	scopeReleased: "released",
}

func (s scopeState) String() string {
	return scopeStateNames[s]
}

// A StatementScope holds the statement-local bindings introduced by one
// statement.
type StatementScope struct {
	depth int
	state scopeState

	// visible maps names to the bindings that lookups can see on every
	// path reaching the current point. Shadow removal deletes from it.
	visible map[string]*StatementLocal
	// uncertain maps names to the bindings that are bound on some paths
	// only, after branches that removed or created them merge.
	uncertain map[string]*StatementLocal
	// bound lists every binding created in the scope, in creation order,
	// whether or not it has been removed since.
	bound []*StatementLocal
}

func newStatementScope(depth int) *StatementScope {
	return &StatementScope{
		depth:     depth,
		state:     scopeCreated,
		visible:   make(map[string]*StatementLocal),
		uncertain: make(map[string]*StatementLocal),
	}
}

func (s *StatementScope) bind(name string, slot int) *StatementLocal {
	if s.state == scopeReleased {
		panic(fmt.Sprintf("compiler: bind %q in released statement scope", name))
	}
	s.state = scopeActive

	delete(s.uncertain, name)
	for _, sl := range s.bound {
		if sl.Name == name {
			s.visible[name] = sl
			return sl
		}
	}

	sl := &StatementLocal{Name: name, Slot: slot}
	s.bound = append(s.bound, sl)
	s.visible[name] = sl

	return sl
}

func (s *StatementScope) release() []*StatementLocal {
	if s.state == scopeReleased {
		panic("compiler: statement scope released twice")
	}
	s.state = scopeReleased
	s.visible = nil
	s.uncertain = nil

	return s.bound
}

// StatementScopes tracks the statement-local bindings of one function
// body (or module top level) while the resolver walks it. Scopes are
// only allocated for statements that actually bind something, so a
// function without binding expressions only moves a depth counter.
type StatementScopes struct {
	depth  int
	scopes []*StatementScope
}

// Depth reports how many statements are currently entered.
func (s *StatementScopes) Depth() int {
	return s.depth
}

func (s *StatementScopes) EnterStatement() {
	s.depth++
}

// ExitStatement leaves the innermost statement and returns the bindings
// it introduced, removed ones included, in creation order.
func (s *StatementScopes) ExitStatement() []*StatementLocal {
	if s.depth == 0 {
		panic("compiler: ExitStatement without EnterStatement")
	}

	var released []*StatementLocal
	if top := s.top(); top != nil && top.depth == s.depth {
		s.scopes = s.scopes[:len(s.scopes)-1]
		released = top.release()
	}
	s.depth--

	return released
}

func (s *StatementScopes) top() *StatementScope {
	if len(s.scopes) == 0 {
		return nil
	}

	return s.scopes[len(s.scopes)-1]
}

// Bind records name in the innermost statement's scope, allocating the
// scope on first use. Rebinding a name already bound by the same
// statement returns the existing binding and its slot.
func (s *StatementScopes) Bind(name string, slot int) *StatementLocal {
	if s.depth == 0 {
		panic(fmt.Sprintf("compiler: bind %q outside of any statement", name))
	}

	top := s.top()
	if top == nil || top.depth != s.depth {
		top = newStatementScope(s.depth)
		s.scopes = append(s.scopes, top)
	}

	return top.bind(name, slot)
}

// Current returns the binding of name made by the innermost statement
// itself, even if it has been removed since.
func (s *StatementScopes) Current(name string) (*StatementLocal, bool) {
	top := s.top()
	if top == nil || top.depth != s.depth {
		return nil, false
	}

	for _, sl := range top.bound {
		if sl.Name == name {
			return sl, true
		}
	}

	return nil, false
}

// Lookup finds the innermost binding of name that may be visible.
func (s *StatementScopes) Lookup(name string) (*StatementLocal, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if sl, ok := s.scopes[i].visible[name]; ok {
			return sl, true
		}
		if sl, ok := s.scopes[i].uncertain[name]; ok {
			return sl, true
		}
	}

	return nil, false
}

// Candidates returns the bindings of name a reference may see. maybe
// lists, innermost first, the bindings that are bound on some paths
// only; sure is the innermost binding bound on every path, or nil if
// the name falls back to its lexical binding.
func (s *StatementScopes) Candidates(name string) (maybe Removal, sure *StatementLocal) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if sl, ok := s.scopes[i].visible[name]; ok {
			return maybe, sl
		}
		if sl, ok := s.scopes[i].uncertain[name]; ok {
			maybe = append(maybe, sl)
		}
	}

	return maybe, nil
}

// A Removal is the chain of statement-local bindings a shadowing
// assignment may discard, innermost first. At run time the first of
// them that is still bound is cleared. A removal of a binding visible
// on every path has a single element.
type Removal []*StatementLocal

// Remove hides the binding of name found by Candidates from later
// lookups and returns the chain it was chosen from. The innermost
// candidate is gone on every path afterwards, the others only on some.
// Slots are still released with their statements.
func (s *StatementScopes) Remove(name string) (Removal, bool) {
	var (
		rm     Removal
		owners []*StatementScope
	)
	for i := len(s.scopes) - 1; i >= 0; i-- {
		scope := s.scopes[i]
		if sl, ok := scope.visible[name]; ok {
			rm, owners = append(rm, sl), append(owners, scope)
			break
		}
		if sl, ok := scope.uncertain[name]; ok {
			rm, owners = append(rm, sl), append(owners, scope)
		}
	}
	if len(rm) == 0 {
		return nil, false
	}

	delete(owners[0].visible, name)
	delete(owners[0].uncertain, name)
	for i, scope := range owners[1:] {
		delete(scope.visible, name)
		scope.uncertain[name] = rm[i+1]
	}

	return rm, true
}

// A Snapshot records which statement-local bindings are visible at one
// point of the walk, so that the branches of a statement can each start
// from it and be merged afterwards.
type Snapshot struct {
	scopes map[*StatementScope]visibility
}

type visibility struct {
	visible   map[string]*StatementLocal
	uncertain map[string]*StatementLocal
}

// Save records the visibility of every live scope.
func (s *StatementScopes) Save() Snapshot {
	if len(s.scopes) == 0 {
		return Snapshot{}
	}

	snap := Snapshot{scopes: make(map[*StatementScope]visibility, len(s.scopes))}
	for _, scope := range s.scopes {
		snap.scopes[scope] = visibility{
			visible:   maps.Clone(scope.visible),
			uncertain: maps.Clone(scope.uncertain),
		}
	}

	return snap
}

// Restore resets every live scope to its visibility in snap. Scopes
// allocated after snap was taken lose all their bindings.
func (s *StatementScopes) Restore(snap Snapshot) {
	for _, scope := range s.scopes {
		v := snap.scopes[scope]
		scope.visible = make(map[string]*StatementLocal, len(v.visible))
		scope.uncertain = make(map[string]*StatementLocal, len(v.uncertain))
		maps.Copy(scope.visible, v.visible)
		maps.Copy(scope.uncertain, v.uncertain)
	}
}

// Join merges the current visibility with the states in snaps, where
// control flow from each of them meets. A binding stays visible if it
// is visible in all of them, and becomes uncertain if it is bound in
// some.
func (s *StatementScopes) Join(snaps ...Snapshot) {
	for _, scope := range s.scopes {
		for _, snap := range snaps {
			v := snap.scopes[scope]
			for name, sl := range scope.visible {
				if _, ok := v.visible[name]; !ok {
					delete(scope.visible, name)
					scope.uncertain[name] = sl
				}
			}
			for name, sl := range v.visible {
				if _, ok := scope.visible[name]; !ok {
					scope.uncertain[name] = sl
				}
			}
			for name, sl := range v.uncertain {
				if _, ok := scope.visible[name]; ok {
					delete(scope.visible, name)
				}
				scope.uncertain[name] = sl
			}
		}
	}
}

// Unsettle marks the visible bindings of names as uncertain. Loops and
// exception handlers use it for the names their bodies may assign.
func (s *StatementScopes) Unsettle(names map[string]bool) {
	for _, scope := range s.scopes {
		for name, sl := range scope.visible {
			if names[name] {
				delete(scope.visible, name)
				scope.uncertain[name] = sl
			}
		}
	}
}

// Active reports whether any statement-local binding is live.
func (s *StatementScopes) Active() bool {
	return len(s.scopes) > 0
}

// Allocated reports whether any scope storage exists.
func (s *StatementScopes) Allocated() bool {
	return s.scopes != nil
}
