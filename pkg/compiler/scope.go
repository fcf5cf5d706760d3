package compiler

import (
	"github.com/rhino1998/aslet/pkg/parser"
)

// A FunctionScope describes the frame of a function body or of a
// module's top-level code.
type FunctionScope struct {
	Name string
	Pos  parser.Position

	Params int

	// Locals is indexed by slot. Parameters come first. Slots of
	// statement-local bindings have ScopeStatementLocal and are hidden
	// from locals() and dir().
	Locals []*Binding

	// FreeVars lists the bindings of enclosing functions captured by
	// this one; the function's ScopeFree bindings index into it.
	FreeVars []*Binding
}

func (f *FunctionScope) newLocal(id *parser.Ident) *Binding {
	b := &Binding{
		Scope: ScopeLocal,
		Name:  id.Name,
		Index: len(f.Locals),
		First: id,
	}
	f.Locals = append(f.Locals, b)

	return b
}

func (f *FunctionScope) newStatementLocal(id *parser.Ident) *Binding {
	b := &Binding{
		Scope: ScopeStatementLocal,
		Name:  id.Name,
		Index: len(f.Locals),
		First: id,
	}
	f.Locals = append(f.Locals, b)

	return b
}

// Cells lists the slots of locals captured by nested functions.
func (f *FunctionScope) Cells() []int {
	var cells []int
	for _, local := range f.Locals {
		if local.Scope == ScopeCell {
			cells = append(cells, local.Index)
		}
	}

	return cells
}

// StatementLocals reports how many hidden statement-local slots the
// frame needs.
func (f *FunctionScope) StatementLocals() int {
	n := 0
	for _, local := range f.Locals {
		if local.Scope == ScopeStatementLocal {
			n++
		}
	}

	return n
}

// FunctionScopeOf returns the frame description the resolver attached
// to fn.
func FunctionScopeOf(fn *parser.Function) *FunctionScope {
	scope, _ := fn.Scope.(*FunctionScope)
	return scope
}

// A ModuleScope is the resolver's summary of one file.
type ModuleScope struct {
	Name     string
	Toplevel *FunctionScope

	// Globals lists the module-level names in order of first binding.
	Globals []string
	// Imports holds the first import statement name of each imported
	// module.
	Imports []*parser.Ident
}

func ModuleScopeOf(file *parser.File) *ModuleScope {
	scope, _ := file.Module.(*ModuleScope)
	return scope
}

// A lexicalScope is one block of the lexical environment: the module,
// a function body or a comprehension.
type lexicalScope struct {
	parent *lexicalScope
	name   string

	// function is set for function and module blocks; they own the
	// locals of the comprehension blocks nested in them.
	function *FunctionScope
	comp     *parser.Comprehension

	bindings map[string]*Binding
	children []*lexicalScope

	// uses records identifiers seen in this container whose binding has
	// not been decided yet.
	uses []use
}

type use struct {
	id  *parser.Ident
	env *lexicalScope

	// hidden is a statement-local binding of an enclosing function's
	// statement with the same name, kept for diagnostics.
	hidden *StatementLocal
}

func newLexicalScope(parent *lexicalScope, name string) *lexicalScope {
	return &lexicalScope{
		parent: parent,
		name:   name,
	}
}

func (s *lexicalScope) isModule() bool {
	return s.parent == nil
}

func (s *lexicalScope) get(name string) (*Binding, bool) {
	b, ok := s.bindings[name]
	return b, ok
}

func (s *lexicalScope) put(name string, b *Binding) {
	if s.bindings == nil {
		s.bindings = make(map[string]*Binding)
	}

	s.bindings[name] = b
}

// container returns the innermost enclosing function or module block.
func (s *lexicalScope) container() *lexicalScope {
	for b := s; ; b = b.parent {
		if b.function != nil {
			return b
		}
	}
}

func (s *lexicalScope) String() string {
	switch {
	case s.comp != nil:
		return "comprehension block at " + s.comp.Pos().String()
	case s.isModule():
		return "module block"
	default:
		return "function block " + s.name
	}
}

// resolveLocalUses is called when leaving a container. Uses of the
// container's own locals are decided; the rest stay for the module-wide
// pass.
func (s *lexicalScope) resolveLocalUses() {
	unresolved := s.uses[:0]
	for _, use := range s.uses {
		if b, ok := lookupLocal(use); ok {
			use.id.Binding = b
		} else {
			unresolved = append(unresolved, use)
		}
	}
	s.uses = unresolved
}

// lookupLocal looks up an identifier within its immediately enclosing
// function.
func lookupLocal(use use) (*Binding, bool) {
	for env := use.env; env != nil; env = env.parent {
		if b, ok := env.get(use.id.Name); ok && b.Scope != ScopeFree {
			return b, true
		}
		if env.function != nil {
			break
		}
	}

	return nil, false
}
