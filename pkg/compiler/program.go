package compiler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rhino1998/aslet/pkg/parser"
	"github.com/rhino1998/aslet/pkg/topological"
)

// A Local describes one slot of a frame.
type Local struct {
	Name string

	// Hidden slots hold statement-local bindings and compiler
	// temporaries. They are not reported by locals() or dir().
	Hidden bool
}

// A ReleaseRange covers the code of a statement that introduced
// statement-local bindings. Slots are cleared when an error unwinds
// from inside the range to a handler outside it.
type ReleaseRange struct {
	Start int
	End   int
	Slots []int
}

func (r ReleaseRange) contains(pc int) bool {
	return r.Start <= pc && pc < r.End
}

// Funcode is the compiled code of a function body or of a module's
// top level.
type Funcode struct {
	Module *Module

	Name   string
	Pos    parser.Position
	Params int

	Locals []Local
	// Cells lists the slots of locals captured by nested functions.
	Cells    []int
	FreeVars []string

	Code      BytecodeSnippet
	Positions []parser.Position
	Releases  []ReleaseRange
}

// Position returns the source position of the instruction at pc.
func (f *Funcode) Position(pc int) parser.Position {
	if pc < 0 || pc >= len(f.Positions) {
		return f.Pos
	}

	return f.Positions[pc]
}

// ReleasedSlots returns the statement-local slots to clear when
// control leaves pc for target because of an error. A negative target
// means the error leaves the frame.
func (f *Funcode) ReleasedSlots(pc, target int) []int {
	var slots []int
	for _, r := range f.Releases {
		if r.contains(pc) && (target < 0 || !r.contains(target)) {
			slots = append(slots, r.Slots...)
		}
	}

	return slots
}

type Module struct {
	Name string
	Path string

	Toplevel  *Funcode
	Functions []*Funcode

	Globals []string
	Imports []ModuleImport
}

type ModuleImport struct {
	Name string
	Pos  parser.Position
}

// A Program is a set of compiled modules that only import each other.
type Program struct {
	Modules []*Module

	byName map[string]*Module
	order  []*Module
}

var (
	ErrDuplicateModule = errors.New("duplicate module")
	ErrUnknownModule   = errors.New("unknown module")
)

func newProgram(modules []*Module) (*Program, error) {
	p := &Program{
		byName: make(map[string]*Module, len(modules)),
	}

	errs := newErrorSet()
	for _, m := range modules {
		if prev, ok := p.byName[m.Name]; ok {
			errs.Add(fmt.Errorf("%w %q: %s and %s", ErrDuplicateModule, m.Name, prev.Path, m.Path))
			continue
		}

		p.byName[m.Name] = m
		p.Modules = append(p.Modules, m)
	}

	slices.SortFunc(p.Modules, func(a, b *Module) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})

	for _, m := range p.Modules {
		for _, imp := range m.Imports {
			if _, ok := p.byName[imp.Name]; !ok {
				errs.Add(FileError{
					File: m.Path,
					Err:  imp.Pos.WrapError(resolveError{kind: StaticError, err: fmt.Errorf("%w %q", ErrUnknownModule, imp.Name)}),
				})
			}
		}
	}

	if len(errs.Errs) > 0 {
		return nil, errs
	}

	order, err := topological.SortFunc(p.Modules,
		func(m *Module) string { return m.Name },
		func(m *Module) []*Module {
			deps := make([]*Module, 0, len(m.Imports))
			for _, imp := range m.Imports {
				deps = append(deps, p.byName[imp.Name])
			}
			return deps
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to order modules: import %w", err)
	}
	p.order = order

	return p, nil
}

// Module returns the module called name.
func (p *Program) Module(name string) (*Module, bool) {
	m, ok := p.byName[name]
	return m, ok
}

// InitOrder lists the modules so that each comes after every module it
// imports.
func (p *Program) InitOrder() []*Module {
	return p.order
}
