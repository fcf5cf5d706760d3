package compiler

import (
	"fmt"

	"github.com/rhino1998/aslet/pkg/parser"
)

// The Scope of a Binding says where its value lives at run time.
type Scope uint8

const (
	ScopeUndefined      Scope = iota // name is not defined
	ScopeLocal                       // name is local to its function
	ScopeCell                        // name is local to its function and captured by a nested one
	ScopeFree                        // name is a cell of some enclosing function
	ScopeGlobal                      // name is global to the module
	ScopeBuiltin                     // name is predeclared
	ScopeStatementLocal              // name is a binding expression of an enclosing statement
)

var scopeNames = [...]string{
	ScopeUndefined:      "undefined",
	ScopeLocal:          "local",
	ScopeCell:           "cell",
	ScopeFree:           "free",
	ScopeGlobal:         "global",
	ScopeBuiltin:        "builtin",
	ScopeStatementLocal: "statement-local",
}

func (s Scope) String() string {
	return scopeNames[s]
}

// A Binding is shared by every identifier that refers to the same
// variable, so promoting a local to a cell updates all of its uses.
type Binding struct {
	Scope Scope
	Name  string

	// Index is the slot in the function's locals for local, cell and
	// statement-local bindings, and the position in the function's free
	// variables for free ones. Global and builtin bindings are looked up
	// by name.
	Index int

	// First is the first binding occurrence, if any.
	First *parser.Ident
}

func (b *Binding) String() string {
	switch b.Scope {
	case ScopeGlobal, ScopeBuiltin, ScopeUndefined:
		return fmt.Sprintf("%s %s", b.Scope, b.Name)
	default:
		return fmt.Sprintf("%s %s@%d", b.Scope, b.Name, b.Index)
	}
}

// IdentBinding returns the binding the resolver attached to id.
func IdentBinding(id *parser.Ident) *Binding {
	b, _ := id.Binding.(*Binding)
	return b
}

// Site is the kind of place a name is referenced from, as far as
// statement-local bindings are concerned.
type Site uint8

const (
	// SiteStatement is an ordinary reference inside a statement. Bindings
	// of the enclosing statements are visible.
	SiteStatement Site = iota
	// SiteFunctionBody is a reference inside a def or lambda body to a
	// binding of a statement outside the function. Such bindings are
	// never visible and the name resolves lexically.
	SiteFunctionBody
	// SiteDefaultArgument is a default value expression. It is evaluated
	// where the function is defined and sees the bindings active there.
	SiteDefaultArgument
)

var siteNames = [...]string{
	SiteStatement:       "statement",
	SiteFunctionBody:    "function body",
	SiteDefaultArgument: "default argument",
}

func (s Site) String() string {
	return siteNames[s]
}

// A StatementLocal is a binding created by (expr as name). It occupies
// a hidden local slot of the enclosing function and lives until the
// statement that introduced it completes.
type StatementLocal struct {
	Name string
	Slot int
	Pos  parser.Position

	Binding *Binding
}

func (sl *StatementLocal) String() string {
	return fmt.Sprintf("%s@%d", sl.Name, sl.Slot)
}

// Released returns the statement-local bindings discarded at the end
// of stmt.
func Released(stmt parser.Statement) []*StatementLocal {
	sls, _ := parser.StatementReleases(stmt).Bindings.([]*StatementLocal)
	return sls
}

// shadowed returns the shadow removals the resolver attached to an
// assignment statement or target.
func shadowed(v any) []Removal {
	switch v := v.(type) {
	case []Removal:
		return v
	case Removal:
		return []Removal{v}
	default:
		return nil
	}
}

// uncertain returns the bindings id may read that are bound on some
// paths only.
func uncertain(id *parser.Ident) Removal {
	rm, _ := id.Uncertain.(Removal)
	return rm
}
