package compiler

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rhino1998/aslet/pkg/parser"
)

// Resolve decorates file with bindings: every identifier gets a
// *Binding, every function and the file itself a scope description,
// and every statement the statement-local bindings released when it
// completes.
func Resolve(logger *slog.Logger, file *parser.File, config Config, isPredeclared func(name string) bool) error {
	return resolveFile(logger, file, config, isPredeclared, nil)
}

// resolveFile is Resolve for a file whose module already defines the
// globals in known, as in an interactive session.
func resolveFile(logger *slog.Logger, file *parser.File, config Config, isPredeclared func(name string) bool, known []string) error {
	r := newResolver(logger, file, config, isPredeclared)
	for _, name := range known {
		r.globals[name] = &Binding{Scope: ScopeGlobal, Name: name}
	}

	r.stmts(file.Statements)

	r.env.resolveLocalUses()
	r.resolveNonLocalUses(r.env)

	file.Module = r.module

	if len(r.errs.Errs) > 0 {
		return r.errs
	}

	return nil
}

// ModuleName derives a module name from a file path.
func ModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type resolver struct {
	logger *slog.Logger
	config Config

	module *ModuleScope

	// env is the innermost lexical block.
	env *lexicalScope
	// fn is the state of the innermost function body, or of the top
	// level.
	fn *funcState

	globals       map[string]*Binding
	isPredeclared func(name string) bool

	errs *ErrorSet
}

// funcState is the per-body state. A def or lambda body starts a new
// one, so statement-local bindings never cross into a function.
type funcState struct {
	parent *funcState
	scope  *FunctionScope

	stmts StatementScopes

	function bool
	loops    int
	defaults int
}

func newResolver(logger *slog.Logger, file *parser.File, config Config, isPredeclared func(name string) bool) *resolver {
	toplevel := &FunctionScope{
		Name: "<toplevel>",
		Pos:  file.Pos(),
	}

	env := newLexicalScope(nil, "<module>")
	env.function = toplevel

	if isPredeclared == nil {
		isPredeclared = func(string) bool { return false }
	}

	return &resolver{
		logger: logger,
		config: config,
		module: &ModuleScope{
			Name:     ModuleName(file.Path),
			Toplevel: toplevel,
		},
		env:           env,
		fn:            &funcState{scope: toplevel},
		globals:       make(map[string]*Binding),
		isPredeclared: isPredeclared,
		errs:          newErrorSet(),
	}
}

func (r *resolver) errorf(pos parser.Position, kind DiagnosticKind, format string, args ...any) {
	r.errs.Add(pos.WrapError(resolveError{kind: kind, err: fmt.Errorf(format, args...)}))
}

func (r *resolver) push(s *lexicalScope) {
	r.env.children = append(r.env.children, s)
	s.parent = r.env
	r.env = s
}

func (r *resolver) pop() {
	r.env = r.env.parent
}

func (r *resolver) stmts(stmts []parser.Statement) {
	for _, stmt := range stmts {
		r.stmt(stmt)
	}
}

func (r *resolver) stmt(stmt parser.Statement) {
	r.fn.stmts.EnterStatement()
	defer r.exitStatement(stmt)

	switch stmt := stmt.(type) {
	case *parser.ExprStatement:
		r.expr(stmt.X)

	case *parser.AssignStatement:
		if sls := r.removeTargets(stmt.LHS); len(sls) > 0 {
			stmt.Shadowed = sls
		}

		if stmt.Op == parser.EQ {
			r.expr(stmt.RHS)
			r.assign(stmt.LHS)
			break
		}

		// The target of an augmented assignment is read before the
		// right-hand side is evaluated.
		switch lhs := unparen(stmt.LHS).(type) {
		case *parser.IndexExpr:
			r.expr(lhs.X)
			r.expr(lhs.Index)
			r.expr(stmt.RHS)
		case *parser.Ident:
			r.expr(stmt.RHS)
			r.bindTarget(lhs)
		default:
			r.errorf(stmt.LHS.Pos(), StaticError, "invalid target for augmented assignment")
		}

	case *parser.IfStatement:
		r.ifStatement(stmt)

	case *parser.WhileStatement:
		// Every iteration after the first starts where the previous
		// one left off.
		r.unsettle(stmt.Body)
		r.expr(stmt.Cond)
		exit := r.fn.stmts.Save()
		r.fn.loops++
		r.stmts(stmt.Body)
		r.fn.loops--
		r.fn.stmts.Restore(exit)

	case *parser.ForStatement:
		if sls := r.removeTargets(stmt.Vars); len(sls) > 0 {
			stmt.Shadowed = sls
		}
		r.expr(stmt.X)
		r.assign(stmt.Vars)
		r.unsettle(stmt.Body)
		exit := r.fn.stmts.Save()
		r.fn.loops++
		r.stmts(stmt.Body)
		r.fn.loops--
		r.fn.stmts.Restore(exit)

	case *parser.DefStatement:
		r.function(stmt.Name.Name, stmt.Pos(), &stmt.Function)
		r.bindTarget(stmt.Name)

	case *parser.ReturnStatement:
		if !r.fn.function {
			r.errorf(stmt.Pos(), StaticError, "return statement not within a function")
		}
		if stmt.Result != nil {
			r.expr(stmt.Result)
		}

	case *parser.BranchStatement:
		if stmt.Token != parser.PASS && r.fn.loops == 0 {
			r.errorf(stmt.Pos(), StaticError, "%s not in a loop", stmt.Token)
		}

	case *parser.RaiseStatement:
		if stmt.X != nil {
			r.expr(stmt.X)
		}

	case *parser.TryStatement:
		r.tryStatement(stmt)

	case *parser.WithStatement:
		r.expr(stmt.X)
		if stmt.Name != nil {
			r.bindTarget(stmt.Name)
		}
		r.stmts(stmt.Body)

	case *parser.ImportStatement:
		name := stmt.Name.Name
		if name == r.module.Name {
			r.errorf(stmt.Pos(), StaticError, "module %s cannot import itself", name)
		}
		if !slices.ContainsFunc(r.module.Imports, func(id *parser.Ident) bool { return id.Name == name }) {
			r.module.Imports = append(r.module.Imports, stmt.Name)
		}
		r.bindTarget(stmt.Name)

	default:
		panic(fmt.Sprintf("compiler: unexpected statement %T", stmt))
	}
}

func (r *resolver) exitStatement(stmt parser.Statement) {
	released := r.fn.stmts.ExitStatement()
	if len(released) == 0 {
		return
	}

	parser.StatementReleases(stmt).Bindings = released

	if r.config.Debug {
		r.logger.Debug("statement-local bindings released",
			slog.String("pos", stmt.Pos().String()),
			slog.Any("bindings", released),
		)
	}
}

// ifStatement resolves an if statement together with its elif chain,
// which belongs to the same statement. Each branch starts from the
// bindings visible after the condition.
func (r *resolver) ifStatement(stmt *parser.IfStatement) {
	r.expr(stmt.Cond)

	entry := r.fn.stmts.Save()
	r.stmts(stmt.True)
	taken := r.fn.stmts.Save()
	r.fn.stmts.Restore(entry)

	if elif := elifOf(stmt); elif != nil {
		r.ifStatement(elif)
	} else {
		r.stmts(stmt.False)
	}

	r.fn.stmts.Join(taken)
}

// tryStatement resolves a try statement. A handler may be entered from
// any point of the body, and the finally clause from any point of the
// body or of a handler.
func (r *resolver) tryStatement(stmt *parser.TryStatement) {
	entry := r.fn.stmts.Save()
	r.stmts(stmt.Body)

	exits := []Snapshot{r.fn.stmts.Save()}
	aborts := []Snapshot{r.unsettled(entry, stmt.Body)}

	if len(stmt.Handlers) > 0 {
		r.fn.stmts.Restore(aborts[0])
		for _, handler := range stmt.Handlers {
			if handler.Type != nil {
				r.expr(handler.Type)
			}
			next := r.fn.stmts.Save()

			if handler.Name != nil {
				r.bindTarget(handler.Name)
			}
			aborts = append(aborts, r.unsettled(r.fn.stmts.Save(), handler.Body))
			r.stmts(handler.Body)
			exits = append(exits, r.fn.stmts.Save())

			r.fn.stmts.Restore(next)
		}
		// No handler matched and the exception propagates.
		aborts = append(aborts, r.fn.stmts.Save())
	}

	r.fn.stmts.Restore(exits[0])
	r.fn.stmts.Join(exits[1:]...)
	if stmt.Finally == nil {
		return
	}

	r.fn.stmts.Join(aborts...)
	r.stmts(stmt.Finally)
}

// unsettled returns snap with the bindings stmts may assign marked as
// uncertain. The current visibility is left unchanged.
func (r *resolver) unsettled(snap Snapshot, stmts []parser.Statement) Snapshot {
	if !r.fn.stmts.Active() {
		return snap
	}

	current := r.fn.stmts.Save()
	r.fn.stmts.Restore(snap)
	r.unsettle(stmts)
	snap = r.fn.stmts.Save()
	r.fn.stmts.Restore(current)

	return snap
}

// unsettle marks the statement-local bindings assigned somewhere in
// stmts as uncertain.
func (r *resolver) unsettle(stmts []parser.Statement) {
	if !r.fn.stmts.Active() {
		return
	}

	r.fn.stmts.Unsettle(assignedNames(stmts))
}

func elifOf(stmt *parser.IfStatement) *parser.IfStatement {
	if len(stmt.False) != 1 {
		return nil
	}

	elif, ok := stmt.False[0].(*parser.IfStatement)
	if !ok || !elif.Elif {
		return nil
	}

	return elif
}

// assignedNames collects the names stmts may assign with an ordinary
// binding, which shadows a statement-local binding of the same name.
// Nested function bodies are not included.
func assignedNames(stmts []parser.Statement) map[string]bool {
	names := make(map[string]bool)

	var visit func(parser.Node) bool
	visit = func(n parser.Node) bool {
		switch n := n.(type) {
		case *parser.AssignStatement:
			targetNames(n.LHS, names)
		case *parser.ForStatement:
			targetNames(n.Vars, names)
		case *parser.ForClause:
			targetNames(n.Vars, names)
		case *parser.ImportStatement:
			names[n.Name.Name] = true
		case *parser.WithStatement:
			if n.Name != nil {
				names[n.Name.Name] = true
			}
		case *parser.TryStatement:
			for _, handler := range n.Handlers {
				if handler.Name != nil {
					names[handler.Name.Name] = true
				}
			}
		case *parser.DefStatement:
			names[n.Name.Name] = true
			visitDefaults(&n.Function, visit)
			return false
		case *parser.LambdaExpr:
			visitDefaults(&n.Function, visit)
			return false
		}
		return true
	}
	for _, stmt := range stmts {
		parser.Walk(stmt, visit)
	}

	return names
}

func visitDefaults(fn *parser.Function, visit func(parser.Node) bool) {
	for _, param := range fn.Params {
		if param.Default != nil {
			parser.Walk(param.Default, visit)
		}
	}
}

func targetNames(lhs parser.Expr, names map[string]bool) {
	switch lhs := lhs.(type) {
	case *parser.Ident:
		names[lhs.Name] = true
	case *parser.ParenExpr:
		targetNames(lhs.X, names)
	case *parser.TupleExpr:
		for _, elem := range lhs.List {
			targetNames(elem, names)
		}
	case *parser.ListExpr:
		for _, elem := range lhs.List {
			targetNames(elem, names)
		}
	}
}

func unparen(x parser.Expr) parser.Expr {
	for {
		paren, ok := x.(*parser.ParenExpr)
		if !ok {
			return x
		}
		x = paren.X
	}
}

// removeTargets applies shadow removal to every name assigned by lhs
// and returns the statement-local bindings it discarded.
func (r *resolver) removeTargets(lhs parser.Expr) []Removal {
	var removed []Removal

	var walk func(parser.Expr)
	walk = func(x parser.Expr) {
		switch x := x.(type) {
		case *parser.Ident:
			if rm, ok := r.fn.stmts.Remove(x.Name); ok {
				removed = append(removed, rm)
			}
		case *parser.ParenExpr:
			walk(x.X)
		case *parser.TupleExpr:
			for _, elem := range x.List {
				walk(elem)
			}
		case *parser.ListExpr:
			for _, elem := range x.List {
				walk(elem)
			}
		}
	}
	walk(lhs)

	return removed
}

func (r *resolver) assign(lhs parser.Expr) {
	switch lhs := lhs.(type) {
	case *parser.Ident:
		r.bindTarget(lhs)

	case *parser.IndexExpr:
		r.expr(lhs.X)
		r.expr(lhs.Index)

	case *parser.ParenExpr:
		r.assign(lhs.X)

	case *parser.TupleExpr:
		if len(lhs.List) == 0 {
			r.errorf(lhs.Pos(), StaticError, "cannot assign to ()")
		}
		for _, elem := range lhs.List {
			r.assign(elem)
		}

	case *parser.ListExpr:
		if len(lhs.List) == 0 {
			r.errorf(lhs.Pos(), StaticError, "cannot assign to []")
		}
		for _, elem := range lhs.List {
			r.assign(elem)
		}

	default:
		r.errorf(lhs.Pos(), StaticError, "cannot assign to %T", lhs)
	}
}

// bindTarget binds id as an ordinary assignment target. A visible
// statement-local binding of the same name is removed first and the
// name resolves lexically from then on.
func (r *resolver) bindTarget(id *parser.Ident) {
	if rm, ok := r.fn.stmts.Remove(id.Name); ok {
		id.Shadowed = rm

		if r.config.Debug {
			r.logger.Debug("statement-local binding shadowed",
				slog.String("pos", id.Pos().String()),
				slog.Any("bindings", []*StatementLocal(rm)),
			)
		}
	}

	r.bind(id)
}

// bind creates a lexical binding for id in the current block.
func (r *resolver) bind(id *parser.Ident) *Binding {
	if r.env.isModule() {
		b, ok := r.globals[id.Name]
		if !ok {
			b = &Binding{
				Scope: ScopeGlobal,
				Name:  id.Name,
				First: id,
			}
			r.globals[id.Name] = b
			r.module.Globals = append(r.module.Globals, id.Name)
		}
		id.Binding = b

		return b
	}

	b, ok := r.env.get(id.Name)
	if !ok {
		b = r.env.container().function.newLocal(id)
		r.env.put(id.Name, b)
	}
	id.Binding = b

	return b
}

// bindStatementLocal binds the name of a binding expression in the
// innermost statement.
func (r *resolver) bindStatementLocal(id *parser.Ident) {
	var b *Binding
	if sl, ok := r.fn.stmts.Current(id.Name); ok {
		b = sl.Binding
	} else {
		b = r.fn.scope.newStatementLocal(id)
	}

	sl := r.fn.stmts.Bind(id.Name, b.Index)
	if sl.Binding == nil {
		sl.Binding = b
		sl.Pos = id.Pos()
	}
	id.Binding = sl.Binding

	if r.config.Debug {
		r.logger.Debug("statement-local binding",
			slog.String("pos", id.Pos().String()),
			slog.String("binding", sl.String()),
			slog.Int("depth", r.fn.stmts.Depth()),
		)
	}
}

// statementLocal looks name up among the statement-local bindings as
// seen from site. maybe lists the bindings that are bound on some paths
// only, innermost first, and sure is the binding bound on every path.
// For SiteFunctionBody the binding found, if any, belongs to a
// statement enclosing the function and is not visible.
func (r *resolver) statementLocal(name string, site Site) (maybe Removal, sure *StatementLocal) {
	switch site {
	case SiteStatement, SiteDefaultArgument:
		// Default values are resolved before the function body is
		// entered, so the active bindings are the enclosing statement's.
		return r.fn.stmts.Candidates(name)

	case SiteFunctionBody:
		for fn := r.fn.parent; fn != nil; fn = fn.parent {
			if sl, ok := fn.stmts.Lookup(name); ok {
				return nil, sl
			}
		}
	}

	return nil, nil
}

func (r *resolver) use(id *parser.Ident) {
	site := SiteStatement
	if r.fn.defaults > 0 {
		site = SiteDefaultArgument
	}

	maybe, sure := r.statementLocal(id.Name, site)
	if len(maybe) > 0 {
		// Checked at run time. The binding in Binding is the fallback.
		id.Uncertain = maybe
	}
	if sure != nil {
		id.Binding = sure.Binding
		return
	}

	u := use{id: id, env: r.env}
	if r.fn.function {
		_, u.hidden = r.statementLocal(id.Name, SiteFunctionBody)
	}

	container := r.env.container()
	container.uses = append(container.uses, u)
}

func (r *resolver) expr(x parser.Expr) {
	switch x := x.(type) {
	case *parser.Ident:
		r.use(x)

	case *parser.Literal:

	case *parser.ParenExpr:
		r.expr(x.X)

	case *parser.BindingExpr:
		r.expr(x.Wrapped)
		r.bindStatementLocal(x.Name)

	case *parser.TupleExpr:
		for _, elem := range x.List {
			r.expr(elem)
		}

	case *parser.ListExpr:
		for _, elem := range x.List {
			r.expr(elem)
		}

	case *parser.DictExpr:
		for _, entry := range x.List {
			r.expr(entry.Key)
			r.expr(entry.Value)
		}

	case *parser.UnaryExpr:
		r.expr(x.X)

	case *parser.BinaryExpr:
		r.expr(x.X)
		r.expr(x.Y)

	case *parser.CondExpr:
		r.expr(x.Cond)
		r.expr(x.True)
		r.expr(x.False)

	case *parser.CallExpr:
		r.expr(x.Fn)
		for _, arg := range x.Args {
			r.expr(arg)
		}

	case *parser.IndexExpr:
		r.expr(x.X)
		r.expr(x.Index)

	case *parser.DotExpr:
		r.expr(x.X)

	case *parser.LambdaExpr:
		r.function("lambda", x.Pos(), &x.Function)

	case *parser.Comprehension:
		r.comprehension(x)

	default:
		panic(fmt.Sprintf("compiler: unexpected expression %T", x))
	}
}

// comprehension resolves a list comprehension. Its loop variables live
// in a block of their own, and its clauses and body form a nested
// statement for binding expressions.
func (r *resolver) comprehension(comp *parser.Comprehension) {
	// The iterable of the first clause is evaluated in the enclosing
	// block: [x for x in x].
	first := comp.Clauses[0].(*parser.ForClause)
	r.expr(first.X)

	r.push(&lexicalScope{comp: comp, name: "<comprehension>"})
	r.fn.stmts.EnterStatement()

	r.assign(first.Vars)
	for _, clause := range comp.Clauses[1:] {
		switch clause := clause.(type) {
		case *parser.IfClause:
			r.expr(clause.Cond)
		case *parser.ForClause:
			r.expr(clause.X)
			r.assign(clause.Vars)
		}
	}
	r.expr(comp.Body)

	if released := r.fn.stmts.ExitStatement(); len(released) > 0 {
		comp.Releases.Bindings = released
	}
	r.pop()
}

func (r *resolver) function(name string, pos parser.Position, fn *parser.Function) {
	// Defaults are evaluated where the function is defined.
	for _, param := range fn.Params {
		if param.Default != nil {
			r.fn.defaults++
			r.expr(param.Default)
			r.fn.defaults--
		}
	}

	scope := &FunctionScope{
		Name:   name,
		Pos:    pos,
		Params: len(fn.Params),
	}
	fn.Scope = scope

	block := newLexicalScope(nil, name)
	block.function = scope
	r.push(block)

	r.fn = &funcState{
		parent:   r.fn,
		scope:    scope,
		function: true,
	}

	seenOptional := false
	for _, param := range fn.Params {
		if param.Default != nil {
			seenOptional = true
		} else if seenOptional {
			r.errorf(param.Pos(), StaticError, "required parameter %s may not follow optional", param.Name.Name)
		}

		if _, ok := block.get(param.Name.Name); ok {
			r.errorf(param.Pos(), StaticError, "duplicate parameter: %s", param.Name.Name)
			continue
		}
		r.bind(param.Name)
	}

	r.stmts(fn.Body)

	block.resolveLocalUses()

	r.fn = r.fn.parent
	r.pop()
}

func (r *resolver) resolveNonLocalUses(s *lexicalScope) {
	for _, child := range s.children {
		r.resolveNonLocalUses(child)
	}

	for _, use := range s.uses {
		use.id.Binding = r.lookupLexical(use, use.env)
	}
}

// lookupLexical looks up an identifier within its lexically enclosing
// environment, creating free variables as it crosses function
// boundaries.
func (r *resolver) lookupLexical(use use, env *lexicalScope) *Binding {
	if env.isModule() {
		return r.useGlobal(use)
	}

	b, ok := env.get(use.id.Name)
	if ok {
		return b
	}

	b = r.lookupLexical(use, env.parent)
	if env.function != nil {
		switch b.Scope {
		case ScopeLocal, ScopeCell, ScopeFree:
			if b.Scope == ScopeLocal {
				b.Scope = ScopeCell
			}

			free := &Binding{
				Scope: ScopeFree,
				Name:  b.Name,
				Index: len(env.function.FreeVars),
				First: b.First,
			}
			env.function.FreeVars = append(env.function.FreeVars, b)
			b = free
		}
	}

	// Memoize to avoid duplicate free variables.
	env.put(use.id.Name, b)

	return b
}

func (r *resolver) useGlobal(use use) *Binding {
	name := use.id.Name

	if b, ok := r.globals[name]; ok {
		return b
	}

	if r.isPredeclared(name) {
		return &Binding{Scope: ScopeBuiltin, Name: name}
	}

	b := &Binding{Scope: ScopeUndefined, Name: name}

	msg := fmt.Errorf("%w: %s", ErrUndefinedName, name)
	if use.hidden != nil {
		msg = fmt.Errorf("%w (the binding expression at %s is not visible inside a function body)", msg, use.hidden.Pos)
	}

	switch {
	case r.config.UndefinedNames == UndefinedNamesCompile && use.id.Uncertain == nil:
		r.errs.Add(use.id.Pos().WrapError(resolveError{kind: UnresolvedNameError, err: msg}))
	default:
		if r.config.Debug {
			r.logger.Debug("name deferred to run time",
				slog.String("pos", use.id.Pos().String()),
				slog.String("error", msg.Error()),
			)
		}
	}

	return b
}
