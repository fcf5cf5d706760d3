package compiler

import (
	"fmt"
	"slices"

	"github.com/rhino1998/aslet/pkg/parser"
)

type blockKind uint8

const (
	blockRelease blockKind = iota
	blockLoop
	blockExcept
	blockFinally
	blockWith
)

// A controlBlock is an enclosing construct that break, continue and
// return have to leave properly.
type controlBlock struct {
	kind blockKind

	releases []*StatementLocal

	breakLabel    Label
	continueLabel Label

	finally []parser.Statement

	withTemp int
}

type emitOptions struct {
	// keepResult makes the top level return the value of a trailing
	// expression statement instead of None.
	keepResult bool
}

type moduleEmitter struct {
	mod  *Module
	errs *ErrorSet
}

// emitModule generates code for a resolved file.
func emitModule(file *parser.File, opts emitOptions) (*Module, error) {
	ms := ModuleScopeOf(file)
	if ms == nil {
		return nil, fmt.Errorf("file %q has not been resolved", file.Path)
	}

	me := &moduleEmitter{
		mod: &Module{
			Name:    ms.Name,
			Path:    file.Path,
			Globals: slices.Clone(ms.Globals),
		},
		errs: newErrorSet(),
	}

	for _, id := range ms.Imports {
		me.mod.Imports = append(me.mod.Imports, ModuleImport{Name: id.Name, Pos: id.Pos()})
	}

	fe := me.newFuncEmitter(ms.Toplevel)
	fe.body(file.Statements, opts.keepResult)
	me.mod.Toplevel = fe.finish()

	if len(me.errs.Errs) > 0 {
		return nil, me.errs
	}

	return me.mod, nil
}

type funcEmitter struct {
	me *moduleEmitter
	fn *Funcode

	labels    map[Label]int
	nextLabel int

	pos    parser.Position
	blocks []controlBlock
}

func (me *moduleEmitter) newFuncEmitter(scope *FunctionScope) *funcEmitter {
	fn := &Funcode{
		Module: me.mod,
		Name:   scope.Name,
		Pos:    scope.Pos,
		Params: scope.Params,
		Cells:  scope.Cells(),
	}

	for _, b := range scope.Locals {
		fn.Locals = append(fn.Locals, Local{
			Name:   b.Name,
			Hidden: b.Scope == ScopeStatementLocal,
		})
	}

	for _, b := range scope.FreeVars {
		fn.FreeVars = append(fn.FreeVars, b.Name)
	}

	return &funcEmitter{
		me:     me,
		fn:     fn,
		labels: make(map[Label]int),
		pos:    scope.Pos,
	}
}

func (fe *funcEmitter) finish() *Funcode {
	err := fe.fn.Code.ResolveLabels(fe.labels)
	if err != nil {
		fe.me.errs.Add(fmt.Errorf("failed to resolve labels of %s: %w", fe.fn.Name, err))
	}

	return fe.fn
}

func (fe *funcEmitter) emit(bc Bytecode) {
	fe.fn.Code.Add(bc)
	fe.fn.Positions = append(fe.fn.Positions, fe.pos)
}

func (fe *funcEmitter) newLabel() Label {
	fe.nextLabel++
	return Label(fmt.Sprintf("L%d", fe.nextLabel))
}

func (fe *funcEmitter) mark(l Label) {
	fe.labels[l] = len(fe.fn.Code)
}

func (fe *funcEmitter) newTemp(name string) int {
	fe.fn.Locals = append(fe.fn.Locals, Local{Name: name, Hidden: true})
	return len(fe.fn.Locals) - 1
}

func (fe *funcEmitter) push(b controlBlock) {
	fe.blocks = append(fe.blocks, b)
}

func (fe *funcEmitter) pop() {
	fe.blocks = fe.blocks[:len(fe.blocks)-1]
}

func (fe *funcEmitter) EmitLoad(b *Binding) {
	switch b.Scope {
	case ScopeLocal, ScopeStatementLocal:
		fe.emit(LoadLocal{Index: b.Index, Local: b.Name})
	case ScopeCell:
		fe.emit(LoadCell{Index: b.Index, Local: b.Name})
	case ScopeFree:
		fe.emit(LoadFree{Index: b.Index, Free: b.Name})
	case ScopeGlobal, ScopeUndefined:
		fe.emit(LoadGlobal{Global: b.Name})
	case ScopeBuiltin:
		fe.emit(LoadBuiltin{Builtin: b.Name})
	default:
		panic(fmt.Sprintf("compiler: load of %v", b))
	}
}

func (fe *funcEmitter) EmitStore(b *Binding) {
	switch b.Scope {
	case ScopeLocal, ScopeStatementLocal:
		fe.emit(StoreLocal{Index: b.Index, Local: b.Name})
	case ScopeCell:
		fe.emit(StoreCell{Index: b.Index, Local: b.Name})
	case ScopeGlobal:
		fe.emit(StoreGlobal{Global: b.Name})
	default:
		panic(fmt.Sprintf("compiler: store to %v", b))
	}
}

func (fe *funcEmitter) EmitDeleteLocal(slot int) {
	fe.emit(DeleteLocal{Index: slot, Local: fe.fn.Locals[slot].Name})
}

func (fe *funcEmitter) EmitEvalExpression(x parser.Expr) {
	fe.expr(x)
}

func (fe *funcEmitter) EmitDup() {
	fe.emit(Dup{})
}

func (fe *funcEmitter) NewLabel() Label {
	return fe.newLabel()
}

func (fe *funcEmitter) MarkLabel(l Label) {
	fe.mark(l)
}

func (fe *funcEmitter) EmitJump(l Label) {
	fe.emit(Jump{Label: l})
}

func (fe *funcEmitter) EmitJumpIfUnbound(slot int, l Label) {
	fe.emit(JumpIfUnbound{Index: slot, Local: fe.fn.Locals[slot].Name, Label: l})
}

// body emits a function body or a module's top level, followed by an
// implicit return.
func (fe *funcEmitter) body(stmts []parser.Statement, keepResult bool) {
	for i, stmt := range stmts {
		_, isExpr := stmt.(*parser.ExprStatement)
		if keepResult && isExpr && i == len(stmts)-1 {
			fe.statement(stmt, true)
			fe.emit(Return{})
			return
		}

		fe.statement(stmt, false)
	}

	fe.emit(Const{Value: None{}})
	fe.emit(Return{})
}

func (fe *funcEmitter) stmts(stmts []parser.Statement) {
	for _, stmt := range stmts {
		fe.statement(stmt, false)
	}
}

// statement emits stmt and then releases the statement-local bindings
// it introduced.
func (fe *funcEmitter) statement(stmt parser.Statement, keepResult bool) {
	fe.pos = stmt.Pos()

	released := Released(stmt)
	start := len(fe.fn.Code)
	if len(released) > 0 {
		fe.push(controlBlock{kind: blockRelease, releases: released})
	}

	switch stmt := stmt.(type) {
	case *parser.ExprStatement:
		fe.expr(stmt.X)
		if !keepResult {
			fe.emit(Pop{})
		}

	case *parser.AssignStatement:
		fe.assignStatement(stmt)

	case *parser.IfStatement:
		fe.ifStatement(stmt)

	case *parser.WhileStatement:
		loop, end := fe.newLabel(), fe.newLabel()

		fe.mark(loop)
		fe.expr(stmt.Cond)
		fe.emit(JumpIfFalse{Label: end})

		fe.push(controlBlock{kind: blockLoop, breakLabel: end, continueLabel: loop})
		fe.stmts(stmt.Body)
		fe.pop()

		fe.emit(Jump{Label: loop})
		fe.mark(end)

	case *parser.ForStatement:
		emitRemovals(fe, shadowed(stmt.Shadowed))

		fe.expr(stmt.X)
		fe.emit(IterPush{})

		loop, end := fe.newLabel(), fe.newLabel()
		fe.mark(loop)
		fe.emit(IterNext{Label: end})
		fe.assign(stmt.Vars)

		fe.push(controlBlock{kind: blockLoop, breakLabel: end, continueLabel: loop})
		fe.stmts(stmt.Body)
		fe.pop()

		fe.emit(Jump{Label: loop})
		fe.mark(end)
		fe.emit(IterPop{})

	case *parser.DefStatement:
		fe.function(&stmt.Function)
		fe.storeTarget(stmt.Name)

	case *parser.ReturnStatement:
		if stmt.Result != nil {
			fe.expr(stmt.Result)
		} else {
			fe.emit(Const{Value: None{}})
		}
		for i := len(fe.blocks) - 1; i >= 0; i-- {
			fe.exitBlock(i)
		}
		fe.emit(Return{})

	case *parser.BranchStatement:
		if stmt.Token != parser.PASS {
			fe.branch(stmt.Token)
		}

	case *parser.RaiseStatement:
		if stmt.X != nil {
			fe.expr(stmt.X)
			fe.emit(Raise{Arg: true})
		} else {
			fe.emit(Raise{})
		}

	case *parser.TryStatement:
		fe.tryStatement(stmt)

	case *parser.WithStatement:
		fe.withStatement(stmt)

	case *parser.ImportStatement:
		fe.emit(Import{Module: stmt.Name.Name})
		fe.storeTarget(stmt.Name)

	default:
		panic(fmt.Sprintf("compiler: unexpected statement %T", stmt))
	}

	if len(released) > 0 {
		fe.pop()

		fe.pos = stmt.Pos()
		fe.fn.Releases = append(fe.fn.Releases, ReleaseRange{
			Start: start,
			End:   len(fe.fn.Code),
			Slots: releaseSlots(released),
		})
		emitReleases(fe, released)
	}
}

func (fe *funcEmitter) assignStatement(stmt *parser.AssignStatement) {
	emitRemovals(fe, shadowed(stmt.Shadowed))

	if stmt.Op == parser.EQ {
		fe.expr(stmt.RHS)
		fe.assign(stmt.LHS)
		return
	}

	op, err := stmt.Op.AugmentedToBinary()
	if err != nil {
		panic(fmt.Sprintf("compiler: %v", err))
	}

	switch lhs := unparen(stmt.LHS).(type) {
	case *parser.Ident:
		b := IdentBinding(lhs)
		fe.EmitLoad(b)
		fe.expr(stmt.RHS)
		fe.emit(BinaryOp{Op: op})
		fe.storeTarget(lhs)

	case *parser.IndexExpr:
		// obj key -> obj key obj key -> obj key old -> obj key new -> new obj key
		fe.expr(lhs.X)
		fe.expr(lhs.Index)
		fe.emit(Dup2{})
		fe.emit(Index{})
		fe.expr(stmt.RHS)
		fe.emit(BinaryOp{Op: op})
		fe.emit(Rot3{})
		fe.emit(SetIndex{})

	default:
		panic(fmt.Sprintf("compiler: augmented assignment to %T", lhs))
	}
}

// assign stores the value on top of the stack into lhs.
func (fe *funcEmitter) assign(lhs parser.Expr) {
	switch lhs := lhs.(type) {
	case *parser.Ident:
		fe.storeTarget(lhs)

	case *parser.IndexExpr:
		fe.expr(lhs.X)
		fe.expr(lhs.Index)
		fe.emit(SetIndex{})

	case *parser.ParenExpr:
		fe.assign(lhs.X)

	case *parser.TupleExpr:
		fe.unpack(lhs.List)

	case *parser.ListExpr:
		fe.unpack(lhs.List)

	default:
		panic(fmt.Sprintf("compiler: assignment to %T", lhs))
	}
}

func (fe *funcEmitter) unpack(targets []parser.Expr) {
	fe.emit(Unpack{N: len(targets)})
	for _, target := range targets {
		fe.assign(target)
	}
}

// storeTarget stores into an assigned name and releases the
// statement-local binding it shadowed, if any.
func (fe *funcEmitter) storeTarget(id *parser.Ident) {
	fe.EmitStore(IdentBinding(id))
	emitRemovals(fe, shadowed(id.Shadowed))
}

func (fe *funcEmitter) ifStatement(stmt *parser.IfStatement) {
	fe.expr(stmt.Cond)

	otherwise := fe.newLabel()
	fe.emit(JumpIfFalse{Label: otherwise})
	fe.stmts(stmt.True)

	if len(stmt.False) == 0 {
		fe.mark(otherwise)
		return
	}

	end := fe.newLabel()
	fe.emit(Jump{Label: end})
	fe.mark(otherwise)

	if elif := elifOf(stmt); elif != nil {
		fe.pos = elif.Pos()
		fe.ifStatement(elif)
	} else {
		fe.stmts(stmt.False)
	}

	fe.mark(end)
}

func (fe *funcEmitter) tryStatement(stmt *parser.TryStatement) {
	var finallyHandler Label
	if stmt.Finally != nil {
		finallyHandler = fe.newLabel()
		fe.emit(SetupTry{Label: finallyHandler})
		fe.push(controlBlock{kind: blockFinally, finally: stmt.Finally})
	}

	if len(stmt.Handlers) == 0 {
		fe.stmts(stmt.Body)
	} else {
		handler, after := fe.newLabel(), fe.newLabel()

		fe.emit(SetupTry{Label: handler})
		fe.push(controlBlock{kind: blockExcept})
		fe.stmts(stmt.Body)
		fe.pop()
		fe.emit(PopTry{})
		fe.emit(Jump{Label: after})

		// The exception is on the stack.
		fe.mark(handler)
		for _, clause := range stmt.Handlers {
			fe.pos = clause.Pos()

			next := fe.newLabel()
			if clause.Type != nil {
				fe.emit(Dup{})
				fe.expr(clause.Type)
				fe.emit(ExceptMatch{})
				fe.emit(JumpIfFalse{Label: next})
			}

			if clause.Name != nil {
				fe.storeTarget(clause.Name)
			} else {
				fe.emit(Pop{})
			}

			fe.stmts(clause.Body)
			fe.emit(Jump{Label: after})
			fe.mark(next)
		}
		fe.emit(Reraise{})
		fe.mark(after)
	}

	if stmt.Finally != nil {
		fe.pop()
		fe.emit(PopTry{})
		fe.stmts(stmt.Finally)

		end := fe.newLabel()
		fe.emit(Jump{Label: end})

		fe.mark(finallyHandler)
		fe.stmts(stmt.Finally)
		fe.emit(Reraise{})
		fe.mark(end)
	}
}

func (fe *funcEmitter) withStatement(stmt *parser.WithStatement) {
	temp := fe.newTemp("$with")

	fe.expr(stmt.X)
	fe.emit(Dup{})
	fe.emit(StoreLocal{Index: temp, Local: fe.fn.Locals[temp].Name})
	fe.emit(WithEnter{})

	if stmt.Name != nil {
		fe.storeTarget(stmt.Name)
	} else {
		fe.emit(Pop{})
	}

	abort, end := fe.newLabel(), fe.newLabel()

	fe.emit(SetupTry{Label: abort})
	fe.push(controlBlock{kind: blockWith, withTemp: temp})
	fe.stmts(stmt.Body)
	fe.pop()
	fe.emit(PopTry{})
	fe.emit(LoadLocal{Index: temp, Local: fe.fn.Locals[temp].Name})
	fe.emit(WithExit{})
	fe.emit(Jump{Label: end})

	fe.mark(abort)
	fe.emit(LoadLocal{Index: temp, Local: fe.fn.Locals[temp].Name})
	fe.emit(WithAbort{})
	fe.mark(end)
}

// branch emits break or continue, leaving every block inside the
// innermost loop first.
func (fe *funcEmitter) branch(tok parser.Token) {
	for i := len(fe.blocks) - 1; i >= 0; i-- {
		b := fe.blocks[i]
		if b.kind == blockLoop {
			if tok == parser.BREAK {
				fe.emit(Jump{Label: b.breakLabel})
			} else {
				fe.emit(Jump{Label: b.continueLabel})
			}
			return
		}

		if b.kind == blockRelease {
			emitReleases(fe, b.releases)
			continue
		}

		fe.exitBlock(i)
	}

	panic(fmt.Sprintf("compiler: %s outside of a loop", tok))
}

// exitBlock emits the code that leaves block i other than by falling
// off its end or by an exception.
func (fe *funcEmitter) exitBlock(i int) {
	b := fe.blocks[i]
	switch b.kind {
	case blockExcept:
		fe.emit(PopTry{})

	case blockFinally:
		fe.emit(PopTry{})

		// The finally body runs outside its own block.
		saved := fe.blocks
		fe.blocks = slices.Clone(fe.blocks[:i])
		fe.stmts(b.finally)
		fe.blocks = saved

	case blockWith:
		fe.emit(PopTry{})
		fe.emit(LoadLocal{Index: b.withTemp, Local: fe.fn.Locals[b.withTemp].Name})
		fe.emit(WithExit{})
	}
}

func (fe *funcEmitter) function(fn *parser.Function) {
	defaults := 0
	for _, param := range fn.Params {
		if param.Default != nil {
			fe.expr(param.Default)
			defaults++
		}
	}

	scope := FunctionScopeOf(fn)
	for _, b := range scope.FreeVars {
		switch b.Scope {
		case ScopeCell:
			fe.emit(LoadCellRef{Index: b.Index, Local: b.Name})
		case ScopeFree:
			fe.emit(LoadFreeRef{Index: b.Index, Free: b.Name})
		default:
			panic(fmt.Sprintf("compiler: capture of %v", b))
		}
	}

	index := len(fe.me.mod.Functions)
	fe.me.mod.Functions = append(fe.me.mod.Functions, nil)

	inner := fe.me.newFuncEmitter(scope)
	inner.body(fn.Body, false)
	fe.me.mod.Functions[index] = inner.finish()

	fe.emit(MakeFunction{
		Func:     index,
		Defaults: defaults,
		FreeVars: len(scope.FreeVars),
	})
}

func (fe *funcEmitter) expr(x parser.Expr) {
	saved := fe.pos
	fe.pos = x.Pos()
	defer func() { fe.pos = saved }()

	switch x := x.(type) {
	case *parser.Ident:
		if maybe := uncertain(x); len(maybe) > 0 {
			emitUncertainLoad(fe, maybe, IdentBinding(x))
			break
		}
		fe.EmitLoad(IdentBinding(x))

	case *parser.Literal:
		fe.emit(Const{Value: literalConstant(x)})

	case *parser.ParenExpr:
		fe.expr(x.X)

	case *parser.BindingExpr:
		emitBinding(fe, x)

	case *parser.TupleExpr:
		for _, elem := range x.List {
			fe.expr(elem)
		}
		fe.emit(MakeTuple{N: len(x.List)})

	case *parser.ListExpr:
		for _, elem := range x.List {
			fe.expr(elem)
		}
		fe.emit(MakeList{N: len(x.List)})

	case *parser.DictExpr:
		for _, entry := range x.List {
			fe.expr(entry.Key)
			fe.expr(entry.Value)
		}
		fe.emit(MakeDict{N: len(x.List)})

	case *parser.UnaryExpr:
		fe.expr(x.X)
		fe.emit(UnaryOp{Op: x.Op})

	case *parser.BinaryExpr:
		switch x.Op {
		case parser.AND:
			end := fe.newLabel()
			fe.expr(x.X)
			fe.emit(JumpIfFalseOrPop{Label: end})
			fe.expr(x.Y)
			fe.mark(end)
		case parser.OR:
			end := fe.newLabel()
			fe.expr(x.X)
			fe.emit(JumpIfTrueOrPop{Label: end})
			fe.expr(x.Y)
			fe.mark(end)
		default:
			fe.expr(x.X)
			fe.expr(x.Y)
			fe.emit(BinaryOp{Op: x.Op})
		}

	case *parser.CondExpr:
		otherwise, end := fe.newLabel(), fe.newLabel()
		fe.expr(x.Cond)
		fe.emit(JumpIfFalse{Label: otherwise})
		fe.expr(x.True)
		fe.emit(Jump{Label: end})
		fe.mark(otherwise)
		fe.expr(x.False)
		fe.mark(end)

	case *parser.CallExpr:
		fe.expr(x.Fn)
		for _, arg := range x.Args {
			fe.expr(arg)
		}
		fe.emit(Call{Args: len(x.Args)})

	case *parser.IndexExpr:
		fe.expr(x.X)
		fe.expr(x.Index)
		fe.emit(Index{})

	case *parser.DotExpr:
		fe.expr(x.X)
		fe.emit(Attr{Attr: x.Name.Name})

	case *parser.LambdaExpr:
		fe.function(&x.Function)

	case *parser.Comprehension:
		fe.comprehension(x)

	default:
		panic(fmt.Sprintf("compiler: unexpected expression %T", x))
	}
}

func literalConstant(lit *parser.Literal) Constant {
	switch v := lit.Value.(type) {
	case int64:
		return Int(v)
	case float64:
		return Float(v)
	case string:
		return String(v)
	case bool:
		return Bool(v)
	case nil:
		return None{}
	default:
		panic(fmt.Sprintf("compiler: unexpected literal %T", v))
	}
}

func (fe *funcEmitter) comprehension(comp *parser.Comprehension) {
	fe.emit(MakeList{N: 0})

	released, _ := comp.Releases.Bindings.([]*StatementLocal)
	start := len(fe.fn.Code)

	fe.clauses(comp, 0)

	if len(released) > 0 {
		fe.fn.Releases = append(fe.fn.Releases, ReleaseRange{
			Start: start,
			End:   len(fe.fn.Code),
			Slots: releaseSlots(released),
		})
		emitReleases(fe, released)
	}
}

// clauses emits the clauses of comp from i on, with the list being
// built on top of the stack.
func (fe *funcEmitter) clauses(comp *parser.Comprehension, i int) {
	if i == len(comp.Clauses) {
		fe.expr(comp.Body)
		fe.emit(Append{})
		return
	}

	switch clause := comp.Clauses[i].(type) {
	case *parser.ForClause:
		fe.expr(clause.X)
		fe.emit(IterPush{})

		loop, end := fe.newLabel(), fe.newLabel()
		fe.mark(loop)
		fe.emit(IterNext{Label: end})
		fe.assign(clause.Vars)
		fe.clauses(comp, i+1)
		fe.emit(Jump{Label: loop})
		fe.mark(end)
		fe.emit(IterPop{})

	case *parser.IfClause:
		skip := fe.newLabel()
		fe.expr(clause.Cond)
		fe.emit(JumpIfFalse{Label: skip})
		fe.clauses(comp, i+1)
		fe.mark(skip)
	}
}
