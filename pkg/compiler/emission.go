package compiler

import (
	"github.com/rhino1998/aslet/pkg/parser"
)

// A CodeEmitter is the set of code generation primitives that
// statement-local bindings are lowered onto.
type CodeEmitter interface {
	EmitLoad(b *Binding)
	EmitStore(b *Binding)
	EmitDeleteLocal(slot int)
	EmitEvalExpression(x parser.Expr)
	EmitDup()

	NewLabel() Label
	MarkLabel(l Label)
	EmitJump(l Label)
	EmitJumpIfUnbound(slot int, l Label)
}

// emitBinding lowers (wrapped as name). The wrapped expression is
// evaluated once; its value is both stored and left as the result.
func emitBinding(e CodeEmitter, x *parser.BindingExpr) {
	e.EmitEvalExpression(x.Wrapped)
	e.EmitDup()
	e.EmitStore(IdentBinding(x.Name))
}

// emitReleases clears the slots of statement-local bindings.
func emitReleases(e CodeEmitter, sls []*StatementLocal) {
	for _, sl := range sls {
		e.EmitDeleteLocal(sl.Slot)
	}
}

// emitRemovals lowers the shadow removals of an assignment.
func emitRemovals(e CodeEmitter, rms []Removal) {
	for _, rm := range rms {
		emitRemoval(e, rm)
	}
}

// emitRemoval clears the first slot of rm that is still bound. Only the
// last candidate can be visible on every path, so it is cleared
// unconditionally.
func emitRemoval(e CodeEmitter, rm Removal) {
	if len(rm) == 1 {
		e.EmitDeleteLocal(rm[0].Slot)
		return
	}

	end := e.NewLabel()
	for _, sl := range rm[:len(rm)-1] {
		next := e.NewLabel()
		e.EmitJumpIfUnbound(sl.Slot, next)
		e.EmitDeleteLocal(sl.Slot)
		e.EmitJump(end)
		e.MarkLabel(next)
	}
	e.EmitDeleteLocal(rm[len(rm)-1].Slot)
	e.MarkLabel(end)
}

// emitUncertainLoad loads the first of maybe that is bound, or else
// fallback.
func emitUncertainLoad(e CodeEmitter, maybe Removal, fallback *Binding) {
	end := e.NewLabel()
	for _, sl := range maybe {
		next := e.NewLabel()
		e.EmitJumpIfUnbound(sl.Slot, next)
		e.EmitLoad(sl.Binding)
		e.EmitJump(end)
		e.MarkLabel(next)
	}
	e.EmitLoad(fallback)
	e.MarkLabel(end)
}

func releaseSlots(sls []*StatementLocal) []int {
	slots := make([]int, len(sls))
	for i, sl := range sls {
		slots[i] = sl.Slot
	}

	return slots
}
