package compiler

import (
	"fmt"
	"strconv"

	"github.com/rhino1998/aslet/pkg/parser"
)

type Bytecode interface {
	Name() string
}

type BytecodeSnippet []Bytecode

func (s *BytecodeSnippet) Add(bc ...Bytecode) {
	*s = append(*s, bc...)
}

type Label string

func (l Label) String() string {
	return fmt.Sprintf("<%s>", string(l))
}

// A Jumper is an instruction with a label operand.
type Jumper interface {
	Bytecode
	JumpLabel() Label
	withTarget(int) Bytecode
}

// ResolveLabels replaces label operands with absolute instruction
// indices.
func (s BytecodeSnippet) ResolveLabels(labels map[Label]int) error {
	for i, bc := range s {
		j, ok := bc.(Jumper)
		if !ok {
			continue
		}

		target, ok := labels[j.JumpLabel()]
		if !ok {
			return fmt.Errorf("unknown label %v in %s at %d", j.JumpLabel(), bc.Name(), i)
		}

		s[i] = j.withTarget(target)
	}

	return nil
}

type Constant interface {
	constant()
	String() string
}

type Int int64

func (Int) constant() {}

func (i Int) String() string {
	return fmt.Sprintf("Int(%d)", int64(i))
}

type Float float64

func (Float) constant() {}

func (f Float) String() string {
	return fmt.Sprintf("Float(%s)", strconv.FormatFloat(float64(f), 'g', -1, 64))
}

type String string

func (String) constant() {}

func (s String) String() string {
	return fmt.Sprintf("String(%q)", string(s))
}

type Bool bool

func (Bool) constant() {}

func (b Bool) String() string {
	return fmt.Sprintf("Bool(%v)", bool(b))
}

type None struct{}

func (None) constant() {}

func (None) String() string {
	return "None"
}

type Const struct {
	Value Constant
}

func (Const) Name() string { return "const" }

func (c Const) String() string {
	return fmt.Sprintf("CONST %v", c.Value)
}

type LoadLocal struct {
	Index int
	Local string
}

func (LoadLocal) Name() string { return "load_local" }

func (l LoadLocal) String() string {
	return fmt.Sprintf("LOAD_LOCAL %d (%s)", l.Index, l.Local)
}

type StoreLocal struct {
	Index int
	Local string
}

func (StoreLocal) Name() string { return "store_local" }

func (s StoreLocal) String() string {
	return fmt.Sprintf("STORE_LOCAL %d (%s)", s.Index, s.Local)
}

// DeleteLocal clears a local slot. It is how statement-local bindings
// are released.
type DeleteLocal struct {
	Index int
	Local string
}

func (DeleteLocal) Name() string { return "delete_local" }

func (d DeleteLocal) String() string {
	return fmt.Sprintf("DELETE_LOCAL %d (%s)", d.Index, d.Local)
}

type LoadCell struct {
	Index int
	Local string
}

func (LoadCell) Name() string { return "load_cell" }

func (l LoadCell) String() string {
	return fmt.Sprintf("LOAD_CELL %d (%s)", l.Index, l.Local)
}

type StoreCell struct {
	Index int
	Local string
}

func (StoreCell) Name() string { return "store_cell" }

func (s StoreCell) String() string {
	return fmt.Sprintf("STORE_CELL %d (%s)", s.Index, s.Local)
}

// LoadCellRef pushes the cell itself, for building a closure.
type LoadCellRef struct {
	Index int
	Local string
}

func (LoadCellRef) Name() string { return "load_cell_ref" }

func (l LoadCellRef) String() string {
	return fmt.Sprintf("LOAD_CELL_REF %d (%s)", l.Index, l.Local)
}

type LoadFree struct {
	Index int
	Free  string
}

func (LoadFree) Name() string { return "load_free" }

func (l LoadFree) String() string {
	return fmt.Sprintf("LOAD_FREE %d (%s)", l.Index, l.Free)
}

// LoadFreeRef pushes the cell of a free variable, for building a
// closure.
type LoadFreeRef struct {
	Index int
	Free  string
}

func (LoadFreeRef) Name() string { return "load_free_ref" }

func (l LoadFreeRef) String() string {
	return fmt.Sprintf("LOAD_FREE_REF %d (%s)", l.Index, l.Free)
}

type LoadGlobal struct {
	Global string
}

func (LoadGlobal) Name() string { return "load_global" }

func (l LoadGlobal) String() string {
	return fmt.Sprintf("LOAD_GLOBAL %s", l.Global)
}

type StoreGlobal struct {
	Global string
}

func (StoreGlobal) Name() string { return "store_global" }

func (s StoreGlobal) String() string {
	return fmt.Sprintf("STORE_GLOBAL %s", s.Global)
}

type LoadBuiltin struct {
	Builtin string
}

func (LoadBuiltin) Name() string { return "load_builtin" }

func (l LoadBuiltin) String() string {
	return fmt.Sprintf("LOAD_BUILTIN %s", l.Builtin)
}

type Pop struct{}

func (Pop) Name() string   { return "pop" }
func (Pop) String() string { return "POP" }

type Dup struct{}

func (Dup) Name() string   { return "dup" }
func (Dup) String() string { return "DUP" }

// Dup2 duplicates the top two values.
type Dup2 struct{}

func (Dup2) Name() string   { return "dup2" }
func (Dup2) String() string { return "DUP2" }

// Rot3 moves the top value below the two values under it.
type Rot3 struct{}

func (Rot3) Name() string   { return "rot3" }
func (Rot3) String() string { return "ROT3" }

type UnaryOp struct {
	Op parser.Token
}

func (UnaryOp) Name() string { return "unop" }

func (o UnaryOp) String() string {
	return fmt.Sprintf("UNOP %s", o.Op)
}

type BinaryOp struct {
	Op parser.Token
}

func (BinaryOp) Name() string { return "binop" }

func (o BinaryOp) String() string {
	return fmt.Sprintf("BINOP %s", o.Op)
}

type Jump struct {
	Label  Label
	Target int
}

func (Jump) Name() string       { return "jump" }
func (j Jump) JumpLabel() Label { return j.Label }
func (j Jump) String() string   { return fmt.Sprintf("JUMP %d", j.Target) }
func (j Jump) withTarget(t int) Bytecode {
	j.Target = t
	return j
}

type JumpIfFalse struct {
	Label  Label
	Target int
}

func (JumpIfFalse) Name() string       { return "jump_if_false" }
func (j JumpIfFalse) JumpLabel() Label { return j.Label }
func (j JumpIfFalse) String() string   { return fmt.Sprintf("JUMP_IF_FALSE %d", j.Target) }
func (j JumpIfFalse) withTarget(t int) Bytecode {
	j.Target = t
	return j
}

// JumpIfUnbound jumps if the local slot Index holds no value. It reads
// the slot of a statement-local binding that is only bound on some of
// the paths reaching a reference.
type JumpIfUnbound struct {
	Index  int
	Local  string
	Label  Label
	Target int
}

func (JumpIfUnbound) Name() string       { return "jump_if_unbound" }
func (j JumpIfUnbound) JumpLabel() Label { return j.Label }
func (j JumpIfUnbound) String() string {
	return fmt.Sprintf("JUMP_IF_UNBOUND %d (%s) %d", j.Index, j.Local, j.Target)
}
func (j JumpIfUnbound) withTarget(t int) Bytecode {
	j.Target = t
	return j
}

// JumpIfFalseOrPop jumps, keeping the condition, if it is false, and
// pops it otherwise.
type JumpIfFalseOrPop struct {
	Label  Label
	Target int
}

func (JumpIfFalseOrPop) Name() string       { return "jump_if_false_or_pop" }
func (j JumpIfFalseOrPop) JumpLabel() Label { return j.Label }
func (j JumpIfFalseOrPop) String() string   { return fmt.Sprintf("JUMP_IF_FALSE_OR_POP %d", j.Target) }
func (j JumpIfFalseOrPop) withTarget(t int) Bytecode {
	j.Target = t
	return j
}

type JumpIfTrueOrPop struct {
	Label  Label
	Target int
}

func (JumpIfTrueOrPop) Name() string       { return "jump_if_true_or_pop" }
func (j JumpIfTrueOrPop) JumpLabel() Label { return j.Label }
func (j JumpIfTrueOrPop) String() string   { return fmt.Sprintf("JUMP_IF_TRUE_OR_POP %d", j.Target) }
func (j JumpIfTrueOrPop) withTarget(t int) Bytecode {
	j.Target = t
	return j
}

type Call struct {
	Args int
}

func (Call) Name() string { return "call" }

func (c Call) String() string {
	return fmt.Sprintf("CALL %d", c.Args)
}

type Return struct{}

func (Return) Name() string   { return "return" }
func (Return) String() string { return "RETURN" }

// MakeFunction pops the free variable cells and then the default
// values, and pushes a function for the module's Func'th code.
type MakeFunction struct {
	Func     int
	Defaults int
	FreeVars int
}

func (MakeFunction) Name() string { return "make_function" }

func (m MakeFunction) String() string {
	return fmt.Sprintf("MAKE_FUNCTION %d defaults=%d free=%d", m.Func, m.Defaults, m.FreeVars)
}

type MakeList struct {
	N int
}

func (MakeList) Name() string { return "make_list" }

func (m MakeList) String() string {
	return fmt.Sprintf("MAKE_LIST %d", m.N)
}

type MakeTuple struct {
	N int
}

func (MakeTuple) Name() string { return "make_tuple" }

func (m MakeTuple) String() string {
	return fmt.Sprintf("MAKE_TUPLE %d", m.N)
}

// MakeDict builds a dict from N key/value pairs.
type MakeDict struct {
	N int
}

func (MakeDict) Name() string { return "make_dict" }

func (m MakeDict) String() string {
	return fmt.Sprintf("MAKE_DICT %d", m.N)
}

// Append pops a value and appends it to the list below it.
type Append struct{}

func (Append) Name() string   { return "append" }
func (Append) String() string { return "APPEND" }

type Index struct{}

func (Index) Name() string   { return "index" }
func (Index) String() string { return "INDEX" }

// SetIndex pops key, object and value, in that order, and performs
// object[key] = value.
type SetIndex struct{}

func (SetIndex) Name() string   { return "set_index" }
func (SetIndex) String() string { return "SET_INDEX" }

type Attr struct {
	Attr string
}

func (Attr) Name() string { return "attr" }

func (a Attr) String() string {
	return fmt.Sprintf("ATTR %s", a.Attr)
}

// IterPush pops an iterable and pushes an iterator for it onto the
// frame's iterator stack.
type IterPush struct{}

func (IterPush) Name() string   { return "iter_push" }
func (IterPush) String() string { return "ITER_PUSH" }

// IterNext pushes the next element of the innermost iterator, or jumps
// once it is exhausted.
type IterNext struct {
	Label  Label
	Target int
}

func (IterNext) Name() string       { return "iter_next" }
func (j IterNext) JumpLabel() Label { return j.Label }
func (j IterNext) String() string   { return fmt.Sprintf("ITER_NEXT %d", j.Target) }
func (j IterNext) withTarget(t int) Bytecode {
	j.Target = t
	return j
}

type IterPop struct{}

func (IterPop) Name() string   { return "iter_pop" }
func (IterPop) String() string { return "ITER_POP" }

// Unpack pops a sequence of exactly N elements and pushes them so that
// the first element ends up on top.
type Unpack struct {
	N int
}

func (Unpack) Name() string { return "unpack" }

func (u Unpack) String() string {
	return fmt.Sprintf("UNPACK %d", u.N)
}

// Raise raises the popped exception, or re-raises the exception being
// handled when Arg is false.
type Raise struct {
	Arg bool
}

func (Raise) Name() string { return "raise" }

func (r Raise) String() string {
	if r.Arg {
		return "RAISE 1"
	}
	return "RAISE 0"
}

// Reraise pops an exception delivered to a handler and raises it again.
type Reraise struct{}

func (Reraise) Name() string   { return "reraise" }
func (Reraise) String() string { return "RERAISE" }

// SetupTry installs an exception handler. When an exception is raised
// before the matching PopTry, the operand and iterator stacks are cut
// back to their heights at SetupTry, the exception is pushed and
// control transfers to the handler.
type SetupTry struct {
	Label  Label
	Target int
}

func (SetupTry) Name() string       { return "setup_try" }
func (j SetupTry) JumpLabel() Label { return j.Label }
func (j SetupTry) String() string   { return fmt.Sprintf("SETUP_TRY %d", j.Target) }
func (j SetupTry) withTarget(t int) Bytecode {
	j.Target = t
	return j
}

type PopTry struct{}

func (PopTry) Name() string   { return "pop_try" }
func (PopTry) String() string { return "POP_TRY" }

// ExceptMatch pops a type (or tuple of types) and an exception and
// pushes whether the exception is an instance of it.
type ExceptMatch struct{}

func (ExceptMatch) Name() string   { return "except_match" }
func (ExceptMatch) String() string { return "EXCEPT_MATCH" }

// WithEnter pops a context manager and pushes the result of entering
// it.
type WithEnter struct{}

func (WithEnter) Name() string   { return "with_enter" }
func (WithEnter) String() string { return "WITH_ENTER" }

// WithExit pops a context manager and exits it.
type WithExit struct{}

func (WithExit) Name() string   { return "with_exit" }
func (WithExit) String() string { return "WITH_EXIT" }

// WithAbort pops a context manager and an exception, exits the context
// manager and raises the exception.
type WithAbort struct{}

func (WithAbort) Name() string   { return "with_abort" }
func (WithAbort) String() string { return "WITH_ABORT" }

type Import struct {
	Module string
}

func (Import) Name() string { return "import" }

func (i Import) String() string {
	return fmt.Sprintf("IMPORT %s", i.Module)
}
