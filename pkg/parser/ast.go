package parser

type Node interface {
	Pos() Position
}

// A File is the parse tree of one module.
type File struct {
	Path       string
	Statements []Statement

	// set by the resolver
	Module any
}

func (f *File) Pos() Position {
	return Position{File: f.Path, Line: 1, Column: 1}
}

type Statement interface {
	Node
	statement()
	releases() *Releases
}

// Releases is filled in by the resolver with the statement-local
// bindings that must be discarded when the statement completes.
// It stays nil for statements that bind nothing.
type Releases struct {
	Bindings any
}

func (r *Releases) releases() *Releases { return r }

// StatementReleases returns the release decoration of stmt.
func StatementReleases(stmt Statement) *Releases {
	return stmt.releases()
}

type ExprStatement struct {
	Position
	Releases

	X Expr
}

func (*ExprStatement) statement() {}

// An AssignStatement is either a plain assignment (Op == EQ) or an
// augmented one (Op == PLUS_EQ etc).
type AssignStatement struct {
	Position
	Releases

	Op  Token
	LHS Expr
	RHS Expr

	// set by the resolver: statement-local bindings shadowed by the
	// targets before the right-hand side runs
	Shadowed any
}

func (*AssignStatement) statement() {}

// An IfStatement is a conditional. An elif chain is desugared into
// nested IfStatements with Elif set.
type IfStatement struct {
	Position
	Releases

	Cond  Expr
	True  []Statement
	False []Statement
	Elif  bool
}

func (*IfStatement) statement() {}

type WhileStatement struct {
	Position
	Releases

	Cond Expr
	Body []Statement
}

func (*WhileStatement) statement() {}

type ForStatement struct {
	Position
	Releases

	Vars Expr
	X    Expr
	Body []Statement

	// set by the resolver
	Shadowed any
}

func (*ForStatement) statement() {}

type DefStatement struct {
	Position
	Releases

	Name *Ident
	Function
}

func (*DefStatement) statement() {}

type ReturnStatement struct {
	Position
	Releases

	Result Expr
}

func (*ReturnStatement) statement() {}

// A BranchStatement is pass, break or continue.
type BranchStatement struct {
	Position
	Releases

	Token Token
}

func (*BranchStatement) statement() {}

type RaiseStatement struct {
	Position
	Releases

	X Expr
}

func (*RaiseStatement) statement() {}

type TryStatement struct {
	Position
	Releases

	Body     []Statement
	Handlers []*ExceptClause
	Finally  []Statement
}

func (*TryStatement) statement() {}

type ExceptClause struct {
	Position

	Type Expr
	Name *Ident
	Body []Statement
}

type WithStatement struct {
	Position
	Releases

	X    Expr
	Name *Ident
	Body []Statement
}

func (*WithStatement) statement() {}

type ImportStatement struct {
	Position
	Releases

	Name *Ident
}

func (*ImportStatement) statement() {}

// A Function holds the parts shared by def statements and lambdas.
type Function struct {
	Params []*Param
	Body   []Statement

	// set by the resolver
	Scope any
}

type Param struct {
	Position

	Name    *Ident
	Default Expr
}

type Expr interface {
	Node
	expr()
}

type Ident struct {
	Position

	Name string

	// set by the resolver
	Binding any
	// set by the resolver when this identifier is an assignment target
	// that discarded a statement-local binding created earlier in the
	// same statement
	Shadowed any
	// set by the resolver when this identifier reads a statement-local
	// binding that is bound on some paths only
	Uncertain any
}

func (*Ident) expr() {}

type Literal struct {
	Position

	Token Token // INT, FLOAT, STRING, NONE, TRUE or FALSE
	Raw   string
	Value any // int64, float64, string, bool or nil
}

func (*Literal) expr() {}

type ParenExpr struct {
	Position

	X Expr
}

func (*ParenExpr) expr() {}

// A BindingExpr is the statement-local binding form (Wrapped as Name).
type BindingExpr struct {
	Position

	Wrapped Expr
	Name    *Ident
}

func (*BindingExpr) expr() {}

type TupleExpr struct {
	Position

	List []Expr
}

func (*TupleExpr) expr() {}

type ListExpr struct {
	Position

	List []Expr
}

func (*ListExpr) expr() {}

type DictExpr struct {
	Position

	List []*DictEntry
}

func (*DictExpr) expr() {}

type DictEntry struct {
	Position

	Key   Expr
	Value Expr
}

type UnaryExpr struct {
	Position

	Op Token
	X  Expr
}

func (*UnaryExpr) expr() {}

type BinaryExpr struct {
	Position

	Op Token
	X  Expr
	Y  Expr
}

func (*BinaryExpr) expr() {}

type CondExpr struct {
	Position

	Cond  Expr
	True  Expr
	False Expr
}

func (*CondExpr) expr() {}

type CallExpr struct {
	Position

	Fn   Expr
	Args []Expr
}

func (*CallExpr) expr() {}

type IndexExpr struct {
	Position

	X     Expr
	Index Expr
}

func (*IndexExpr) expr() {}

type DotExpr struct {
	Position

	X    Expr
	Name *Ident
}

func (*DotExpr) expr() {}

type LambdaExpr struct {
	Position

	Function
}

func (*LambdaExpr) expr() {}

// A Comprehension is a list comprehension [Body for ... if ...].
// The first clause is always a ForClause. Its clauses and body form a
// statement of their own for binding expressions.
type Comprehension struct {
	Position
	Releases

	Body    Expr
	Clauses []Clause
}

func (*Comprehension) expr() {}

type Clause interface {
	Node
	clause()
}

type ForClause struct {
	Position

	Vars Expr
	X    Expr
}

func (*ForClause) clause() {}

type IfClause struct {
	Position

	Cond Expr
}

func (*IfClause) clause() {}
