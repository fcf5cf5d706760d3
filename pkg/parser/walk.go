package parser

// Walk traverses a syntax tree in depth-first order. It starts by
// calling f(n); n must not be nil. If f returns true, Walk calls itself
// recursively for each non-nil child of n. Walk then calls f(nil).
func Walk(n Node, f func(Node) bool) {
	if n == nil {
		panic("nil")
	}
	if !f(n) {
		return
	}

	switch n := n.(type) {
	case *File:
		walkStatements(n.Statements, f)
	case *ExprStatement:
		Walk(n.X, f)
	case *AssignStatement:
		Walk(n.LHS, f)
		Walk(n.RHS, f)
	case *IfStatement:
		Walk(n.Cond, f)
		walkStatements(n.True, f)
		walkStatements(n.False, f)
	case *WhileStatement:
		Walk(n.Cond, f)
		walkStatements(n.Body, f)
	case *ForStatement:
		Walk(n.Vars, f)
		Walk(n.X, f)
		walkStatements(n.Body, f)
	case *DefStatement:
		Walk(n.Name, f)
		walkFunction(&n.Function, f)
	case *ReturnStatement:
		if n.Result != nil {
			Walk(n.Result, f)
		}
	case *BranchStatement, *Ident, *Literal:
		// no children
	case *RaiseStatement:
		if n.X != nil {
			Walk(n.X, f)
		}
	case *TryStatement:
		walkStatements(n.Body, f)
		for _, h := range n.Handlers {
			if h.Type != nil {
				Walk(h.Type, f)
			}
			if h.Name != nil {
				Walk(h.Name, f)
			}
			walkStatements(h.Body, f)
		}
		walkStatements(n.Finally, f)
	case *WithStatement:
		Walk(n.X, f)
		if n.Name != nil {
			Walk(n.Name, f)
		}
		walkStatements(n.Body, f)
	case *ImportStatement:
		Walk(n.Name, f)
	case *ParenExpr:
		Walk(n.X, f)
	case *BindingExpr:
		Walk(n.Wrapped, f)
		Walk(n.Name, f)
	case *TupleExpr:
		walkExprs(n.List, f)
	case *ListExpr:
		walkExprs(n.List, f)
	case *DictExpr:
		for _, entry := range n.List {
			Walk(entry.Key, f)
			Walk(entry.Value, f)
		}
	case *UnaryExpr:
		Walk(n.X, f)
	case *BinaryExpr:
		Walk(n.X, f)
		Walk(n.Y, f)
	case *CondExpr:
		Walk(n.Cond, f)
		Walk(n.True, f)
		Walk(n.False, f)
	case *CallExpr:
		Walk(n.Fn, f)
		walkExprs(n.Args, f)
	case *IndexExpr:
		Walk(n.X, f)
		Walk(n.Index, f)
	case *DotExpr:
		Walk(n.X, f)
		Walk(n.Name, f)
	case *LambdaExpr:
		walkFunction(&n.Function, f)
	case *Comprehension:
		for _, clause := range n.Clauses {
			Walk(clause, f)
		}
		Walk(n.Body, f)
	case *ForClause:
		Walk(n.Vars, f)
		Walk(n.X, f)
	case *IfClause:
		Walk(n.Cond, f)
	default:
		panic(n)
	}

	f(nil)
}

func walkStatements(stmts []Statement, f func(Node) bool) {
	for _, stmt := range stmts {
		Walk(stmt, f)
	}
}

func walkExprs(exprs []Expr, f func(Node) bool) {
	for _, x := range exprs {
		Walk(x, f)
	}
}

func walkFunction(fn *Function, f func(Node) bool) {
	for _, param := range fn.Params {
		Walk(param.Name, f)
		if param.Default != nil {
			Walk(param.Default, f)
		}
	}
	walkStatements(fn.Body, f)
}

// CountBindings reports the number of binding expressions in n.
func CountBindings(n Node) int {
	count := 0
	Walk(n, func(n Node) bool {
		if _, ok := n.(*BindingExpr); ok {
			count++
		}
		return true
	})

	return count
}
