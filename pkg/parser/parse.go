package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
)

type Option func(*Parser)

// DisableStatementLocals makes every binding expression a syntax error.
func DisableStatementLocals() Option {
	return func(p *Parser) {
		p.disableBindings = true
	}
}

type Parser struct {
	file string
	toks []tokenValue
	idx  int
	tok  tokenValue

	disableBindings bool

	errs []error
}

// bailout unwinds the parser to the nearest statement boundary after an
// error has been recorded.
type bailout struct{}

func newParser(file string, toks []tokenValue, opts ...Option) *Parser {
	p := &Parser{
		file: file,
		toks: toks,
		tok:  toks[0],
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func ParseFile(filename string, opts ...Option) (*File, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseReader(filename, f, opts...)
}

// ParseReader parses a whole module. All syntax errors found are
// returned joined together; each one is a PositionError.
func ParseReader(filename string, r io.Reader, opts ...Option) (*File, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	toks, err := tokenize(filename, src)
	if err != nil {
		return nil, err
	}

	p := newParser(filename, toks, opts...)

	file := &File{Path: filename}
	for p.tok.tok != EOF {
		if p.tok.tok == NEWLINE {
			p.next()
			continue
		}

		start := p.idx
		file.Statements = append(file.Statements, p.parseStatementRecover()...)
		if p.idx == start && p.tok.tok != EOF {
			p.next()
		}
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}

	return file, nil
}

// ParseExpr parses a single expression, optionally a bare tuple.
func ParseExpr(filename string, src string, opts ...Option) (x Expr, err error) {
	toks, err := tokenize(filename, []byte(src))
	if err != nil {
		return nil, err
	}

	p := newParser(filename, toks, opts...)

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			x, err = nil, errors.Join(p.errs...)
		}
	}()

	x = p.parseExprList()
	if p.tok.tok == NEWLINE {
		p.next()
	}
	p.expect(EOF)

	return x, nil
}

func (p *Parser) next() {
	if p.idx < len(p.toks)-1 {
		p.idx++
	}
	p.tok = p.toks[p.idx]
}

func (p *Parser) peek() Token {
	if p.idx < len(p.toks)-1 {
		return p.toks[p.idx+1].tok
	}

	return EOF
}

func (p *Parser) fail(err error) {
	p.errs = append(p.errs, err)
	panic(bailout{})
}

func (p *Parser) failf(pos Position, format string, args ...any) {
	p.fail(pos.WrapError(fmt.Errorf(format, args...)))
}

// unexpected reports the current token in a position that wanted tok.
func (p *Parser) unexpected(want string) {
	switch p.tok.tok {
	case AS:
		p.fail(p.tok.pos.WrapError(ErrUnparenthesizedBinding))
	case EOF:
		p.fail(p.tok.pos.WrapError(fmt.Errorf("%w: want %s", io.ErrUnexpectedEOF, want)))
	default:
		p.failf(p.tok.pos, "got %s, want %s", p.tok.tok, want)
	}
}

func (p *Parser) expect(tok Token) Position {
	pos := p.tok.pos
	if p.tok.tok != tok {
		p.unexpected(tok.String())
	}
	p.next()

	return pos
}

// sync skips the rest of a broken statement along with any block that
// hangs off it.
func (p *Parser) sync() {
	for {
		switch p.tok.tok {
		case EOF, OUTDENT:
			return
		case NEWLINE:
			p.next()
			if p.tok.tok != INDENT {
				return
			}

			depth := 0
			for ; p.tok.tok != EOF; p.next() {
				switch p.tok.tok {
				case INDENT:
					depth++
				case OUTDENT:
					depth--
				}
				if depth == 0 {
					p.next()
					return
				}
			}
			return
		default:
			p.next()
		}
	}
}

func (p *Parser) parseStatementRecover() (stmts []Statement) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			p.sync()
			stmts = nil
		}
	}()

	return p.parseStatement()
}

func (p *Parser) parseStatement() []Statement {
	switch p.tok.tok {
	case DEF:
		return []Statement{p.parseDef()}
	case IF:
		return []Statement{p.parseIf()}
	case WHILE:
		return []Statement{p.parseWhile()}
	case FOR:
		return []Statement{p.parseFor()}
	case TRY:
		return []Statement{p.parseTry()}
	case WITH:
		return []Statement{p.parseWith()}
	case INDENT:
		p.failf(p.tok.pos, "unexpected indent")
	}

	return p.parseSimpleStatements()
}

func (p *Parser) parseSimpleStatements() []Statement {
	var stmts []Statement
	for {
		stmts = append(stmts, p.parseSmallStatement())
		if p.tok.tok != SEMI {
			break
		}
		p.next()
		if p.tok.tok == NEWLINE || p.tok.tok == EOF {
			break
		}
	}

	if p.tok.tok == EOF {
		return stmts
	}
	p.expect(NEWLINE)

	return stmts
}

func (p *Parser) parseSmallStatement() Statement {
	pos := p.tok.pos

	switch p.tok.tok {
	case PASS, BREAK, CONTINUE:
		tok := p.tok.tok
		p.next()
		return &BranchStatement{Position: pos, Token: tok}
	case RETURN:
		p.next()
		stmt := &ReturnStatement{Position: pos}
		if !p.atStatementEnd() {
			stmt.Result = p.parseExprList()
		}
		return stmt
	case RAISE:
		p.next()
		stmt := &RaiseStatement{Position: pos}
		if !p.atStatementEnd() {
			stmt.X = p.parseTest()
		}
		return stmt
	case IMPORT:
		p.next()
		if p.tok.tok != IDENT {
			p.unexpected("module name")
		}
		return &ImportStatement{Position: pos, Name: p.parseIdent()}
	}

	x := p.parseExprList()

	switch op := p.tok.tok; op {
	case EQ:
		p.checkTarget(x, false)
		p.next()
		rhs := p.parseExprList()
		if p.tok.tok == EQ {
			p.failf(p.tok.pos, "chained assignment is not supported")
		}
		return &AssignStatement{Position: pos, Op: EQ, LHS: x, RHS: rhs}
	case PLUS_EQ, MINUS_EQ, STAR_EQ, SLASH_EQ, SLASHSLASH_EQ, PERCENT_EQ:
		p.checkTarget(x, true)
		p.next()
		rhs := p.parseExprList()
		return &AssignStatement{Position: pos, Op: op, LHS: x, RHS: rhs}
	}

	return &ExprStatement{Position: pos, X: x}
}

func (p *Parser) atStatementEnd() bool {
	switch p.tok.tok {
	case NEWLINE, SEMI, EOF:
		return true
	}

	return false
}

// checkTarget reports an error if x cannot be assigned to.
func (p *Parser) checkTarget(x Expr, augmented bool) {
	switch x := x.(type) {
	case *Ident, *IndexExpr:
		return
	case *ParenExpr:
		if !augmented {
			p.checkTarget(x.X, augmented)
			return
		}
	case *TupleExpr:
		if !augmented {
			for _, elem := range x.List {
				p.checkTarget(elem, augmented)
			}
			return
		}
	case *ListExpr:
		if !augmented {
			for _, elem := range x.List {
				p.checkTarget(elem, augmented)
			}
			return
		}
	case *BindingExpr:
		p.failf(x.Pos(), "cannot assign to binding expression")
	case *DotExpr:
		p.failf(x.Pos(), "cannot assign to attribute %s", x.Name.Name)
	}

	if augmented {
		p.failf(x.Pos(), "invalid target for augmented assignment: %s", describe(x))
	}
	p.failf(x.Pos(), "cannot assign to %s", describe(x))
}

func describe(x Expr) string {
	switch x.(type) {
	case *Literal:
		return "literal"
	case *CallExpr:
		return "function call"
	case *BinaryExpr, *UnaryExpr:
		return "operator"
	case *CondExpr:
		return "conditional expression"
	case *LambdaExpr:
		return "lambda"
	case *Comprehension:
		return "comprehension"
	case *DictExpr:
		return "dict literal"
	case *TupleExpr:
		return "tuple"
	case *ListExpr:
		return "list"
	default:
		return "expression"
	}
}

// suite = NEWLINE INDENT {stmt} OUTDENT | simple_stmts
func (p *Parser) parseSuite() []Statement {
	p.expect(COLON)

	if p.tok.tok != NEWLINE {
		return p.parseSimpleStatements()
	}
	p.next()

	p.expect(INDENT)

	var stmts []Statement
	for p.tok.tok != OUTDENT && p.tok.tok != EOF {
		if p.tok.tok == NEWLINE {
			p.next()
			continue
		}

		start := p.idx
		stmts = append(stmts, p.parseStatementRecover()...)
		if p.idx == start && p.tok.tok != OUTDENT && p.tok.tok != EOF {
			p.next()
		}
	}
	p.expect(OUTDENT)

	return stmts
}

func (p *Parser) parseDef() Statement {
	pos := p.expect(DEF)

	if p.tok.tok != IDENT {
		p.unexpected("function name")
	}
	name := p.parseIdent()

	p.expect(LPAREN)
	params := p.parseParams(RPAREN)
	p.expect(RPAREN)

	body := p.parseSuite()

	return &DefStatement{
		Position: pos,

		Name: name,
		Function: Function{
			Params: params,
			Body:   body,
		},
	}
}

func (p *Parser) parseParams(end Token) []*Param {
	var params []*Param
	for p.tok.tok != end {
		if len(params) > 0 {
			p.expect(COMMA)
			if p.tok.tok == end {
				break
			}
		}

		if p.tok.tok != IDENT {
			p.unexpected("parameter name")
		}

		param := &Param{Position: p.tok.pos, Name: p.parseIdent()}
		if p.tok.tok == EQ {
			p.next()
			param.Default = p.parseTest()
		}

		params = append(params, param)
	}

	return params
}

func (p *Parser) parseIf() Statement {
	pos := p.tok.pos
	elif := p.tok.tok == ELIF
	p.next()

	stmt := &IfStatement{
		Position: pos,
		Elif:     elif,
	}

	stmt.Cond = p.parseTest()
	stmt.True = p.parseSuite()

	switch p.tok.tok {
	case ELIF:
		stmt.False = []Statement{p.parseIf()}
	case ELSE:
		p.next()
		stmt.False = p.parseSuite()
	}

	return stmt
}

func (p *Parser) parseWhile() Statement {
	pos := p.expect(WHILE)

	cond := p.parseTest()
	body := p.parseSuite()

	return &WhileStatement{Position: pos, Cond: cond, Body: body}
}

func (p *Parser) parseFor() Statement {
	pos := p.expect(FOR)

	vars := p.parseTargetList()
	p.expect(IN)
	x := p.parseExprList()
	body := p.parseSuite()

	return &ForStatement{Position: pos, Vars: vars, X: x, Body: body}
}

// parseTargetList parses the loop variables of a for statement or clause.
func (p *Parser) parseTargetList() Expr {
	pos := p.tok.pos
	x := p.parseArith()
	if p.tok.tok == COMMA {
		list := []Expr{x}
		for p.tok.tok == COMMA {
			p.next()
			if p.tok.tok == IN {
				break
			}
			list = append(list, p.parseArith())
		}
		x = &TupleExpr{Position: pos, List: list}
	}
	p.checkTarget(x, false)

	return x
}

func (p *Parser) parseTry() Statement {
	pos := p.expect(TRY)

	stmt := &TryStatement{Position: pos}
	stmt.Body = p.parseSuite()

	for p.tok.tok == EXCEPT {
		clause := &ExceptClause{Position: p.tok.pos}
		p.next()

		if len(stmt.Handlers) > 0 && stmt.Handlers[len(stmt.Handlers)-1].Type == nil {
			p.failf(clause.Position, "default 'except:' must be last")
		}

		if p.tok.tok != COLON {
			clause.Type = p.parseContextExpr(ContextExceptionFilter)
			if p.tok.tok == AS {
				p.next()
				if p.tok.tok != IDENT {
					p.unexpected("exception name")
				}
				clause.Name = p.parseIdent()
			}
		}

		clause.Body = p.parseSuite()
		stmt.Handlers = append(stmt.Handlers, clause)
	}

	if p.tok.tok == FINALLY {
		p.next()
		stmt.Finally = p.parseSuite()
	}

	if len(stmt.Handlers) == 0 && stmt.Finally == nil {
		p.unexpected("except or finally")
	}

	return stmt
}

func (p *Parser) parseWith() Statement {
	pos := p.expect(WITH)

	stmt := &WithStatement{Position: pos}
	stmt.X = p.parseContextExpr(ContextResourceClause)
	if p.tok.tok == AS {
		p.next()
		if p.tok.tok != IDENT {
			p.unexpected("name")
		}
		stmt.Name = p.parseIdent()
	}
	stmt.Body = p.parseSuite()

	return stmt
}

// parseExprList parses a comma-separated list of expressions, producing
// a tuple if there is more than one or a trailing comma.
func (p *Parser) parseExprList() Expr {
	pos := p.tok.pos
	x := p.parseTest()
	if p.tok.tok != COMMA {
		return x
	}

	list := []Expr{x}
	for p.tok.tok == COMMA {
		p.next()
		if p.atExprListEnd() {
			break
		}
		list = append(list, p.parseTest())
	}

	return &TupleExpr{Position: pos, List: list}
}

func (p *Parser) atExprListEnd() bool {
	switch p.tok.tok {
	case NEWLINE, EOF, SEMI, EQ, COLON, RPAREN, RBRACK, RBRACE,
		PLUS_EQ, MINUS_EQ, STAR_EQ, SLASH_EQ, SLASHSLASH_EQ, PERCENT_EQ:
		return true
	}

	return false
}

// test = lambda | or_test ['if' or_test 'else' test]
func (p *Parser) parseTest() Expr {
	if p.tok.tok == LAMBDA {
		return p.parseLambda()
	}

	x := p.parseOr()
	if p.tok.tok != IF {
		return x
	}

	pos := p.tok.pos
	p.next()
	cond := p.parseOr()
	p.expect(ELSE)
	f := p.parseTest()

	return &CondExpr{Position: pos, Cond: cond, True: x, False: f}
}

func (p *Parser) parseLambda() Expr {
	pos := p.expect(LAMBDA)

	params := p.parseParams(COLON)
	bodyPos := p.expect(COLON)
	body := p.parseTest()

	return &LambdaExpr{
		Position: pos,
		Function: Function{
			Params: params,
			Body: []Statement{
				&ReturnStatement{Position: bodyPos, Result: body},
			},
		},
	}
}

func (p *Parser) parseOr() Expr {
	x := p.parseAnd()
	for p.tok.tok == OR {
		pos := p.tok.pos
		p.next()
		y := p.parseAnd()
		x = &BinaryExpr{Position: pos, Op: OR, X: x, Y: y}
	}

	return x
}

func (p *Parser) parseAnd() Expr {
	x := p.parseNot()
	for p.tok.tok == AND {
		pos := p.tok.pos
		p.next()
		y := p.parseNot()
		x = &BinaryExpr{Position: pos, Op: AND, X: x, Y: y}
	}

	return x
}

func (p *Parser) parseNot() Expr {
	if p.tok.tok == NOT {
		pos := p.tok.pos
		p.next()
		return &UnaryExpr{Position: pos, Op: NOT, X: p.parseNot()}
	}

	return p.parseComparison()
}

// comparisonOp returns the comparison operator at the current token,
// consuming it.
func (p *Parser) comparisonOp() (Token, bool) {
	switch tok := p.tok.tok; tok {
	case EQL, NEQ, LT, LE, GT, GE, IN:
		p.next()
		return tok, true
	case NOT:
		if p.peek() == IN {
			p.next()
			p.next()
			return NOT_IN, true
		}
	}

	return ILLEGAL, false
}

func (p *Parser) parseComparison() Expr {
	x := p.parseArith()

	pos := p.tok.pos
	op, ok := p.comparisonOp()
	if !ok {
		return x
	}
	y := p.parseArith()

	cmp := &BinaryExpr{Position: pos, Op: op, X: x, Y: y}

	next := p.tok.pos
	if op2, ok := p.comparisonOp(); ok {
		p.failf(next, "%s does not associate with %s (use and)", op, op2)
	}

	return cmp
}

func (p *Parser) parseArith() Expr {
	x := p.parseTerm()
	for p.tok.tok == PLUS || p.tok.tok == MINUS {
		op, pos := p.tok.tok, p.tok.pos
		p.next()
		y := p.parseTerm()
		x = &BinaryExpr{Position: pos, Op: op, X: x, Y: y}
	}

	return x
}

func (p *Parser) parseTerm() Expr {
	x := p.parseFactor()
	for {
		switch op := p.tok.tok; op {
		case STAR, SLASH, SLASHSLASH, PERCENT:
			pos := p.tok.pos
			p.next()
			y := p.parseFactor()
			x = &BinaryExpr{Position: pos, Op: op, X: x, Y: y}
		default:
			return x
		}
	}
}

func (p *Parser) parseFactor() Expr {
	switch op := p.tok.tok; op {
	case PLUS, MINUS:
		pos := p.tok.pos
		p.next()
		return &UnaryExpr{Position: pos, Op: op, X: p.parseFactor()}
	}

	return p.parsePrimary()
}

func (p *Parser) parsePrimary() Expr {
	x := p.parseOperand()
	for {
		switch p.tok.tok {
		case LPAREN:
			x = p.parseCall(x)
		case LBRACK:
			pos := p.tok.pos
			p.next()
			index := p.parseTest()
			p.expect(RBRACK)
			x = &IndexExpr{Position: pos, X: x, Index: index}
		case DOT:
			pos := p.tok.pos
			p.next()
			if p.tok.tok != IDENT {
				p.unexpected("attribute name")
			}
			x = &DotExpr{Position: pos, X: x, Name: p.parseIdent()}
		default:
			return x
		}
	}
}

func (p *Parser) parseCall(fn Expr) Expr {
	pos := p.expect(LPAREN)

	var args []Expr
	for p.tok.tok != RPAREN {
		if len(args) > 0 {
			if p.tok.tok != COMMA {
				p.unexpected(", or )")
			}
			p.next()
			if p.tok.tok == RPAREN {
				break
			}
		}

		if p.tok.tok == IDENT && p.peek() == EQ {
			p.failf(p.tok.pos, "keyword arguments are not supported")
		}

		args = append(args, p.parseTest())
	}
	p.expect(RPAREN)

	return &CallExpr{Position: pos, Fn: fn, Args: args}
}

func (p *Parser) parseIdent() *Ident {
	id := &Ident{Position: p.tok.pos, Name: p.tok.raw}
	p.expect(IDENT)

	return id
}

func (p *Parser) parseOperand() Expr {
	pos := p.tok.pos

	switch p.tok.tok {
	case IDENT:
		return p.parseIdent()
	case INT:
		lit := &Literal{Position: pos, Token: INT, Raw: p.tok.raw, Value: p.tok.int}
		p.next()
		return lit
	case FLOAT:
		lit := &Literal{Position: pos, Token: FLOAT, Raw: p.tok.raw, Value: p.tok.float}
		p.next()
		return lit
	case STRING:
		raw, str := p.tok.raw, p.tok.str
		p.next()
		for p.tok.tok == STRING {
			raw += " " + p.tok.raw
			str += p.tok.str
			p.next()
		}
		return &Literal{Position: pos, Token: STRING, Raw: raw, Value: str}
	case NONE:
		p.next()
		return &Literal{Position: pos, Token: NONE, Raw: "None"}
	case TRUE, FALSE:
		tok := p.tok.tok
		p.next()
		return &Literal{Position: pos, Token: tok, Raw: tok.String(), Value: tok == TRUE}
	case LPAREN:
		return p.parseParen()
	case LBRACK:
		return p.parseList()
	case LBRACE:
		return p.parseDict()
	}

	p.unexpected("primary expression")
	return nil
}

// parseParen parses a parenthesized expression, a tuple or a binding
// expression.
func (p *Parser) parseParen() Expr {
	pos := p.expect(LPAREN)

	if p.tok.tok == RPAREN {
		p.next()
		return &TupleExpr{Position: pos}
	}

	x := p.parseTest()
	if p.tok.tok == AS {
		return p.parseBinding(pos, x)
	}

	if p.tok.tok == COMMA {
		list := []Expr{x}
		for p.tok.tok == COMMA {
			p.next()
			if p.tok.tok == RPAREN {
				break
			}
			list = append(list, p.parseTest())
			if p.tok.tok == AS {
				p.failf(p.tok.pos, "invalid binding expression: a binding expression cannot be part of a tuple without its own parentheses")
			}
		}
		x = &TupleExpr{Position: pos, List: list}
	}
	p.expect(RPAREN)

	return &ParenExpr{Position: pos, X: x}
}

func (p *Parser) parseList() Expr {
	pos := p.expect(LBRACK)

	if p.tok.tok == RBRACK {
		p.next()
		return &ListExpr{Position: pos}
	}

	x := p.parseTest()
	if p.tok.tok == FOR {
		return p.parseComprehension(pos, x)
	}

	list := []Expr{x}
	for p.tok.tok == COMMA {
		p.next()
		if p.tok.tok == RBRACK {
			break
		}
		list = append(list, p.parseTest())
	}
	p.expect(RBRACK)

	return &ListExpr{Position: pos, List: list}
}

func (p *Parser) parseComprehension(pos Position, body Expr) Expr {
	comp := &Comprehension{Position: pos, Body: body}

	for {
		switch p.tok.tok {
		case FOR:
			clausePos := p.tok.pos
			p.next()
			vars := p.parseTargetList()
			p.expect(IN)
			x := p.parseOr()
			comp.Clauses = append(comp.Clauses, &ForClause{Position: clausePos, Vars: vars, X: x})
		case IF:
			clausePos := p.tok.pos
			p.next()
			cond := p.parseOr()
			comp.Clauses = append(comp.Clauses, &IfClause{Position: clausePos, Cond: cond})
		default:
			p.expect(RBRACK)
			return comp
		}
	}
}

func (p *Parser) parseDict() Expr {
	pos := p.expect(LBRACE)

	dict := &DictExpr{Position: pos}
	for p.tok.tok != RBRACE {
		if len(dict.List) > 0 {
			if p.tok.tok != COMMA {
				p.unexpected(", or }")
			}
			p.next()
			if p.tok.tok == RBRACE {
				break
			}
		}

		entry := &DictEntry{Position: p.tok.pos}
		entry.Key = p.parseTest()
		p.expect(COLON)
		entry.Value = p.parseTest()

		dict.List = append(dict.List, entry)
	}
	p.expect(RBRACE)

	return dict
}
