package parser

import (
	"errors"
	"fmt"
)

// Context tags the syntactic position an expression is parsed in. Two
// positions give the keyword "as" a meaning of their own, and a binding
// expression placed directly in them is rejected.
type Context uint8

const (
	ContextNormal Context = iota
	ContextExceptionFilter
	ContextResourceClause
)

var contextNames = [...]string{
	ContextNormal:          "expression",
	ContextExceptionFilter: "except clause",
	ContextResourceClause:  "with statement",
}

func (c Context) String() string {
	return contextNames[c]
}

var (
	ErrForbiddenInExceptionFilter = errors.New("binding expression not allowed in exception filter")
	ErrForbiddenInResourceClause  = errors.New("binding expression not allowed in resource clause")
	ErrUnparenthesizedBinding     = errors.New("binding expression must be parenthesized")
	ErrBindingsDisabled           = errors.New("statement-local bindings are disabled")
)

func (c Context) forbidden() error {
	switch c {
	case ContextExceptionFilter:
		return ErrForbiddenInExceptionFilter
	case ContextResourceClause:
		return ErrForbiddenInResourceClause
	default:
		return nil
	}
}

// parseContextExpr parses the head expression of an except clause or
// with statement. A binding expression that is the head itself, or an
// element of a head tuple, is rejected.
func (p *Parser) parseContextExpr(ctx Context) Expr {
	x := p.parseTest()
	p.checkContext(ctx, x)

	return x
}

// checkContext only inspects the expression itself and the elements of
// a tuple at its top. Binding expressions nested in calls, subscripts,
// brackets, lambdas or comprehensions are evaluated in an ordinary
// context and are allowed.
func (p *Parser) checkContext(ctx Context, x Expr) {
	err := ctx.forbidden()
	if err == nil {
		return
	}

	switch x := x.(type) {
	case *BindingExpr:
		p.fail(x.Position.WrapError(fmt.Errorf("%s: %w: (... as %s)", ctx, err, x.Name.Name)))
	case *ParenExpr:
		p.checkContext(ctx, x.X)
	case *TupleExpr:
		for _, elem := range x.List {
			p.checkContext(ctx, elem)
		}
	}
}

// parseBinding completes a parenthesized binding expression once the
// wrapped expression and the "as" keyword have been consumed.
func (p *Parser) parseBinding(lparen Position, wrapped Expr) Expr {
	asPos := p.tok.pos
	p.next()

	if p.disableBindings {
		p.fail(asPos.WrapError(ErrBindingsDisabled))
	}

	if p.tok.tok != IDENT {
		p.failf(p.tok.pos, "invalid binding expression: expected name after 'as', got %s", p.tok.tok)
	}

	name := p.parseIdent()

	switch p.tok.tok {
	case RPAREN:
	case AS:
		p.failf(p.tok.pos, "invalid binding expression: a binding expression binds exactly one name")
	case COMMA:
		p.failf(p.tok.pos, "invalid binding expression: a binding expression cannot be part of a tuple without its own parentheses")
	default:
		p.failf(p.tok.pos, "invalid binding expression: expected ')', got %s", p.tok.tok)
	}
	p.next()

	return &BindingExpr{
		Position: lparen,

		Wrapped: wrapped,
		Name:    name,
	}
}
