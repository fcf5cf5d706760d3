package parser

import "fmt"

type Token int

const (
	ILLEGAL Token = iota
	EOF

	NEWLINE
	INDENT
	OUTDENT

	IDENT
	INT
	FLOAT
	STRING

	// punctuation
	PLUS          // +
	MINUS         // -
	STAR          // *
	SLASH         // /
	SLASHSLASH    // //
	PERCENT       // %
	DOT           // .
	COMMA         // ,
	EQ            // =
	SEMI          // ;
	COLON         // :
	LPAREN        // (
	RPAREN        // )
	LBRACK        // [
	RBRACK        // ]
	LBRACE        // {
	RBRACE        // }
	LT            // <
	GT            // >
	GE            // >=
	LE            // <=
	EQL           // ==
	NEQ           // !=
	PLUS_EQ       // +=
	MINUS_EQ      // -=
	STAR_EQ       // *=
	SLASH_EQ      // /=
	SLASHSLASH_EQ // //=
	PERCENT_EQ    // %=

	// keywords
	AND
	AS
	BREAK
	CONTINUE
	DEF
	ELIF
	ELSE
	EXCEPT
	FALSE
	FINALLY
	FOR
	IF
	IMPORT
	IN
	LAMBDA
	NONE
	NOT
	NOT_IN // synthesized by the parser for "not in"
	OR
	PASS
	RAISE
	RETURN
	TRUE
	TRY
	WHILE
	WITH
)

var tokenNames = [...]string{
	ILLEGAL:       "illegal token",
	EOF:           "end of file",
	NEWLINE:       "newline",
	INDENT:        "indent",
	OUTDENT:       "outdent",
	IDENT:         "identifier",
	INT:           "int literal",
	FLOAT:         "float literal",
	STRING:        "string literal",
	PLUS:          "+",
	MINUS:         "-",
	STAR:          "*",
	SLASH:         "/",
	SLASHSLASH:    "//",
	PERCENT:       "%",
	DOT:           ".",
	COMMA:         ",",
	EQ:            "=",
	SEMI:          ";",
	COLON:         ":",
	LPAREN:        "(",
	RPAREN:        ")",
	LBRACK:        "[",
	RBRACK:        "]",
	LBRACE:        "{",
	RBRACE:        "}",
	LT:            "<",
	GT:            ">",
	GE:            ">=",
	LE:            "<=",
	EQL:           "==",
	NEQ:           "!=",
	PLUS_EQ:       "+=",
	MINUS_EQ:      "-=",
	STAR_EQ:       "*=",
	SLASH_EQ:      "/=",
	SLASHSLASH_EQ: "//=",
	PERCENT_EQ:    "%=",
	AND:           "and",
	AS:            "as",
	BREAK:         "break",
	CONTINUE:      "continue",
	DEF:           "def",
	ELIF:          "elif",
	ELSE:          "else",
	EXCEPT:        "except",
	FALSE:         "False",
	FINALLY:       "finally",
	FOR:           "for",
	IF:            "if",
	IMPORT:        "import",
	IN:            "in",
	LAMBDA:        "lambda",
	NONE:          "None",
	NOT:           "not",
	NOT_IN:        "not in",
	OR:            "or",
	PASS:          "pass",
	RAISE:         "raise",
	RETURN:        "return",
	TRUE:          "True",
	TRY:           "try",
	WHILE:         "while",
	WITH:          "with",
}

func (tok Token) String() string {
	if tok >= 0 && int(tok) < len(tokenNames) && tokenNames[tok] != "" {
		return tokenNames[tok]
	}

	return fmt.Sprintf("token(%d)", int(tok))
}

var keywords = map[string]Token{
	"and":      AND,
	"as":       AS,
	"break":    BREAK,
	"continue": CONTINUE,
	"def":      DEF,
	"elif":     ELIF,
	"else":     ELSE,
	"except":   EXCEPT,
	"False":    FALSE,
	"finally":  FINALLY,
	"for":      FOR,
	"if":       IF,
	"import":   IMPORT,
	"in":       IN,
	"lambda":   LAMBDA,
	"None":     NONE,
	"not":      NOT,
	"or":       OR,
	"pass":     PASS,
	"raise":    RAISE,
	"return":   RETURN,
	"True":     TRUE,
	"try":      TRY,
	"while":    WHILE,
	"with":     WITH,
}

// AugmentedToBinary returns the binary operator of an augmented
// assignment operator such as +=.
func (tok Token) AugmentedToBinary() (Token, error) {
	switch tok {
	case PLUS_EQ:
		return PLUS, nil
	case MINUS_EQ:
		return MINUS, nil
	case STAR_EQ:
		return STAR, nil
	case SLASH_EQ:
		return SLASH, nil
	case SLASHSLASH_EQ:
		return SLASHSLASH, nil
	case PERCENT_EQ:
		return PERCENT, nil
	default:
		return ILLEGAL, fmt.Errorf("%s is not an augmented assignment operator", tok)
	}
}
