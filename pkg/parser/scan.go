package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const tabWidth = 8

type tokenValue struct {
	tok Token
	pos Position
	raw string

	int   int64
	float float64
	str   string
}

type scanner struct {
	file string
	src  []byte
	off  int

	line int
	col  int

	indents   []int
	depth     int
	lineStart bool
	sawTokens bool

	toks []tokenValue
}

// tokenize splits src into a token stream, synthesizing NEWLINE, INDENT
// and OUTDENT tokens from line structure.
func tokenize(file string, src []byte) ([]tokenValue, error) {
	s := &scanner{
		file:      file,
		src:       src,
		line:      1,
		col:       1,
		indents:   []int{0},
		lineStart: true,
	}

	err := s.scan()
	if err != nil {
		return nil, err
	}

	return s.toks, nil
}

func (s *scanner) pos() Position {
	return Position{File: s.file, Line: s.line, Column: s.col}
}

func (s *scanner) errorf(pos Position, format string, args ...any) error {
	return pos.WrapError(fmt.Errorf(format, args...))
}

func (s *scanner) peek() rune {
	if s.off >= len(s.src) {
		return -1
	}

	r, _ := utf8.DecodeRune(s.src[s.off:])
	return r
}

func (s *scanner) peekAt(n int) rune {
	off := s.off
	for ; n > 0; n-- {
		if off >= len(s.src) {
			return -1
		}
		_, size := utf8.DecodeRune(s.src[off:])
		off += size
	}

	if off >= len(s.src) {
		return -1
	}

	r, _ := utf8.DecodeRune(s.src[off:])
	return r
}

func (s *scanner) next() rune {
	if s.off >= len(s.src) {
		return -1
	}

	r, size := utf8.DecodeRune(s.src[s.off:])
	s.off += size
	if r == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}

	return r
}

func (s *scanner) emit(tv tokenValue) {
	s.toks = append(s.toks, tv)
	if tv.tok != NEWLINE && tv.tok != INDENT && tv.tok != OUTDENT {
		s.sawTokens = true
	}
}

func (s *scanner) scan() error {
	for {
		if s.lineStart && s.depth == 0 {
			done, err := s.indentation()
			if err != nil {
				return err
			}
			if done {
				break
			}
			continue
		}

		r := s.peek()
		switch {
		case r == -1:
			s.finish()
			return nil
		case r == '\n':
			pos := s.pos()
			s.next()
			if s.depth == 0 {
				if s.sawTokens {
					s.emit(tokenValue{tok: NEWLINE, pos: pos})
					s.sawTokens = false
				}
				s.lineStart = true
			}
		case r == ' ' || r == '\t' || r == '\r':
			s.next()
		case r == '#':
			for r := s.peek(); r != '\n' && r != -1; r = s.peek() {
				s.next()
			}
		case r == '\\' && s.peekAt(1) == '\n':
			s.next()
			s.next()
		case r == '_' || unicode.IsLetter(r):
			s.ident()
		case unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(s.peekAt(1))):
			err := s.number()
			if err != nil {
				return err
			}
		case r == '"' || r == '\'':
			err := s.string()
			if err != nil {
				return err
			}
		default:
			err := s.punct()
			if err != nil {
				return err
			}
		}
	}

	s.finish()
	return nil
}

// indentation consumes the leading whitespace of a logical line and
// emits INDENT/OUTDENT tokens. Blank and comment-only lines are skipped.
func (s *scanner) indentation() (bool, error) {
	col := 0
	for {
		switch s.peek() {
		case ' ':
			col++
			s.next()
			continue
		case '\t':
			col += tabWidth - col%tabWidth
			s.next()
			continue
		case '\r':
			s.next()
			continue
		}
		break
	}

	switch s.peek() {
	case -1:
		s.finish()
		return true, nil
	case '\n':
		s.next()
		return false, nil
	case '#':
		for r := s.peek(); r != '\n' && r != -1; r = s.peek() {
			s.next()
		}
		return false, nil
	}

	s.lineStart = false
	pos := s.pos()

	top := s.indents[len(s.indents)-1]
	switch {
	case col > top:
		s.indents = append(s.indents, col)
		s.emit(tokenValue{tok: INDENT, pos: pos})
	case col < top:
		for col < s.indents[len(s.indents)-1] {
			s.indents = s.indents[:len(s.indents)-1]
			s.emit(tokenValue{tok: OUTDENT, pos: pos})
		}
		if col != s.indents[len(s.indents)-1] {
			return false, s.errorf(pos, "unindent does not match any outer indentation level")
		}
	}

	return false, nil
}

func (s *scanner) finish() {
	if len(s.toks) > 0 && s.toks[len(s.toks)-1].tok == EOF {
		return
	}

	pos := s.pos()
	if s.sawTokens && s.depth == 0 {
		s.emit(tokenValue{tok: NEWLINE, pos: pos})
		s.sawTokens = false
	}

	for len(s.indents) > 1 {
		s.indents = s.indents[:len(s.indents)-1]
		s.emit(tokenValue{tok: OUTDENT, pos: pos})
	}

	s.emit(tokenValue{tok: EOF, pos: pos})
}

func (s *scanner) ident() {
	pos := s.pos()
	start := s.off
	for r := s.peek(); r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r); r = s.peek() {
		s.next()
	}

	raw := string(s.src[start:s.off])
	tok, ok := keywords[raw]
	if !ok {
		tok = IDENT
	}

	s.emit(tokenValue{tok: tok, pos: pos, raw: raw})
}

func (s *scanner) number() error {
	pos := s.pos()
	start := s.off
	isFloat := false

	for r := s.peek(); unicode.IsDigit(r) || r == '_'; r = s.peek() {
		s.next()
	}

	if s.peek() == '.' {
		isFloat = true
		s.next()
		for r := s.peek(); unicode.IsDigit(r); r = s.peek() {
			s.next()
		}
	}

	if r := s.peek(); r == 'e' || r == 'E' {
		isFloat = true
		s.next()
		if r := s.peek(); r == '+' || r == '-' {
			s.next()
		}
		if !unicode.IsDigit(s.peek()) {
			return s.errorf(pos, "malformed float literal")
		}
		for r := s.peek(); unicode.IsDigit(r); r = s.peek() {
			s.next()
		}
	}

	raw := string(s.src[start:s.off])
	clean := strings.ReplaceAll(raw, "_", "")

	if isFloat {
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return s.errorf(pos, "invalid float literal %s", raw)
		}
		s.emit(tokenValue{tok: FLOAT, pos: pos, raw: raw, float: f})
		return nil
	}

	i, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return s.errorf(pos, "invalid int literal %s", raw)
	}
	s.emit(tokenValue{tok: INT, pos: pos, raw: raw, int: i})

	return nil
}

func (s *scanner) string() error {
	pos := s.pos()
	start := s.off
	quote := s.next()

	var buf strings.Builder
	for {
		r := s.next()
		switch r {
		case -1, '\n':
			return s.errorf(pos, "unterminated string literal")
		case quote:
			s.emit(tokenValue{tok: STRING, pos: pos, raw: string(s.src[start:s.off]), str: buf.String()})
			return nil
		case '\\':
			esc := s.next()
			switch esc {
			case 'n':
				buf.WriteByte('\n')
			case 't':
				buf.WriteByte('\t')
			case 'r':
				buf.WriteByte('\r')
			case '0':
				buf.WriteByte(0)
			case '\\', '\'', '"':
				buf.WriteRune(esc)
			case '\n':
			default:
				return s.errorf(s.pos(), "invalid escape sequence \\%c", esc)
			}
		default:
			buf.WriteRune(r)
		}
	}
}

var twoCharTokens = map[string]Token{
	"//": SLASHSLASH,
	">=": GE,
	"<=": LE,
	"==": EQL,
	"!=": NEQ,
	"+=": PLUS_EQ,
	"-=": MINUS_EQ,
	"*=": STAR_EQ,
	"/=": SLASH_EQ,
	"%=": PERCENT_EQ,
}

var oneCharTokens = map[rune]Token{
	'+': PLUS,
	'-': MINUS,
	'*': STAR,
	'/': SLASH,
	'%': PERCENT,
	'.': DOT,
	',': COMMA,
	'=': EQ,
	';': SEMI,
	':': COLON,
	'(': LPAREN,
	')': RPAREN,
	'[': LBRACK,
	']': RBRACK,
	'{': LBRACE,
	'}': RBRACE,
	'<': LT,
	'>': GT,
}

func (s *scanner) punct() error {
	pos := s.pos()
	r := s.peek()

	if r == '/' && s.peekAt(1) == '/' && s.peekAt(2) == '=' {
		s.next()
		s.next()
		s.next()
		s.emit(tokenValue{tok: SLASHSLASH_EQ, pos: pos, raw: "//="})
		return nil
	}

	if r2 := s.peekAt(1); r2 != -1 {
		pair := string([]rune{r, r2})
		if tok, ok := twoCharTokens[pair]; ok {
			s.next()
			s.next()
			s.emit(tokenValue{tok: tok, pos: pos, raw: pair})
			return nil
		}
	}

	tok, ok := oneCharTokens[r]
	if !ok {
		return s.errorf(pos, "unexpected character %q", r)
	}

	s.next()
	switch tok {
	case LPAREN, LBRACK, LBRACE:
		s.depth++
	case RPAREN, RBRACK, RBRACE:
		if s.depth > 0 {
			s.depth--
		}
	}

	s.emit(tokenValue{tok: tok, pos: pos, raw: string(r)})
	return nil
}
