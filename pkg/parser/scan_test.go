package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func tokenKinds(toks []tokenValue) []Token {
	kinds := make([]Token, 0, len(toks))
	for _, tok := range toks {
		kinds = append(kinds, tok.tok)
	}

	return kinds
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Token
	}{
		{
			name: "binding",
			src:  "x = (a as b)\n",
			want: []Token{IDENT, EQ, LPAREN, IDENT, AS, IDENT, RPAREN, NEWLINE, EOF},
		},
		{
			name: "indentation",
			src:  "if x:\n  y\nz\n",
			want: []Token{IF, IDENT, COLON, NEWLINE, INDENT, IDENT, NEWLINE, OUTDENT, IDENT, NEWLINE, EOF},
		},
		{
			name: "nested outdent at eof",
			src:  "def f():\n  while x:\n    pass",
			want: []Token{DEF, IDENT, LPAREN, RPAREN, COLON, NEWLINE, INDENT, WHILE, IDENT, COLON, NEWLINE, INDENT, PASS, NEWLINE, OUTDENT, OUTDENT, EOF},
		},
		{
			name: "brackets join lines",
			src:  "f(a,\n  b)\n",
			want: []Token{IDENT, LPAREN, IDENT, COMMA, IDENT, RPAREN, NEWLINE, EOF},
		},
		{
			name: "blank and comment lines",
			src:  "# header\n\nx = 1  # trailing\n\n   # indented comment\ny = 2\n",
			want: []Token{IDENT, EQ, INT, NEWLINE, IDENT, EQ, INT, NEWLINE, EOF},
		},
		{
			name: "operators",
			src:  "a //= b // c <= d != e\n",
			want: []Token{IDENT, SLASHSLASH_EQ, IDENT, SLASHSLASH, IDENT, LE, IDENT, NEQ, IDENT, NEWLINE, EOF},
		},
		{
			name: "keywords",
			src:  "x not in y and None or True\n",
			want: []Token{IDENT, NOT, IN, IDENT, AND, NONE, OR, TRUE, NEWLINE, EOF},
		},
		{
			name: "unclosed bracket",
			src:  "f(a,\n",
			want: []Token{IDENT, LPAREN, IDENT, COMMA, EOF},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := require.New(t)

			toks, err := tokenize("test.asl", []byte(test.src))
			r.NoError(err)

			if diff := cmp.Diff(test.want, tokenKinds(toks)); diff != "" {
				t.Errorf("tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenizeLiterals(t *testing.T) {
	r := require.New(t)

	toks, err := tokenize("test.asl", []byte(`1_000 2.5 1e3 "a\tb" 'it\'s'`+"\n"))
	r.NoError(err)

	r.Equal(int64(1000), toks[0].int)
	r.Equal(2.5, toks[1].float)
	r.Equal(1000.0, toks[2].float)
	r.Equal("a\tb", toks[3].str)
	r.Equal("it's", toks[4].str)
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{name: "bad dedent", src: "if x:\n    y\n  z\n", msg: "3:3: unindent does not match any outer indentation level"},
		{name: "unterminated string", src: "x = 'abc\n", msg: "1:5: unterminated string literal"},
		{name: "bad character", src: "x = $\n", msg: "1:5: unexpected character '$'"},
		{name: "bad escape", src: `x = "\q"` + "\n", msg: `invalid escape sequence \q`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := require.New(t)

			_, err := tokenize("test.asl", []byte(test.src))
			r.Error(err)
			r.ErrorContains(err, test.msg)
		})
	}
}
