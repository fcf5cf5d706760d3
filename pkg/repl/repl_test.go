package repl

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/chzyer/readline"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/rhino1998/aslet/pkg/compiler"
	"github.com/rhino1998/aslet/pkg/vm"
)

type scriptReader struct {
	lines   []string
	prompts []string
}

func (s *scriptReader) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}

	line := s.lines[0]
	s.lines = s.lines[1:]
	if line == "^C" {
		return "", readline.ErrInterrupt
	}

	return line, nil
}

func (s *scriptReader) SetPrompt(prompt string) {
	s.prompts = append(s.prompts, prompt)
}

func runScript(t *testing.T, lines ...string) (string, string) {
	t.Helper()

	logger := slogt.New(t)

	c, err := compiler.New(logger, compiler.Config{})
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	rt, err := vm.NewRuntime(logger, nil, vm.DefaultBuiltins(), nil, &out)
	require.NoError(t, err)

	r := New(logger, c, rt, &scriptReader{lines: lines}, &out, &errOut)
	require.NoError(t, r.Run(context.Background()))

	return out.String(), errOut.String()
}

func TestExpressionsArePrinted(t *testing.T) {
	out, errOut := runScript(t,
		"x = 40",
		"x + 2",
		"'a' + 'b'",
		"print((x as y), y)",
	)

	require.Empty(t, errOut)
	require.Equal(t, "42\n'ab'\n40 40\n\n", out)
}

func TestBlocks(t *testing.T) {
	out, errOut := runScript(t,
		"def double(n):",
		"    return n * 2",
		"",
		"for i in range(2):",
		"    print(double((i as v)), v)",
		"",
		"double(",
		"  21)",
	)

	require.Empty(t, errOut)
	require.Equal(t, "0 0\n2 1\n42\n\n", out)
}

func TestBindingsDoNotLeak(t *testing.T) {
	out, errOut := runScript(t,
		"print((1 as hidden))",
		"hidden",
		"'still running'",
	)

	require.Equal(t, "1\n'still running'\n\n", out)
	require.Contains(t, errOut, "NameError: name 'hidden' is not defined")
}

func TestErrorsAreReported(t *testing.T) {
	out, errOut := runScript(t,
		"x = (1 as",
		"^C",
		"try:",
		"    pass",
		"except (ValueError as e):",
		"    pass",
		"",
		"1 // 0",
		"3",
	)

	require.Equal(t, "Interrupt\n3\n\n", out)
	require.Contains(t, errOut, "binding expression not allowed in exception filter")
	require.Contains(t, errOut, "ZeroDivisionError")
}

func TestPrompts(t *testing.T) {
	logger := slogt.New(t)

	c, err := compiler.New(logger, compiler.Config{})
	require.NoError(t, err)

	rt, err := vm.NewRuntime(logger, nil, vm.DefaultBuiltins(), nil, io.Discard)
	require.NoError(t, err)

	in := &scriptReader{lines: []string{"if True:", "    1", ""}}
	require.NoError(t, New(logger, c, rt, in, io.Discard, io.Discard).Run(context.Background()))

	require.Equal(t, []string{">>> ", "... ", "... ", "... ", ">>> "}, in.prompts)
	require.True(t, strings.HasPrefix(in.prompts[0], ">>>"))
}
