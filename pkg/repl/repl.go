// Package repl provides a read/eval/print loop for aslet.
//
// Lines are read until they form a complete chunk. A line ending in a
// colon starts a block, which is ended by a blank line. Each chunk is
// compiled against the globals of the chunks before it and executed in
// a shared module. The value of a trailing expression is printed.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"

	"github.com/rhino1998/aslet/pkg/compiler"
	"github.com/rhino1998/aslet/pkg/vm"
)

// Module is the name of the module chunks execute in.
const Module = "<stdin>"

var interrupted = make(chan os.Signal, 1)

const (
	prompt         = ">>> "
	continuePrompt = "... "
)

// A LineReader is the line editor the loop reads from.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

type REPL struct {
	logger   *slog.Logger
	compiler *compiler.Compiler
	runtime  *vm.Runtime

	in     LineReader
	out    io.Writer
	errOut io.Writer
}

func New(logger *slog.Logger, c *compiler.Compiler, rt *vm.Runtime, in LineReader, out, errOut io.Writer) *REPL {
	return &REPL{
		logger:   logger,
		compiler: c,
		runtime:  rt,
		in:       in,
		out:      out,
		errOut:   errOut,
	}
}

// Start runs an interactive loop on the terminal. Control-C cancels
// the chunk being executed.
func Start(ctx context.Context, logger *slog.Logger, c *compiler.Compiler, rt *vm.Runtime) error {
	rl, err := readline.New(prompt)
	if err != nil {
		return fmt.Errorf("failed to start line editor: %w", err)
	}
	defer rl.Close()

	signal.Notify(interrupted, os.Interrupt)
	defer signal.Stop(interrupted)

	return New(logger, c, rt, rl, os.Stdout, os.Stderr).Run(ctx)
}

// Run reads, evaluates and prints until the input ends.
func (r *REPL) Run(ctx context.Context) error {
	for {
		err := r.rep(ctx)
		switch {
		case err == nil:
		case errors.Is(err, readline.ErrInterrupt):
			fmt.Fprintln(r.out, err)
		case errors.Is(err, io.EOF):
			fmt.Fprintln(r.out)
			return nil
		default:
			return err
		}
	}
}

// rep reads, evaluates and prints one chunk. It only returns an error
// if reading failed; compile and run-time errors are printed.
func (r *REPL) rep(ctx context.Context) error {
	var src strings.Builder
	block := false

	r.in.SetPrompt(prompt)
	for {
		line, err := r.in.Readline()
		if err != nil {
			return err
		}

		trimmed := strings.TrimSpace(line)
		if src.Len() == 0 && trimmed == "" {
			continue
		}

		r.in.SetPrompt(continuePrompt)
		src.WriteString(line)
		src.WriteString("\n")

		blank := trimmed == ""
		if strings.HasSuffix(trimmed, ":") {
			block = true
		}
		if block && !blank {
			continue
		}

		mod, err := r.compiler.CompileChunk(ctx, Module, strings.NewReader(src.String()), r.runtime.Globals(Module))
		if errors.Is(err, io.ErrUnexpectedEOF) && !(block && blank) {
			continue
		}
		if err != nil {
			compiler.Report(compiler.DiagnosticWriter{W: r.errOut}, err)
			return nil
		}

		r.eval(ctx, mod)
		return nil
	}
}

func (r *REPL) eval(ctx context.Context, mod *compiler.Module) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-interrupted:
			cancel()
		case <-ctx.Done():
		}
	}()

	v, err := r.runtime.Exec(ctx, mod)
	if err != nil {
		var evalErr *vm.EvalError
		if errors.As(err, &evalErr) {
			fmt.Fprintln(r.errOut, evalErr.Backtrace())
		} else {
			fmt.Fprintln(r.errOut, err)
		}
		return
	}

	r.logger.Debug("evaluated chunk", slog.Int("globals", len(r.runtime.Globals(Module))))

	if v != vm.None {
		fmt.Fprintln(r.out, vm.Repr(v))
	}
}
