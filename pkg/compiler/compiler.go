package compiler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rhino1998/aslet/pkg/parser"
)

type sourceFile struct {
	name string
	src  []byte
}

type Compiler struct {
	logger *slog.Logger
	Config Config

	predeclared map[string]struct{}
	files       []sourceFile
}

func New(logger *slog.Logger, config Config) (*Compiler, error) {
	err := config.Validate(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to validate compiler config: %w", err)
	}

	c := &Compiler{
		logger:      logger,
		Config:      config,
		predeclared: make(map[string]struct{}),
	}
	c.Predeclare(Universe()...)

	return c, nil
}

// Predeclare adds names that resolve as builtins in every module.
func (c *Compiler) Predeclare(names ...string) {
	for _, name := range names {
		c.predeclared[name] = struct{}{}
	}
}

func (c *Compiler) isPredeclared(name string) bool {
	_, ok := c.predeclared[name]
	return ok
}

// AddFile queues a source file for Compile. The module is named after
// the file.
func (c *Compiler) AddFile(name string, r io.Reader) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read file %q: %w", name, err)
	}

	c.files = append(c.files, sourceFile{name: name, src: src})

	return nil
}

func (c *Compiler) parserOptions() []parser.Option {
	if c.Config.DisableStatementLocals {
		return []parser.Option{parser.DisableStatementLocals()}
	}

	return nil
}

// Compile compiles every added file and links the modules into a
// program. Files are compiled concurrently; each has its own resolver.
func (c *Compiler) Compile(ctx context.Context) (*Program, error) {
	modules := make([]*Module, len(c.files))
	errs := make([]error, len(c.files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, file := range c.files {
		g.Go(func() error {
			err := ctx.Err()
			if err != nil {
				return err
			}

			modules[i], errs[i] = c.compileFile(file, nil, emitOptions{})

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	errSet := newErrorSet()
	for _, err := range errs {
		if err != nil {
			errSet.Errs = append(errSet.Errs, err)
		}
	}
	if len(errSet.Errs) > 0 {
		return nil, errSet
	}

	prog, err := newProgram(modules)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("compiled program", slog.Int("modules", len(prog.Modules)))

	return prog, nil
}

// CompileChunk compiles one piece of an interactive session. Names in
// globals were defined by earlier chunks. A trailing expression
// statement becomes the result of the module's top level.
func (c *Compiler) CompileChunk(ctx context.Context, name string, r io.Reader, globals []string) (*Module, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}

	return c.compileFile(sourceFile{name: name, src: src}, globals, emitOptions{keepResult: true})
}

func (c *Compiler) compileFile(file sourceFile, globals []string, opts emitOptions) (*Module, error) {
	ast, err := parser.ParseReader(file.name, bytes.NewReader(file.src), c.parserOptions()...)
	if err != nil {
		return nil, FileError{File: file.name, Err: err}
	}

	err = resolveFile(c.logger, ast, c.Config, c.isPredeclared, globals)
	if err != nil {
		return nil, FileError{File: file.name, Err: err}
	}

	mod, err := emitModule(ast, opts)
	if err != nil {
		return nil, FileError{File: file.name, Err: err}
	}

	c.logger.Debug("compiled module",
		slog.String("module", mod.Name),
		slog.String("file", file.name),
		slog.Int("functions", len(mod.Functions)),
	)

	return mod, nil
}
