package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/rhino1998/aslet/pkg/compiler"
	"github.com/rhino1998/aslet/pkg/repl"
	"github.com/rhino1998/aslet/pkg/vm"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := &cli.Command{
		Name:  "aslet",
		Usage: "Compile and run aslet programs",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Parse and resolve aslet source code, reporting every error",
				ArgsUsage: "<file or directory>",
				Flags:     compilerFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					_, err := compile(ctx, c)
					return err
				},
			},
			{
				Name:      "disasm",
				Usage:     "Print the bytecode of aslet source code",
				ArgsUsage: "<file or directory>",
				Flags:     compilerFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					prog, err := compile(ctx, c)
					if err != nil {
						return err
					}

					for _, m := range prog.InitOrder() {
						err := m.Disassemble(os.Stdout)
						if err != nil {
							return err
						}
					}

					return nil
				},
			},
			{
				Name:      "run",
				Usage:     "Compile and run aslet source code",
				ArgsUsage: "<file or directory>",
				Flags: append(compilerFlags(),
					&cli.StringFlag{
						Name:  "entry",
						Usage: "only initialize `MODULE` and the modules it imports",
					},
					&cli.IntFlag{
						Name:  "max-depth",
						Usage: "maximum number of nested calls",
						Value: vm.DefaultMaxDepth,
					},
				),
				Action: func(ctx context.Context, c *cli.Command) error {
					prog, err := compile(ctx, c)
					if err != nil {
						return err
					}

					runtime, err := vm.NewRuntime(newLogger(c), prog, vm.DefaultBuiltins(), os.Stdin, os.Stdout)
					if err != nil {
						return err
					}
					runtime.MaxDepth = int(c.Int("max-depth"))

					err = runtime.Run(ctx, c.String("entry"))
					var evalErr *vm.EvalError
					if errors.As(err, &evalErr) {
						fmt.Fprintln(os.Stderr, evalErr.Backtrace())
						os.Exit(1)
					}

					return err
				},
			},
			{
				Name:  "repl",
				Usage: "Start an interactive session",
				Flags: compilerFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					logger := newLogger(c)

					config, err := loadConfig(c)
					if err != nil {
						return err
					}

					compiler, err := compiler.New(logger, config)
					if err != nil {
						return fmt.Errorf("failed to initialize compiler: %w", err)
					}

					runtime, err := vm.NewRuntime(logger, nil, vm.DefaultBuiltins(), os.Stdin, os.Stdout)
					if err != nil {
						return err
					}

					// The session handles interrupts itself.
					return repl.Start(context.Background(), logger, compiler, runtime)
				},
			},
		},
	}

	err := cmd.Run(ctx, os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func compilerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "load compiler settings from a YAML `FILE`",
		},
		&cli.StringFlag{
			Name:  "undefined-names",
			Usage: "report unresolved names at \"runtime\" or \"compile\" time",
		},
		&cli.BoolFlag{
			Name:  "disable-bindings",
			Usage: "reject (expr as name) binding expressions",
		},
	}
}

func newLogger(c *cli.Command) *slog.Logger {
	if !c.Bool("debug") {
		return slog.Default()
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func loadConfig(c *cli.Command) (compiler.Config, error) {
	var config compiler.Config
	if path := c.String("config"); path != "" {
		var err error
		config, err = compiler.LoadConfig(path)
		if err != nil {
			return compiler.Config{}, err
		}
	}

	if c.IsSet("undefined-names") {
		config.UndefinedNames = compiler.UndefinedNamesPolicy(c.String("undefined-names"))
	}
	if c.Bool("disable-bindings") {
		config.DisableStatementLocals = true
	}
	if c.Bool("debug") {
		config.Debug = true
	}

	return config, nil
}

// compile compiles the file or directory of *.asl files named by the
// command's argument. Diagnostics are written to stderr.
func compile(ctx context.Context, c *cli.Command) (*compiler.Program, error) {
	if c.Args().Len() != 1 {
		return nil, fmt.Errorf("must provide one aslet file or directory as argument")
	}

	path := c.Args().First()
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	logger := newLogger(c)

	config, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	compiler, err := compiler.New(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize compiler: %w", err)
	}

	files := []string{path}
	if stat.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.asl"))
		if err != nil {
			return nil, fmt.Errorf("failed to find aslet files in directory: %w", err)
		}
	}

	for _, file := range files {
		err := addFile(compiler, file)
		if err != nil {
			return nil, err
		}
	}

	prog, err := compiler.Compile(ctx)
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	if err != nil {
		n := reportErrors(err)
		return nil, fmt.Errorf("compilation failed with %d error(s)", n)
	}

	return prog, nil
}

func addFile(c *compiler.Compiler, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return c.AddFile(path, f)
}

func reportErrors(err error) int {
	return compiler.Report(compiler.DiagnosticWriter{W: os.Stderr}, err)
}
