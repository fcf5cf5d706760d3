package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// UndefinedNamesPolicy decides when a name with no binding is reported.
type UndefinedNamesPolicy string

const (
	// UndefinedNamesRuntime compiles the name as a global lookup that
	// raises NameError when executed.
	UndefinedNamesRuntime UndefinedNamesPolicy = "runtime"
	// UndefinedNamesCompile reports the name as an UnresolvedNameError.
	UndefinedNamesCompile UndefinedNamesPolicy = "compile"
)

type Config struct {
	// DisableStatementLocals rejects every (expr as name) binding
	// expression at parse time.
	DisableStatementLocals bool `yaml:"disable_statement_locals"`

	UndefinedNames UndefinedNamesPolicy `yaml:"undefined_names"`

	Debug bool `yaml:"debug"`
}

func (c *Config) Validate(logger *slog.Logger) error {
	switch c.UndefinedNames {
	case "":
		c.UndefinedNames = UndefinedNamesRuntime
	case UndefinedNamesRuntime, UndefinedNamesCompile:
	default:
		return fmt.Errorf("invalid undefined_names policy %q: want %q or %q", c.UndefinedNames, UndefinedNamesRuntime, UndefinedNamesCompile)
	}

	if c.DisableStatementLocals {
		logger.Debug("statement-local bindings disabled")
	}

	return nil
}

// LoadConfig reads a YAML compiler config. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	return ParseConfig(bytes.NewReader(data))
}

func ParseConfig(r io.Reader) (Config, error) {
	var config Config

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err := dec.Decode(&config)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	return config, nil
}
