package compiler

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rhino1998/aslet/pkg/parser"
)

type PositionError = parser.PositionError

type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

type ErrorSet struct {
	Errs []error
}

func newErrorSet() *ErrorSet {
	return new(ErrorSet)
}

func (e *ErrorSet) Add(err error) {
	var subErrs *ErrorSet
	if errors.As(err, &subErrs) {
		e.Errs = append(e.Errs, subErrs.Unwrap()...)
	} else {
		e.Errs = append(e.Errs, err)
	}
}

func (e ErrorSet) Error() string {
	return errors.Join(e.Errs...).Error()
}

func (e ErrorSet) Unwrap() []error {
	return e.Errs
}

func (e *ErrorSet) Defer(err error) error {
	if err != nil && e != err {
		e.Add(err)
	}

	if len(e.Errs) == 0 {
		return nil
	}

	return e
}

type DiagnosticKind uint8

const (
	SyntaxError DiagnosticKind = iota
	UnresolvedNameError
	StaticError
)

var diagnosticKindNames = [...]string{
	SyntaxError:         "SyntaxError",
	UnresolvedNameError: "UnresolvedNameError",
	StaticError:         "StaticError",
}

func (k DiagnosticKind) String() string {
	return diagnosticKindNames[k]
}

// ErrUndefinedName marks resolver errors for names that have no
// binding in any enclosing scope.
var ErrUndefinedName = errors.New("undefined")

// A resolveError is a static error found by the resolver.
type resolveError struct {
	kind DiagnosticKind
	err  error
}

func (e resolveError) Error() string {
	return e.err.Error()
}

func (e resolveError) Unwrap() error {
	return e.err
}

type Diagnostic struct {
	Kind DiagnosticKind
	Msg  string
	Pos  parser.Position

	// Err is the error the diagnostic was built from.
	Err error
}

func (d Diagnostic) String() string {
	if d.Pos.IsValid() {
		return fmt.Sprintf("%s: %s: %s", d.Pos, d.Kind, d.Msg)
	}

	return fmt.Sprintf("%s: %s", d.Kind, d.Msg)
}

type DiagnosticSink interface {
	Report(Diagnostic)
}

type DiagnosticWriter struct {
	W io.Writer
}

func (w DiagnosticWriter) Report(d Diagnostic) {
	fmt.Fprintln(w.W, d.String())
}

// DiagnosticList collects diagnostics in report order.
type DiagnosticList []Diagnostic

func (l *DiagnosticList) Report(d Diagnostic) {
	*l = append(*l, d)
}

// Diagnostics flattens an error returned by the compiler into one
// diagnostic per underlying error.
func Diagnostics(err error) []Diagnostic {
	var diags []Diagnostic
	collectDiagnostics(err, &diags)

	return diags
}

// Report sends every diagnostic in err to sink and returns how many
// there were.
func Report(sink DiagnosticSink, err error) int {
	diags := Diagnostics(err)
	for _, d := range diags {
		sink.Report(d)
	}

	return len(diags)
}

func collectDiagnostics(err error, diags *[]Diagnostic) {
	if err == nil {
		return
	}

	switch e := err.(type) {
	case *ErrorSet:
		for _, sub := range e.Errs {
			collectDiagnostics(sub, diags)
		}
		return
	case ErrorSet:
		collectDiagnostics(&e, diags)
		return
	case FileError:
		before := len(*diags)
		collectDiagnostics(e.Err, diags)
		for i := before; i < len(*diags); i++ {
			if (*diags)[i].Pos.File == "" {
				(*diags)[i].Pos.File = e.File
			}
		}
		return
	case interface{ Unwrap() []error }:
		for _, sub := range e.Unwrap() {
			collectDiagnostics(sub, diags)
		}
		return
	}

	*diags = append(*diags, newDiagnostic(err))
}

func newDiagnostic(err error) Diagnostic {
	d := Diagnostic{
		Kind: SyntaxError,
		Msg:  err.Error(),
		Err:  err,
	}

	var resolveErr resolveError
	if errors.As(err, &resolveErr) {
		d.Kind = resolveErr.kind
	}

	var posErr PositionError
	if errors.As(err, &posErr) {
		d.Pos = posErr.Position
		d.Msg = strings.TrimPrefix(posErr.Error(), posErr.Position.String()+": ")
	}

	return d
}
