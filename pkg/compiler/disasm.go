package compiler

import (
	"fmt"
	"io"
	"strings"
)

// Disassemble writes a textual listing of the module's code. The
// output only depends on the code, so it can be compared across
// compilations.
func (m *Module) Disassemble(w io.Writer) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "module %s\n", m.Name)
	if len(m.Imports) > 0 {
		names := make([]string, len(m.Imports))
		for i, imp := range m.Imports {
			names[i] = imp.Name
		}
		fmt.Fprintf(&sb, "imports: %s\n", strings.Join(names, " "))
	}
	if len(m.Globals) > 0 {
		fmt.Fprintf(&sb, "globals: %s\n", strings.Join(m.Globals, " "))
	}

	m.Toplevel.disassemble(&sb, -1)
	for i, fn := range m.Functions {
		fn.disassemble(&sb, i)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (m *Module) String() string {
	var sb strings.Builder
	_ = m.Disassemble(&sb)
	return sb.String()
}

func (f *Funcode) disassemble(sb *strings.Builder, index int) {
	sb.WriteString("\n")
	if index < 0 {
		fmt.Fprintf(sb, "func %s\n", f.Name)
	} else {
		fmt.Fprintf(sb, "func %d %s params=%d\n", index, f.Name, f.Params)
	}

	if len(f.Locals) > 0 {
		names := make([]string, len(f.Locals))
		for i, local := range f.Locals {
			if local.Hidden {
				names[i] = "(" + local.Name + ")"
			} else {
				names[i] = local.Name
			}
		}
		fmt.Fprintf(sb, "  locals: %s\n", strings.Join(names, " "))
	}
	if len(f.Cells) > 0 {
		fmt.Fprintf(sb, "  cells: %v\n", f.Cells)
	}
	if len(f.FreeVars) > 0 {
		fmt.Fprintf(sb, "  free: %s\n", strings.Join(f.FreeVars, " "))
	}

	for pc, bc := range f.Code {
		fmt.Fprintf(sb, "  %4d  %v\n", pc, bc)
	}

	for _, r := range f.Releases {
		fmt.Fprintf(sb, "  release [%d, %d) %v\n", r.Start, r.End, r.Slots)
	}
}
