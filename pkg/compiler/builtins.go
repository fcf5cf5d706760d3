package compiler

import "slices"

var (
	BuiltinFunctions = []string{
		"bool",
		"dict",
		"dir",
		"float",
		"globals",
		"input",
		"int",
		"isinstance",
		"len",
		"list",
		"locals",
		"print",
		"range",
		"str",
		"tuple",
		"Lock",
	}

	BuiltinExceptions = []string{
		"AttributeError",
		"EOFError",
		"Exception",
		"IndexError",
		"KeyError",
		"NameError",
		"RuntimeError",
		"TypeError",
		"UnboundLocalError",
		"ValueError",
		"ZeroDivisionError",
	}
)

// Universe lists the names predeclared in every module unless the
// compiler is told otherwise.
func Universe() []string {
	return slices.Concat(BuiltinFunctions, BuiltinExceptions)
}
