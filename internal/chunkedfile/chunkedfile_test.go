package chunkedfile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type testReporter struct {
	reported []string
}

func (r *testReporter) Errorf(format string, args ...any) {
	r.reported = append(r.reported, fmt.Sprintf(format, args...))
}

func TestReadChunks(t *testing.T) {
	data := []byte(`x = (1 as y) ### "binding"
---
x = 1
print(x)
`)

	r := require.New(t)

	reporter := &testReporter{}
	chunks := readBytes("test.asl", data, reporter)
	r.Empty(reporter.reported)
	r.Len(chunks, 2)

	r.Equal(`x = (1 as y) ### "binding"`, chunks[0].Source)
	r.Len(chunks[0].wantErrs, 1)
	r.Equal("binding", chunks[0].wantErrs[1].String())

	// Line numbers of later chunks match the file.
	r.Equal("\n\nx = 1\nprint(x)\n", chunks[1].Source)
	r.Empty(chunks[1].wantErrs)
}

func TestGotError(t *testing.T) {
	data := []byte("a ### \"undefined\"\nb ### \"other\"\n")

	r := require.New(t)

	reporter := &testReporter{}
	chunks := readBytes("test.asl", data, reporter)
	r.Len(chunks, 1)

	chunk := chunks[0]
	chunk.GotError(1, "undefined: a")
	r.Empty(reporter.reported)

	chunk.GotError(2, "mismatch")
	r.Equal([]string{"\ntest.asl:2: error \"mismatch\" does not match pattern \"other\""}, reporter.reported)

	reporter.reported = nil
	chunk.GotError(3, "surprise")
	r.Equal([]string{"\ntest.asl:3: unexpected error: surprise"}, reporter.reported)

	reporter.reported = nil
	chunk.Done()
	r.Empty(reporter.reported)
}

func TestDoneReportsMissing(t *testing.T) {
	data := []byte("a ### \"one\"\nb\nc ### \"two\"\n")

	r := require.New(t)

	reporter := &testReporter{}
	chunks := readBytes("test.asl", data, reporter)

	chunks[0].Done()
	r.Equal([]string{
		"\ntest.asl:1: expected error matching \"one\"",
		"\ntest.asl:3: expected error matching \"two\"",
	}, reporter.reported)
}

func TestMalformedExpectation(t *testing.T) {
	r := require.New(t)

	reporter := &testReporter{}
	readBytes("test.asl", []byte("a ### undefined\n"), reporter)
	r.Equal([]string{"\ntest.asl:1: not a quoted regexp: undefined"}, reporter.reported)
}
