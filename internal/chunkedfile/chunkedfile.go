// Package chunkedfile reads test files made of several source chunks
// separated by "---" lines. A line containing ### followed by a quoted
// regular expression expects an error on that line whose message
// matches it:
//
//	print((1 as x)) ### "undefined"
//	---
//	x = 1
package chunkedfile

import (
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const separator = "\n---\n"

// A Chunk is one source text of a chunked file together with the
// errors it is expected to produce.
type Chunk struct {
	// Source is padded with blank lines so that line numbers match the
	// chunked file.
	Source string

	filename string
	report   Reporter
	wantErrs map[int]*regexp.Regexp
}

// Reporter is implemented by *testing.T.
type Reporter interface {
	Errorf(format string, args ...any)
}

// Read parses a chunked file. Malformed expectations are reported.
func Read(filename string, report Reporter) []Chunk {
	data, err := os.ReadFile(filename)
	if err != nil {
		report.Errorf("%s", err)
		return nil
	}

	return readBytes(filename, data, report)
}

func readBytes(filename string, data []byte, report Reporter) []Chunk {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var chunks []Chunk

	linenum := 1
	for _, src := range strings.Split(text, separator) {
		chunk := Chunk{
			Source:   strings.Repeat("\n", linenum-1) + src,
			filename: filename,
			report:   report,
			wantErrs: make(map[int]*regexp.Regexp),
		}

		for _, line := range strings.Split(src, "\n") {
			if i := strings.Index(line, "###"); i >= 0 {
				rest := strings.TrimSpace(line[i+len("###"):])

				pattern, err := strconv.Unquote(rest)
				if err != nil {
					report.Errorf("\n%s:%d: not a quoted regexp: %s", filename, linenum, rest)
				} else if rx, err := regexp.Compile(pattern); err != nil {
					report.Errorf("\n%s:%d: %v", filename, linenum, err)
				} else {
					chunk.wantErrs[linenum] = rx
				}
			}
			linenum++
		}
		// the separator line
		linenum++

		chunks = append(chunks, chunk)
	}

	return chunks
}

// GotError reports an error that occurred at linenum. Errors on lines
// without an expectation, or not matching it, are reported.
func (c *Chunk) GotError(linenum int, msg string) {
	rx, ok := c.wantErrs[linenum]
	if !ok {
		c.report.Errorf("\n%s:%d: unexpected error: %v", c.filename, linenum, msg)
		return
	}

	delete(c.wantErrs, linenum)
	if !rx.MatchString(msg) {
		c.report.Errorf("\n%s:%d: error %q does not match pattern %q", c.filename, linenum, msg, rx)
	}
}

// Done reports the expected errors that did not occur.
func (c *Chunk) Done() {
	lines := make([]int, 0, len(c.wantErrs))
	for linenum := range c.wantErrs {
		lines = append(lines, linenum)
	}
	slices.Sort(lines)

	for _, linenum := range lines {
		c.report.Errorf("\n%s:%d: expected error matching %q", c.filename, linenum, c.wantErrs[linenum])
	}
}
