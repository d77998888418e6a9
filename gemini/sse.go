package gemini

import (
	"bufio"
	"io"
	"strings"
)

// lineReader reads a byte stream one logical line at a time, tolerant of
// partial reads. It has no JSON awareness; the stream decoder layers chunk
// semantics on top.
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

// next returns the next logical line including its trailing newline when
// present. When the stream ends mid-line the buffered remainder is returned
// without a newline and io.EOF is deferred to the following call. io.EOF is
// returned only when the stream is exhausted and no bytes remain.
func (lr *lineReader) next() (string, error) {
	line, err := lr.r.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	return line, err
}

// dataPayload extracts the JSON payload from an SSE data line. The boolean
// reports whether the line was a data line at all; blank lines, comments and
// other SSE fields are the caller's cue to skip.
func dataPayload(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")), true
}
