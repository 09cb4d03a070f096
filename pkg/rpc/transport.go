package rpc

import (
	"bufio"
	"io"
	"sync"
)

// Transport is an asynchronous line stream in, write-line out, per
// spec.md §4.5 "Configuration". StdioTransport is the only
// implementation the runtime core needs (stdin/stdout), but the
// interface keeps Server testable without a real process boundary.
type Transport interface {
	// ReadLine blocks for the next line. ok is false at end of stream.
	ReadLine() (line []byte, ok bool, err error)
	// WriteLine writes one line; implementations append the trailing
	// newline themselves and MUST NOT interleave partial writes from
	// concurrent callers.
	WriteLine(line []byte) error
}

// StdioTransport frames NDJSON over an arbitrary io.Reader/io.Writer
// pair (stdin/stdout in production, in-memory pipes in tests).
type StdioTransport struct {
	scanner *bufio.Scanner
	writeMu sync.Mutex
	w       io.Writer
}

func NewStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &StdioTransport{scanner: scanner, w: w}
}

func (t *StdioTransport) ReadLine() ([]byte, bool, error) {
	if t.scanner.Scan() {
		line := make([]byte, len(t.scanner.Bytes()))
		copy(line, t.scanner.Bytes())
		return line, true, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (t *StdioTransport) WriteLine(line []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(line); err != nil {
		return err
	}
	_, err := t.w.Write([]byte("\n"))
	return err
}
