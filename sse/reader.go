// Package sse decodes the line-delimited event streams returned by
// streaming LLM backends.
//
// Every "data:" line is one payload. Lines split across network reads are
// recombined before they are inspected, comment and blank lines are ignored,
// and the "[DONE]" payload ends the stream.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Done is the sentinel payload that terminates a stream.
const Done = "[DONE]"

// ErrMalformed is returned by DecodeJSON for payloads that are not valid JSON.
// Callers skip such fragments and keep reading.
var ErrMalformed = errors.New("sse: malformed payload")

// Reader reads data payloads from an event stream.
type Reader struct {
	r       *bufio.Reader
	event   string
	data    []byte
	err     error
	done    bool
	skipped int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next advances to the next data payload. It returns false at the end of the
// stream, on the sentinel, or on a read error.
func (s *Reader) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for {
		// ReadBytes keeps buffering until the newline arrives, so a line
		// delivered over several reads comes back whole.
		line, err := s.r.ReadBytes('\n')
		if len(line) > 0 {
			if ok := s.handleLine(line); ok {
				if err != nil && !errors.Is(err, io.EOF) {
					s.err = err
				}
				return !s.done
			}
		}
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}
	}
}

// handleLine inspects one complete line and reports whether it produced a
// payload (or the sentinel).
func (s *Reader) handleLine(line []byte) bool {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] == ':' {
		return false
	}

	if v, ok := field(line, "event"); ok {
		s.event = string(v)
		return false
	}

	v, ok := field(line, "data")
	if !ok {
		return false
	}
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return false
	}
	if string(v) == Done {
		s.done = true
		s.data = nil
		return true
	}

	s.data = v
	return true
}

// Data returns the current payload. It is valid until the next call to Next.
func (s *Reader) Data() []byte {
	return s.data
}

// Event returns the most recent "event:" name, if the stream uses them.
func (s *Reader) Event() string {
	return s.event
}

// Err returns the first non-EOF read error.
func (s *Reader) Err() error {
	return s.err
}

// Finished reports whether the stream ended, by sentinel or EOF.
func (s *Reader) Finished() bool {
	return s.done
}

// Skipped returns how many malformed payloads DecodeJSON rejected.
func (s *Reader) Skipped() int {
	return s.skipped
}

// DecodeJSON unmarshals the current payload into v. Payloads that are not
// valid JSON yield an error wrapping ErrMalformed and are counted in Skipped.
func (s *Reader) DecodeJSON(v any) error {
	if err := json.Unmarshal(s.data, v); err != nil {
		s.skipped++
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func field(line []byte, name string) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte(name)) {
		return nil, false
	}
	rest := line[len(name):]
	if len(rest) == 0 || rest[0] != ':' {
		return nil, false
	}
	rest = rest[1:]
	if len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	return rest, true
}
