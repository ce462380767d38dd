package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/i2y/quill/provider"
)

// Stream is a streaming call. The backend stream is opened by
// ExecuteStream; chunks are read from the network only while Chunks is being
// iterated.
type Stream struct {
	c      *call
	rs     provider.ResponseStream
	text   strings.Builder
	used   bool
	closed bool
	err    error
	result *Result
}

// ExecuteStream opens a streaming call. Validation, configuration and
// connection errors are returned here; errors while reading are reported by
// Err after iteration.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req *Request) (*Stream, error) {
	p, err := o.prepare(req)
	if err != nil {
		return nil, err
	}

	sp, ok := p.res.Provider.(provider.StreamingProvider)
	if !ok {
		return nil, &ConfigurationError{Cause: fmt.Errorf("provider %q does not support streaming", p.res.Kind)}
	}

	c := o.begin(ctx, req, p, true)
	if err := c.acquire(); err != nil {
		return nil, c.finish("", nil, err)
	}

	rs, err := sp.CallStream(c.ctx, p.wire)
	if err != nil {
		return nil, c.finish("", nil, err)
	}

	return &Stream{c: c, rs: rs}, nil
}

// Chunks returns the visible text increments in network order. Reasoning
// text is never yielded. The sequence is finite and can be iterated once;
// breaking out of the loop aborts the call.
//
// Example:
//
//	stream, err := o.ExecuteStream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for text := range stream.Chunks() {
//	    fmt.Print(text)
//	}
//	if err := stream.Err(); err != nil {
//	    return err
//	}
func (s *Stream) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		if s.used {
			return
		}
		s.used = true
		defer s.closeBody()

		for s.rs.Next() {
			chunk := s.rs.Current()
			if !visible(chunk) {
				continue
			}
			// A cancelled call yields nothing more, even if data is buffered.
			if s.c.ctx.Err() != nil {
				break
			}
			s.text.WriteString(chunk.Delta)
			if !yield(chunk.Delta) {
				s.c.cancel(errCancelled)
				s.complete(nil)
				return
			}
		}
		s.complete(s.rs.Err())
	}
}

// visible reports whether chunk carries answer text for the caller.
func visible(chunk *provider.StreamChunk) bool {
	return chunk != nil && !chunk.Reasoning && chunk.Delta != ""
}

func (s *Stream) complete(err error) {
	acc := s.rs.Accumulated()
	s.err = s.c.finish(s.text.String(), acc, err)
	if s.err == nil {
		s.result = s.c.result(s.text.String(), acc)
	}
}

func (s *Stream) closeBody() {
	if s.closed {
		return
	}
	s.closed = true
	if sk, ok := s.rs.(interface{ Skipped() int }); ok {
		s.c.o.metrics.AddSkipped(string(s.c.p.res.Kind), sk.Skipped())
	}
	_ = s.rs.Close()
}

// Text returns the visible text received so far.
func (s *Stream) Text() string {
	return s.text.String()
}

// Err returns the terminal error once iteration has ended: a
// *TransportError, *TimeoutError or *CancelledError.
func (s *Stream) Err() error {
	return s.err
}

// Result returns the completed result, or nil unless the stream finished
// successfully.
func (s *Stream) Result() *Result {
	return s.result
}

// Close releases the stream. Closing a stream that has not finished aborts it.
func (s *Stream) Close() error {
	if !s.used {
		s.used = true
		s.c.cancel(errCancelled)
		s.err = s.c.finish("", nil, nil)
	}
	s.closeBody()
	return nil
}
