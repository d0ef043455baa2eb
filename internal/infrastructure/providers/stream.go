package providers

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/netresearch/llmrelay/internal/domain/llm"
)

const (
	requestTimeout       = 120 * time.Second
	dataPrefix           = "data: "
	doneMarker           = "[DONE]"
	scannerInitialBuffer = 12 * 1024        // 12KB
	scannerMaxBuffer     = 10 * 1024 * 1024 // 10MB
)

// lineStream adapts a line oriented upstream body (SSE events or ndjson)
// into the pull based Stream contract. The parse callback owns the wire
// grammar and any per-stream accumulator state; it reports one chunk per
// emitted line and io.EOF when the vendor signals the end of the stream.
type lineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	parse   func(line string) (llm.StreamChunk, bool, error)
	closed  bool
	done    bool
}

func newLineStream(body io.ReadCloser, cancel context.CancelFunc, parse func(string) (llm.StreamChunk, bool, error)) *lineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)
	return &lineStream{
		body:    body,
		scanner: scanner,
		cancel:  cancel,
		parse:   parse,
	}
}

func (s *lineStream) Recv() (llm.StreamChunk, error) {
	if s.closed {
		return llm.StreamChunk{}, llm.ErrStreamClosed
	}
	if s.done {
		return llm.StreamChunk{}, io.EOF
	}
	for s.scanner.Scan() {
		chunk, emit, err := s.parse(s.scanner.Text())
		if err != nil {
			if err == io.EOF {
				s.finish()
				return llm.StreamChunk{}, io.EOF
			}
			return llm.StreamChunk{}, err
		}
		if emit {
			return chunk, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return llm.StreamChunk{}, err
	}
	s.finish()
	return llm.StreamChunk{}, io.EOF
}

func (s *lineStream) finish() {
	s.done = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	_ = s.body.Close()
}

func (s *lineStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return s.body.Close()
}
