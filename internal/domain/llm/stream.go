package llm

import (
	"errors"
	"io"
	"strings"
)

// ErrStreamClosed is returned by Recv after Close has been called.
var ErrStreamClosed = errors.New("llm: stream closed")

// StreamChunk is one fragment of an incremental response. FinishReason is
// empty until the terminating chunk.
type StreamChunk struct {
	Content      string       `json:"content"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// Stream is a lazily produced, single pass sequence of response fragments.
// Recv returns io.EOF once the sequence is exhausted and keeps returning it
// on further calls; a stream cannot be restarted. Close releases the
// underlying connection and is safe to call more than once.
type Stream interface {
	Recv() (StreamChunk, error)
	Close() error
}

// CollectStream drains a stream into a single CompletionResponse, closing it
// when done. Usage is whatever the terminal chunk accounting provided, which
// for most vendors is absent on streamed responses.
func CollectStream(s Stream) (*CompletionResponse, error) {
	defer s.Close()

	var sb strings.Builder
	finish := FinishReasonStop
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		sb.WriteString(chunk.Content)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	return &CompletionResponse{
		Content:      sb.String(),
		FinishReason: finish,
	}, nil
}

// sliceStream serves pre-computed chunks, mainly for tests and for adapters
// that buffer entire responses.
type sliceStream struct {
	chunks []StreamChunk
	pos    int
	closed bool
}

// NewSliceStream returns a Stream over the given chunks.
func NewSliceStream(chunks ...StreamChunk) Stream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Recv() (StreamChunk, error) {
	if s.closed {
		return StreamChunk{}, ErrStreamClosed
	}
	if s.pos >= len(s.chunks) {
		return StreamChunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
