package letta

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vango-go/letta-voice/pkg/core/llm"
)

// eventStream reads OpenAI-style SSE chunks.
type eventStream struct {
	reader   *bufio.Reader
	closer   io.Closer
	err      error
	finished bool
}

type chatChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		reader: bufio.NewReader(body),
		closer: body,
	}
}

// Next returns the next non-empty chunk. Returns io.EOF when the stream is
// complete.
func (s *eventStream) Next() (llm.Chunk, error) {
	if s.err != nil {
		return llm.Chunk{}, s.err
	}
	if s.finished {
		return llm.Chunk{}, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				s.finished = true
				return llm.Chunk{}, io.EOF
			}
			s.err = err
			return llm.Chunk{}, err
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.finished = true
			return llm.Chunk{}, io.EOF
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip unparseable chunks
		}
		if chunk.Error != nil {
			s.err = fmt.Errorf("letta stream: %s", chunk.Error.Message)
			return llm.Chunk{}, s.err
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content == "" && choice.FinishReason == "" {
			// Role announcements and server-side tool call deltas.
			continue
		}
		return llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}, nil
	}
}

// Close releases the response body.
func (s *eventStream) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
