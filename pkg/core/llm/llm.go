// Package llm defines the streaming chat interface voice sessions talk to.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Role is a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// ChatRequest is a chat completion request. Messages is the session
// history ending with the newest user turn.
type ChatRequest struct {
	Messages []Message
	// User identifies the speaking participant, if known.
	User string
}

// Chunk is one streamed piece of the reply.
type Chunk struct {
	Text         string
	FinishReason string
}

// Stream yields reply chunks. Next returns io.EOF once the reply is
// complete.
type Stream interface {
	Next() (Chunk, error)
	Close() error
}

// Provider produces streamed chat replies.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (Stream, error)
}

// ErrEmptyRequest is returned for a request with no messages.
var ErrEmptyRequest = errors.New("llm: request has no messages")

// Collect drains s and returns the concatenated text.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk.Text)
	}
}
