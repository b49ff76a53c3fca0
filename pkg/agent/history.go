package agent

import (
	"sync"

	"github.com/vango-go/letta-voice/pkg/core/llm"
)

// Message is one entry of the conversation.
type Message struct {
	Role    llm.Role
	Content string
	// Identity is the participant who spoke a user message.
	Identity string
	// Interrupted marks agent speech that was cut off. Content is the text
	// that had been handed to synthesis.
	Interrupted bool
}

type history struct {
	mu   sync.Mutex
	msgs []Message
}

func newHistory() *history {
	return &history{msgs: make([]Message, 0, 16)}
}

func (h *history) append(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
}

// extendUser appends text to the last message when it is identity's user
// message, and returns the combined content.
func (h *history) extendUser(identity, text string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.msgs) == 0 {
		return "", false
	}
	last := &h.msgs[len(h.msgs)-1]
	if last.Role != llm.RoleUser || last.Identity != identity {
		return "", false
	}
	if last.Content != "" && text != "" {
		last.Content += " "
	}
	last.Content += text
	return last.Content, true
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func (h *history) snapshot() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// request builds the LLM messages: the instructions, if any, then the
// conversation.
func (h *history) request(instructions string) []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, 0, len(h.msgs)+1)
	if instructions != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: instructions})
	}
	for _, m := range h.msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
