// Package letta adapts a Letta agent's voice chat endpoint to llm.Provider.
//
// The endpoint speaks the OpenAI chat-completions streaming dialect, but the
// conversation state lives in the remote agent: memory, tool calls and the
// sleep-time companion all run server side.
package letta

import (
	"context"
	"fmt"
	"strings"

	"github.com/vango-go/letta-voice/pkg/core/llm"
	lettaapi "github.com/vango-go/letta-voice/pkg/letta"
)

// Provider streams replies from one agent.
type Provider struct {
	client  *lettaapi.Client
	agentID string
	model   string
}

// Option configures the provider.
type Option func(*Provider)

// WithModel overrides the model name sent to the endpoint.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// New binds a provider to agentID.
func New(client *lettaapi.Client, agentID string, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("letta llm: client is nil")
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("letta llm: agent id is required")
	}
	p := &Provider{client: client, agentID: agentID, model: lettaapi.VoiceModel}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "letta"
}

// AgentID returns the agent replies come from.
func (p *Provider) AgentID() string {
	return p.agentID
}

// Chat sends the conversation and streams the agent's reply.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, llm.ErrEmptyRequest
	}
	msgs := make([]lettaapi.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, lettaapi.ChatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := p.client.Voice.StreamChatCompletions(ctx, p.agentID, lettaapi.ChatCompletionRequest{
		Model:    p.model,
		Messages: msgs,
		User:     req.User,
	})
	if err != nil {
		return nil, err
	}
	return newEventStream(body), nil
}

var _ llm.Provider = (*Provider)(nil)
