package letta

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// VoiceModel is the model name the voice endpoint expects. The agent's own
// model configuration decides what actually runs.
const VoiceModel = "letta-fast"

// ChatMessage is one OpenAI-style chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the body of a voice chat completion.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	User     string        `json:"user,omitempty"`
}

// VoiceService wraps /v1/voice-beta, the low-latency OpenAI-compatible chat
// endpoint bound to one agent.
type VoiceService struct {
	client *Client
}

const chatCompletionsRoute = "/v1/voice-beta/{agent_id}/chat/completions"

// ChatCompletionsPath returns the endpoint path for agentID.
func ChatCompletionsPath(agentID string) string {
	return "/v1/voice-beta/" + agentID + "/chat/completions"
}

// StreamChatCompletions posts a streaming completion and returns the raw SSE
// body. The caller must close it. Only ctx bounds how long the body may run.
func (s *VoiceService) StreamChatCompletions(ctx context.Context, agentID string, req ChatCompletionRequest) (_ io.ReadCloser, err error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("voice chat: agent id is required")
	}
	if req.Model == "" {
		req.Model = VoiceModel
	}
	if req.Messages == nil {
		req.Messages = []ChatMessage{}
	}
	req.Stream = true

	ctx, span := s.client.startSpan(ctx, http.MethodPost, chatCompletionsRoute)
	defer func() { endSpan(span, err) }()

	path := ChatCompletionsPath(agentID)
	resp, err := s.client.stream.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("letta %s %s: %w", http.MethodPost, path, err)
	}

	body := resp.RawBody()
	if resp.IsError() {
		defer body.Close()
		data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		return nil, newAPIError(http.MethodPost, path, resp.StatusCode(), data)
	}
	return body, nil
}
