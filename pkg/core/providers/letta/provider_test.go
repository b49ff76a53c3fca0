package letta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/letta-voice/pkg/core/llm"
	lettaapi "github.com/vango-go/letta-voice/pkg/letta"
)

func sse(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "data: %s\n\n", e)
	}
	return b.String()
}

func TestProvider_ChatStreamsAgentReply(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody lettaapi.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sse(
			`{"id":"c1","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`{"id":"c1","choices":[{"index":0,"delta":{"content":"Nice to meet you, "}}]}`,
			`not json`,
			`{"id":"c1","choices":[{"index":0,"delta":{"content":"Ada."}}]}`,
			`{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		))
	}))
	defer srv.Close()

	client := lettaapi.NewClient("sk-test", lettaapi.WithBaseURL(srv.URL))
	p, err := New(client, "agent-123")
	require.NoError(t, err)

	stream, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Hi, what's your name?"},
			{Role: llm.RoleUser, Content: "I'm Ada."},
		},
	})
	require.NoError(t, err)

	text, err := llm.Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you, Ada.", text)

	assert.Equal(t, "/v1/voice-beta/agent-123/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, lettaapi.VoiceModel, gotBody.Model)
	assert.True(t, gotBody.Stream)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, lettaapi.ChatMessage{Role: "user", Content: "I'm Ada."}, gotBody.Messages[1])
}

func TestProvider_StreamOutlivesRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"part%d \"}}]}\n\n", i)
			flusher.Flush()
			time.Sleep(100 * time.Millisecond)
		}
		_, _ = io.WriteString(w, sse(`[DONE]`))
	}))
	defer srv.Close()

	client := lettaapi.NewClient("k", lettaapi.WithBaseURL(srv.URL), lettaapi.WithTimeout(250*time.Millisecond))
	p, err := New(client, "agent-123")
	require.NoError(t, err)

	stream, err := p.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "tell me a story"}}})
	require.NoError(t, err)

	text, err := llm.Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "part0 part1 part2 part3 part4 ", text)
}

func TestProvider_StreamStopsWithContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sse(`{"choices":[{"delta":{"content":"Hello. "}}]}`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p, err := New(lettaapi.NewClient("k", lettaapi.WithBaseURL(srv.URL)), "agent-123")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "Hello. ", chunk.Text)

	cancel()
	_, err = stream.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestProvider_FinishReasonChunk(t *testing.T) {
	stream := newEventStream(io.NopCloser(strings.NewReader(sse(
		`{"choices":[{"delta":{"content":"Rolled a 17."}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	))))

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "Rolled a 17.", chunk.Text)

	chunk, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "stop", chunk.FinishReason)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestProvider_StreamErrorPayload(t *testing.T) {
	stream := newEventStream(io.NopCloser(strings.NewReader(sse(
		`{"error":{"message":"agent is busy","type":"server_error"}}`,
	))))
	_, err := stream.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent is busy")
}

func TestProvider_HTTPErrorBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Agent not found"}`)
	}))
	defer srv.Close()

	p, err := New(lettaapi.NewClient("k", lettaapi.WithBaseURL(srv.URL)), "missing")
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, lettaapi.IsNotFound(err))
	assert.Contains(t, err.Error(), "Agent not found")
}

func TestProvider_Validation(t *testing.T) {
	_, err := New(nil, "agent")
	assert.Error(t, err)

	_, err = New(lettaapi.NewClient("k"), " ")
	assert.Error(t, err)

	p, err := New(lettaapi.NewClient("k"), "agent", WithModel("letta-custom"))
	require.NoError(t, err)
	assert.Equal(t, "letta", p.Name())
	assert.Equal(t, "agent", p.AgentID())

	_, err = p.Chat(context.Background(), llm.ChatRequest{})
	assert.ErrorIs(t, err, llm.ErrEmptyRequest)
}
