package letta

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAgentsCreate_SendsEmptyInitialSequence(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{
		"id": "agent-1",
		"name": "demo",
		"agent_type": "voice_convo_agent",
		"multi_agent_group": {"id": "group-1", "manager_type": "voice_sleeptime", "agent_ids": ["agent-1", "agent-2"]}
	}`)
	client := NewClient("secret", WithBaseURL(srv.URL))

	agent, err := client.Agents.Create(context.Background(), CreateAgentRequest{
		Name:            "demo",
		AgentType:       AgentTypeVoiceConvo,
		MemoryBlocks:    []Block{{Label: "human", Value: "h"}, {Label: "persona", Value: "p"}},
		Tools:           []string{"roll_d20"},
		EnableSleeptime: true,
	})
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/v1/agents/", call.path)
	assert.Equal(t, "Bearer secret", call.auth)

	seq, ok := call.body["initial_message_sequence"].([]any)
	require.True(t, ok, "initial_message_sequence=%v, want empty array", call.body["initial_message_sequence"])
	assert.Empty(t, seq)
	assert.Equal(t, true, call.body["enable_sleeptime"])
	assert.Equal(t, []any{"roll_d20"}, call.body["tools"])

	assert.Equal(t, "agent-1", agent.ID)
	require.NotNil(t, agent.MultiAgentGroup)
	assert.Equal(t, "group-1", agent.MultiAgentGroup.ID)
	assert.Equal(t, []string{"agent-1", "agent-2"}, agent.MultiAgentGroup.AgentIDs)
}

func TestAgentsCreate_RequiresName(t *testing.T) {
	client := NewClient("secret", WithBaseURL("http://127.0.0.1:0"))
	_, err := client.Agents.Create(context.Background(), CreateAgentRequest{})
	require.Error(t, err)
}

func TestAgentsModify_PatchesModel(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{"id":"agent-2","model":"anthropic/claude-sonnet-4-20250514"}`)
	client := NewClient("secret", WithBaseURL(srv.URL))

	agent, err := client.Agents.Modify(context.Background(), "agent-2", AgentUpdateRequest{Model: "anthropic/claude-sonnet-4-20250514"})
	require.NoError(t, err)

	call := (*calls)[0]
	assert.Equal(t, http.MethodPatch, call.method)
	assert.Equal(t, "/v1/agents/agent-2", call.path)
	assert.Equal(t, map[string]any{"model": "anthropic/claude-sonnet-4-20250514"}, call.body)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", agent.Model)
}

func TestGroupsModify_SendsManagerConfig(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{"id":"group-1","manager_type":"voice_sleeptime","agent_ids":["a","b"],"max_message_buffer_length":10,"min_message_buffer_length":6}`)
	client := NewClient("secret", WithBaseURL(srv.URL))

	group, err := client.Groups.Modify(context.Background(), "group-1", GroupUpdateRequest{
		ManagerConfig: &VoiceSleeptimeManagerUpdate{
			ManagerType:            ManagerTypeVoiceSleeptime,
			MaxMessageBufferLength: 10,
			MinMessageBufferLength: 6,
		},
	})
	require.NoError(t, err)

	call := (*calls)[0]
	assert.Equal(t, http.MethodPatch, call.method)
	assert.Equal(t, "/v1/groups/group-1", call.path)
	assert.Equal(t, map[string]any{
		"manager_config": map[string]any{
			"manager_type":              "voice_sleeptime",
			"max_message_buffer_length": float64(10),
			"min_message_buffer_length": float64(6),
		},
	}, call.body)
	require.NotNil(t, group.MaxMessageBufferLength)
	assert.Equal(t, 10, *group.MaxMessageBufferLength)
}

func TestToolsUpsert_DefaultsToPython(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{"id":"tool-1","name":"roll_d20"}`)
	client := NewClient("secret", WithBaseURL(srv.URL))

	tool, err := client.Tools.Upsert(context.Background(), ToolUpsertRequest{SourceCode: "def roll_d20(): ..."})
	require.NoError(t, err)

	call := (*calls)[0]
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/v1/tools/", call.path)
	assert.Equal(t, "python", call.body["source_type"])
	assert.Equal(t, "roll_d20", tool.Name)
}

func TestAPIError_ParsesDetail(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNotFound, `{"detail":"Agent not found"}`)
	client := NewClient("secret", WithBaseURL(srv.URL))

	_, err := client.Agents.Retrieve(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Agent not found", apiErr.Detail)
	assert.Equal(t, "/v1/agents/missing", apiErr.Path)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "status 404")
}

func TestAPIError_ValidationDetailKeepsRawJSON(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","name"],"msg":"field required"}]}`)
	client := NewClient("secret", WithBaseURL(srv.URL))

	err := client.Agents.Delete(context.Background(), "agent-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.IsNotFound())
	assert.Contains(t, apiErr.Detail, "field required")
}

func TestNewClient_NoKeyOmitsAuthorization(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{}`)
	client := NewClient("", WithBaseURL(srv.URL+"/"))

	require.NoError(t, client.Agents.Delete(context.Background(), "agent-1"))
	assert.Empty(t, (*calls)[0].auth)
	assert.Equal(t, srv.URL, client.BaseURL())
}

func TestVoiceStream_HeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient("k", WithBaseURL(srv.URL), WithTimeout(100*time.Millisecond))
	_, err := client.Voice.StreamChatCompletions(context.Background(), "agent-1", ChatCompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/v1/voice-beta/agent-1/chat/completions")
}

func TestWithTracer_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv, _ := newTestServer(t, http.StatusNotFound, `{"detail":"Agent not found"}`)
	client := NewClient("secret", WithBaseURL(srv.URL), WithTracer(tp.Tracer("test")))

	_, err := client.Agents.Retrieve(context.Background(), "missing")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "letta GET /v1/agents/{agent_id}", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.Int("http.response.status_code", http.StatusNotFound))
	assert.Contains(t, span.Attributes(), attribute.String("http.route", "/v1/agents/{agent_id}"))
}
