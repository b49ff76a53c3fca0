package letta

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// AgentsService wraps /v1/agents.
type AgentsService struct {
	client *Client
}

// Create creates an agent.
func (s *AgentsService) Create(ctx context.Context, req CreateAgentRequest) (*AgentState, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("create agent: name is required")
	}
	if req.InitialMessageSequence == nil {
		req.InitialMessageSequence = []MessageCreate{}
	}
	if req.Tools == nil {
		req.Tools = []string{}
	}

	var out AgentState
	if err := s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/v1/agents/",
		body:   req,
		out:    &out,
	}); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create agent: response has no agent id")
	}
	return &out, nil
}

// Retrieve fetches an agent by id.
func (s *AgentsService) Retrieve(ctx context.Context, agentID string) (*AgentState, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("retrieve agent: agent id is required")
	}
	var out AgentState
	if err := s.client.do(ctx, request{
		method:     http.MethodGet,
		path:       "/v1/agents/{agent_id}",
		pathParams: map[string]string{"agent_id": agentID},
		out:        &out,
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Modify updates an agent.
func (s *AgentsService) Modify(ctx context.Context, agentID string, req AgentUpdateRequest) (*AgentState, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("modify agent: agent id is required")
	}
	var out AgentState
	if err := s.client.do(ctx, request{
		method:     http.MethodPatch,
		path:       "/v1/agents/{agent_id}",
		pathParams: map[string]string{"agent_id": agentID},
		body:       req,
		out:        &out,
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an agent.
func (s *AgentsService) Delete(ctx context.Context, agentID string) error {
	if strings.TrimSpace(agentID) == "" {
		return fmt.Errorf("delete agent: agent id is required")
	}
	return s.client.do(ctx, request{
		method:     http.MethodDelete,
		path:       "/v1/agents/{agent_id}",
		pathParams: map[string]string{"agent_id": agentID},
	})
}

// GroupsService wraps /v1/groups.
type GroupsService struct {
	client *Client
}

// Modify updates a multi-agent group.
func (s *GroupsService) Modify(ctx context.Context, groupID string, req GroupUpdateRequest) (*Group, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("modify group: group id is required")
	}
	var out Group
	if err := s.client.do(ctx, request{
		method:     http.MethodPatch,
		path:       "/v1/groups/{group_id}",
		pathParams: map[string]string{"group_id": groupID},
		body:       req,
		out:        &out,
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToolsService wraps /v1/tools.
type ToolsService struct {
	client *Client
}

// Upsert creates the tool or replaces the existing one with the same name.
// The tool name is taken from the function defined in the source.
func (s *ToolsService) Upsert(ctx context.Context, req ToolUpsertRequest) (*Tool, error) {
	if strings.TrimSpace(req.SourceCode) == "" {
		return nil, fmt.Errorf("upsert tool: source code is required")
	}
	if req.SourceType == "" {
		req.SourceType = "python"
	}
	var out Tool
	if err := s.client.do(ctx, request{
		method: http.MethodPut,
		path:   "/v1/tools/",
		body:   req,
		out:    &out,
	}); err != nil {
		return nil, err
	}
	return &out, nil
}
