package letta

import "time"

// Agent types understood by the platform.
const (
	AgentTypeVoiceConvo     = "voice_convo_agent"
	AgentTypeVoiceSleeptime = "voice_sleeptime_agent"
)

// ManagerTypeVoiceSleeptime is the group manager used by voice agents with
// sleep-time enabled.
const ManagerTypeVoiceSleeptime = "voice_sleeptime"

// Block is a labeled memory block.
type Block struct {
	ID          string `json:"id,omitempty"`
	Label       string `json:"label"`
	Value       string `json:"value"`
	Limit       int    `json:"limit,omitempty"`
	Description string `json:"description,omitempty"`
}

// MessageCreate is an entry in an agent's initial message sequence.
type MessageCreate struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateAgentRequest is the body of POST /v1/agents/.
type CreateAgentRequest struct {
	Name            string   `json:"name"`
	AgentType       string   `json:"agent_type,omitempty"`
	MemoryBlocks    []Block  `json:"memory_blocks"`
	Model           string   `json:"model,omitempty"`
	Embedding       string   `json:"embedding,omitempty"`
	Tools           []string `json:"tools"`
	EnableSleeptime bool     `json:"enable_sleeptime"`

	// InitialMessageSequence must encode as [] rather than null. An empty
	// sequence tells the platform not to seed the default greeting messages.
	InitialMessageSequence []MessageCreate `json:"initial_message_sequence"`
}

// AgentUpdateRequest is the body of PATCH /v1/agents/{agent_id}. Zero fields
// are left unchanged.
type AgentUpdateRequest struct {
	Name      string `json:"name,omitempty"`
	Model     string `json:"model,omitempty"`
	Embedding string `json:"embedding,omitempty"`
}

// Memory is the core memory of an agent.
type Memory struct {
	Blocks []Block `json:"blocks"`
}

// AgentState is the platform's view of an agent.
type AgentState struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	AgentType       string     `json:"agent_type"`
	Model           string     `json:"model,omitempty"`
	Embedding       string     `json:"embedding,omitempty"`
	Tools           []Tool     `json:"tools,omitempty"`
	Memory          *Memory    `json:"memory,omitempty"`
	EnableSleeptime bool       `json:"enable_sleeptime,omitempty"`
	MultiAgentGroup *Group     `json:"multi_agent_group,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// Group links agents managed together, here a primary voice agent and its
// sleep-time companion.
type Group struct {
	ID                      string   `json:"id"`
	ManagerType             string   `json:"manager_type"`
	AgentIDs                []string `json:"agent_ids"`
	Description             string   `json:"description,omitempty"`
	ManagerAgentID          string   `json:"manager_agent_id,omitempty"`
	MaxMessageBufferLength  *int     `json:"max_message_buffer_length,omitempty"`
	MinMessageBufferLength  *int     `json:"min_message_buffer_length,omitempty"`
	SleeptimeAgentFrequency *int     `json:"sleeptime_agent_frequency,omitempty"`
}

// VoiceSleeptimeManagerUpdate changes how often the sleep-time companion runs.
type VoiceSleeptimeManagerUpdate struct {
	ManagerType            string `json:"manager_type"`
	MaxMessageBufferLength int    `json:"max_message_buffer_length"`
	MinMessageBufferLength int    `json:"min_message_buffer_length"`
}

// GroupUpdateRequest is the body of PATCH /v1/groups/{group_id}.
type GroupUpdateRequest struct {
	ManagerConfig *VoiceSleeptimeManagerUpdate `json:"manager_config,omitempty"`
	Description   string                       `json:"description,omitempty"`
}

// Tool is a callable registered on the platform. Its source runs remotely.
type Tool struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	SourceType  string   `json:"source_type,omitempty"`
	SourceCode  string   `json:"source_code,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ToolUpsertRequest is the body of PUT /v1/tools/.
type ToolUpsertRequest struct {
	SourceCode  string   `json:"source_code"`
	SourceType  string   `json:"source_type,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}
