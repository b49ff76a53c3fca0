package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-go/letta-voice/pkg/letta"
)

var (
	// ErrNoSleeptimeGroup means the created agent came back without the
	// multi-agent group that enable_sleeptime should produce.
	ErrNoSleeptimeGroup = errors.New("agent has no sleep-time group")

	// ErrSleeptimeAgentNotFound means the group lists no agent besides the primary.
	ErrSleeptimeAgentNotFound = errors.New("sleep-time agent not found in group")

	// ErrAmbiguousSleeptimeAgent means the group lists more than one agent
	// besides the primary, so there is no single companion to retarget.
	ErrAmbiguousSleeptimeAgent = errors.New("more than one candidate sleep-time agent in group")
)

// Platform is the subset of the Letta API provisioning needs.
type Platform interface {
	UpsertTool(ctx context.Context, req letta.ToolUpsertRequest) (*letta.Tool, error)
	CreateAgent(ctx context.Context, req letta.CreateAgentRequest) (*letta.AgentState, error)
	ModifyGroup(ctx context.Context, groupID string, req letta.GroupUpdateRequest) (*letta.Group, error)
	ModifyAgent(ctx context.Context, agentID string, req letta.AgentUpdateRequest) (*letta.AgentState, error)
	DeleteAgent(ctx context.Context, agentID string) error
}

// NewPlatform adapts a Letta client to Platform.
func NewPlatform(c *letta.Client) Platform {
	return clientPlatform{c: c}
}

type clientPlatform struct {
	c *letta.Client
}

func (p clientPlatform) UpsertTool(ctx context.Context, req letta.ToolUpsertRequest) (*letta.Tool, error) {
	return p.c.Tools.Upsert(ctx, req)
}

func (p clientPlatform) CreateAgent(ctx context.Context, req letta.CreateAgentRequest) (*letta.AgentState, error) {
	return p.c.Agents.Create(ctx, req)
}

func (p clientPlatform) ModifyGroup(ctx context.Context, groupID string, req letta.GroupUpdateRequest) (*letta.Group, error) {
	return p.c.Groups.Modify(ctx, groupID, req)
}

func (p clientPlatform) ModifyAgent(ctx context.Context, agentID string, req letta.AgentUpdateRequest) (*letta.AgentState, error) {
	return p.c.Agents.Modify(ctx, agentID, req)
}

func (p clientPlatform) DeleteAgent(ctx context.Context, agentID string) error {
	return p.c.Agents.Delete(ctx, agentID)
}

// Result is what a successful provisioning run produced.
type Result struct {
	AgentID          string
	AgentName        string
	ToolID           string
	GroupID          string
	SleeptimeAgentID string
	SleeptimeModel   string

	// Thresholds reported by the platform before they were overwritten.
	PriorMaxMessageBuffer *int
	PriorMinMessageBuffer *int

	MaxMessageBuffer int
	MinMessageBuffer int
	CreatedAt        time.Time

	// Incomplete is set when setup failed after the agent was created.
	Incomplete bool
}

// Record converts the result to its persisted form.
func (r Result) Record() Record {
	return Record{
		AgentID:          r.AgentID,
		AgentName:        r.AgentName,
		GroupID:          r.GroupID,
		SleeptimeAgentID: r.SleeptimeAgentID,
		SleeptimeModel:   r.SleeptimeModel,
		CreatedAt:        r.CreatedAt,
		Incomplete:       r.Incomplete,
	}
}

// Provisioner runs the setup sequence against a Platform.
type Provisioner struct {
	platform Platform
	logger   *slog.Logger
	now      func() time.Time
}

// NewProvisioner builds a Provisioner. A nil logger discards output.
func NewProvisioner(platform Platform, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provisioner{platform: platform, logger: logger, now: time.Now}
}

// Provision registers the tool, creates the agent, retunes the sleep-time
// group and switches the companion's model. Any failed call aborts the run.
// Resources created before the failure are left in place; once the agent
// exists, a failure also returns a Result naming it with Incomplete set.
func (p *Provisioner) Provision(ctx context.Context, spec Spec) (Result, error) {
	if p == nil || p.platform == nil {
		return Result{}, errors.New("provision: platform is nil")
	}
	if err := spec.Validate(); err != nil {
		return Result{}, fmt.Errorf("provision: invalid spec: %w", err)
	}

	tool, err := p.platform.UpsertTool(ctx, letta.ToolUpsertRequest{
		SourceCode:  spec.Tool.Source,
		SourceType:  "python",
		Description: spec.Tool.Description,
		Tags:        spec.Tool.Tags,
	})
	if err != nil {
		return Result{}, fmt.Errorf("provision: upsert tool %q: %w", spec.Tool.Name, err)
	}
	if tool.Name != "" && tool.Name != spec.Tool.Name {
		return Result{}, fmt.Errorf("provision: upsert tool: platform registered %q, want %q", tool.Name, spec.Tool.Name)
	}
	p.logger.Info("tool registered", "tool", spec.Tool.Name, "tool_id", tool.ID)

	agent, err := p.platform.CreateAgent(ctx, spec.CreateRequest())
	if err != nil {
		return Result{}, fmt.Errorf("provision: create agent %q: %w", spec.Name, err)
	}
	p.logger.Info("agent created", "agent_id", agent.ID, "name", agent.Name)

	partial := Result{
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		ToolID:     tool.ID,
		CreatedAt:  p.now().UTC(),
		Incomplete: true,
	}

	group := agent.MultiAgentGroup
	if group == nil || group.ID == "" {
		return partial, fmt.Errorf("provision: agent %s: %w", agent.ID, ErrNoSleeptimeGroup)
	}
	partial.GroupID = group.ID
	p.logger.Info("sleep-time group",
		"group_id", group.ID,
		"max_message_buffer_length", intOrNil(group.MaxMessageBufferLength),
		"min_message_buffer_length", intOrNil(group.MinMessageBufferLength),
	)

	updated, err := p.platform.ModifyGroup(ctx, group.ID, letta.GroupUpdateRequest{
		ManagerConfig: &letta.VoiceSleeptimeManagerUpdate{
			ManagerType:            letta.ManagerTypeVoiceSleeptime,
			MaxMessageBufferLength: spec.MaxMessageBuffer,
			MinMessageBufferLength: spec.MinMessageBuffer,
		},
	})
	if err != nil {
		return partial, fmt.Errorf("provision: modify group %s: %w", group.ID, err)
	}

	// The updated group is authoritative; fall back to the one embedded in
	// the agent if the platform returned no member list.
	members := updated.AgentIDs
	if len(members) == 0 {
		members = group.AgentIDs
	}
	sleeptimeID, err := SelectSleeptimeAgent(members, agent.ID)
	if err != nil {
		return partial, fmt.Errorf("provision: group %s: %w", group.ID, err)
	}
	partial.SleeptimeAgentID = sleeptimeID

	companion, err := p.platform.ModifyAgent(ctx, sleeptimeID, letta.AgentUpdateRequest{Model: spec.SleeptimeModel})
	if err != nil {
		return partial, fmt.Errorf("provision: set sleep-time agent %s model: %w", sleeptimeID, err)
	}
	if companion != nil && companion.AgentType != "" && companion.AgentType != letta.AgentTypeVoiceSleeptime {
		p.logger.Warn("sleep-time companion has unexpected type", "agent_id", sleeptimeID, "agent_type", companion.AgentType)
	}
	p.logger.Info("sleep-time agent configured", "agent_id", sleeptimeID, "model", spec.SleeptimeModel)

	return Result{
		AgentID:               agent.ID,
		AgentName:             agent.Name,
		ToolID:                tool.ID,
		GroupID:               group.ID,
		SleeptimeAgentID:      sleeptimeID,
		SleeptimeModel:        spec.SleeptimeModel,
		PriorMaxMessageBuffer: group.MaxMessageBufferLength,
		PriorMinMessageBuffer: group.MinMessageBufferLength,
		MaxMessageBuffer:      spec.MaxMessageBuffer,
		MinMessageBuffer:      spec.MinMessageBuffer,
		CreatedAt:             partial.CreatedAt,
	}, nil
}

// Teardown deletes the primary agent. The platform removes the sleep-time
// companion and group with it.
func (p *Provisioner) Teardown(ctx context.Context, agentID string) error {
	if agentID == "" {
		return errors.New("teardown: agent id is required")
	}
	if err := p.platform.DeleteAgent(ctx, agentID); err != nil {
		if letta.IsNotFound(err) {
			p.logger.Warn("agent already gone", "agent_id", agentID)
			return nil
		}
		return fmt.Errorf("teardown: delete agent %s: %w", agentID, err)
	}
	p.logger.Info("agent deleted", "agent_id", agentID)
	return nil
}

// SelectSleeptimeAgent returns the single group member that is not the
// primary agent.
func SelectSleeptimeAgent(agentIDs []string, primaryID string) (string, error) {
	var found string
	for _, id := range agentIDs {
		if id == "" || id == primaryID || id == found {
			continue
		}
		if found != "" {
			return "", fmt.Errorf("%w: %v", ErrAmbiguousSleeptimeAgent, agentIDs)
		}
		found = id
	}
	if found == "" {
		return "", ErrSleeptimeAgentNotFound
	}
	return found, nil
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
