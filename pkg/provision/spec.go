// Package provision creates the primary voice agent on the Letta platform,
// tunes its sleep-time companion and records the result for the worker.
package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vango-go/letta-voice/pkg/letta"
)

const (
	BlockHuman   = "human"
	BlockPersona = "persona"
)

const defaultHumanBlock = `The user has not provided any information about themselves.
I will need to ask them some questions to learn more about them.

What is their name?
What is their background?
What are their motivations?
What are their goals?
What are their fears? Should I fear them?
What are their strengths?
What are their weaknesses?`

const defaultPersonaBlock = `Act as a roleplay character in a fantasy setting.
I am a wizard who has been studying magic for 100 years.
I am wise and knowledgeable, but I am also a bit eccentric.
I have a pet dragon named Smaug who is very loyal to me.
I am on a quest to find the lost city of Atlantis and uncover its secrets.
I am also a master of the arcane arts and can cast powerful spells to protect myself and my companions.
I am always looking for new adventures and challenges to test my skills and knowledge.`

// RollD20Source is uploaded as-is and runs on the platform, never here.
const RollD20Source = `def roll_d20() -> str:
    """
    Simulate the roll of a 20-sided die (d20).

    This function generates a random integer between 1 and 20, inclusive,
    which represents the outcome of a single roll of a d20.

    Returns:
        str: The result of the die roll.
    """
    import random

    dice_role_outcome = random.randint(1, 20)
    output_string = f"You rolled a {dice_role_outcome}"
    return output_string
`

// ToolSpec is a platform tool registered before the agent is created.
type ToolSpec struct {
	Name        string
	Source      string
	Description string
	Tags        []string
}

// Spec describes the agent to provision.
type Spec struct {
	Name      string
	AgentType string
	Blocks    []letta.Block
	Model     string
	Embedding string
	Tool      ToolSpec

	SleeptimeModel   string
	MaxMessageBuffer int
	MinMessageBuffer int
}

// DefaultSpec returns the wizard persona voice agent.
func DefaultSpec() Spec {
	return Spec{
		Name:      "low_latency_voice_agent_demo",
		AgentType: letta.AgentTypeVoiceConvo,
		Blocks: []letta.Block{
			{Label: BlockHuman, Value: defaultHumanBlock},
			{Label: BlockPersona, Value: defaultPersonaBlock},
		},
		Model:     "Oklo/gemini-2.5-flash-preview-05-20",
		Embedding: "openai/text-embedding-3-small",
		Tool: ToolSpec{
			Name:        "roll_d20",
			Source:      RollD20Source,
			Description: "Simulate the roll of a 20-sided die (d20).",
			Tags:        []string{"voice", "dice"},
		},
		SleeptimeModel:   "anthropic/claude-sonnet-4-20250514",
		MaxMessageBuffer: 10,
		MinMessageBuffer: 6,
	}
}

// Validate checks the spec before any remote call is made.
func (s Spec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("agent name is required"))
	}
	if strings.TrimSpace(s.Model) == "" {
		errs = append(errs, errors.New("agent model is required"))
	}
	if strings.TrimSpace(s.SleeptimeModel) == "" {
		errs = append(errs, errors.New("sleep-time model is required"))
	}
	if len(s.Blocks) != 2 || s.Blocks[0].Label != BlockHuman || s.Blocks[1].Label != BlockPersona {
		errs = append(errs, fmt.Errorf("memory blocks must be exactly [%s %s], got %v", BlockHuman, BlockPersona, blockLabels(s.Blocks)))
	}
	for _, b := range s.Blocks {
		if strings.TrimSpace(b.Value) == "" {
			errs = append(errs, fmt.Errorf("memory block %q is empty", b.Label))
		}
	}
	if strings.TrimSpace(s.Tool.Name) == "" || strings.TrimSpace(s.Tool.Source) == "" {
		errs = append(errs, errors.New("exactly one tool with a name and source is required"))
	}
	if s.MinMessageBuffer <= 0 || s.MaxMessageBuffer <= 0 {
		errs = append(errs, errors.New("message buffer lengths must be > 0"))
	} else if s.MinMessageBuffer >= s.MaxMessageBuffer {
		errs = append(errs, fmt.Errorf("min message buffer (%d) must be < max (%d)", s.MinMessageBuffer, s.MaxMessageBuffer))
	}
	return errors.Join(errs...)
}

// CreateRequest is the agent creation body for this spec.
func (s Spec) CreateRequest() letta.CreateAgentRequest {
	blocks := make([]letta.Block, len(s.Blocks))
	copy(blocks, s.Blocks)
	return letta.CreateAgentRequest{
		Name:                   s.Name,
		AgentType:              s.AgentType,
		MemoryBlocks:           blocks,
		Model:                  s.Model,
		Embedding:              s.Embedding,
		Tools:                  []string{s.Tool.Name},
		EnableSleeptime:        true,
		InitialMessageSequence: []letta.MessageCreate{},
	}
}

func blockLabels(blocks []letta.Block) []string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, b.Label)
	}
	return out
}
