// Package voiceagent is the per-room job: it binds a Letta agent to an agent
// session, greets the room and starts listening.
package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/letta-voice/pkg/agent"
	"github.com/vango-go/letta-voice/pkg/config"
	"github.com/vango-go/letta-voice/pkg/core/llm"
	"github.com/vango-go/letta-voice/pkg/core/voice/stt"
	"github.com/vango-go/letta-voice/pkg/core/voice/tts"
	"github.com/vango-go/letta-voice/pkg/rtc"
	"github.com/vango-go/letta-voice/pkg/worker"
)

// ErrMissingAgentID is returned by Run when no agent id was provided.
var ErrMissingAgentID = errors.New("voiceagent: agent id is required")

// Job is the part of a worker job the entrypoint needs.
type Job interface {
	Room() *rtc.Room
	Connect(ctx context.Context, mode rtc.AutoSubscribe) error
}

// Factories build the adapters for one session.
type Factories struct {
	LLM func(agentID string) (llm.Provider, error)
	STT func() (stt.Provider, error)
	TTS func() (tts.Provider, error)
}

// Entrypoint runs a voice session for each job.
type Entrypoint struct {
	// AgentID is the provisioned primary agent every session talks to.
	AgentID string
	// Greeting is said once the session starts. Empty uses
	// config.DefaultGreeting.
	Greeting string

	Factories Factories
	// Session carries the session tuning. Its adapters are replaced with
	// the ones the factories build.
	Session agent.Options
	Logger  *slog.Logger
}

// Run starts a session in the job's room, greets the room and connects with
// audio-only subscription. The session keeps running after Run returns,
// until ctx ends or the room closes.
func (e *Entrypoint) Run(ctx context.Context, job Job) error {
	if strings.TrimSpace(e.AgentID) == "" {
		return ErrMissingAgentID
	}
	if job == nil || job.Room() == nil {
		return errors.New("voiceagent: job has no room")
	}
	logger := e.jobLogger(job)
	logger = logger.With("agent_id", e.AgentID)

	opts := e.Session
	opts.Logger = logger
	var err error
	if opts.LLM, err = build(e.Factories.LLM == nil, "llm", func() (llm.Provider, error) { return e.Factories.LLM(e.AgentID) }); err != nil {
		return err
	}
	if opts.STT, err = build(e.Factories.STT == nil, "stt", e.Factories.STT); err != nil {
		return err
	}
	if opts.TTS, err = build(e.Factories.TTS == nil, "tts", e.Factories.TTS); err != nil {
		return err
	}

	session, err := agent.NewSession(opts)
	if err != nil {
		return fmt.Errorf("voiceagent: new session: %w", err)
	}
	if err := session.Start(ctx, job.Room(), agent.Agent{Instructions: ""}); err != nil {
		return fmt.Errorf("voiceagent: start session: %w", err)
	}

	greeting := e.Greeting
	if strings.TrimSpace(greeting) == "" {
		greeting = config.DefaultGreeting
	}
	if _, err := session.Say(greeting); err != nil {
		_ = session.Close()
		return fmt.Errorf("voiceagent: greet: %w", err)
	}

	if err := job.Connect(ctx, rtc.AudioOnly); err != nil {
		_ = session.Close()
		return fmt.Errorf("voiceagent: connect: %w", err)
	}
	logger.Info("voice session running",
		"llm", opts.LLM.Name(),
		"stt", opts.STT.Name(),
		"tts", opts.TTS.Name(),
	)
	return nil
}

// Handler adapts Run to the worker.
func (e *Entrypoint) Handler() worker.Entrypoint {
	return func(ctx context.Context, jc *worker.JobContext) error {
		return e.Run(ctx, jc)
	}
}

// jobLogger prefers the job's own scoped logger, which already names the
// room.
func (e *Entrypoint) jobLogger(job Job) *slog.Logger {
	if j, ok := job.(interface{ Logger() *slog.Logger }); ok && j.Logger() != nil {
		return j.Logger()
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger.With("room", job.Room().Name())
}

// build calls a factory. A missing factory yields a nil adapter, which
// agent.NewSession rejects.
func build[T any](missing bool, name string, factory func() (T, error)) (T, error) {
	var zero T
	if missing {
		return zero, nil
	}
	v, err := factory()
	if err != nil {
		return zero, fmt.Errorf("voiceagent: build %s: %w", name, err)
	}
	return v, nil
}
