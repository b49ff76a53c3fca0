package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/letta-voice/pkg/config"
	"github.com/vango-go/letta-voice/pkg/letta"
	"github.com/vango-go/letta-voice/pkg/provision"
	"github.com/vango-go/letta-voice/pkg/worker"
)

type fakePlatform struct {
	mu        sync.Mutex
	createErr error
	groupErr  error
	created   []letta.CreateAgentRequest
	deleted   []string
}

func (f *fakePlatform) UpsertTool(ctx context.Context, req letta.ToolUpsertRequest) (*letta.Tool, error) {
	return &letta.Tool{ID: "tool-1", Name: "roll_d20"}, nil
}

func (f *fakePlatform) CreateAgent(ctx context.Context, req letta.CreateAgentRequest) (*letta.AgentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &letta.AgentState{
		ID:   "agent-1",
		Name: req.Name,
		MultiAgentGroup: &letta.Group{
			ID:       "group-1",
			AgentIDs: []string{"agent-1", "sleeper-1"},
		},
	}, nil
}

func (f *fakePlatform) ModifyGroup(ctx context.Context, groupID string, req letta.GroupUpdateRequest) (*letta.Group, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return &letta.Group{ID: groupID, AgentIDs: []string{"agent-1", "sleeper-1"}}, nil
}

func (f *fakePlatform) ModifyAgent(ctx context.Context, agentID string, req letta.AgentUpdateRequest) (*letta.AgentState, error) {
	return &letta.AgentState{ID: agentID, Model: req.Model}, nil
}

func (f *fakePlatform) DeleteAgent(ctx context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, agentID)
	return nil
}

// harness wires fakes into cliDeps and records what the worker was started
// with.
type harness struct {
	cfg      config.Config
	platform *fakePlatform

	envFiles []string
	served   int
	agentIDs []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		cfg: config.Config{
			Letta: config.Letta{
				APIKey:         "letta-key",
				BaseURL:        "http://127.0.0.1:1",
				AgentModel:     "test/agent-model",
				SleeptimeModel: "test/sleeptime-model",
				RequestTimeout: time.Second,
			},
			Voice: config.Voice{
				STTProvider:     config.STTProviderDeepgram,
				Greeting:        config.DefaultGreeting,
				DeepgramAPIKey:  "dg-key",
				CartesiaAPIKey:  "cartesia-key",
				CartesiaVoiceID: "voice-1",
			},
			Worker:    config.Worker{Addr: "127.0.0.1:0"},
			StatePath: filepath.Join(t.TempDir(), "state.toml"),
		},
		platform: &fakePlatform{},
	}
}

func (h *harness) deps() cliDeps {
	return cliDeps{
		loadEnv: func(paths ...string) error {
			h.envFiles = append(h.envFiles, paths...)
			return nil
		},
		loadConfig: func(string) (config.Config, error) {
			return h.cfg, nil
		},
		newPlatform: func(config.Config) provision.Platform {
			return h.platform
		},
		newEntrypoint: func(cfg config.Config, agentID string, logger *slog.Logger) worker.Entrypoint {
			h.agentIDs = append(h.agentIDs, agentID)
			return func(context.Context, *worker.JobContext) error { return nil }
		},
		serve: func(ctx context.Context, w *worker.Worker) error {
			h.served++
			return nil
		},
	}
}

func (h *harness) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), args, &stdout, &stderr, h.deps())
	return code, stdout.String(), stderr.String()
}

func (h *harness) saveRecord(t *testing.T, agentID string) *provision.Store {
	t.Helper()
	store, err := provision.NewStore(h.cfg.StatePath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save(context.Background(), provision.Record{AgentID: agentID, AgentName: "demo"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return store
}

func TestVersion_SkipsConfig(t *testing.T) {
	h := newHarness(t)
	deps := h.deps()
	deps.loadConfig = func(string) (config.Config, error) {
		t.Fatalf("loadConfig should not run for version")
		return config.Config{}, nil
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"version"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit=%d, want 0 (stderr %q)", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != version {
		t.Fatalf("stdout=%q, want %q", got, version)
	}
}

func TestSetup_ProvisionsAndSavesState(t *testing.T) {
	h := newHarness(t)

	code, stdout, stderr := h.run("setup")
	if code != 0 {
		t.Fatalf("exit=%d, want 0 (stderr %q)", code, stderr)
	}
	if !strings.Contains(stdout, "agent_id=agent-1") || !strings.Contains(stdout, "sleeptime_agent_id=sleeper-1") {
		t.Fatalf("stdout=%q, want agent and sleep-time ids", stdout)
	}
	if len(h.platform.created) != 1 || h.platform.created[0].Model != "test/agent-model" {
		t.Fatalf("created=%+v, want one agent on the configured model", h.platform.created)
	}
	if h.served != 0 {
		t.Fatalf("served=%d, setup must not start the worker", h.served)
	}
	if len(h.envFiles) != 1 || h.envFiles[0] != ".env" {
		t.Fatalf("envFiles=%v, want [.env]", h.envFiles)
	}

	store, err := provision.NewStore(h.cfg.StatePath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.AgentID != "agent-1" || rec.SleeptimeAgentID != "sleeper-1" || rec.GroupID != "group-1" {
		t.Fatalf("record=%+v", rec)
	}
}

func TestSetup_FailureExitsNonZero(t *testing.T) {
	h := newHarness(t)
	h.platform.createErr = errors.New("quota exceeded")

	code, _, stderr := h.run("setup")
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.HasPrefix(stderr, "letta-voice: ") && !strings.Contains(stderr, "\nletta-voice: ") {
		t.Fatalf("stderr=%q, want letta-voice: prefix", stderr)
	}
	if !strings.Contains(stderr, "quota exceeded") {
		t.Fatalf("stderr=%q, want underlying error", stderr)
	}
}

func TestSetup_PartialFailureRecordsAgentForTeardown(t *testing.T) {
	h := newHarness(t)
	h.platform.groupErr = errors.New("group locked")

	code, _, stderr := h.run("setup")
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.Contains(stderr, "agent agent-1 recorded") {
		t.Fatalf("stderr=%q, want the orphaned agent id", stderr)
	}

	code, _, stderr = h.run("worker")
	if code != 1 {
		t.Fatalf("worker exit=%d, want 1", code)
	}
	if !strings.Contains(stderr, "did not finish") {
		t.Fatalf("worker stderr=%q, want incomplete setup error", stderr)
	}
	if h.served != 0 {
		t.Fatalf("served=%d, want 0", h.served)
	}

	code, _, stderr = h.run("teardown")
	if code != 0 {
		t.Fatalf("teardown exit=%d, want 0 (stderr %q)", code, stderr)
	}
	if len(h.platform.deleted) != 1 || h.platform.deleted[0] != "agent-1" {
		t.Fatalf("deleted=%v, want [agent-1]", h.platform.deleted)
	}
}

func TestSetup_RequiresLettaKey(t *testing.T) {
	h := newHarness(t)
	h.cfg.Letta.APIKey = ""

	code, _, stderr := h.run("setup")
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.Contains(stderr, "LETTA_API_KEY") {
		t.Fatalf("stderr=%q, want missing key error", stderr)
	}
}

func TestStart_PassesNewAgentToWorker(t *testing.T) {
	h := newHarness(t)
	h.cfg.Letta.AgentID = "stale-agent"

	code, _, stderr := h.run("start")
	if code != 0 {
		t.Fatalf("exit=%d, want 0 (stderr %q)", code, stderr)
	}
	if h.served != 1 {
		t.Fatalf("served=%d, want 1", h.served)
	}
	if len(h.agentIDs) != 1 || h.agentIDs[0] != "agent-1" {
		t.Fatalf("agentIDs=%v, want [agent-1]", h.agentIDs)
	}
}

func TestRoot_DefaultsToStart(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run()
	if code != 0 {
		t.Fatalf("exit=%d, want 0 (stderr %q)", code, stderr)
	}
	if len(h.platform.created) != 1 || h.served != 1 {
		t.Fatalf("created=%d served=%d, want 1 and 1", len(h.platform.created), h.served)
	}
}

func TestWorker_AgentIDPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		env    string
		stored string
		want   string
	}{
		{name: "flag", args: []string{"--agent-id", "flag-agent"}, env: "env-agent", stored: "state-agent", want: "flag-agent"},
		{name: "env", env: "env-agent", stored: "state-agent", want: "env-agent"},
		{name: "state file", stored: "state-agent", want: "state-agent"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.cfg.Letta.AgentID = tc.env
			if tc.stored != "" {
				h.saveRecord(t, tc.stored)
			}

			code, _, stderr := h.run(append([]string{"worker"}, tc.args...)...)
			if code != 0 {
				t.Fatalf("exit=%d, want 0 (stderr %q)", code, stderr)
			}
			if len(h.agentIDs) != 1 || h.agentIDs[0] != tc.want {
				t.Fatalf("agentIDs=%v, want [%s]", h.agentIDs, tc.want)
			}
			if len(h.platform.created) != 0 {
				t.Fatalf("worker must not provision")
			}
		})
	}
}

func TestWorker_RefusesWithoutAgentID(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run("worker")
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.Contains(stderr, "no agent id") {
		t.Fatalf("stderr=%q, want missing agent id error", stderr)
	}
	if h.served != 0 {
		t.Fatalf("served=%d, want 0", h.served)
	}
}

func TestWorker_RequiresSpeechKeys(t *testing.T) {
	h := newHarness(t)
	h.cfg.Voice.DeepgramAPIKey = ""

	code, _, stderr := h.run("worker", "--agent-id", "agent-1")
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.Contains(stderr, "DEEPGRAM_API_KEY") {
		t.Fatalf("stderr=%q, want missing key error", stderr)
	}
}

func TestTeardown_DeletesRecordedAgent(t *testing.T) {
	h := newHarness(t)
	store := h.saveRecord(t, "agent-7")

	code, stdout, stderr := h.run("teardown")
	if code != 0 {
		t.Fatalf("exit=%d, want 0 (stderr %q)", code, stderr)
	}
	if len(h.platform.deleted) != 1 || h.platform.deleted[0] != "agent-7" {
		t.Fatalf("deleted=%v, want [agent-7]", h.platform.deleted)
	}
	if !strings.Contains(stdout, "deleted agent agent-7") {
		t.Fatalf("stdout=%q", stdout)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, provision.ErrNoRecord) {
		t.Fatalf("Load err=%v, want ErrNoRecord", err)
	}
}

func TestTeardown_NothingProvisioned(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run("teardown")
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.Contains(stderr, "nothing to tear down") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run("--log-level", "loud", "setup")
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.Contains(stderr, "--log-level") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestConfigLoadFailure(t *testing.T) {
	h := newHarness(t)
	deps := h.deps()
	deps.loadConfig = func(string) (config.Config, error) {
		return config.Config{}, errors.New("LETTA_VOICE_WORKER_ADDR must not be empty")
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"worker"}, &stdout, &stderr, deps)
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "load config") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}
