package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/letta-voice/pkg/config"
	"github.com/vango-go/letta-voice/pkg/provision"
	"github.com/vango-go/letta-voice/pkg/voiceagent"
	"github.com/vango-go/letta-voice/pkg/worker"
)

// app is the state shared by the commands once flags are parsed.
type app struct {
	deps   cliDeps
	stdout io.Writer
	stderr io.Writer

	configFile string
	logLevel   string
	envFiles   []string

	cfg    config.Config
	logger *slog.Logger
}

// WorkerOptions is what the worker needs beyond configuration.
type WorkerOptions struct {
	// AgentID is the primary agent every session talks to. Required.
	AgentID string
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "letta-voice",
		Short: "Letta voice agent: provision the agent and serve voice sessions",
		Long: "letta-voice creates a Letta voice agent with a sleep-time companion, " +
			"then runs a worker that connects room participants to it through " +
			"speech-to-text and text-to-speech. Without a subcommand it runs start.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.start(cmd.Context())
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (toml, yaml or json)")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files loaded without overriding the environment")

	root.AddCommand(
		newStartCmd(a),
		newSetupCmd(a),
		newWorkerCmd(a),
		newTeardownCmd(a),
		newVersionCmd(),
	)
	return root
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Provision a new agent, then serve voice sessions for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.start(cmd.Context())
		},
	}
}

func newSetupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Provision the voice agent and its sleep-time companion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.ValidateSetup(); err != nil {
				return err
			}
			_, err := a.setup(cmd.Context())
			return err
		},
	}
}

func newWorkerCmd(a *app) *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve voice sessions for an existing agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.ValidateWorker(); err != nil {
				return err
			}
			id, err := a.resolveAgentID(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			return a.runWorker(cmd.Context(), WorkerOptions{AgentID: id})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent to serve (default: LETTA_AGENT_ID, then the state file)")
	return cmd
}

func newTeardownCmd(a *app) *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Delete the provisioned agent and clear the state file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Letta.APIKey == "" {
				return errors.New("LETTA_API_KEY is required")
			}
			return a.teardown(cmd.Context(), agentID)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent to delete (default: the state file)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func (a *app) init() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", a.logLevel)
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	if a.deps.loadEnv != nil {
		if err := a.deps.loadEnv(a.envFiles...); err != nil {
			return err
		}
	}
	if a.deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	cfg, err := a.deps.loadConfig(a.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	if cfg.ConfigFile != "" {
		a.logger.Debug("config file loaded", "path", cfg.ConfigFile)
	}
	return nil
}

// start is setup followed by the worker, with the new agent id handed over
// directly.
func (a *app) start(ctx context.Context) error {
	if err := a.cfg.ValidateSetup(); err != nil {
		return err
	}
	if err := a.cfg.ValidateWorker(); err != nil {
		return err
	}
	res, err := a.setup(ctx)
	if err != nil {
		return err
	}
	return a.runWorker(ctx, WorkerOptions{AgentID: res.AgentID})
}

func (a *app) setup(ctx context.Context) (provision.Result, error) {
	store, err := provision.NewStore(a.cfg.StatePath)
	if err != nil {
		return provision.Result{}, err
	}

	spec := provision.DefaultSpec()
	spec.Model = a.cfg.Letta.AgentModel
	spec.SleeptimeModel = a.cfg.Letta.SleeptimeModel

	p := provision.NewProvisioner(a.deps.newPlatform(a.cfg), a.logger)
	res, err := p.Provision(ctx, spec)
	if err != nil {
		if res.AgentID == "" {
			return provision.Result{}, err
		}
		if saveErr := store.Save(ctx, res.Record()); saveErr != nil {
			return provision.Result{}, fmt.Errorf("%w (agent %s was created but could not be recorded: %v)", err, res.AgentID, saveErr)
		}
		return provision.Result{}, fmt.Errorf("%w (agent %s recorded in %s; run teardown to remove it)", err, res.AgentID, store.Path())
	}
	if err := store.Save(ctx, res.Record()); err != nil {
		return provision.Result{}, fmt.Errorf("save state: %w", err)
	}
	a.logger.Info("provisioning complete",
		"agent_id", res.AgentID,
		"sleeptime_agent_id", res.SleeptimeAgentID,
		"state", store.Path(),
	)
	fmt.Fprintf(a.stdout, "agent_id=%s\nsleeptime_agent_id=%s\ngroup_id=%s\n", res.AgentID, res.SleeptimeAgentID, res.GroupID)
	return res, nil
}

// resolveAgentID picks the agent id from the flag, then LETTA_AGENT_ID,
// then the state file.
func (a *app) resolveAgentID(ctx context.Context, flag string) (string, error) {
	if id := strings.TrimSpace(flag); id != "" {
		return id, nil
	}
	if a.cfg.Letta.AgentID != "" {
		return a.cfg.Letta.AgentID, nil
	}
	store, err := provision.NewStore(a.cfg.StatePath)
	if err != nil {
		return "", err
	}
	rec, err := store.Load(ctx)
	if errors.Is(err, provision.ErrNoRecord) {
		return "", errors.New("no agent id: pass --agent-id, set LETTA_AGENT_ID or run setup first")
	}
	if err != nil {
		return "", fmt.Errorf("load state: %w", err)
	}
	if rec.Incomplete {
		return "", fmt.Errorf("agent %s comes from a setup that did not finish: run teardown, then setup", rec.AgentID)
	}
	return rec.AgentID, nil
}

func (a *app) runWorker(ctx context.Context, opts WorkerOptions) error {
	if strings.TrimSpace(opts.AgentID) == "" {
		return voiceagent.ErrMissingAgentID
	}
	entry := a.deps.newEntrypoint(a.cfg, opts.AgentID, a.logger)
	w := worker.New(a.cfg.Worker, entry, worker.WithLogger(a.logger))
	a.logger.Info("starting worker",
		"addr", a.cfg.Worker.Addr,
		"agent_id", opts.AgentID,
		"stt", a.cfg.Voice.STTProvider,
	)
	if err := a.deps.serve(ctx, w); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (a *app) teardown(ctx context.Context, agentID string) error {
	store, err := provision.NewStore(a.cfg.StatePath)
	if err != nil {
		return err
	}
	rec, err := store.Load(ctx)
	if err != nil && !errors.Is(err, provision.ErrNoRecord) {
		return fmt.Errorf("load state: %w", err)
	}

	id := strings.TrimSpace(agentID)
	if id == "" {
		id = rec.AgentID
	}
	if id == "" {
		return errors.New("nothing to tear down: no --agent-id and no provisioned agent")
	}

	p := provision.NewProvisioner(a.deps.newPlatform(a.cfg), a.logger)
	if err := p.Teardown(ctx, id); err != nil {
		return err
	}
	if id == rec.AgentID {
		if err := store.Clear(ctx); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
	}
	fmt.Fprintf(a.stdout, "deleted agent %s\n", id)
	return nil
}
