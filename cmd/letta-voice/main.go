// Command letta-voice provisions a Letta voice agent and serves voice
// sessions for it.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/vango-go/letta-voice/internal/dotenv"
	"github.com/vango-go/letta-voice/pkg/config"
	"github.com/vango-go/letta-voice/pkg/letta"
	"github.com/vango-go/letta-voice/pkg/provision"
	"github.com/vango-go/letta-voice/pkg/voiceagent"
	"github.com/vango-go/letta-voice/pkg/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type cliDeps struct {
	loadEnv       func(paths ...string) error
	loadConfig    func(configFile string) (config.Config, error)
	newPlatform   func(cfg config.Config) provision.Platform
	newEntrypoint func(cfg config.Config, agentID string, logger *slog.Logger) worker.Entrypoint
	serve         func(ctx context.Context, w *worker.Worker) error
}

func defaultDeps() cliDeps {
	return cliDeps{
		loadEnv: dotenv.LoadFiles,
		loadConfig: func(configFile string) (config.Config, error) {
			return config.Load(viper.New(), configFile)
		},
		newPlatform: func(cfg config.Config) provision.Platform {
			return provision.NewPlatform(letta.NewClient(cfg.Letta.APIKey,
				letta.WithBaseURL(cfg.Letta.BaseURL),
				letta.WithTimeout(cfg.Letta.RequestTimeout),
			))
		},
		newEntrypoint: func(cfg config.Config, agentID string, logger *slog.Logger) worker.Entrypoint {
			return voiceagent.FromConfig(cfg, agentID, logger).Handler()
		},
		serve: func(ctx context.Context, w *worker.Worker) error {
			return w.ListenAndServe(ctx)
		},
	}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	if args == nil {
		args = []string{}
	}

	root := newRootCmd(&app{deps: deps, stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "letta-voice: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}
