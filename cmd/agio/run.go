package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agio-run/agio/pkg/config"
	"github.com/agio-run/agio/pkg/control"
	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/run"
	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/step"
)

// RunCmd runs a single query against the demo agent, printing each
// event as JSON to stdout as it happens (one line per event) and
// exiting with the code matching the run's terminal status.
type RunCmd struct {
	Query        string `arg:"" help:"The user query to run."`
	Agent        string `help:"Agent id to run against." default:"assistant"`
	SystemPrompt string `name:"system-prompt" help:"System prompt for the agent." default:"You are a helpful assistant."`
	SessionID    string `name:"session-id" help:"Existing session id to continue (new session if empty)."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return withExitCode(exitConfigError, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	metrics, meterProvider, err := newMetrics()
	if err != nil {
		return withExitCode(exitConfigError, fmt.Errorf("agio: metrics: %w", err))
	}
	defer func() {
		_ = meterProvider.Shutdown(context.Background())
	}()

	store := session.NewInMemoryStore()
	bus := event.NewBus(cfg.EventQueueSize, nil)
	ctrl := control.New()
	coordinator := run.New(store, bus, ctrl, metrics)

	resolver, err := newSingleAgentResolver(c.Agent, c.SystemPrompt)
	if err != nil {
		return withExitCode(exitConfigError, err)
	}
	model, tools, systemPrompt, err := resolver.Resolve(c.Agent)
	if err != nil {
		return withExitCode(exitConfigError, err)
	}

	sessionID := c.SessionID
	if sessionID == "" {
		sess, err := store.CreateSession(ctx, nil)
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	runCfg := run.DefaultConfig()
	runCfg.AgentID = c.Agent
	runCfg.SystemPrompt = systemPrompt
	runCfg.Model = model
	runCfg.ToolRegistry = tools
	runCfg.Dispatch = cfg.Dispatch()
	runCfg.MaxSteps = cfg.MaxSteps
	runCfg.TimeoutPerStep = cfg.TimeoutPerStep()
	runCfg.TimeoutPerRun = cfg.TimeoutPerRun()

	runID := coordinator.NewRunID()
	sub := bus.Subscribe(runID)
	defer sub.Unsubscribe()

	go func() {
		for ev := range sub.Events() {
			data, _ := json.Marshal(ev)
			fmt.Println(string(data))
		}
	}()

	result, err := coordinator.Run(ctx, runID, sessionID, c.Query, runCfg)
	if err != nil {
		return withExitCode(exitRunFailed, err)
	}
	return exitForTermination(result)
}

// exitForTermination maps a completed Run's termination reason to the
// documented CLI exit code (spec 6).
func exitForTermination(r *step.Run) error {
	switch r.TerminationReason {
	case step.TerminationCancelled:
		return withExitCode(exitCancelled, fmt.Errorf("agio: run cancelled"))
	case step.TerminationTimeout:
		return withExitCode(exitTimeout, fmt.Errorf("agio: run timed out"))
	case step.TerminationError:
		return withExitCode(exitRunFailed, fmt.Errorf("agio: run failed"))
	default:
		return nil
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadYAML(path)
}
