package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agio-run/agio/pkg/control"
	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/run"
	"github.com/agio-run/agio/pkg/session"
)

// ResumeCmd resumes a run whose last step is a pending tool call.
// It builds a fresh, empty in-memory Session Store on every
// invocation, so it does not find sessions created by an earlier
// process (including an earlier `agio run`).
type ResumeCmd struct {
	RunID        string `arg:"" help:"The run id to resume."`
	SessionID    string `arg:"" help:"The session id the run belongs to."`
	Agent        string `help:"Agent id to resume against." default:"assistant"`
	SystemPrompt string `name:"system-prompt" help:"System prompt for the agent." default:"You are a helpful assistant."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
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

	store := session.NewInMemoryStore()
	bus := event.NewBus(cfg.EventQueueSize, nil)
	ctrl := control.New()
	coordinator := run.New(store, bus, ctrl, nil)

	resolver, err := newSingleAgentResolver(c.Agent, c.SystemPrompt)
	if err != nil {
		return withExitCode(exitConfigError, err)
	}
	model, tools, systemPrompt, err := resolver.Resolve(c.Agent)
	if err != nil {
		return withExitCode(exitConfigError, err)
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

	sub := bus.Subscribe(c.RunID)
	defer sub.Unsubscribe()
	go func() {
		for ev := range sub.Events() {
			data, _ := json.Marshal(ev)
			fmt.Println(string(data))
		}
	}()

	result, err := coordinator.Resume(ctx, c.RunID, c.SessionID, runCfg)
	if err != nil {
		return withExitCode(exitRunFailed, err)
	}
	return exitForTermination(result)
}
