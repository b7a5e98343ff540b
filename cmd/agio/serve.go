package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agio-run/agio/pkg/checkpoint"
	"github.com/agio-run/agio/pkg/config"
	"github.com/agio-run/agio/pkg/control"
	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/logger"
	"github.com/agio-run/agio/pkg/run"
	"github.com/agio-run/agio/pkg/server"
	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/trace"
)

// ServeCmd starts the REST/SSE transport (§6) bound to a single
// in-process demo agent.
type ServeCmd struct {
	Addr         string `help:"Address to listen on." default:":8080"`
	Agent        string `help:"Agent id exposed by the server." default:"assistant"`
	SystemPrompt string `name:"system-prompt" help:"System prompt for the agent." default:"You are a helpful assistant."`
	Watch        bool   `help:"Hot-reload the config file on change (requires --config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return withExitCode(exitConfigError, err)
	}

	level := slog.LevelInfo
	switch cli.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	log := logger.New(level)

	metrics, meterProvider, err := newMetrics()
	if err != nil {
		return withExitCode(exitConfigError, fmt.Errorf("agio: metrics: %w", err))
	}
	defer func() {
		_ = meterProvider.Shutdown(context.Background())
	}()

	store := session.NewInMemoryStore()
	bus := event.NewBus(cfg.EventQueueSize, log)
	ctrl := control.New()
	coordinator := run.New(store, bus, ctrl, metrics)
	checkpoints := checkpoint.New(store)
	traces := trace.NewMemorySink()

	resolver, err := newSingleAgentResolver(c.Agent, c.SystemPrompt)
	if err != nil {
		return withExitCode(exitConfigError, err)
	}

	srv := server.New(coordinator, checkpoints, store, bus, traces, resolver, cfg, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", srv)

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if c.Watch {
		if cli.Config == "" {
			return withExitCode(exitConfigError, fmt.Errorf("agio: --watch requires --config"))
		}
		updates, err := config.Watch(watchCtx, cli.Config, log)
		if err != nil {
			return withExitCode(exitConfigError, err)
		}
		go func() {
			for updated := range updates {
				log.Info("config reloaded", "path", cli.Config)
				srv.SetConfig(updated)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    c.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("agio server listening", "addr", c.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return withExitCode(exitRunFailed, err)
		}
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return withExitCode(exitRunFailed, fmt.Errorf("shutdown: %w", err))
		}
	}
	return nil
}
