// Package server implements the REST/SSE transport (spec 6): a
// chi-routed HTTP API over the Run Coordinator, Session Store,
// Checkpoint Manager and Trace Collector. Route registration and the
// request-logging/recovery middleware follow chi's conventions.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agio-run/agio/pkg/checkpoint"
	"github.com/agio-run/agio/pkg/config"
	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/llm"
	"github.com/agio-run/agio/pkg/run"
	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/tool"
	"github.com/agio-run/agio/pkg/trace"
)

// AgentResolver maps an agent_id to the Model and Tool Registry it
// should run with, so the server stays ignorant of agent configuration
// storage (YAML, database, etc.) — that's cmd/agio's concern.
type AgentResolver interface {
	Resolve(agentID string) (llm.Model, *tool.Registry, string, error) // model, tools, system prompt
}

// Server wires the engine packages behind the REST/SSE surface.
type Server struct {
	coordinator *run.Coordinator
	checkpoints *checkpoint.Manager
	store       session.Store
	bus         *event.Bus
	traces      *trace.MemorySink
	collector   *trace.Collector
	agents      AgentResolver
	cfg         atomic.Value // config.Config
	log         *slog.Logger

	router chi.Router
}

// New constructs a Server and registers its routes. The Trace
// Collector (C10) is constructed internally over bus/traces so every
// run the server executes — not just ones a test drives directly — is
// traced (spec 4.10: "subscribe to the event bus" is not conditional).
func New(coordinator *run.Coordinator, checkpoints *checkpoint.Manager, store session.Store, bus *event.Bus, traces *trace.MemorySink, agents AgentResolver, cfg config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		coordinator: coordinator,
		checkpoints: checkpoints,
		store:       store,
		bus:         bus,
		traces:      traces,
		collector:   trace.New(bus, traces, nil),
		agents:      agents,
		log:         log,
	}
	s.cfg.Store(cfg)
	s.router = s.newRouter()
	return s
}

// startTrace pre-subscribes the Trace Collector to runID before the run
// begins publishing, then drains the resulting span tree into traces in
// the background — the same subscribe-before-goroutine ordering
// streamRun uses for its own SSE subscription (pkg/server/sse.go), so no
// run_started/step/tool event is ever missed regardless of scheduling.
func (s *Server) startTrace(runID string) {
	sub := s.collector.Subscribe(runID)
	go func() {
		_, _ = s.collector.CollectFrom(context.Background(), runID, sub)
	}()
}

// Config returns the currently active configuration.
func (s *Server) Config() config.Config {
	return s.cfg.Load().(config.Config)
}

// SetConfig atomically swaps the active configuration, for use by a
// hot-reload watcher (cmd/agio's `serve --watch`). In-flight requests
// keep whatever snapshot they already read.
func (s *Server) SetConfig(cfg config.Config) {
	s.cfg.Store(cfg)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Post("/agents/{agent_id}/run", s.handleRun)
	r.Post("/sessions/{session_id}/resume", s.handleResume)
	r.Get("/sessions/{session_id}/steps", s.handleListSteps)
	r.Post("/sessions/{session_id}/fork", s.handleFork)
	r.Post("/sessions/{session_id}/retry", s.handleRetry)
	r.Get("/runs/{run_id}", s.handleGetRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/traces/{run_id}", s.handleGetTrace)
	r.Get("/traces/{run_id}/waterfall", s.handleGetTraceWaterfall)

	return r
}

// requestLogger logs method, route pattern and status via slog,
// reading the matched pattern off chi's RouteContext once routing
// completes (no manual path-to-pattern regex needed).
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		s.log.Info("http request",
			"method", r.Method,
			"path", pattern,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
