package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agio-run/agio/pkg/checkpoint"
	"github.com/agio-run/agio/pkg/llm"
	"github.com/agio-run/agio/pkg/run"
	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/step"
	"github.com/agio-run/agio/pkg/tool"
)

type runRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	Stream    bool   `json:"stream"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	model, tools, systemPrompt, err := s.agents.Resolve(agentID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := s.store.CreateSession(r.Context(), nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		sessionID = sess.ID
	}

	cfg := s.runConfig(model, tools, agentID, systemPrompt)
	runID := s.coordinator.NewRunID()
	s.startTrace(runID)

	if req.Stream {
		s.streamRun(w, r, runID, func(ctx context.Context) (*step.Run, error) {
			return s.coordinator.Run(ctx, runID, sessionID, req.Query, cfg)
		})
		return
	}

	result, err := s.coordinator.Run(r.Context(), runID, sessionID, req.Query, cfg)
	writeRunResult(w, result, err)
}

type resumeRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req resumeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	model, tools, systemPrompt, err := s.agents.Resolve(req.AgentID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	cfg := s.runConfig(model, tools, req.AgentID, systemPrompt)
	runID := s.coordinator.NewRunID()
	s.startTrace(runID)

	s.streamRun(w, r, runID, func(ctx context.Context) (*step.Run, error) {
		return s.coordinator.Resume(ctx, runID, sessionID, cfg)
	})
}

func (s *Server) runConfig(model llm.Model, tools *tool.Registry, agentID, systemPrompt string) run.Config {
	cfg := run.DefaultConfig()
	cfg.AgentID = agentID
	cfg.SystemPrompt = systemPrompt
	cfg.Model = model
	cfg.ToolRegistry = tools
	active := s.Config()
	cfg.Dispatch = active.Dispatch()
	cfg.MaxSteps = active.MaxSteps
	cfg.TimeoutPerStep = active.TimeoutPerStep()
	cfg.TimeoutPerRun = active.TimeoutPerRun()
	return cfg
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	steps, err := s.store.ListSteps(r.Context(), sessionID, 1, 0)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

type forkRequest struct {
	AtSequence    int    `json:"at_sequence"`
	Modifications *struct {
		ModifiedQuery string `json:"modified_query"`
	} `json:"modifications,omitempty"`
}

func (s *Server) handleFork(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "session_id")

	var req forkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var mods *checkpoint.Modifications
	if req.Modifications != nil {
		mods = &checkpoint.Modifications{ModifiedQuery: req.Modifications.ModifiedQuery}
	}

	newSessionID, err := s.checkpoints.Fork(r.Context(), sourceID, req.AtSequence, mods)
	if err != nil {
		if errors.Is(err, checkpoint.ErrForkBeyondLastPersisted) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": newSessionID})
}

type retryRequest struct {
	FromSequence int `json:"from_sequence"`
}

// handleRetry implements the supplemented retry endpoint (SPEC_FULL 9.1):
// truncates a session's suffix so the next run continues from there.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	deleted, err := s.checkpoints.Retry(r.Context(), sessionID, req.FromSequence)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted_count": deleted, "session": sess})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	rec, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := session.RunFilter{
		SessionID: q.Get("session_id"),
		AgentID:   q.Get("agent_id"),
		Status:    step.Status(q.Get("status")),
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	span := s.traces.Get(runID)
	if span == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("trace: no trace collected for run %s", runID))
		return
	}
	writeJSON(w, http.StatusOK, span)
}

// handleGetTraceWaterfall flattens the span tree into a list sorted by
// start time — the shape a waterfall UI renders directly.
func (s *Server) handleGetTraceWaterfall(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	root := s.traces.Get(runID)
	if root == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("trace: no trace collected for run %s", runID))
		return
	}
	writeJSON(w, http.StatusOK, flattenWaterfall(root))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrRunNotFound), errors.Is(err, session.ErrCheckpointNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeRunResult(w http.ResponseWriter, result *step.Run, err error) {
	if err != nil && result == nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if result.Status == step.StatusFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

