package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/checkpoint"
	"github.com/agio-run/agio/pkg/config"
	"github.com/agio-run/agio/pkg/control"
	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/llm"
	"github.com/agio-run/agio/pkg/run"
	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/tool"
	"github.com/agio-run/agio/pkg/trace"
)

type greeterModel struct{}

func (greeterModel) Name() string           { return "greeter" }
func (greeterModel) Provider() llm.Provider { return llm.ProviderUnknown }
func (greeterModel) Close() error           { return nil }

func (greeterModel) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Chunk, error] {
	return func(yield func(*llm.Chunk, error) bool) {
		yield(&llm.Chunk{ContentDelta: "Hello!", Partial: false}, nil)
	}
}

type fakeResolver struct{}

func (fakeResolver) Resolve(agentID string) (llm.Model, *tool.Registry, string, error) {
	if agentID != "assistant" {
		return nil, nil, "", fmt.Errorf("server: unknown agent %q", agentID)
	}
	return greeterModel{}, tool.NewRegistry(), "You are helpful.", nil
}

func newTestServer(t *testing.T) *Server {
	store := session.NewInMemoryStore()
	bus := event.NewBus(64, nil)
	ctrl := control.New()
	coordinator := run.New(store, bus, ctrl, nil)
	checkpoints := checkpoint.New(store)
	traces := trace.NewMemorySink()
	return New(coordinator, checkpoints, store, bus, traces, fakeResolver{}, config.Default(), nil)
}

func TestHandleRunNonStreamingReturnsCompletedRun(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"query":"hi","stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/assistant/run", body)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "completed", got["status"])
}

func TestHandleRunUnknownAgentReturns404(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"query":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/nope/run", body)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListStepsAfterRun(t *testing.T) {
	s := newTestServer(t)
	runBody := strings.NewReader(`{"query":"hi","stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/assistant/run", runBody)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var runResult map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runResult))
	sessionID := runResult["session_id"].(string)

	stepsReq := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/steps", nil)
	stepsRec := httptest.NewRecorder()
	s.ServeHTTP(stepsRec, stepsReq)

	require.Equal(t, http.StatusOK, stepsRec.Code)
	var steps []map[string]any
	require.NoError(t, json.Unmarshal(stepsRec.Body.Bytes(), &steps))
	require.Len(t, steps, 2)
}

// TestTraceIsCollectedForEveryRun verifies the Trace Collector (C10) is
// always wired in, not just reachable from a test that spawns one by
// hand: a plain POST /agents/{id}/run must leave a trace behind for
// GET /traces/{run_id}, since collection happens in the background.
func TestTraceIsCollectedForEveryRun(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"query":"hi","stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/assistant/run", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var runResult map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runResult))
	runID := runResult["run_id"].(string)

	require.Eventually(t, func() bool {
		return s.traces.Get(runID) != nil
	}, time.Second, 5*time.Millisecond, "trace collector must persist a span tree for every completed run")

	traceReq := httptest.NewRequest(http.MethodGet, "/traces/"+runID, nil)
	traceRec := httptest.NewRecorder()
	s.ServeHTTP(traceRec, traceReq)
	assert.Equal(t, http.StatusOK, traceRec.Code)
}

func TestHandleForkBeyondLastPersistedReturns400(t *testing.T) {
	s := newTestServer(t)
	sess, err := s.store.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	body := strings.NewReader(`{"at_sequence":5}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/fork", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// flushRecorder adapts httptest.ResponseRecorder to http.Flusher so the
// SSE handler's flusher type assertion succeeds in tests.
type flushRecorder struct {
	*httptest.ResponseRecorder
}

func (f *flushRecorder) Flush() {}

func TestHandleRunStreamingEmitsSSEFrames(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"query":"hi","stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/assistant/run", body)
	rec := &flushRecorder{httptest.NewRecorder()}

	s.ServeHTTP(rec, req)

	scanner := bufio.NewScanner(rec.Body)
	var sawRunStarted, sawRunCompleted bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: run_started") {
			sawRunStarted = true
		}
		if strings.HasPrefix(line, "event: run_completed") {
			sawRunCompleted = true
		}
	}
	assert.True(t, sawRunStarted)
	assert.True(t, sawRunCompleted)
}
