// Package session implements the Session Store (C8): ordered persistence
// of sessions, steps, runs, checkpoints and LLM call logs. The contract
// is defined by the Store interface; InMemoryStore is the reference
// implementation (serialized append, a per-session step slice indexed by
// sequence, RWMutex-guarded maps).
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agio-run/agio/pkg/step"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown to the store.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrRunNotFound is returned when a run id is unknown to the store.
	ErrRunNotFound = errors.New("session: run not found")
	// ErrCheckpointNotFound is returned when a checkpoint id is unknown.
	ErrCheckpointNotFound = errors.New("session: checkpoint not found")
	// ErrInvariantViolation signals a broken step invariant (I1/I2) and
	// must never be returned to a caller without an accompanying diagnostic.
	ErrInvariantViolation = errors.New("session: invariant violation")
)

// RunFilter narrows ListRuns; zero-value fields are unconstrained.
type RunFilter struct {
	SessionID string
	AgentID   string
	Status    step.Status
}

// LogFilter narrows ListLLMCallLogs; zero-value fields are unconstrained.
type LogFilter struct {
	SessionID string
	RunID     string
}

// Store is the Session Store contract (C8). Every method is atomic per
// call; appends to a single session are serialized with one another.
type Store interface {
	CreateSession(ctx context.Context, metadata map[string]any) (*step.Session, error)
	GetSession(ctx context.Context, id string) (*step.Session, error)

	// AppendStep assigns the next dense sequence number atomically and
	// enforces I2 (tool_call_id must reference an earlier assistant call).
	AppendStep(ctx context.Context, sessionID string, s step.Step) (*step.Step, error)
	ListSteps(ctx context.Context, sessionID string, startSeq, endSeq int) ([]step.Step, error)
	GetLastStep(ctx context.Context, sessionID string) (*step.Step, error)
	// TruncateSuffix deletes steps with sequence >= fromSequence; the
	// only allowed suffix mutation on a session (used by retry).
	TruncateSuffix(ctx context.Context, sessionID string, fromSequence int) (int, error)

	SaveRun(ctx context.Context, r *step.Run) error
	GetRun(ctx context.Context, id string) (*step.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]step.Run, error)

	SaveLLMCallLog(ctx context.Context, l step.LLMCallLog) error
	ListLLMCallLogs(ctx context.Context, filter LogFilter) ([]step.LLMCallLog, error)
	Stats(ctx context.Context, sessionID string) (step.Stats, error)

	SaveCheckpoint(ctx context.Context, c *step.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*step.Checkpoint, error)
	ListCheckpoints(ctx context.Context, runID string) ([]step.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id string) error
}

type sessionRecord struct {
	mu    sync.Mutex // serializes appends/truncation for this session
	sess  step.Session
	steps []step.Step
}

// InMemoryStore is the reference Store implementation: everything lives
// in process memory, guarded by a top-level RWMutex for the session
// index and a per-session mutex for step ordering.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*sessionRecord
	runs        map[string]*step.Run
	logs        []step.LLMCallLog
	checkpoints map[string]*step.Checkpoint
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[string]*sessionRecord),
		runs:        make(map[string]*step.Run),
		checkpoints: make(map[string]*step.Checkpoint),
	}
}

func (m *InMemoryStore) CreateSession(_ context.Context, metadata map[string]any) (*step.Session, error) {
	s := step.Session{
		ID:        uuid.NewString(),
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = &sessionRecord{sess: s}
	m.mu.Unlock()
	out := s
	return &out, nil
}

func (m *InMemoryStore) getRecord(id string) (*sessionRecord, error) {
	m.mu.RLock()
	rec, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

func (m *InMemoryStore) GetSession(_ context.Context, id string) (*step.Session, error) {
	rec, err := m.getRecord(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := rec.sess
	return &out, nil
}

func (m *InMemoryStore) AppendStep(_ context.Context, sessionID string, s step.Step) (*step.Step, error) {
	rec, err := m.getRecord(sessionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if s.Role == step.RoleTool {
		if !hasEarlierCall(rec.steps, s.ToolCallID) {
			return nil, fmt.Errorf("%w: tool step references unknown call_id %q", ErrInvariantViolation, s.ToolCallID)
		}
	}

	s.ID = uuid.NewString()
	s.SessionID = sessionID
	s.Sequence = len(rec.steps) + 1
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	rec.steps = append(rec.steps, s)
	out := s
	return &out, nil
}

func hasEarlierCall(steps []step.Step, callID string) bool {
	for _, s := range steps {
		if s.Role != step.RoleAssistant {
			continue
		}
		for _, tc := range s.ToolCalls {
			if tc.CallID == callID {
				return true
			}
		}
	}
	return false
}

func (m *InMemoryStore) ListSteps(_ context.Context, sessionID string, startSeq, endSeq int) ([]step.Step, error) {
	rec, err := m.getRecord(sessionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if startSeq <= 0 {
		startSeq = 1
	}
	if endSeq <= 0 || endSeq > len(rec.steps) {
		endSeq = len(rec.steps)
	}
	if startSeq > endSeq {
		return []step.Step{}, nil
	}
	out := make([]step.Step, endSeq-startSeq+1)
	copy(out, rec.steps[startSeq-1:endSeq])
	return out, nil
}

func (m *InMemoryStore) GetLastStep(_ context.Context, sessionID string) (*step.Step, error) {
	rec, err := m.getRecord(sessionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.steps) == 0 {
		return nil, nil
	}
	out := rec.steps[len(rec.steps)-1]
	return &out, nil
}

func (m *InMemoryStore) TruncateSuffix(_ context.Context, sessionID string, fromSequence int) (int, error) {
	rec, err := m.getRecord(sessionID)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if fromSequence <= 0 || fromSequence > len(rec.steps) {
		return 0, nil
	}
	deleted := len(rec.steps) - (fromSequence - 1)
	rec.steps = rec.steps[:fromSequence-1]
	return deleted, nil
}

func (m *InMemoryStore) SaveRun(_ context.Context, r *step.Run) error {
	if r.RunID == "" {
		return fmt.Errorf("session: run id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.RunID] = &cp
	return nil
}

func (m *InMemoryStore) GetRun(_ context.Context, id string) (*step.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := *r
	return &out, nil
}

func (m *InMemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]step.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []step.Run
	for _, r := range m.runs {
		if filter.SessionID != "" && r.SessionID != filter.SessionID {
			continue
		}
		if filter.AgentID != "" && r.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *InMemoryStore) SaveLLMCallLog(_ context.Context, l step.LLMCallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func (m *InMemoryStore) ListLLMCallLogs(_ context.Context, filter LogFilter) ([]step.LLMCallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []step.LLMCallLog
	for _, l := range m.logs {
		if filter.SessionID != "" && l.SessionID != filter.SessionID {
			continue
		}
		if filter.RunID != "" && l.RunID != filter.RunID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *InMemoryStore) Stats(_ context.Context, sessionID string) (step.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s step.Stats
	var totalDuration int64
	for _, l := range m.logs {
		if sessionID != "" && l.SessionID != sessionID {
			continue
		}
		s.TotalCalls++
		s.TotalTokens += l.TotalTokens
		if l.Error != "" {
			s.TotalErrors++
		}
		totalDuration += l.DurationMS
	}
	if s.TotalCalls > 0 {
		s.AvgDurationMS = float64(totalDuration) / float64(s.TotalCalls)
	}
	return s, nil
}

func (m *InMemoryStore) SaveCheckpoint(_ context.Context, c *step.Checkpoint) error {
	if c.CheckpointID == "" {
		c.CheckpointID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.checkpoints[c.CheckpointID] = &cp
	return nil
}

func (m *InMemoryStore) GetCheckpoint(_ context.Context, id string) (*step.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checkpoints[id]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	out := *c
	return &out, nil
}

func (m *InMemoryStore) ListCheckpoints(_ context.Context, runID string) ([]step.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []step.Checkpoint
	for _, c := range m.checkpoints {
		if runID != "" && c.RunID != runID {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *InMemoryStore) DeleteCheckpoint(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkpoints[id]; !ok {
		return ErrCheckpointNotFound
	}
	delete(m.checkpoints, id)
	return nil
}

var _ Store = (*InMemoryStore)(nil)
