// Package checkpoint implements Checkpoint & Fork (C7): immutable
// snapshots at chosen points, and forking a session by copying a
// verbatim prefix of another session's steps.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/step"
)

// ErrForkBeyondLastPersisted is returned when forking at a sequence
// past the source session's last persisted step (spec 9, Open Question c).
var ErrForkBeyondLastPersisted = fmt.Errorf("checkpoint: fork_at_sequence exceeds last persisted sequence")

// Manager implements create_checkpoint / fork / retry over a session.Store.
type Manager struct {
	store session.Store
}

// New constructs a Manager over store.
func New(store session.Store) *Manager {
	return &Manager{store: store}
}

// CreateCheckpoint snapshots the session's steps up to atSequence plus
// the given metrics and config snapshot. Stored immutably.
func (m *Manager) CreateCheckpoint(ctx context.Context, runID, sessionID string, atSequence int, phase step.CheckpointPhase, metrics step.Metrics, agentConfig map[string]any) (*step.Checkpoint, error) {
	steps, err := m.store.ListSteps(ctx, sessionID, 1, atSequence)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list steps: %w", err)
	}
	cp := &step.Checkpoint{
		CheckpointID:        uuid.NewString(),
		RunID:               runID,
		AtSequence:           atSequence,
		Phase:                phase,
		CapturedMessages:     steps,
		CapturedMetrics:      metrics,
		AgentConfigSnapshot:  agentConfig,
		CreatedAt:            time.Now().UTC(),
	}
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("checkpoint: save: %w", err)
	}
	return cp, nil
}

// Modifications is the optional mutation applied to the forked
// session's last user step.
type Modifications struct {
	ModifiedQuery string
}

// Fork creates a new session seeded with a verbatim prefix of
// sourceSessionID's steps (steps 1..forkAtSequence, sequences
// preserved). If modifications.ModifiedQuery is set, the last user
// step's content is replaced. The source session is never mutated.
func (m *Manager) Fork(ctx context.Context, sourceSessionID string, forkAtSequence int, mods *Modifications) (string, error) {
	lastStep, err := m.store.GetLastStep(ctx, sourceSessionID)
	if err != nil {
		return "", fmt.Errorf("checkpoint: fork: %w", err)
	}
	lastSeq := 0
	if lastStep != nil {
		lastSeq = lastStep.Sequence
	}
	if forkAtSequence > lastSeq {
		return "", ErrForkBeyondLastPersisted
	}

	srcSteps, err := m.store.ListSteps(ctx, sourceSessionID, 1, forkAtSequence)
	if err != nil {
		return "", fmt.Errorf("checkpoint: fork: list steps: %w", err)
	}

	newSess, err := m.store.CreateSession(ctx, map[string]any{"forked_from": sourceSessionID, "fork_at_sequence": forkAtSequence})
	if err != nil {
		return "", fmt.Errorf("checkpoint: fork: create session: %w", err)
	}

	lastUserIdx := -1
	for i, s := range srcSteps {
		if s.Role == step.RoleUser {
			lastUserIdx = i
		}
	}
	for i, s := range srcSteps {
		if mods != nil && mods.ModifiedQuery != "" && i == lastUserIdx {
			s.Content = mods.ModifiedQuery
		}
		s.ID = ""
		if _, err := m.store.AppendStep(ctx, newSess.ID, s); err != nil {
			return "", fmt.Errorf("checkpoint: fork: copy step %d: %w", s.Sequence, err)
		}
	}

	return newSess.ID, nil
}

// Retry truncates steps with sequence >= fromSequence — the only
// allowed suffix deletion on a session — so the next run continues
// from there.
func (m *Manager) Retry(ctx context.Context, sessionID string, fromSequence int) (int, error) {
	deleted, err := m.store.TruncateSuffix(ctx, sessionID, fromSequence)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: retry: %w", err)
	}
	return deleted, nil
}
