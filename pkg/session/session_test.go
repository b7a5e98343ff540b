package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/step"
)

func TestAppendStepAssignsDenseSequences(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s, err := store.AppendStep(ctx, sess.ID, step.Step{Role: step.RoleUser, Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, i+1, s.Sequence)
	}

	steps, err := store.ListSteps(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, s := range steps {
		assert.Equal(t, i+1, s.Sequence)
	}
}

func TestAppendStepEnforcesToolPairing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	_, err = store.AppendStep(ctx, sess.ID, step.Step{Role: step.RoleTool, ToolCallID: "missing"})
	require.ErrorIs(t, err, ErrInvariantViolation)

	_, err = store.AppendStep(ctx, sess.ID, step.Step{
		Role:      step.RoleAssistant,
		ToolCalls: []step.ToolCallRef{{CallID: "c1", Name: "add", Arguments: "{}"}},
	})
	require.NoError(t, err)

	_, err = store.AppendStep(ctx, sess.ID, step.Step{Role: step.RoleTool, ToolCallID: "c1"})
	require.NoError(t, err)
}

func TestTruncateSuffix(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.AppendStep(ctx, sess.ID, step.Step{Role: step.RoleUser, Content: "x"})
		require.NoError(t, err)
	}

	deleted, err := store.TruncateSuffix(ctx, sess.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	steps, err := store.ListSteps(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestGetSessionNotFound(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.GetSession(context.Background(), "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
