package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/step"
)

func seedSession(t *testing.T, store session.Store, n int) string {
	ctx := context.Background()
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		role := step.RoleAssistant
		content := "reply"
		if i%2 == 0 {
			role = step.RoleUser
			content = "query"
		}
		_, err := store.AppendStep(ctx, sess.ID, step.Step{Role: role, Content: content})
		require.NoError(t, err)
	}
	return sess.ID
}

func TestForkCopiesPrefixAndIsolatesSource(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	src := seedSession(t, store, 5)

	mgr := New(store)
	newID, err := mgr.Fork(ctx, src, 3, &Modifications{ModifiedQuery: "alternative"})
	require.NoError(t, err)
	assert.NotEqual(t, src, newID)

	newSteps, err := store.ListSteps(ctx, newID, 0, 0)
	require.NoError(t, err)
	require.Len(t, newSteps, 3)
	assert.Equal(t, "alternative", newSteps[2].Content)

	srcSteps, err := store.ListSteps(ctx, src, 0, 0)
	require.NoError(t, err)
	assert.Len(t, srcSteps, 5)
	assert.Equal(t, "query", srcSteps[0].Content)
}

func TestForkBeyondLastPersistedFails(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	src := seedSession(t, store, 2)
	mgr := New(store)
	_, err := mgr.Fork(ctx, src, 10, nil)
	require.ErrorIs(t, err, ErrForkBeyondLastPersisted)
}

func TestRetryTruncatesSuffix(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	src := seedSession(t, store, 4)
	mgr := New(store)
	deleted, err := mgr.Retry(ctx, src, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	steps, err := store.ListSteps(ctx, src, 0, 0)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}
