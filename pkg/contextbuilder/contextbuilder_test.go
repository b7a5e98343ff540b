package contextbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/step"
)

func TestBuildPrependsSystemPrompt(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)
	_, err = store.AppendStep(ctx, sess.ID, step.Step{Role: step.RoleUser, Content: "hi"})
	require.NoError(t, err)

	b := New(store)
	msgs, err := b.Build(ctx, sess.ID, "be nice", Range{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, step.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestBuildEmptySessionNeverFails(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	b := New(store)
	msgs, err := b.Build(ctx, sess.ID, "", Range{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestBuildSessionNotFound(t *testing.T) {
	b := New(session.NewInMemoryStore())
	_, err := b.Build(context.Background(), "nope", "", Range{})
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
