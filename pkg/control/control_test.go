package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartIsIdempotentGuard(t *testing.T) {
	c := New()
	require.NoError(t, c.Start("r1"))
	require.ErrorIs(t, c.Start("r1"), ErrAlreadyRegistered)
}

func TestPauseBlocksAwaitGateUntilResume(t *testing.T) {
	c := New()
	require.NoError(t, c.Start("r1"))
	require.NoError(t, c.Pause("r1"))

	done := make(chan struct{})
	go func() {
		_ = c.AwaitGate(context.Background(), "r1")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("AwaitGate returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, c.Resume("r1"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AwaitGate did not unblock after resume")
	}
}

func TestCancelReleasesGateAndSetsFlag(t *testing.T) {
	c := New()
	require.NoError(t, c.Start("r1"))
	require.NoError(t, c.Pause("r1"))
	require.NoError(t, c.Cancel("r1"))
	assert.True(t, c.IsCancelled("r1"))

	err := c.AwaitGate(context.Background(), "r1")
	require.NoError(t, err)
}
