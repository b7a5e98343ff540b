package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/event"
)

func TestPipelineFeedsOutputForward(t *testing.T) {
	bus := event.NewBus(32, nil)
	stages := []Stage{
		func(_ context.Context, _ string, in string) (string, error) { return in + "-a", nil },
		func(_ context.Context, _ string, in string) (string, error) { return in + "-b", nil },
	}
	out, err := Pipeline(context.Background(), bus, "r1", "s1", "start", stages)
	require.NoError(t, err)
	assert.Equal(t, "start-a-b", out)
}

func TestParallelGathersOutputsInOrder(t *testing.T) {
	bus := event.NewBus(32, nil)
	var mu sync.Mutex
	var started []int
	branches := make([]Stage, 3)
	for i := 0; i < 3; i++ {
		i := i
		branches[i] = func(_ context.Context, _ string, in string) (string, error) {
			mu.Lock()
			started = append(started, i)
			mu.Unlock()
			return fmt.Sprintf("%s-%d", in, i), nil
		}
	}
	out, err := Parallel(context.Background(), bus, "r1", "s1", "x", branches)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "x-0", out[0])
	assert.Equal(t, "x-1", out[1])
	assert.Equal(t, "x-2", out[2])
}

func TestLoopStopsOnPredicate(t *testing.T) {
	bus := event.NewBus(32, nil)
	body := func(_ context.Context, _ string, in string) (string, error) {
		return in + "x", nil
	}
	out, err := Loop(context.Background(), bus, "r1", "s1", "", body, 10, func(out string, _ int) bool {
		return strings.Count(out, "x") >= 3
	})
	require.NoError(t, err)
	assert.Equal(t, "xxx", out)
}

func TestParallelPropagatesBranchError(t *testing.T) {
	bus := event.NewBus(32, nil)
	branches := []Stage{
		func(_ context.Context, _ string, in string) (string, error) { return in, nil },
		func(_ context.Context, _ string, in string) (string, error) { return "", fmt.Errorf("boom") },
	}
	_, err := Parallel(context.Background(), bus, "r1", "s1", "x", branches)
	require.Error(t, err)
}
