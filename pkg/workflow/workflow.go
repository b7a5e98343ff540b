// Package workflow implements the Workflow Runtime (C11): composite
// runnables built from Run Coordinator calls — pipeline (sequential
// stages), parallel (fan-out branches), and loop (bounded iteration) —
// expressed as plain stage functions over Agio Runs.
package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agio-run/agio/pkg/event"
)

// Stage runs one unit of work (typically a run.Coordinator.Run call
// wrapped by the caller) against sessionID, given input, returning the
// text to feed the next stage/branch.
type Stage func(ctx context.Context, sessionID, input string) (string, error)

// Pipeline runs stages in sequence, feeding stage i's output as stage
// i+1's input query.
func Pipeline(ctx context.Context, bus *event.Bus, runID, sessionID, input string, stages []Stage) (string, error) {
	bus.Publish(event.Event{Kind: event.KindRunStarted, RunID: runID, SessionID: sessionID, WorkflowType: "pipeline", TotalStages: len(stages), Timestamp: time.Now().UTC()})

	current := input
	for i, stage := range stages {
		bus.Publish(event.Event{Kind: event.KindStageStarted, RunID: runID, SessionID: sessionID, StageName: fmt.Sprintf("stage-%d", i), Iteration: i, Timestamp: time.Now().UTC()})
		out, err := stage(ctx, sessionID, current)
		if err != nil {
			bus.Publish(event.Event{Kind: event.KindRunFailed, RunID: runID, SessionID: sessionID, Error: err.Error(), Timestamp: time.Now().UTC()})
			return "", fmt.Errorf("workflow: pipeline stage %d: %w", i, err)
		}
		bus.Publish(event.Event{Kind: event.KindStageCompleted, RunID: runID, SessionID: sessionID, StageName: fmt.Sprintf("stage-%d", i), Iteration: i, Timestamp: time.Now().UTC()})
		current = out
	}

	bus.Publish(event.Event{Kind: event.KindRunCompleted, RunID: runID, SessionID: sessionID, TerminationReason: "done", Timestamp: time.Now().UTC()})
	return current, nil
}

// Parallel fans out branches concurrently with golang.org/x/sync/errgroup
// and gathers their outputs in input order. The first branch error
// cancels the group context, which propagates a cancel signal to
// sibling branches via their own ctx checks.
func Parallel(ctx context.Context, bus *event.Bus, runID, sessionID, input string, branches []Stage) ([]string, error) {
	branchIDs := make([]string, len(branches))
	for i := range branches {
		branchIDs[i] = fmt.Sprintf("branch-%d", i)
	}
	bus.Publish(event.Event{Kind: event.KindRunStarted, RunID: runID, SessionID: sessionID, WorkflowType: "parallel", BranchIDs: branchIDs, Timestamp: time.Now().UTC()})

	g, gctx := errgroup.WithContext(ctx)
	outputs := make([]string, len(branches))

	for i, branch := range branches {
		i, branch := i, branch
		g.Go(func() error {
			bus.Publish(event.Event{Kind: event.KindBranchStarted, RunID: runID, SessionID: sessionID, StageName: branchIDs[i], Timestamp: time.Now().UTC()})
			out, err := branch(gctx, sessionID, input)
			if err != nil {
				return fmt.Errorf("branch %d: %w", i, err)
			}
			outputs[i] = out
			bus.Publish(event.Event{Kind: event.KindBranchCompleted, RunID: runID, SessionID: sessionID, StageName: branchIDs[i], Timestamp: time.Now().UTC()})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		bus.Publish(event.Event{Kind: event.KindRunFailed, RunID: runID, SessionID: sessionID, Error: err.Error(), Timestamp: time.Now().UTC()})
		return nil, fmt.Errorf("workflow: parallel: %w", err)
	}

	bus.Publish(event.Event{Kind: event.KindRunCompleted, RunID: runID, SessionID: sessionID, TerminationReason: "done", Timestamp: time.Now().UTC()})
	return outputs, nil
}

// Predicate decides whether a Loop should stop, given the body's latest
// output and the 0-based iteration number just completed.
type Predicate func(output string, iteration int) bool

// Loop runs body up to maxIterations times, or until predicate returns
// true.
func Loop(ctx context.Context, bus *event.Bus, runID, sessionID, input string, body Stage, maxIterations int, predicate Predicate) (string, error) {
	bus.Publish(event.Event{Kind: event.KindRunStarted, RunID: runID, SessionID: sessionID, WorkflowType: "loop", Timestamp: time.Now().UTC()})

	current := input
	for i := 0; i < maxIterations; i++ {
		bus.Publish(event.Event{Kind: event.KindIterationStarted, RunID: runID, SessionID: sessionID, Iteration: i, Timestamp: time.Now().UTC()})
		out, err := body(ctx, sessionID, current)
		if err != nil {
			bus.Publish(event.Event{Kind: event.KindRunFailed, RunID: runID, SessionID: sessionID, Error: err.Error(), Timestamp: time.Now().UTC()})
			return "", fmt.Errorf("workflow: loop iteration %d: %w", i, err)
		}
		bus.Publish(event.Event{Kind: event.KindIterationCompleted, RunID: runID, SessionID: sessionID, Iteration: i, Timestamp: time.Now().UTC()})
		current = out

		if predicate != nil && predicate(current, i) {
			break
		}
	}

	bus.Publish(event.Event{Kind: event.KindRunCompleted, RunID: runID, SessionID: sessionID, TerminationReason: "done", Timestamp: time.Now().UTC()})
	return current, nil
}

// Sequential is Pipeline degenerate to a single stage.
func Sequential(ctx context.Context, bus *event.Bus, runID, sessionID, input string, stage Stage) (string, error) {
	return Pipeline(ctx, bus, runID, sessionID, input, []Stage{stage})
}
