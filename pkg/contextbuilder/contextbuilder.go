// Package contextbuilder implements the Context Builder (C2): assembling
// an ordered message sequence for the LLM from a session's persisted
// steps, rebuilding conversation state from the session transcript on
// every turn rather than keeping a separate in-memory history.
package contextbuilder

import (
	"context"
	"fmt"

	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/step"
)

// Range narrows ListSteps to [Start, End]; zero values mean unbounded.
type Range struct {
	Start int
	End   int
}

// Builder reads steps from a Store and renders them into wire messages.
type Builder struct {
	store session.Store
}

// New constructs a Builder over store.
func New(store session.Store) *Builder {
	return &Builder{store: store}
}

// Build assembles the ordered message sequence for sessionID. When
// systemPrompt is non-empty it is prepended as a synthetic system
// message, never persisted. Never fails on an empty session — it
// returns an empty or system-only sequence instead.
func (b *Builder) Build(ctx context.Context, sessionID string, systemPrompt string, rng Range) ([]step.Message, error) {
	if _, err := b.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("context builder: %w", err)
	}

	steps, err := b.store.ListSteps(ctx, sessionID, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("context builder: list steps: %w", err)
	}

	out := make([]step.Message, 0, len(steps)+1)
	if systemPrompt != "" {
		out = append(out, step.Message{Role: step.RoleSystem, Content: systemPrompt})
	}
	for i := range steps {
		out = append(out, step.StepToMessage(&steps[i]))
	}
	return out, nil
}
