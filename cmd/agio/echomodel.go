package main

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/agio-run/agio/pkg/llm"
)

// echoModel is a zero-configuration demo Model: it never calls out to a
// real provider, it just acknowledges the latest user message. A chosen
// production provider is external (per spec 1's "out of scope" note);
// this exists so `agio run` and the server are exercisable without one.
type echoModel struct{}

func (echoModel) Name() string           { return "echo" }
func (echoModel) Provider() llm.Provider { return llm.ProviderUnknown }
func (echoModel) Close() error           { return nil }

func (echoModel) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Chunk, error] {
	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = req.Messages[i].Content
			break
		}
	}
	reply := fmt.Sprintf("You said: %s", strings.TrimSpace(lastUser))

	return func(yield func(*llm.Chunk, error) bool) {
		select {
		case <-ctx.Done():
			yield(nil, ctx.Err())
			return
		default:
		}
		yield(&llm.Chunk{ContentDelta: reply, Partial: false}, nil)
	}
}
