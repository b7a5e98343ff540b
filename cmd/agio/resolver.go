package main

import (
	"fmt"

	"github.com/agio-run/agio/pkg/llm"
	"github.com/agio-run/agio/pkg/tool"
)

// singleAgentResolver resolves exactly one agent id to the demo
// echoModel and its tool registry — a stand-in for a real agent
// catalog (YAML-defined agents, a database, etc.), which is outside
// this engine's scope.
type singleAgentResolver struct {
	agentID      string
	model        llm.Model
	tools        *tool.Registry
	systemPrompt string
}

func newSingleAgentResolver(agentID, systemPrompt string) (*singleAgentResolver, error) {
	registry, err := defaultRegistry()
	if err != nil {
		return nil, err
	}
	return &singleAgentResolver{
		agentID:      agentID,
		model:        echoModel{},
		tools:        registry,
		systemPrompt: systemPrompt,
	}, nil
}

func (r *singleAgentResolver) Resolve(agentID string) (llm.Model, *tool.Registry, string, error) {
	if agentID != r.agentID {
		return nil, nil, "", fmt.Errorf("agio: unknown agent %q", agentID)
	}
	return r.model, r.tools, r.systemPrompt, nil
}
