package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepToMessageRoundTrip(t *testing.T) {
	s := &Step{
		SessionID: "sess-1",
		Sequence:  2,
		Role:      RoleAssistant,
		Content:   "",
		ToolCalls: []ToolCallRef{{CallID: "c1", Name: "add", Arguments: `{"a":1,"b":2}`}},
	}
	msg := StepToMessage(s)
	got, err := MessageToStep(msg, s.SessionID, s.Sequence)
	require.NoError(t, err)
	assert.Equal(t, s.Role, got.Role)
	assert.Equal(t, s.ToolCalls, got.ToolCalls)
}

func TestMessageToStepRejectsUnknownRole(t *testing.T) {
	_, err := MessageToStep(Message{Role: "system"}, "s", 1)
	require.Error(t, err)
}

func TestMessageToStepRequiresToolCallID(t *testing.T) {
	_, err := MessageToStep(Message{Role: RoleTool}, "s", 1)
	require.Error(t, err)
}
