package step

// Message is the wire shape a Step maps to and from: the minimal record
// most LLM provider SDKs accept for chat-completion style requests. It
// intentionally mirrors OpenAI/Anthropic-compatible message framing
// without depending on any single provider's client library.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// StepToMessage produces the wire record matching the provider format for
// a given Step. Pure: no I/O, no mutation, arguments pass through as the
// original JSON-encoded strings.
func StepToMessage(s *Step) Message {
	msg := Message{
		Role:    s.Role,
		Content: s.Content,
	}
	if s.Role == RoleAssistant && len(s.ToolCalls) > 0 {
		msg.ToolCalls = s.ToolCalls
	}
	if s.Role == RoleTool {
		msg.ToolCallID = s.ToolCallID
		msg.Name = s.ToolName
	}
	return msg
}

// MessageToStep is the inverse of StepToMessage. sequence is not assigned
// here (the Session Store assigns it atomically on append); callers pass
// 0 and let the store overwrite it, or a known value when reconstructing
// for tests.
func MessageToStep(msg Message, sessionID string, sequence int) (*Step, error) {
	switch msg.Role {
	case RoleUser, RoleAssistant, RoleTool:
	default:
		return nil, &ErrMalformedMessage{Reason: "unknown role " + string(msg.Role)}
	}
	if msg.Role == RoleTool && msg.ToolCallID == "" {
		return nil, &ErrMalformedMessage{Reason: "tool role message missing tool_call_id"}
	}
	s := &Step{
		SessionID:  sessionID,
		Sequence:   sequence,
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		ToolName:   msg.Name,
	}
	if msg.Role == RoleAssistant {
		s.ToolCalls = msg.ToolCalls
	}
	return s, nil
}
