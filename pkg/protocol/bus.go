package protocol

// BusEvent is a progress event carried by the event bus.
type BusEvent interface {
	Message
	busEvent()
}

// ToolEvent covers tool_start, tool_complete and tool_failed. ID pairs a
// start with its outcome; pairing is left to consumers.
type ToolEvent struct {
	Action    Action `json:"action"`
	ID        string `json:"id,omitempty"`
	ToolName  string `json:"toolName"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// TextEvent covers agent_thinking and the stream_* family. Chunks of one
// stream share a MessageID and must be applied in arrival order.
type TextEvent struct {
	Action    Action `json:"action"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text,omitempty"`
	Role      string `json:"role,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewToolStart(id, tool string) ToolEvent {
	return ToolEvent{Action: ActionToolStart, ID: id, ToolName: tool, Timestamp: Timestamp()}
}

func NewToolComplete(id, tool string) ToolEvent {
	return ToolEvent{Action: ActionToolComplete, ID: id, ToolName: tool, Timestamp: Timestamp()}
}

func NewToolFailed(id, tool string, err error) ToolEvent {
	ev := ToolEvent{Action: ActionToolFailed, ID: id, ToolName: tool, Timestamp: Timestamp()}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func NewAgentThinking(text string) TextEvent {
	return TextEvent{Action: ActionAgentThinking, Text: text, Timestamp: Timestamp()}
}

func NewStreamStart(messageID, role string) TextEvent {
	return TextEvent{Action: ActionStreamStart, MessageID: messageID, Role: role, Timestamp: Timestamp()}
}

func NewStreamChunk(messageID, text string) TextEvent {
	return TextEvent{Action: ActionStreamChunk, MessageID: messageID, Text: text, Timestamp: Timestamp()}
}

func NewStreamEnd(messageID string) TextEvent {
	return TextEvent{Action: ActionStreamEnd, MessageID: messageID, Timestamp: Timestamp()}
}

func (e ToolEvent) Kind() Action { return e.Action }
func (e TextEvent) Kind() Action { return e.Action }

func (Connected) busEvent() {}
func (ToolEvent) busEvent() {}
func (TextEvent) busEvent() {}
