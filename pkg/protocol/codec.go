package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when an envelope's action does not belong to
// the vocabulary being decoded.
var ErrUnknownAction = errors.New("unknown action")

// Encode marshals a wire message.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return b, nil
}

func peekAction(data []byte) (Action, error) {
	var env struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Action == "" {
		return "", fmt.Errorf("decode envelope: missing action")
	}
	return env.Action, nil
}

func decodeInto[T Message](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// DecodeHub decodes a hub-to-client message.
func DecodeHub(data []byte) (HubMessage, error) {
	action, err := peekAction(data)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionConnected:
		return decodeInto[Connected](data)
	case ActionLoadModule:
		return decodeInto[LoadModule](data)
	case ActionExecute:
		return decodeInto[Execute](data)
	case ActionCleanupModule:
		return decodeInto[CleanupModule](data)
	}
	return nil, fmt.Errorf("hub message %q: %w", action, ErrUnknownAction)
}

// DecodeClient decodes a client-to-hub message.
func DecodeClient(data []byte) (ClientMessage, error) {
	action, err := peekAction(data)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionExecutionResult:
		return decodeInto[ExecutionResult](data)
	case ActionConsoleLog:
		return decodeInto[ConsoleLog](data)
	}
	return nil, fmt.Errorf("client message %q: %w", action, ErrUnknownAction)
}

// DecodeBus decodes an event-bus message.
func DecodeBus(data []byte) (BusEvent, error) {
	action, err := peekAction(data)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionConnected:
		return decodeInto[Connected](data)
	case ActionToolStart, ActionToolComplete, ActionToolFailed:
		return decodeInto[ToolEvent](data)
	case ActionAgentThinking, ActionStreamStart, ActionStreamChunk, ActionStreamEnd:
		return decodeInto[TextEvent](data)
	}
	return nil, fmt.Errorf("bus event %q: %w", action, ErrUnknownAction)
}
