// Package protocol defines the JSON wire vocabulary spoken over the hub and
// event-bus sockets, plus the request/response payloads of the HTTP API.
//
// Each socket channel has its own closed set of messages:
//
//   - HubMessage: server to client code distribution (connected, load_module,
//     execute, cleanup_module).
//   - ClientMessage: client to server observability (execution_result,
//     console_log).
//   - BusEvent: server to client progress reporting (connected, tool_*,
//     agent_thinking, stream_*).
//
// The sets are sealed interfaces; the only way to obtain a value is one of the
// concrete types in this package, and the Decode* functions are the single
// place where an action tag is mapped back to a type.
package protocol

import "time"

// Action is the discriminator carried in every envelope's "action" field.
type Action string

const (
	ActionConnected       Action = "connected"
	ActionLoadModule      Action = "load_module"
	ActionExecute         Action = "execute"
	ActionCleanupModule   Action = "cleanup_module"
	ActionExecutionResult Action = "execution_result"
	ActionConsoleLog      Action = "console_log"
	ActionToolStart       Action = "tool_start"
	ActionToolComplete    Action = "tool_complete"
	ActionToolFailed      Action = "tool_failed"
	ActionAgentThinking   Action = "agent_thinking"
	ActionStreamStart     Action = "stream_start"
	ActionStreamChunk     Action = "stream_chunk"
	ActionStreamEnd       Action = "stream_end"
)

// Message is implemented by every wire type.
type Message interface {
	Kind() Action
}

// now is swapped in tests.
var now = time.Now

// Timestamp returns the current time in unix milliseconds, the unit used by
// every envelope.
func Timestamp() int64 { return now().UnixMilli() }
