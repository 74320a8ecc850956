package hub

// Event represents a hub lifecycle event.
// Minimal and stable: name + module name and optional fields via key/values.
type Event struct {
	Name   string
	Module string
	Fields map[string]any
}

// Lifecycle event names.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventPushAccepted   = "push_accepted"
	EventPushRejected   = "push_rejected"
	EventModuleRemoved  = "module_removed"
	EventBootstrapSkip  = "bootstrap_skip"
	EventClientReported = "client_reported"
)

// EventPublisher receives events from the hub. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
