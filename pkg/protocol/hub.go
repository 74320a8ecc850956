package protocol

// HubMessage is a message the distribution hub sends to a live client.
type HubMessage interface {
	Message
	hubMessage()
}

// Connected is the handshake sent once per connection. The event bus reuses
// it as its greeting.
type Connected struct {
	Action    Action `json:"action"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// LoadModule replays an existing module to one freshly connected client.
type LoadModule struct {
	Action       Action `json:"action"`
	Name         string `json:"name"`
	CompiledText string `json:"compiledText"`
	Timestamp    int64  `json:"timestamp"`
}

// Execute announces a new or updated module to every client.
type Execute struct {
	Action       Action `json:"action"`
	Name         string `json:"name"`
	CompiledText string `json:"compiledText"`
	Timestamp    int64  `json:"timestamp"`
}

// CleanupModule tells clients to dispose everything a module created.
type CleanupModule struct {
	Action    Action `json:"action"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

func NewConnected(msg string) Connected {
	return Connected{Action: ActionConnected, Message: msg, Timestamp: Timestamp()}
}

func NewLoadModule(name, compiled string) LoadModule {
	return LoadModule{Action: ActionLoadModule, Name: name, CompiledText: compiled, Timestamp: Timestamp()}
}

func NewExecute(name, compiled string) Execute {
	return Execute{Action: ActionExecute, Name: name, CompiledText: compiled, Timestamp: Timestamp()}
}

func NewCleanupModule(name string) CleanupModule {
	return CleanupModule{Action: ActionCleanupModule, Name: name, Timestamp: Timestamp()}
}

func (Connected) Kind() Action     { return ActionConnected }
func (LoadModule) Kind() Action    { return ActionLoadModule }
func (Execute) Kind() Action       { return ActionExecute }
func (CleanupModule) Kind() Action { return ActionCleanupModule }

func (Connected) hubMessage()     {}
func (LoadModule) hubMessage()    {}
func (Execute) hubMessage()       {}
func (CleanupModule) hubMessage() {}
