package protocol

// ClientMessage is a message a live client sends back to the hub. The hub
// treats these as observability only.
type ClientMessage interface {
	Message
	clientMessage()
}

// ExecutionResult acknowledges a load_module or execute.
type ExecutionResult struct {
	Action    Action `json:"action"`
	Name      string `json:"name,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ConsoleLog forwards console output produced by executed code.
type ConsoleLog struct {
	Action    Action `json:"action"`
	Level     string `json:"level"`
	Args      []any  `json:"args"`
	Timestamp int64  `json:"timestamp"`
}

func NewExecutionResult(name string, err error) ExecutionResult {
	r := ExecutionResult{Action: ActionExecutionResult, Name: name, Success: err == nil, Timestamp: Timestamp()}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func NewConsoleLog(level string, args []any) ConsoleLog {
	if args == nil {
		args = []any{}
	}
	return ConsoleLog{Action: ActionConsoleLog, Level: level, Args: args, Timestamp: Timestamp()}
}

func (ExecutionResult) Kind() Action { return ActionExecutionResult }
func (ConsoleLog) Kind() Action      { return ActionConsoleLog }

func (ExecutionResult) clientMessage() {}
func (ConsoleLog) clientMessage()      {}
