package protocol

// Diagnostic is a compiler finding reported over HTTP.
type Diagnostic struct {
	// 1-based line; 0 when the finding has no position.
	// example: 1
	Line int `json:"line" example:"1"`
	// 1-based column; 0 when the finding has no position.
	// example: 9
	Column int `json:"column" example:"9"`
	// example: Expected ")" but found end of file
	Message string `json:"message" example:"Expected \")\" but found end of file"`
	// error or warning.
	// example: error
	Severity string `json:"severity" example:"error"`
	// Stage that produced the finding: typecheck or lower.
	// example: lower
	Source string `json:"source,omitempty" example:"lower"`
}

// SourceRequest is the body of POST /check and PUT /modules/{name}.
type SourceRequest struct {
	// example: const a = 1 + 1;
	Source string `json:"source" example:"const a = 1 + 1;"`
}

// CheckResponse is returned by POST /check and PUT /modules/{name}.
type CheckResponse struct {
	// False only when the source could not be lowered.
	Success      bool         `json:"success"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
	CompiledText string       `json:"compiledText,omitempty"`
	// Number of hub connections the execute message reached (push only).
	Delivered int `json:"delivered,omitempty"`
}

// ModuleInfo summarizes a registered module for GET /modules.
type ModuleInfo struct {
	// example: m1
	Name string `json:"name" example:"m1"`
	// blake3 hex digest of the source text.
	Hash string `json:"hash"`
	// Unix milliseconds of the last accepted push.
	UpdatedAt int64 `json:"updatedAt"`
	// Whether a compiled form is cached.
	Compiled bool `json:"compiled"`
	// Advisory diagnostics of the last compile.
	Diagnostics int `json:"diagnostics"`
}

// ModuleDetail is returned by GET /modules/{name}.
type ModuleDetail struct {
	ModuleInfo
	Source       string       `json:"source"`
	CompiledText string       `json:"compiledText,omitempty"`
	LastDiags    []Diagnostic `json:"lastDiagnostics"`
}

// ModulesResponse wraps the list returned by GET /modules.
type ModulesResponse struct {
	Modules     []ModuleInfo `json:"modules"`
	Connections int          `json:"connections"`
}

// RemoveResponse is returned by DELETE /modules/{name}.
type RemoveResponse struct {
	Removed   bool `json:"removed"`
	Delivered int  `json:"delivered"`
}

// ReloadResponse is returned by POST /modules/reload.
type ReloadResponse struct {
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
	// Changed sources that failed to lower; their last good version stays live.
	Broken []string `json:"broken"`
}

// PublishResponse is returned by POST /events/publish.
type PublishResponse struct {
	Delivered int `json:"delivered"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
