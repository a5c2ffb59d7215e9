package agentcore

import "fmt"

// BackendError wraps an HTTP/transport failure from a Backend capability.
type BackendError struct {
	Status   int
	Provider string
	Model    string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: provider=%s model=%s status=%d: %v", e.Provider, e.Model, e.Status, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// RateLimitError is the surfaced form of a BackendError with status 429.
type RateLimitError struct {
	Provider string
	Model    string
}

func (e *RateLimitError) Error() string {
	return "rate limits exceeded. Please wait a moment before trying again"
}

// LLMResponseError signals malformed or missing backend data, such as a
// final streaming chunk without usage.
type LLMResponseError struct {
	Reason string
}

func (e *LLMResponseError) Error() string { return "llm response error: " + e.Reason }

// ToolError is a recoverable tool-side domain failure: the loop records it
// in history and continues.
type ToolError struct {
	ToolName string
	Err      error
}

func (e *ToolError) Error() string { return fmt.Sprintf("tool %q failed: %v", e.ToolName, e.Err) }
func (e *ToolError) Unwrap() error { return e.Err }

// ToolPermissionError is a runtime permission denial (e.g. a bash command
// blocked by denylist after argument resolution); classified as rejected.
type ToolPermissionError struct {
	ToolName string
	Reason   string
}

func (e *ToolPermissionError) Error() string {
	return fmt.Sprintf("tool %q denied: %s", e.ToolName, e.Reason)
}

// AgentLoopStateError indicates an internal invariant violation (e.g. a
// dangling tool call history repair could not resolve). Fatal to the loop.
type AgentLoopStateError struct {
	Reason string
}

func (e *AgentLoopStateError) Error() string { return "agent loop state error: " + e.Reason }
