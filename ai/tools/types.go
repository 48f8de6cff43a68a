// Package tools defines the tool-call data model shared by the orchestration
// core: proposed calls, execution results, the catalog shown to models, and
// the pre-execution validator.
package tools

import (
	"encoding/json"
	"strings"
)

// ErrorMarker is the designated prefix a tool backend puts on failing result
// content. Batch success checks and the conversational-model guidance both
// key on this exact prefix.
const ErrorMarker = "Error:"

// ContextFetchTool is the zero-argument call that enumerates currently
// controllable devices. Device-control calls are expected to be preceded by
// it, and the orchestrator injects it automatically on device-control
// failures.
const ContextFetchTool = "GetLiveContext"

// CallOrigin distinguishes the two wire conventions a call can arrive in.
type CallOrigin string

const (
	// OriginNative means the model emitted a structured tool call.
	OriginNative CallOrigin = "native"

	// OriginPrompt means the call was recovered from a JSON payload embedded
	// in streamed free text.
	OriginPrompt CallOrigin = "prompt"
)

// Call is a proposed tool invocation. It is immutable once created and is
// consumed exactly once: validated, then executed.
type Call struct {
	ID        string
	Name      string
	Arguments string // raw JSON object

	Origin CallOrigin

	// RawText preserves the original streamed text for prompt-embedded calls.
	RawText string
}

// NewNativeCall builds a Call from a structured model tool call.
func NewNativeCall(id, name, arguments string) Call {
	return Call{ID: id, Name: name, Arguments: arguments, Origin: OriginNative}
}

// NewPromptEmbeddedCall builds a Call recovered from prompt-embedded JSON.
func NewPromptEmbeddedCall(id, name, arguments, rawText string) Call {
	return Call{ID: id, Name: name, Arguments: arguments, Origin: OriginPrompt, RawText: rawText}
}

// Args parses the call's JSON arguments. Empty arguments parse to an empty
// map. A parse failure returns the error from encoding/json.
func (c Call) Args() (map[string]any, error) {
	if strings.TrimSpace(c.Arguments) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ResultStatus reports whether a tool execution succeeded.
type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// Result is the outcome of executing one Call. It is never mutated after
// creation; its ToolCallID always matches the originating Call's ID.
type Result struct {
	ToolCallID string
	Content    string
	Status     ResultStatus
}

// NewResult derives the status from the error-marker convention.
func NewResult(toolCallID, content string) Result {
	status := StatusOK
	if strings.HasPrefix(content, ErrorMarker) {
		status = StatusError
	}
	return Result{ToolCallID: toolCallID, Content: content, Status: status}
}

// IsError reports whether the result content carries the error marker.
func (r Result) IsError() bool {
	return r.Status == StatusError
}

// AllSucceeded reports whether a non-empty batch contains no failing result.
func AllSucceeded(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.IsError() {
			return false
		}
	}
	return true
}
