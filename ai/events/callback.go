// Package events provides the event callback types used to surface turn
// progress (text chunks, acknowledgments, tool progress) to transport layers.
package events

import (
	"log/slog"
	"runtime/debug"
)

// Event types emitted during a conversation turn.
const (
	// TypeText is a user-facing text chunk from a model stream.
	TypeText = "text"

	// TypeAcknowledgment is the canned phrase emitted before tool work starts.
	TypeAcknowledgment = "acknowledgment"

	// TypeToolProgress is an intermediate tool execution progress update.
	TypeToolProgress = "tool_progress"

	// TypeToolRetry signals one spent retry attempt; the data is the attempt
	// number.
	TypeToolRetry = "tool_retry"

	// TypeToolFollowUp signals an executed context-fetch follow-up action.
	TypeToolFollowUp = "tool_follow_up"

	// TypeModelCall reports the statistics of one tool-model invocation.
	TypeModelCall = "model_call"
)

// Callback is the unified event callback type.
// It receives an event type string and arbitrary event data.
type Callback func(eventType string, eventData any) error

// SafeCallback is a callback variant that does not propagate errors.
// Errors are logged internally instead of being returned to callers.
type SafeCallback func(eventType string, eventData any)

// NoopCallback is a callback that does nothing.
var NoopCallback Callback = func(string, any) error { return nil }

// WrapSafe converts a Callback to a SafeCallback.
// Errors from the original callback are logged but not propagated.
// Returns nil if the input callback is nil.
func WrapSafe(cb Callback) SafeCallback {
	if cb == nil {
		return nil
	}
	return func(eventType string, eventData any) {
		if err := cb(eventType, eventData); err != nil {
			slog.Warn("event callback error (swallowed)",
				"event_type", eventType,
				"error", err,
				"stack", string(debug.Stack()))
		}
	}
}
