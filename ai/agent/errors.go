package agent

import (
	"fmt"
	"strings"
)

// ValidationError is the terminal outcome of a tool phase whose pending
// calls were rejected before execution. The combined message is fed back to
// the models, never shown to the user raw.
type ValidationError struct {
	Failures []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool call validation failed: %s", strings.Join(e.Failures, "; "))
}

// ExhaustionError is the terminal outcome of a tool phase that ran out of
// retry budget, or whose model stopped proposing calls mid-retry. The
// conversational model is still invoked afterward to explain the failure.
type ExhaustionError struct {
	Attempts int
	Reason   string
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("tool execution exhausted after %d retry attempts: %s", e.Attempts, e.Reason)
}
