package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// UpdateType tags the entries of an execution stream.
type UpdateType string

const (
	// UpdateProgress reports that an individual call started or finished.
	UpdateProgress UpdateType = "tool_call_progress"

	// UpdateResults carries the final result batch and closes the stream.
	UpdateResults UpdateType = "final_tool_results"
)

// ProgressStatus is the per-call state carried by progress updates.
type ProgressStatus string

const (
	ProgressRunning ProgressStatus = "running"
	ProgressDone    ProgressStatus = "done"
	ProgressError   ProgressStatus = "error"
)

// Update is one entry of an execution stream: per-call progress while the
// batch runs, then exactly one final entry with all results.
type Update struct {
	Type UpdateType

	// Progress fields. Duration is set on completion entries only.
	ToolName string
	CallID   string
	Status   ProgressStatus
	Duration time.Duration

	// Final batch, in the order of the input calls.
	Results []Result
}

// Executor runs a batch of validated calls against the tool backends and
// streams progress as it goes. Implementations must emit exactly one
// UpdateResults entry before closing the channel, must preserve input order
// in the final batch, and must report per-call failures as error-marker
// results rather than aborting the batch.
type Executor interface {
	Execute(ctx context.Context, calls []Call) <-chan Update
}

// Handler executes a single tool invocation. A returned error or a result
// string already carrying the error marker both count as failure.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// RegistryExecutor dispatches calls to locally registered handlers. It runs
// the batch sequentially: device-control calls frequently depend on earlier
// context fetches in the same turn, so order is part of the contract.
type RegistryExecutor struct {
	handlers map[string]Handler
}

// NewRegistryExecutor creates an executor with the given handler set.
func NewRegistryExecutor(handlers map[string]Handler) *RegistryExecutor {
	if handlers == nil {
		handlers = map[string]Handler{}
	}
	return &RegistryExecutor{handlers: handlers}
}

// Register adds or replaces the handler for a tool. Not safe to call after
// Execute streams have been started.
func (e *RegistryExecutor) Register(name string, h Handler) {
	e.handlers[name] = h
}

// Execute runs the batch and streams updates. Cancellation stops between
// calls; an in-flight handler observes ctx itself.
func (e *RegistryExecutor) Execute(ctx context.Context, calls []Call) <-chan Update {
	updates := make(chan Update, len(calls)*2+1)

	go func() {
		defer close(updates)

		results := make([]Result, 0, len(calls))
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				results = append(results, NewResult(call.ID, fmt.Sprintf("%s execution cancelled: %v", ErrorMarker, err)))
				continue
			}

			updates <- Update{Type: UpdateProgress, ToolName: call.Name, CallID: call.ID, Status: ProgressRunning}

			start := time.Now()
			result := e.runOne(ctx, call)
			elapsed := time.Since(start)
			results = append(results, result)

			status := ProgressDone
			if result.IsError() {
				status = ProgressError
			}
			updates <- Update{Type: UpdateProgress, ToolName: call.Name, CallID: call.ID, Status: status, Duration: elapsed}
		}

		updates <- Update{Type: UpdateResults, Results: results}
	}()

	return updates
}

func (e *RegistryExecutor) runOne(ctx context.Context, call Call) Result {
	handler, ok := e.handlers[call.Name]
	if !ok {
		slog.Warn("tools: no handler registered", "tool", call.Name)
		return NewResult(call.ID, fmt.Sprintf("%s unknown tool %q", ErrorMarker, call.Name))
	}

	args, err := call.Args()
	if err != nil {
		return NewResult(call.ID, ErrorMarker+" invalid tool arguments (malformed JSON)")
	}

	start := time.Now()
	content, err := handler(ctx, args)
	elapsed := time.Since(start)

	if err != nil {
		slog.Warn("tools: execution failed", "tool", call.Name, "duration", elapsed, "error", err)
		return NewResult(call.ID, fmt.Sprintf("%s %v", ErrorMarker, err))
	}

	slog.Debug("tools: execution completed", "tool", call.Name, "duration", elapsed)
	return NewResult(call.ID, content)
}

// CollectResults drains an execution stream, forwarding progress entries to
// onProgress (which may be nil) and returning the final batch.
func CollectResults(updates <-chan Update, onProgress func(Update)) []Result {
	for u := range updates {
		switch u.Type {
		case UpdateProgress:
			if onProgress != nil {
				onProgress(u)
			}
		case UpdateResults:
			return u.Results
		}
	}
	return nil
}
