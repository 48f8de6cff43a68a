package llm

import (
	"context"
	"sort"

	"github.com/sashabaranov/go-openai"
)

// StreamEventType discriminates the events a tool-capable stream can carry.
type StreamEventType string

const (
	// EventTextDelta carries an incremental text fragment.
	EventTextDelta StreamEventType = "text_delta"

	// EventToolCallBatch carries the final assembled tool-call batch.
	// At most one batch is emitted per stream, before EventDone.
	EventToolCallBatch StreamEventType = "tool_call_batch"

	// EventToolsUnsupported signals that the provider rejected the tools
	// parameter; callers should fall back to prompt-embedded tool calling.
	EventToolsUnsupported StreamEventType = "tools_unsupported"

	// EventDone terminates the stream and carries the call statistics.
	EventDone StreamEventType = "done"

	// EventError terminates the stream with a transport or provider error.
	EventError StreamEventType = "error"
)

// StreamEvent is one element of a ChatToolStream. Exactly one of the payload
// fields is populated, according to Type.
type StreamEvent struct {
	Type      StreamEventType
	Delta     string
	ToolCalls []ToolCall
	Stats     *LLMCallStats
	Err       error
}

// emit sends an event unless the context is cancelled. Returns false when the
// send was abandoned.
func emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// toolCallAccumulator reassembles streamed tool-call deltas. Providers split
// one call's arguments across many chunks, keyed by the call's index.
type toolCallAccumulator struct {
	byIndex map[int]*ToolCall
	order   []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*ToolCall)}
}

func (a *toolCallAccumulator) add(delta openai.ToolCall) {
	idx := 0
	if delta.Index != nil {
		idx = *delta.Index
	}
	tc, ok := a.byIndex[idx]
	if !ok {
		tc = &ToolCall{}
		a.byIndex[idx] = tc
		a.order = append(a.order, idx)
	}
	if delta.ID != "" {
		tc.ID = delta.ID
	}
	if delta.Type != "" {
		tc.Type = string(delta.Type)
	}
	if delta.Function.Name != "" {
		tc.Function.Name += delta.Function.Name
	}
	if delta.Function.Arguments != "" {
		tc.Function.Arguments += delta.Function.Arguments
	}
}

// calls returns the assembled batch in index order.
func (a *toolCallAccumulator) calls() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	sort.Ints(a.order)
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIndex[idx])
	}
	return out
}
