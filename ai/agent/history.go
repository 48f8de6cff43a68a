package agent

import (
	"sync"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
)

// InterruptMarker is the synthetic user message inserted when the user cuts
// off a response mid-stream.
const InterruptMarker = "[Interrupted by user]"

// toolModelHistoryWindow caps the history passed to the tool-specialized
// model at the most recent 6 messages (3 exchanges). Older tool output in the
// window makes the model reuse stale device identifiers.
const toolModelHistoryWindow = 6

// History is the ordered, append-only message sequence for one session. The
// router owns it for its lifetime; turns are sequential, never parallel, but
// an interrupt signal can arrive from another goroutine, hence the lock.
type History struct {
	mu          sync.Mutex
	messages    []llm.Message
	interrupted bool
}

// NewHistory creates a history, optionally seeded with persisted messages.
func NewHistory(seed []llm.Message) *History {
	return &History{messages: append([]llm.Message(nil), seed...)}
}

// Append adds one message and clears the interrupt latch: a new message
// means a new utterance is in flight.
func (h *History) Append(m llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	h.interrupted = false
}

// All returns a copy of the full history.
func (h *History) All() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]llm.Message(nil), h.messages...)
}

// Len reports the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// RecentForToolModel returns a copy of the trailing window shown to the
// tool-specialized model.
func (h *History) RecentForToolModel() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := len(h.messages) - toolModelHistoryWindow
	if start < 0 {
		start = 0
	}
	return append([]llm.Message(nil), h.messages[start:]...)
}

// MarkInterrupted records a user interruption and reports whether it was
// applied. When partialText is non-empty it is the reply heard so far; it is
// stored truncated with an ellipsis, before the marker. Otherwise the last
// assistant message gets the ellipsis. Idempotent: a second signal before the
// next turn is a no-op.
func (h *History) MarkInterrupted(partialText string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interrupted {
		return false
	}
	h.interrupted = true

	if partialText != "" {
		h.messages = append(h.messages, llm.AssistantMessage(partialText+"..."))
	} else {
		for i := len(h.messages) - 1; i >= 0; i-- {
			if h.messages[i].Role == "assistant" {
				h.messages[i].Content += "..."
				break
			}
		}
	}
	h.messages = append(h.messages, llm.UserMessage(InterruptMarker))
	return true
}
