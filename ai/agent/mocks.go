package agent

import (
	"context"
	"sync"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
	"github.com/vocalis-ai/vocalis/ai/tools"
)

// MockLLM is a scriptable llm.Service for tests. Behavior is supplied via
// function fields; unset fields yield empty defaults. Invocation counts and
// the last message slice seen are recorded for assertions.
type MockLLM struct {
	mu sync.Mutex

	ChatFn       func(ctx context.Context, messages []llm.Message) (string, *llm.LLMCallStats, error)
	StreamFn     func(ctx context.Context, messages []llm.Message) []string
	ToolStreamFn func(ctx context.Context, messages []llm.Message, descs []llm.ToolDescriptor) []llm.StreamEvent

	ChatCalls       int
	StreamCalls     int
	ToolStreamCalls int
	LastMessages    []llm.Message
}

func (m *MockLLM) record(messages []llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastMessages = append([]llm.Message(nil), messages...)
}

func (m *MockLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.LLMCallStats, error) {
	m.mu.Lock()
	m.ChatCalls++
	m.mu.Unlock()
	m.record(messages)
	if m.ChatFn != nil {
		return m.ChatFn(ctx, messages)
	}
	return "", &llm.LLMCallStats{}, nil
}

func (m *MockLLM) ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan *llm.LLMCallStats, <-chan error) {
	m.mu.Lock()
	m.StreamCalls++
	m.mu.Unlock()
	m.record(messages)

	contentChan := make(chan string, 64)
	statsChan := make(chan *llm.LLMCallStats, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(statsChan)
		defer close(errChan)
		if m.StreamFn != nil {
			for _, chunk := range m.StreamFn(ctx, messages) {
				select {
				case contentChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
		statsChan <- &llm.LLMCallStats{}
	}()

	return contentChan, statsChan, errChan
}

func (m *MockLLM) ChatToolStream(ctx context.Context, messages []llm.Message, descs []llm.ToolDescriptor) <-chan llm.StreamEvent {
	m.mu.Lock()
	m.ToolStreamCalls++
	m.mu.Unlock()
	m.record(messages)

	events := make(chan llm.StreamEvent, 64)
	go func() {
		defer close(events)
		if m.ToolStreamFn == nil {
			events <- llm.StreamEvent{Type: llm.EventDone, Stats: &llm.LLMCallStats{}}
			return
		}
		for _, ev := range m.ToolStreamFn(ctx, messages, descs) {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}

func (m *MockLLM) Warmup(context.Context) {}

// Counts returns the invocation counters under the lock.
func (m *MockLLM) Counts() (chat, stream, toolStream int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ChatCalls, m.StreamCalls, m.ToolStreamCalls
}

// ToolBatchEvents scripts a tool stream that proposes one batch of calls.
func ToolBatchEvents(calls ...llm.ToolCall) []llm.StreamEvent {
	return []llm.StreamEvent{
		{Type: llm.EventToolCallBatch, ToolCalls: calls},
		{Type: llm.EventDone, Stats: &llm.LLMCallStats{}},
	}
}

// NativeCall builds a wire-level tool call for scripting mocks.
func NativeCall(id, name, arguments string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: arguments}}
}

// MockExecutor is a scriptable tools.Executor. RunFn maps a batch to its
// results; every executed batch is recorded in order.
type MockExecutor struct {
	mu sync.Mutex

	RunFn func(calls []tools.Call) []tools.Result

	Batches [][]tools.Call
}

func (m *MockExecutor) Execute(ctx context.Context, calls []tools.Call) <-chan tools.Update {
	m.mu.Lock()
	m.Batches = append(m.Batches, append([]tools.Call(nil), calls...))
	m.mu.Unlock()

	updates := make(chan tools.Update, len(calls)*2+1)
	go func() {
		defer close(updates)
		for _, c := range calls {
			updates <- tools.Update{Type: tools.UpdateProgress, ToolName: c.Name, CallID: c.ID, Status: tools.ProgressRunning}
		}
		var results []tools.Result
		if m.RunFn != nil {
			results = m.RunFn(calls)
		} else {
			for _, c := range calls {
				results = append(results, tools.NewResult(c.ID, "ok"))
			}
		}
		updates <- tools.Update{Type: tools.UpdateResults, Results: results}
	}()
	return updates
}

// BatchCount returns how many batches were executed.
func (m *MockExecutor) BatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Batches)
}

// BatchNames returns the tool names of the i-th executed batch.
func (m *MockExecutor) BatchNames(i int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.Batches) {
		return nil
	}
	names := make([]string, len(m.Batches[i]))
	for j, c := range m.Batches[i] {
		names[j] = c.Name
	}
	return names
}
