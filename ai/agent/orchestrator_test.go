package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
	"github.com/vocalis-ai/vocalis/ai/events"
	"github.com/vocalis-ai/vocalis/ai/tools"
)

// recordingSleeper captures backoff delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(context.Context, time.Duration) error { return nil }

func (r *recordingSleeper) capture() Sleeper {
	return func(_ context.Context, d time.Duration) error {
		r.delays = append(r.delays, d)
		return nil
	}
}

func newTestOrchestrator(exec tools.Executor, model llm.Service, sleeper Sleeper) *Orchestrator {
	return NewOrchestrator(tools.NewValidator(), exec, model, WithSleeper(sleeper))
}

func TestOrchestrator_SuccessFirstAttempt(t *testing.T) {
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			return []tools.Result{tools.NewResult(calls[0].ID, "14:30")}
		},
	}
	model := &MockLLM{}
	sl := &recordingSleeper{}
	o := newTestOrchestrator(exec, model, sl.capture())

	result, err := o.Run(context.Background(), RunInput{
		Calls: []tools.Call{tools.NewNativeCall("c1", "get_current_time", `{"timezone":"Europe/Rome"}`)},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Retries != 0 {
		t.Errorf("Retries = %d, want 0", result.Retries)
	}
	if len(sl.delays) != 0 {
		t.Errorf("unexpected backoff delays %v", sl.delays)
	}
	if exec.BatchCount() != 1 {
		t.Errorf("executed %d batches, want 1", exec.BatchCount())
	}
	if _, _, toolStream := model.Counts(); toolStream != 0 {
		t.Errorf("tool model re-invoked %d times on a clean success", toolStream)
	}
	if len(result.Results) != 1 || result.Results[0].IsError() {
		t.Errorf("Results = %v", result.Results)
	}
	// Transcript gains the assistant call round plus one tool result.
	if len(result.Messages) != 2 {
		t.Errorf("Messages = %d entries, want 2", len(result.Messages))
	}
	if result.Messages[0].Role != "assistant" || len(result.Messages[0].ToolCalls) != 1 {
		t.Errorf("first transcript entry should be the assistant call round: %+v", result.Messages[0])
	}
	if result.Messages[1].Role != "tool" || result.Messages[1].ToolCallID != "c1" {
		t.Errorf("second transcript entry should answer c1: %+v", result.Messages[1])
	}
}

func TestOrchestrator_ValidationShortCircuit(t *testing.T) {
	exec := &MockExecutor{}
	o := newTestOrchestrator(exec, &MockLLM{}, (&recordingSleeper{}).capture())

	result, err := o.Run(context.Background(), RunInput{
		Calls: []tools.Call{
			tools.NewNativeCall("c1", "HassTurnOn", `{}`),
			tools.NewNativeCall("c2", "search", `{}`),
		},
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Run() error = %v, want *ValidationError", err)
	}
	if len(verr.Failures) != 2 {
		t.Errorf("Failures = %v, want both calls listed", verr.Failures)
	}
	if exec.BatchCount() != 0 {
		t.Error("validation failure must not spend an execution attempt")
	}

	last := result.Messages[len(result.Messages)-1]
	if last.Role != "user" {
		t.Fatalf("feedback message role = %q", last.Role)
	}
	if !strings.Contains(last.Content, "Validation errors before execution") {
		t.Errorf("feedback message missing header: %q", last.Content)
	}
	if !strings.Contains(last.Content, tools.ContextFetchTool) {
		t.Errorf("feedback message missing remediation hint: %q", last.Content)
	}
}

func TestOrchestrator_RetryBudgetAndBackoff(t *testing.T) {
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			results := make([]tools.Result, len(calls))
			for i, c := range calls {
				if c.Name == tools.ContextFetchTool {
					results[i] = tools.NewResult(c.ID, `{"devices":[{"name":"WLED","domain":"light"}]}`)
				} else {
					results[i] = tools.NewResult(c.ID, "Error: entity not found")
				}
			}
			return results
		},
	}
	// The model stubbornly proposes the same failing call every retry.
	model := &MockLLM{
		ToolStreamFn: func(context.Context, []llm.Message, []llm.ToolDescriptor) []llm.StreamEvent {
			return ToolBatchEvents(NativeCall("c_retry", "HassTurnOn", `{"name":"WLED","domain":"light"}`))
		},
	}
	sl := &recordingSleeper{}
	o := newTestOrchestrator(exec, model, sl.capture())

	result, err := o.Run(context.Background(), RunInput{
		Calls:           []tools.Call{tools.NewNativeCall("c1", "HassTurnOn", `{"name":"WLED","domain":"light"}`)},
		OriginalRequest: "turn on the WLED",
	})

	var exhausted *ExhaustionError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Run() error = %v, want *ExhaustionError", err)
	}
	if exhausted.Attempts != DefaultMaxRetries {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, DefaultMaxRetries)
	}
	if result.Retries != DefaultMaxRetries {
		t.Errorf("Retries = %d, want %d", result.Retries, DefaultMaxRetries)
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	if len(sl.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sl.delays, want)
	}
	for i := range want {
		if sl.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, sl.delays[i], want[i])
		}
	}

	// Initial attempt, then per retry one injected context fetch plus the
	// new attempt.
	if got := exec.BatchCount(); got != 1+2*DefaultMaxRetries {
		t.Errorf("executed %d batches, want %d", got, 1+2*DefaultMaxRetries)
	}
	if names := exec.BatchNames(1); len(names) != 1 || names[0] != tools.ContextFetchTool {
		t.Errorf("first retry must start with the injected context fetch, got %v", names)
	}
	if _, _, toolStream := model.Counts(); toolStream != DefaultMaxRetries {
		t.Errorf("tool model re-invoked %d times, want %d", toolStream, DefaultMaxRetries)
	}

	// The failure is surfaced in the transcript, not silently dropped.
	var sawError bool
	for _, m := range result.Messages {
		if m.Role == "tool" && strings.HasPrefix(m.Content, tools.ErrorMarker) {
			sawError = true
		}
	}
	if !sawError {
		t.Error("transcript is missing the failing tool results")
	}
}

func TestOrchestrator_DeviceRetryGuidanceMentionsContext(t *testing.T) {
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			results := make([]tools.Result, len(calls))
			for i, c := range calls {
				if c.Name == tools.ContextFetchTool {
					results[i] = tools.NewResult(c.ID, `{"devices":[]}`)
				} else {
					results[i] = tools.NewResult(c.ID, "Error: entity not found")
				}
			}
			return results
		},
	}
	model := &MockLLM{} // no new calls: early exhaustion after retry 1
	o := newTestOrchestrator(exec, model, (&recordingSleeper{}).capture())

	result, err := o.Run(context.Background(), RunInput{
		Calls: []tools.Call{tools.NewNativeCall("c1", "HassTurnOff", `{"name":"Lamp","domain":"light"}`)},
	})

	var exhausted *ExhaustionError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Run() error = %v, want *ExhaustionError", err)
	}
	if exhausted.Attempts != 1 {
		t.Errorf("early exhaustion after %d retries, want 1", exhausted.Attempts)
	}

	var sawGuidance bool
	for _, m := range result.Messages {
		if m.Role == "user" && strings.Contains(m.Content, "GetLiveContext has been called for you") {
			sawGuidance = true
		}
	}
	if !sawGuidance {
		t.Error("device-control retry guidance missing from transcript")
	}
}

func TestOrchestrator_GenericRetryNoInjection(t *testing.T) {
	attempt := 0
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			attempt++
			if attempt == 1 {
				return []tools.Result{tools.NewResult(calls[0].ID, "Error: rate limited")}
			}
			return []tools.Result{tools.NewResult(calls[0].ID, "results for weather Rome")}
		},
	}
	model := &MockLLM{
		ToolStreamFn: func(context.Context, []llm.Message, []llm.ToolDescriptor) []llm.StreamEvent {
			return ToolBatchEvents(NativeCall("c2", "search", `{"query":"weather Rome"}`))
		},
	}
	sl := &recordingSleeper{}
	o := newTestOrchestrator(exec, model, sl.capture())

	result, err := o.Run(context.Background(), RunInput{
		Calls: []tools.Call{tools.NewNativeCall("c1", "search", `{"query":"weather Rome"}`)},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Retries != 1 {
		t.Errorf("Retries = %d, want 1", result.Retries)
	}

	for i := 0; i < exec.BatchCount(); i++ {
		for _, name := range exec.BatchNames(i) {
			if name == tools.ContextFetchTool {
				t.Error("search failure must not trigger the context-fetch injection")
			}
		}
	}
	var sawGeneric bool
	for _, m := range result.Messages {
		if m.Role == "user" && strings.Contains(m.Content, "analyze the error and try again with") {
			sawGeneric = true
		}
	}
	if !sawGeneric {
		t.Error("generic retry guidance missing from transcript")
	}
}

func TestOrchestrator_FollowUpInvariant(t *testing.T) {
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			results := make([]tools.Result, len(calls))
			for i, c := range calls {
				if c.Name == tools.ContextFetchTool {
					results[i] = tools.NewResult(c.ID, `{"devices":[{"name":"Desk Lamp","domain":"light"}]}`)
				} else {
					results[i] = tools.NewResult(c.ID, "Turned on Desk Lamp")
				}
			}
			return results
		},
	}
	model := &MockLLM{
		ToolStreamFn: func(context.Context, []llm.Message, []llm.ToolDescriptor) []llm.StreamEvent {
			return ToolBatchEvents(NativeCall("c_follow", "HassTurnOn", `{"name":"Desk Lamp","domain":"light"}`))
		},
	}
	o := newTestOrchestrator(exec, model, (&recordingSleeper{}).capture())

	result, err := o.Run(context.Background(), RunInput{
		Calls:           []tools.Call{tools.NewNativeCall("c1", tools.ContextFetchTool, `{}`)},
		OriginalRequest: "turn on the desk lamp",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Exactly one follow-up invocation, one level deep.
	if _, _, toolStream := model.Counts(); toolStream != 1 {
		t.Errorf("follow-up model invocations = %d, want exactly 1", toolStream)
	}
	if !result.FollowUpDone {
		t.Error("FollowUpDone = false")
	}
	if !result.MultiStep {
		t.Error("MultiStep = false")
	}
	if len(result.Results) != 2 {
		t.Fatalf("Results = %v, want context fetch + action", result.Results)
	}
	if result.Results[1].IsError() {
		t.Errorf("follow-up action failed: %v", result.Results[1])
	}
	if exec.BatchCount() != 2 {
		t.Errorf("executed %d batches, want 2", exec.BatchCount())
	}

	var sawFollowUpPrompt bool
	for _, m := range result.Messages {
		if m.Role == "user" && strings.Contains(m.Content, "NOW YOU MUST COMPLETE THE ORIGINAL REQUEST") {
			sawFollowUpPrompt = true
		}
	}
	if !sawFollowUpPrompt {
		t.Error("follow-up directive missing from transcript")
	}
}

func TestOrchestrator_FollowUpDegradesWithoutAction(t *testing.T) {
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			return []tools.Result{tools.NewResult(calls[0].ID, `{"devices":[]}`)}
		},
	}
	model := &MockLLM{} // no follow-up call proposed
	o := newTestOrchestrator(exec, model, (&recordingSleeper{}).capture())

	result, err := o.Run(context.Background(), RunInput{
		Calls:           []tools.Call{tools.NewNativeCall("c1", tools.ContextFetchTool, `{}`)},
		OriginalRequest: "turn on the lamp",
	})
	if err != nil {
		t.Fatalf("a missing follow-up action must degrade gracefully, got %v", err)
	}
	if result.FollowUpDone {
		t.Error("FollowUpDone = true without an executed action")
	}
	if len(result.Results) != 1 {
		t.Errorf("Results = %v, want the context fetch only", result.Results)
	}
}

func TestOrchestrator_MultiCallBatchSkipsFollowUp(t *testing.T) {
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			results := make([]tools.Result, len(calls))
			for i, c := range calls {
				results[i] = tools.NewResult(c.ID, "ok")
			}
			return results
		},
	}
	model := &MockLLM{}
	o := newTestOrchestrator(exec, model, (&recordingSleeper{}).capture())

	// Context fetch alongside another call: the follow-up protocol only
	// covers the lone-context-fetch shape.
	_, err := o.Run(context.Background(), RunInput{
		Calls: []tools.Call{
			tools.NewNativeCall("c1", tools.ContextFetchTool, `{}`),
			tools.NewNativeCall("c2", "get_current_time", `{"timezone":"UTC"}`),
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, _, toolStream := model.Counts(); toolStream != 0 {
		t.Errorf("follow-up invoked for a multi-call batch (%d invocations)", toolStream)
	}
}

func TestOrchestrator_ProgressForwarded(t *testing.T) {
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			return []tools.Result{tools.NewResult(calls[0].ID, "14:30")}
		},
	}
	o := newTestOrchestrator(exec, &MockLLM{}, (&recordingSleeper{}).capture())

	var seen []string
	_, err := o.Run(context.Background(), RunInput{
		Calls: []tools.Call{tools.NewNativeCall("c1", "get_current_time", `{}`)},
		OnProgress: func(u tools.Update) {
			seen = append(seen, u.ToolName)
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) == 0 || seen[0] != "get_current_time" {
		t.Errorf("progress updates not forwarded: %v", seen)
	}
}

// eventRecorder captures orchestrator-level events in order.
type eventRecorder struct {
	mu     sync.Mutex
	types  []string
	byType map[string][]any
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{byType: map[string][]any{}}
}

func (r *eventRecorder) callback() events.Callback {
	return func(eventType string, data any) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.types = append(r.types, eventType)
		r.byType[eventType] = append(r.byType[eventType], data)
		return nil
	}
}

func (r *eventRecorder) data(eventType string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byType[eventType]
}

func TestOrchestrator_EventCallbackRetryPath(t *testing.T) {
	attempt := 0
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			attempt++
			if attempt == 1 {
				return []tools.Result{tools.NewResult(calls[0].ID, "Error: rate limited")}
			}
			return []tools.Result{tools.NewResult(calls[0].ID, "results for weather Rome")}
		},
	}
	model := &MockLLM{
		ToolStreamFn: func(context.Context, []llm.Message, []llm.ToolDescriptor) []llm.StreamEvent {
			return ToolBatchEvents(NativeCall("c2", "search", `{"query":"weather Rome"}`))
		},
	}
	rec := newEventRecorder()
	o := NewOrchestrator(tools.NewValidator(), exec, model,
		WithSleeper((&recordingSleeper{}).capture()),
		WithEventCallback(events.WrapSafe(rec.callback())))

	_, err := o.Run(context.Background(), RunInput{
		Calls: []tools.Call{tools.NewNativeCall("c1", "search", `{"query":"weather Rome"}`)},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	retries := rec.data(events.TypeToolRetry)
	if len(retries) != 1 {
		t.Fatalf("retry events = %d, want 1", len(retries))
	}
	if n, ok := retries[0].(int); !ok || n != 1 {
		t.Errorf("retry event data = %v, want attempt 1", retries[0])
	}

	modelCalls := rec.data(events.TypeModelCall)
	if len(modelCalls) != 1 {
		t.Fatalf("model-call events = %d, want 1", len(modelCalls))
	}
	if _, ok := modelCalls[0].(*llm.LLMCallStats); !ok {
		t.Errorf("model-call event data = %T, want *llm.LLMCallStats", modelCalls[0])
	}

	// Both execution rounds report progress through the same callback.
	progress := rec.data(events.TypeToolProgress)
	if len(progress) == 0 {
		t.Error("no progress events forwarded to the event callback")
	}
	if len(rec.data(events.TypeToolFollowUp)) != 0 {
		t.Error("follow-up event emitted on the retry path")
	}
}

func TestOrchestrator_EventCallbackFollowUpPath(t *testing.T) {
	exec := &MockExecutor{
		RunFn: func(calls []tools.Call) []tools.Result {
			results := make([]tools.Result, len(calls))
			for i, c := range calls {
				if c.Name == tools.ContextFetchTool {
					results[i] = tools.NewResult(c.ID, `{"devices":[{"name":"Desk Lamp","domain":"light"}]}`)
				} else {
					results[i] = tools.NewResult(c.ID, "Turned on Desk Lamp")
				}
			}
			return results
		},
	}
	model := &MockLLM{
		ToolStreamFn: func(context.Context, []llm.Message, []llm.ToolDescriptor) []llm.StreamEvent {
			return ToolBatchEvents(NativeCall("c_follow", "HassTurnOn", `{"name":"Desk Lamp","domain":"light"}`))
		},
	}
	rec := newEventRecorder()
	o := NewOrchestrator(tools.NewValidator(), exec, model,
		WithSleeper((&recordingSleeper{}).capture()),
		WithEventCallback(events.WrapSafe(rec.callback())))

	_, err := o.Run(context.Background(), RunInput{
		Calls:           []tools.Call{tools.NewNativeCall("c1", tools.ContextFetchTool, `{}`)},
		OriginalRequest: "turn on the desk lamp",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	followUps := rec.data(events.TypeToolFollowUp)
	if len(followUps) != 1 {
		t.Fatalf("follow-up events = %d, want 1", len(followUps))
	}
	if n, ok := followUps[0].(int); !ok || n != 1 {
		t.Errorf("follow-up event data = %v, want 1 executed call", followUps[0])
	}
	if len(rec.data(events.TypeModelCall)) != 1 {
		t.Errorf("model-call events = %d, want 1", len(rec.data(events.TypeModelCall)))
	}
	if len(rec.data(events.TypeToolRetry)) != 0 {
		t.Error("retry event emitted on the follow-up path")
	}
}

func TestBackoff(t *testing.T) {
	want := map[int]time.Duration{
		1: 1 * time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 5 * time.Second,
		5: 5 * time.Second,
	}
	for attempt, d := range want {
		if got := Backoff(attempt); got != d {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, d)
		}
	}
}
