package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
	"github.com/vocalis-ai/vocalis/ai/events"
	"github.com/vocalis-ai/vocalis/ai/tools"
)

// Phase is the orchestrator's explicit state. The driving loop in Run
// transitions between phases; tests inspect attempt counts and delays
// through the injected sleeper.
type Phase string

const (
	PhaseValidating Phase = "validating"
	PhaseExecuting  Phase = "executing"
	PhaseChecking   Phase = "checking"
	PhaseRetrying   Phase = "retrying"
	PhaseFollowUp   Phase = "follow_up_pending"
	PhaseDone       Phase = "done"
)

// DefaultMaxRetries is the fixed retry budget per tool phase.
const DefaultMaxRetries = 5

// maxBackoff bounds the exponential retry delay.
const maxBackoff = 5 * time.Second

// Backoff returns the delay before the given retry attempt (1-based):
// 1s, 2s, 4s, then capped at 5s.
func Backoff(attempt int) time.Duration {
	d := time.Duration(1<<(attempt-1)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Sleeper is a context-aware timed suspension, injectable so tests can
// observe the exact delay sequence without waiting.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator drives the execute, check, retry, follow-up loop over one
// batch of proposed tool calls. It owns no state across turns; all per-turn
// state lives in the run.
type Orchestrator struct {
	validator  *tools.Validator
	executor   tools.Executor
	toolModel  llm.Service
	maxRetries int
	sleep      Sleeper
	onEvent    events.SafeCallback
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxRetries = n }
}

// WithSleeper overrides the backoff suspension.
func WithSleeper(s Sleeper) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithEventCallback forwards phase events (progress, retries, follow-ups,
// model-call stats) upward without buffering.
func WithEventCallback(cb events.SafeCallback) OrchestratorOption {
	return func(o *Orchestrator) {
		if cb != nil {
			o.onEvent = cb
		}
	}
}

// NewOrchestrator wires the validator, the tool backend, and the
// tool-specialized model used for retry and follow-up re-invocations.
func NewOrchestrator(validator *tools.Validator, executor tools.Executor, toolModel llm.Service, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		validator:  validator,
		executor:   executor,
		toolModel:  toolModel,
		maxRetries: DefaultMaxRetries,
		sleep:      sleepContext,
		onEvent:    events.WrapSafe(events.NoopCallback),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunInput is one tool phase: the proposed calls, the working transcript they
// were proposed against, and the narrowed tool catalog for re-invocations.
type RunInput struct {
	Calls           []tools.Call
	Messages        []llm.Message
	Tools           []llm.ToolDescriptor
	OriginalRequest string

	// OnProgress receives tool execution progress for this run, in addition
	// to the orchestrator-level event callback.
	OnProgress func(tools.Update)
}

// RunResult is the accumulated outcome of a tool phase. Messages carries the
// augmented transcript (call rounds, results, guidance) ready for the
// conversational model; it is populated even on failure so the narration can
// explain what happened.
type RunResult struct {
	Results  []tools.Result
	Messages []llm.Message

	// Retries is how many retry attempts were spent.
	Retries int

	// FollowUpDone reports that the context-fetch follow-up invocation ran
	// and produced an executed action.
	FollowUpDone bool

	// MultiStep reports that a successful context fetch preceded the final
	// action, so narration must key on the last result.
	MultiStep bool

	// Stats aggregates model usage across retry and follow-up invocations.
	Stats llm.LLMCallStats
}

// run carries the mutable state of one tool phase.
type run struct {
	phase      Phase
	pending    []tools.Call
	messages   []llm.Message
	results    []tools.Result
	retries    int
	result     RunResult
	onProgress func(tools.Update)
}

// Run executes the state machine. The returned error is nil on success, a
// *ValidationError when pre-validation rejected the batch, or an
// *ExhaustionError when the retry budget ran out or the model stopped
// proposing calls. In every case RunResult.Messages is usable.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (RunResult, error) {
	st := &run{
		phase:      PhaseValidating,
		pending:    in.Calls,
		messages:   append([]llm.Message(nil), in.Messages...),
		onProgress: in.OnProgress,
	}

	for {
		switch st.phase {
		case PhaseValidating:
			if err := o.validate(st); err != nil {
				st.result.Messages = st.messages
				return st.result, err
			}

		case PhaseExecuting:
			o.execute(ctx, st)

		case PhaseChecking:
			o.check(st)

		case PhaseRetrying:
			if err := o.retry(ctx, st, in); err != nil {
				st.result.Messages = st.messages
				st.result.Results = st.results
				st.result.Retries = st.retries
				return st.result, err
			}

		case PhaseFollowUp:
			o.followUp(ctx, st, in)

		case PhaseDone:
			st.result.Messages = st.messages
			st.result.Results = st.results
			st.result.Retries = st.retries
			return st.result, nil
		}
	}
}

// validate runs the validator over every pending call. Any failure skips
// execution entirely: the combined message lands in the transcript and the
// phase terminates.
func (o *Orchestrator) validate(st *run) error {
	var failures, hints []string
	for _, call := range st.pending {
		ok, msg := o.validator.Validate(call)
		if !ok {
			failures = append(failures, msg)
			hints = append(hints, o.validator.Hint(call.Name))
			slog.Warn("orchestrator: pre-validation failed", "tool", call.Name, "message", msg)
		}
	}

	if len(failures) > 0 {
		st.messages = append(st.messages, llm.UserMessage(ValidationFailureMessage(failures, hints)))
		return &ValidationError{Failures: failures}
	}

	st.phase = PhaseExecuting
	return nil
}

// execute dispatches the pending batch, forwarding progress upward and
// blocking only on the final results.
func (o *Orchestrator) execute(ctx context.Context, st *run) {
	slog.Info("orchestrator: executing tool calls", "count", len(st.pending), "retries", st.retries)

	st.results = tools.CollectResults(o.executor.Execute(ctx, st.pending), o.progressFunc(st))
	st.phase = PhaseChecking
}

// progressFunc forwards execution progress without buffering, to both the
// per-run callback and the orchestrator-level event callback.
func (o *Orchestrator) progressFunc(st *run) func(tools.Update) {
	return func(u tools.Update) {
		if st.onProgress != nil {
			st.onProgress(u)
		}
		o.onEvent(events.TypeToolProgress, u)
	}
}

// check decides the next phase from the batch outcome.
func (o *Orchestrator) check(st *run) {
	if tools.AllSucceeded(st.results) {
		if st.retries > 0 {
			slog.Info("orchestrator: tool execution succeeded after retries", "retries", st.retries)
		}
		// A lone successful context fetch never satisfies an actionable
		// request; the action call still has to happen.
		if len(st.pending) == 1 && st.pending[0].Name == tools.ContextFetchTool {
			st.phase = PhaseFollowUp
			return
		}
		o.recordRound(st)
		st.phase = PhaseDone
		return
	}
	st.phase = PhaseRetrying
}

// retry spends one attempt from the budget: backoff, append the failing
// round, optionally inject a context fetch, and re-invoke the tool model for
// a new batch.
func (o *Orchestrator) retry(ctx context.Context, st *run, in RunInput) error {
	if st.retries >= o.maxRetries {
		slog.Error("orchestrator: tool execution failed, retry budget exhausted", "retries", st.retries)
		o.recordRound(st)
		return &ExhaustionError{Attempts: st.retries, Reason: "retry budget exhausted"}
	}

	st.retries++
	slog.Warn("orchestrator: tool execution failed, retrying", "attempt", st.retries, "max", o.maxRetries)
	o.onEvent(events.TypeToolRetry, st.retries)

	if err := o.sleep(ctx, Backoff(st.retries)); err != nil {
		o.recordRound(st)
		return &ExhaustionError{Attempts: st.retries, Reason: fmt.Sprintf("cancelled during backoff: %v", err)}
	}

	// The failing round goes into the transcript so the model sees what went
	// wrong.
	o.recordRound(st)

	guidance := RetryGuidanceGeneric(st.retries, o.maxRetries)
	if o.failedDeviceControl(st) {
		guidance = o.injectContextFetch(ctx, st)
	}
	st.messages = append(st.messages, llm.UserMessage(guidance))

	newCalls, _, stats, err := o.invokeToolModel(ctx, st.messages, in.Tools)
	addStats(&st.result.Stats, stats)
	if err != nil {
		return &ExhaustionError{Attempts: st.retries, Reason: fmt.Sprintf("tool model re-invocation failed: %v", err)}
	}
	if len(newCalls) == 0 {
		// The model has no new strategy; burning the rest of the budget on
		// the same failing batch would be pointless.
		slog.Error("orchestrator: tool model produced no new calls, giving up", "retries", st.retries)
		return &ExhaustionError{Attempts: st.retries, Reason: "tool model produced no new calls"}
	}

	st.pending = newCalls
	st.phase = PhaseValidating
	return nil
}

// failedDeviceControl reports whether any failing result in the current
// round belongs to a device-control call.
func (o *Orchestrator) failedDeviceControl(st *run) bool {
	byID := make(map[string]tools.Call, len(st.pending))
	for _, c := range st.pending {
		byID[c.ID] = c
	}
	for _, r := range st.results {
		if !r.IsError() {
			continue
		}
		if c, ok := byID[r.ToolCallID]; ok && tools.IsDeviceControl(c.Name) {
			return true
		}
	}
	return false
}

// injectContextFetch runs the zero-argument context fetch outside normal
// queuing and returns the tailored retry guidance. This is a deterministic
// recovery heuristic: the model does not get a vote.
func (o *Orchestrator) injectContextFetch(ctx context.Context, st *run) string {
	slog.Info("orchestrator: auto-injecting context fetch after device-control failure")

	call := tools.NewNativeCall("auto_context_"+uuid.NewString()[:8], tools.ContextFetchTool, "{}")
	results := tools.CollectResults(o.executor.Execute(ctx, []tools.Call{call}), o.progressFunc(st))

	if len(results) == 0 || results[0].IsError() {
		slog.Warn("orchestrator: injected context fetch returned nothing useful")
		return RetryGuidanceAfterContextFailure(st.retries, o.maxRetries)
	}

	st.messages = append(st.messages, roundMessages([]tools.Call{call}, results)...)
	st.result.MultiStep = true
	return RetryGuidanceDeviceControl(st.retries, o.maxRetries)
}

// followUp handles the context-fetch-only success: exactly one mandatory
// re-invocation to obtain the real action call, one level deep. Failures
// here degrade to "no follow-up action taken" rather than aborting the turn.
func (o *Orchestrator) followUp(ctx context.Context, st *run, in RunInput) {
	slog.Info("orchestrator: context fetch completed, prompting for the actual action")

	o.recordRound(st)
	st.result.MultiStep = true
	st.messages = append(st.messages, llm.UserMessage(FollowUpPrompt(in.OriginalRequest)))

	followUpCalls, _, stats, err := o.invokeToolModel(ctx, st.messages, in.Tools)
	addStats(&st.result.Stats, stats)
	if err != nil {
		slog.Warn("orchestrator: follow-up invocation failed, no follow-up action taken", "error", err)
		st.phase = PhaseDone
		return
	}
	if len(followUpCalls) == 0 {
		slog.Warn("orchestrator: tool model produced no follow-up action after context fetch")
		st.phase = PhaseDone
		return
	}

	for _, call := range followUpCalls {
		if ok, msg := o.validator.Validate(call); !ok {
			slog.Warn("orchestrator: follow-up call failed validation, no follow-up action taken",
				"tool", call.Name, "message", msg)
			st.phase = PhaseDone
			return
		}
	}

	slog.Info("orchestrator: executing follow-up action", "count", len(followUpCalls))
	followUpResults := tools.CollectResults(o.executor.Execute(ctx, followUpCalls), o.progressFunc(st))

	st.messages = append(st.messages, roundMessages(followUpCalls, followUpResults)...)
	st.results = append(st.results, followUpResults...)
	st.result.FollowUpDone = true
	o.onEvent(events.TypeToolFollowUp, len(followUpCalls))

	// No nested follow-up chaining beyond this one level.
	st.phase = PhaseDone
}

// recordRound appends the current pending calls and their results to the
// transcript, once per executed round.
func (o *Orchestrator) recordRound(st *run) {
	if len(st.results) == 0 {
		return
	}
	st.messages = append(st.messages, roundMessages(st.pending, st.results)...)
}

// roundMessages renders a call round in wire order: the assistant message
// that requested the calls, then one tool message per result.
func roundMessages(calls []tools.Call, results []tools.Result) []llm.Message {
	assistant := llm.Message{Role: "assistant"}
	for _, c := range calls {
		assistant.ToolCalls = append(assistant.ToolCalls, llm.ToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: llm.FunctionCall{Name: c.Name, Arguments: c.Arguments},
		})
	}

	msgs := make([]llm.Message, 0, len(results)+1)
	msgs = append(msgs, assistant)
	for _, r := range results {
		msgs = append(msgs, llm.ToolMessage(r.ToolCallID, r.Content))
	}
	return msgs
}

// invokeToolModel drains one tool-model stream, returning the proposed batch
// and any free text the model produced.
func (o *Orchestrator) invokeToolModel(ctx context.Context, messages []llm.Message, descs []llm.ToolDescriptor) ([]tools.Call, string, *llm.LLMCallStats, error) {
	var (
		calls []tools.Call
		text  string
		stats *llm.LLMCallStats
	)

	for ev := range o.toolModel.ChatToolStream(ctx, messages, descs) {
		switch ev.Type {
		case llm.EventTextDelta:
			text += ev.Delta
		case llm.EventToolCallBatch:
			calls = callsFromBatch(ev.ToolCalls)
		case llm.EventToolsUnsupported:
			return nil, text, stats, fmt.Errorf("provider does not support native tool calls")
		case llm.EventError:
			return nil, text, stats, ev.Err
		case llm.EventDone:
			stats = ev.Stats
		}
	}

	if stats != nil {
		o.onEvent(events.TypeModelCall, stats)
	}
	return calls, text, stats, nil
}

// callsFromBatch converts a wire-level batch into native-origin calls,
// assigning IDs to providers that omit them.
func callsFromBatch(batch []llm.ToolCall) []tools.Call {
	calls := make([]tools.Call, 0, len(batch))
	for _, tc := range batch {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()[:8]
		}
		calls = append(calls, tools.NewNativeCall(id, tc.Function.Name, tc.Function.Arguments))
	}
	return calls
}

func addStats(total *llm.LLMCallStats, s *llm.LLMCallStats) {
	if s == nil {
		return
	}
	total.PromptTokens += s.PromptTokens
	total.CompletionTokens += s.CompletionTokens
	total.TotalTokens += s.TotalTokens
	total.TotalDurationMs += s.TotalDurationMs
}
