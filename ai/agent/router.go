// Package agent implements the dual-model turn router and the tool
// execution orchestrator behind it: one model specialized for emitting tool
// calls, one for user-facing conversation, composed per turn by an intent
// decision.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
	"github.com/vocalis-ai/vocalis/ai/events"
	"github.com/vocalis-ai/vocalis/ai/intent"
	"github.com/vocalis-ai/vocalis/ai/tools"
)

// Chunk is one entry of a turn's output stream.
type Chunk struct {
	Type     string // events.TypeText, TypeAcknowledgment, TypeToolProgress
	Text     string
	Progress *tools.Update
}

// HistoryStore persists conversation history across sessions. The router
// loads at session start and appends after each completed turn.
type HistoryStore interface {
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)
	Append(ctx context.Context, sessionID string, m llm.Message) error
}

// Config assembles a DualModelAgent.
type Config struct {
	Classifier        intent.Classifier
	ConversationModel llm.Service
	ToolModel         llm.Service
	Orchestrator      *Orchestrator
	Catalog           *tools.Catalog

	// Persona is the conversational model's base system prompt.
	Persona string

	// EnableAcknowledgment emits a canned phrase before tool work starts.
	EnableAcknowledgment bool

	// Store and SessionID are optional; without them history lives only in
	// memory.
	Store     HistoryStore
	SessionID string
}

// DualModelAgent routes each turn to the tool-specialized model or the
// conversational model and streams the response as chunks. One agent serves
// one session; turns are processed sequentially.
type DualModelAgent struct {
	classifier intent.Classifier
	convModel  llm.Service
	toolModel  llm.Service
	orch       *Orchestrator
	catalog    *tools.Catalog

	persona   string
	enableAck bool

	history  *History
	stats    *RouterStats
	detector *StreamJSONDetector

	store     HistoryStore
	sessionID string

	// turnMu guards the in-flight reply buffer and the turn's cancel func,
	// both touched by Interrupt from another goroutine.
	turnMu     sync.Mutex
	reply      strings.Builder
	streaming  bool
	cancelTurn context.CancelFunc
}

// New creates the agent, loading persisted history when a store is
// configured. A load failure starts the session empty rather than failing
// construction.
func New(ctx context.Context, cfg Config) (*DualModelAgent, error) {
	if cfg.Classifier == nil || cfg.ConversationModel == nil || cfg.ToolModel == nil || cfg.Orchestrator == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("agent config incomplete")
	}

	var seed []llm.Message
	if cfg.Store != nil && cfg.SessionID != "" {
		loaded, err := cfg.Store.Load(ctx, cfg.SessionID)
		if err != nil {
			slog.Warn("agent: failed to load session history, starting empty",
				"session", cfg.SessionID, "error", err)
		} else {
			seed = loaded
		}
	}

	return &DualModelAgent{
		classifier: cfg.Classifier,
		convModel:  cfg.ConversationModel,
		toolModel:  cfg.ToolModel,
		orch:       cfg.Orchestrator,
		catalog:    cfg.Catalog,
		persona:    cfg.Persona,
		enableAck:  cfg.EnableAcknowledgment,
		history:    NewHistory(seed),
		stats:      &RouterStats{},
		detector:   NewStreamJSONDetector(),
		store:      cfg.Store,
		sessionID:  cfg.SessionID,
	}, nil
}

// Stats returns the agent's usage counters.
func (a *DualModelAgent) Stats() StatsSnapshot {
	return a.stats.Snapshot()
}

// History exposes the session history for inspection.
func (a *DualModelAgent) History() *History {
	return a.history
}

// Interrupt marks the in-flight response as cut off by the user and cancels
// the turn. The reply streamed so far is kept, truncated with an ellipsis,
// before the interrupt marker. Safe to call from another goroutine;
// idempotent until the next turn starts.
func (a *DualModelAgent) Interrupt() {
	partial := a.takeReply()

	a.turnMu.Lock()
	cancel := a.cancelTurn
	a.turnMu.Unlock()

	if a.history.MarkInterrupted(partial) {
		a.stats.recordInterrupt()
		if partial != "" {
			a.persist(context.Background(), llm.AssistantMessage(partial+"..."))
		}
		a.persist(context.Background(), llm.UserMessage(InterruptMarker))
	}

	if cancel != nil {
		cancel()
	}
}

// Warmup pre-establishes connections to both model providers.
func (a *DualModelAgent) Warmup(ctx context.Context) {
	a.toolModel.Warmup(ctx)
	a.convModel.Warmup(ctx)
}

// HandleTurn processes one user turn and streams the response. The channel
// is unbuffered so the caller's consumption paces production; it is closed
// when the turn completes, the context is cancelled, or the turn is
// interrupted.
func (a *DualModelAgent) HandleTurn(ctx context.Context, userText string) <-chan Chunk {
	ctx, cancel := context.WithCancel(ctx)
	a.turnMu.Lock()
	a.cancelTurn = cancel
	a.turnMu.Unlock()

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer func() {
			a.turnMu.Lock()
			a.cancelTurn = nil
			a.turnMu.Unlock()
			cancel()
		}()
		a.handleTurn(ctx, userText, out)
	}()
	return out
}

func (a *DualModelAgent) handleTurn(ctx context.Context, userText string, out chan<- Chunk) {
	userMsg := llm.UserMessage(userText)
	a.history.Append(userMsg)
	a.persist(ctx, userMsg)

	decision, err := a.classifier.Classify(ctx, userText)
	if err != nil {
		// Classifier contract fails open, but guard anyway.
		slog.Warn("agent: classification error, defaulting to conversation", "error", err)
		decision = intent.Decision{NeedsTool: false}
	}
	a.stats.recordTurn(decision)

	if decision.NeedsTool {
		a.toolTurn(ctx, userText, out)
		return
	}
	a.conversationTurn(ctx, out)
}

// conversationTurn streams the conversational model directly over the full
// history. The response is appended to history exactly once, after the
// stream completes; an interrupted stream keeps the partial text.
func (a *DualModelAgent) conversationTurn(ctx context.Context, out chan<- Chunk) {
	messages := append([]llm.Message{llm.SystemPrompt(a.persona)}, a.history.All()...)
	a.streamFinalResponse(ctx, messages, out)
}

// toolTurn runs the tool phase and then hands the augmented transcript to
// the conversational model for narration.
func (a *DualModelAgent) toolTurn(ctx context.Context, userText string, out chan<- Chunk) {
	if a.enableAck {
		if !send(ctx, out, Chunk{Type: events.TypeAcknowledgment, Text: Acknowledgment()}) {
			return
		}
	}

	filtered := a.catalog.FilterForQuery(userText)
	toolMessages := append(
		[]llm.Message{llm.SystemPrompt(ToolModelSystemPrompt(""))},
		a.history.RecentForToolModel()...,
	)

	calls, text, stats := a.proposeCalls(ctx, toolMessages, filtered, out)
	a.stats.recordUsage(stats)

	if len(calls) == 0 {
		// The tool model answered in plain text; treat it as the response.
		if text != "" {
			reply := llm.AssistantMessage(text)
			a.history.Append(reply)
			a.persist(ctx, reply)
		}
		return
	}

	result, runErr := a.orch.Run(ctx, RunInput{
		Calls:           calls,
		Messages:        toolMessages,
		Tools:           filtered,
		OriginalRequest: userText,
		OnProgress: func(u tools.Update) {
			if u.Type != tools.UpdateProgress || u.Status != tools.ProgressRunning {
				return
			}
			update := u
			send(ctx, out, Chunk{
				Type:     events.TypeToolProgress,
				Text:     progressText(calls, update),
				Progress: &update,
			})
		},
	})
	a.stats.recordUsage(&result.Stats)

	system := a.persona
	var validationFailed *ValidationError
	var exhausted *ExhaustionError
	switch {
	case runErr == nil:
		system = a.persona + "\n\n" + ResponseGuidance(result.Retries, result.MultiStep)
	case errors.As(runErr, &exhausted):
		slog.Warn("agent: tool phase exhausted", "retries", exhausted.Attempts, "reason", exhausted.Reason)
		a.stats.recordExhaustion()
		system = a.persona + "\n\n" + ResponseGuidance(result.Retries, result.MultiStep)
	case errors.As(runErr, &validationFailed):
		slog.Warn("agent: tool phase rejected by validation")
		// The combined validation feedback is already in the transcript.
	default:
		slog.Error("agent: tool phase failed", "error", runErr)
		system = a.persona + "\n\n" + ResponseGuidance(result.Retries, result.MultiStep)
	}

	additions := result.Messages[len(toolMessages):]
	messages := append([]llm.Message{llm.SystemPrompt(system)}, a.history.All()...)
	messages = append(messages, additions...)

	a.streamFinalResponse(ctx, messages, out)
}

// proposeCalls invokes the tool-specialized model once. Native tool support
// yields a structured batch; providers without it fall back to the prompt
// convention scanned by the detector.
func (a *DualModelAgent) proposeCalls(ctx context.Context, toolMessages []llm.Message, filtered []llm.ToolDescriptor, out chan<- Chunk) ([]tools.Call, string, *llm.LLMCallStats) {
	var (
		calls []tools.Call
		text  strings.Builder
		stats *llm.LLMCallStats
	)

	for ev := range a.toolModel.ChatToolStream(ctx, toolMessages, filtered) {
		switch ev.Type {
		case llm.EventTextDelta:
			text.WriteString(ev.Delta)
			if !send(ctx, out, Chunk{Type: events.TypeText, Text: ev.Delta}) {
				return nil, text.String(), stats
			}
		case llm.EventToolCallBatch:
			calls = callsFromBatch(ev.ToolCalls)
			slog.Info("agent: tool model proposed calls", "count", len(calls))
		case llm.EventToolsUnsupported:
			slog.Warn("agent: provider lacks native tool calls, switching to prompt mode")
			return a.promptModeCalls(ctx, toolMessages, filtered)
		case llm.EventError:
			slog.Error("agent: tool model stream failed", "error", ev.Err)
			return nil, text.String(), stats
		case llm.EventDone:
			stats = ev.Stats
		}
	}

	return calls, text.String(), stats
}

// promptModeCalls re-invokes the tool model without the tools parameter,
// renders the tool schema into the system prompt, and scans the text stream
// for an embedded payload.
func (a *DualModelAgent) promptModeCalls(ctx context.Context, toolMessages []llm.Message, filtered []llm.ToolDescriptor) ([]tools.Call, string, *llm.LLMCallStats) {
	messages := append([]llm.Message(nil), toolMessages...)
	messages[0] = llm.SystemPrompt(ToolModelSystemPrompt(PromptModeToolSchema(filtered)))

	a.detector.Reset()

	contentChan, statsChan, errChan := a.toolModel.ChatStream(ctx, messages)

	var passthrough strings.Builder
	var payload string

drain:
	for {
		select {
		case chunk, ok := <-contentChan:
			if !ok {
				break drain
			}
			text, detected := a.detector.Feed(chunk)
			passthrough.WriteString(text)
			if detected != "" {
				payload = detected
				break drain
			}
		case err, ok := <-errChan:
			if ok && err != nil {
				slog.Error("agent: prompt-mode stream failed", "error", err)
				return nil, passthrough.String(), nil
			}
		case <-ctx.Done():
			return nil, passthrough.String(), nil
		}
	}
	passthrough.WriteString(a.detector.Flush())

	var stats *llm.LLMCallStats
	select {
	case stats = <-statsChan:
	default:
	}

	if payload == "" {
		return nil, passthrough.String(), stats
	}

	specs := ParsePromptPayload(payload)
	calls := make([]tools.Call, 0, len(specs))
	for _, spec := range specs {
		calls = append(calls, tools.NewPromptEmbeddedCall(
			"prompt_"+uuid.NewString()[:8], spec.Name, spec.Arguments, payload))
	}
	slog.Info("agent: recovered prompt-embedded calls", "count", len(calls))
	return calls, passthrough.String(), stats
}

// PromptModeToolSchema renders the tool catalog as text for providers
// without native tool-call support, together with the embedded-JSON
// convention the detector recovers.
func PromptModeToolSchema(descs []llm.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("AVAILABLE TOOLS:\n\n")
	for _, d := range descs {
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", d.Name, d.Description, d.Parameters)
	}
	b.WriteString(`
To call a tool, output ONLY a JSON object in this exact form, with no other text:
{"tool": "<tool name>", "arguments": {<arguments>}}`)
	return b.String()
}

// streamFinalResponse streams the conversational model and appends the
// completed response to history exactly once. An interrupt mid-stream takes
// ownership of the partial text instead: Interrupt stores it truncated, and
// no second append happens here.
func (a *DualModelAgent) streamFinalResponse(ctx context.Context, messages []llm.Message, out chan<- Chunk) {
	contentChan, statsChan, errChan := a.convModel.ChatStream(ctx, messages)

	a.beginReply()

drain:
	for {
		select {
		case chunk, ok := <-contentChan:
			if !ok {
				break drain
			}
			if !a.appendReplyText(chunk) {
				// Interrupted: the partial reply is already in history.
				break drain
			}
			if !send(ctx, out, Chunk{Type: events.TypeText, Text: chunk}) {
				break drain
			}
		case err, ok := <-errChan:
			if ok && err != nil {
				slog.Error("agent: conversation stream failed", "error", err)
				break drain
			}
		case <-ctx.Done():
			break drain
		}
	}

	select {
	case stats, ok := <-statsChan:
		if ok {
			a.stats.recordUsage(stats)
		}
	default:
	}

	response, ok := a.finishReply()
	if !ok || response == "" {
		return
	}
	reply := llm.AssistantMessage(response)
	a.history.Append(reply)
	a.persist(ctx, reply)
}

// beginReply arms the in-flight reply buffer for one streamed response.
func (a *DualModelAgent) beginReply() {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	a.reply.Reset()
	a.streaming = true
}

// appendReplyText records one streamed chunk. Returns false when an
// interrupt has already taken the reply.
func (a *DualModelAgent) appendReplyText(chunk string) bool {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	if !a.streaming {
		return false
	}
	a.reply.WriteString(chunk)
	return true
}

// finishReply closes the reply buffer and returns the accumulated text. The
// second return is false when an interrupt consumed the reply first.
func (a *DualModelAgent) finishReply() (string, bool) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	if !a.streaming {
		return "", false
	}
	text := a.reply.String()
	a.reply.Reset()
	a.streaming = false
	return text, true
}

// takeReply hands the in-flight partial reply to an interrupt, leaving the
// stream loop nothing to append.
func (a *DualModelAgent) takeReply() string {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	if !a.streaming {
		return ""
	}
	text := a.reply.String()
	a.reply.Reset()
	a.streaming = false
	return text
}

func (a *DualModelAgent) persist(ctx context.Context, m llm.Message) {
	if a.store == nil || a.sessionID == "" {
		return
	}
	if err := a.store.Append(ctx, a.sessionID, m); err != nil {
		slog.Warn("agent: failed to persist message", "session", a.sessionID, "error", err)
	}
}

// progressText renders the user-facing feedback line for a running call,
// using the call's arguments when it belongs to the current batch.
func progressText(calls []tools.Call, u tools.Update) string {
	for _, c := range calls {
		if c.ID == u.CallID {
			args, err := c.Args()
			if err == nil {
				return ExecutionFeedback(u.ToolName, args)
			}
			break
		}
	}
	return ExecutionFeedback(u.ToolName, map[string]any{})
}

// send delivers a chunk unless the consumer is gone.
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
