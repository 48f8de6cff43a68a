package agent

import (
	"sync"
	"time"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
	"github.com/vocalis-ai/vocalis/ai/intent"
)

// RouterStats aggregates per-router usage counters. One instance is owned by
// a DualModelAgent for its lifetime and reset with the process; nothing here
// is persisted by the agent itself.
type RouterStats struct {
	mu sync.Mutex

	turns             int
	toolTurns         int
	conversationTurns int
	interrupts        int
	exhaustedTurns    int

	promptTokens     int
	completionTokens int

	lastDecision intent.Decision
	lastTurnAt   time.Time
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Turns             int             `json:"turns"`
	ToolTurns         int             `json:"tool_turns"`
	ConversationTurns int             `json:"conversation_turns"`
	Interrupts        int             `json:"interrupts"`
	ExhaustedTurns    int             `json:"exhausted_turns"`
	PromptTokens      int             `json:"prompt_tokens"`
	CompletionTokens  int             `json:"completion_tokens"`
	LastDecision      intent.Decision `json:"last_decision"`
	LastTurnAt        time.Time       `json:"last_turn_at"`
}

func (s *RouterStats) recordTurn(decision intent.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	if decision.NeedsTool {
		s.toolTurns++
	} else {
		s.conversationTurns++
	}
	s.lastDecision = decision
	s.lastTurnAt = time.Now()
}

func (s *RouterStats) recordInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts++
}

func (s *RouterStats) recordExhaustion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhaustedTurns++
}

func (s *RouterStats) recordUsage(stats *llm.LLMCallStats) {
	if stats == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptTokens += stats.PromptTokens
	s.completionTokens += stats.CompletionTokens
}

// Snapshot returns a copy of the current counters.
func (s *RouterStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Turns:             s.turns,
		ToolTurns:         s.toolTurns,
		ConversationTurns: s.conversationTurns,
		Interrupts:        s.interrupts,
		ExhaustedTurns:    s.exhaustedTurns,
		PromptTokens:      s.promptTokens,
		CompletionTokens:  s.completionTokens,
		LastDecision:      s.lastDecision,
		LastTurnAt:        s.lastTurnAt,
	}
}
