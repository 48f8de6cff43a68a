package store

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
)

// Session is one voice conversation. Sessions are identified by a
// caller-supplied UID so clients can resume across reconnects.
type Session struct {
	UID       string
	CreatedTs int64
	UpdatedTs int64
}

// FindSession filters session listings.
type FindSession struct {
	UID *string

	// UpdatedAfter keeps sessions touched at or after the given unix time.
	UpdatedAfter *int64

	Limit *int
}

// Message is one persisted transcript row. Assistant messages that requested
// tool calls carry them JSON-encoded in ToolCallsJSON; tool-result rows carry
// the call ID they answer.
type Message struct {
	ID            int64
	SessionUID    string
	Role          string
	Content       string
	ToolCallID    string
	ToolCallsJSON string
	CreatedTs     int64
}

// FindMessage filters message listings. Results are always in chronological
// order within a session.
type FindMessage struct {
	SessionUID string
	Limit      *int
}

// NewMessageRow converts a chat message into its storable row.
func NewMessageRow(sessionUID string, m llm.Message) (*Message, error) {
	row := &Message{
		SessionUID: sessionUID,
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ToolCalls) > 0 {
		raw, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode tool calls")
		}
		row.ToolCallsJSON = string(raw)
	}
	return row, nil
}

// ToLLMMessage converts a stored row back into a chat message.
func (m *Message) ToLLMMessage() (llm.Message, error) {
	out := llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if m.ToolCallsJSON != "" {
		if err := json.Unmarshal([]byte(m.ToolCallsJSON), &out.ToolCalls); err != nil {
			return llm.Message{}, errors.Wrapf(err, "failed to decode tool calls for message %d", m.ID)
		}
	}
	return out, nil
}

// TurnStats is the persisted per-session counter snapshot, written after each
// turn so restarts do not lose usage history.
type TurnStats struct {
	SessionUID        string
	Turns             int64
	ToolTurns         int64
	ConversationTurns int64
	Interrupts        int64
	ExhaustedTurns    int64
	PromptTokens      int64
	CompletionTokens  int64
	LastDecision      string
	UpdatedTs         int64
}
