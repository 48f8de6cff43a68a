package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vocalis-ai/vocalis/store"
)

func (d *DB) UpsertTurnStats(ctx context.Context, upsert *store.TurnStats) (*store.TurnStats, error) {
	if upsert.UpdatedTs == 0 {
		upsert.UpdatedTs = time.Now().Unix()
	}

	stmt := `INSERT INTO turn_stats (
			session_uid, turns, tool_turns, conversation_turns, interrupts,
			exhausted_turns, prompt_tokens, completion_tokens, last_decision, updated_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_uid) DO UPDATE SET
			turns = excluded.turns,
			tool_turns = excluded.tool_turns,
			conversation_turns = excluded.conversation_turns,
			interrupts = excluded.interrupts,
			exhausted_turns = excluded.exhausted_turns,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			last_decision = excluded.last_decision,
			updated_ts = excluded.updated_ts`
	_, err := d.db.ExecContext(ctx, stmt,
		upsert.SessionUID, upsert.Turns, upsert.ToolTurns, upsert.ConversationTurns,
		upsert.Interrupts, upsert.ExhaustedTurns, upsert.PromptTokens,
		upsert.CompletionTokens, upsert.LastDecision, upsert.UpdatedTs)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert turn stats: %w", err)
	}
	return upsert, nil
}

func (d *DB) GetTurnStats(ctx context.Context, sessionUID string) (*store.TurnStats, error) {
	s := &store.TurnStats{}
	err := d.db.QueryRowContext(ctx,
		`SELECT session_uid, turns, tool_turns, conversation_turns, interrupts,
			exhausted_turns, prompt_tokens, completion_tokens, last_decision, updated_ts
		FROM turn_stats WHERE session_uid = ?`, sessionUID,
	).Scan(&s.SessionUID, &s.Turns, &s.ToolTurns, &s.ConversationTurns, &s.Interrupts,
		&s.ExhaustedTurns, &s.PromptTokens, &s.CompletionTokens, &s.LastDecision, &s.UpdatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get turn stats: %w", err)
	}
	return s, nil
}
