package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vocalis-ai/vocalis/store"
)

func (d *DB) UpsertSession(ctx context.Context, upsert *store.Session) (*store.Session, error) {
	if upsert.CreatedTs == 0 {
		upsert.CreatedTs = time.Now().Unix()
	}
	if upsert.UpdatedTs == 0 {
		upsert.UpdatedTs = upsert.CreatedTs
	}

	stmt := `INSERT INTO session (uid, created_ts, updated_ts)
		VALUES (?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.UID, upsert.CreatedTs, upsert.UpdatedTs); err != nil {
		return nil, fmt.Errorf("failed to upsert session: %w", err)
	}
	return upsert, nil
}

func (d *DB) GetSession(ctx context.Context, uid string) (*store.Session, error) {
	s := &store.Session{}
	err := d.db.QueryRowContext(ctx,
		`SELECT uid, created_ts, updated_ts FROM session WHERE uid = ?`, uid,
	).Scan(&s.UID, &s.CreatedTs, &s.UpdatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.UpdatedAfter != nil {
		where, args = append(where, "updated_ts >= ?"), append(args, *find.UpdatedAfter)
	}

	query := `SELECT uid, created_ts, updated_ts FROM session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Session, 0)
	for rows.Next() {
		s := &store.Session{}
		if err := rows.Scan(&s.UID, &s.CreatedTs, &s.UpdatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return list, nil
}

func (d *DB) DeleteSession(ctx context.Context, uid string) error {
	// No foreign keys in SQLite mode; delete transcript and stats explicitly.
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE session_uid = ?`, uid); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM turn_stats WHERE session_uid = ?`, uid); err != nil {
		return fmt.Errorf("failed to delete session stats: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM session WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `INSERT INTO message (session_uid, role, content, tool_call_id, tool_calls, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)`
	result, err := d.db.ExecContext(ctx, stmt,
		create.SessionUID, create.Role, create.Content, create.ToolCallID, create.ToolCallsJSON, create.CreatedTs)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		create.ID = id
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	query := `SELECT id, session_uid, role, content, tool_call_id, tool_calls, created_ts
		FROM message WHERE session_uid = ? ORDER BY id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, find.SessionUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.SessionUID, &m.Role, &m.Content, &m.ToolCallID, &m.ToolCallsJSON, &m.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return list, nil
}
