// Package postgres implements the store driver on PostgreSQL, the
// recommended backend for multi-session deployments.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/vocalis-ai/vocalis/internal/profile"
	"github.com/vocalis-ai/vocalis/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database using the DSN from the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	postgresDB.SetMaxOpenConns(10)
	postgresDB.SetMaxIdleConns(5)

	driver := DB{db: postgresDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

var migration = []string{
	`CREATE TABLE IF NOT EXISTS session (
		uid TEXT PRIMARY KEY,
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		id BIGSERIAL PRIMARY KEY,
		session_uid TEXT NOT NULL REFERENCES session (uid) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_call_id TEXT NOT NULL DEFAULT '',
		tool_calls TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_session ON message (session_uid, id)`,
	`CREATE TABLE IF NOT EXISTS turn_stats (
		session_uid TEXT PRIMARY KEY REFERENCES session (uid) ON DELETE CASCADE,
		turns BIGINT NOT NULL DEFAULT 0,
		tool_turns BIGINT NOT NULL DEFAULT 0,
		conversation_turns BIGINT NOT NULL DEFAULT 0,
		interrupts BIGINT NOT NULL DEFAULT 0,
		exhausted_turns BIGINT NOT NULL DEFAULT 0,
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		last_decision TEXT NOT NULL DEFAULT '',
		updated_ts BIGINT NOT NULL
	)`,
}

// Migrate creates the schema. Statements are idempotent so the migration can
// run on every start.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migration {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to run migration")
		}
	}
	return nil
}

// placeholder returns the parameter marker for position n (1-based).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
