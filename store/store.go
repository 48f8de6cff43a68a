// Package store provides database access to conversation sessions, their
// message transcripts, and per-session turn statistics.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
	"github.com/vocalis-ai/vocalis/internal/profile"
)

// Driver is the database abstraction implemented per backend.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the schema if it does not exist yet.
	Migrate(ctx context.Context) error

	UpsertSession(ctx context.Context, upsert *Session) (*Session, error)
	GetSession(ctx context.Context, uid string) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	DeleteSession(ctx context.Context, uid string) error

	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	UpsertTurnStats(ctx context.Context, upsert *TurnStats) (*TurnStats, error)
	GetTurnStats(ctx context.Context, sessionUID string) (*TurnStats, error)
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// NewSessionUID returns a fresh session identifier.
func NewSessionUID() string {
	return shortuuid.New()
}

func (s *Store) UpsertSession(ctx context.Context, upsert *Session) (*Session, error) {
	return s.driver.UpsertSession(ctx, upsert)
}

func (s *Store) GetSession(ctx context.Context, uid string) (*Session, error) {
	return s.driver.GetSession(ctx, uid)
}

func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.driver.ListSessions(ctx, find)
}

func (s *Store) DeleteSession(ctx context.Context, uid string) error {
	return s.driver.DeleteSession(ctx, uid)
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) UpsertTurnStats(ctx context.Context, upsert *TurnStats) (*TurnStats, error) {
	return s.driver.UpsertTurnStats(ctx, upsert)
}

func (s *Store) GetTurnStats(ctx context.Context, sessionUID string) (*TurnStats, error) {
	return s.driver.GetTurnStats(ctx, sessionUID)
}

// Load returns the full transcript of a session in chronological order.
// An unknown session loads as an empty transcript.
func (s *Store) Load(ctx context.Context, sessionUID string) ([]llm.Message, error) {
	rows, err := s.driver.ListMessages(ctx, &FindMessage{SessionUID: sessionUID})
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(rows))
	for _, row := range rows {
		m, err := row.ToLLMMessage()
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Append persists one message at the end of a session's transcript, creating
// the session row on first use.
func (s *Store) Append(ctx context.Context, sessionUID string, m llm.Message) error {
	now := time.Now().Unix()
	if _, err := s.driver.UpsertSession(ctx, &Session{UID: sessionUID, CreatedTs: now, UpdatedTs: now}); err != nil {
		return err
	}

	row, err := NewMessageRow(sessionUID, m)
	if err != nil {
		return err
	}
	_, err = s.driver.CreateMessage(ctx, row)
	return err
}
