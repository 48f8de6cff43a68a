package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vocalis-ai/vocalis/ai/agent"
)

// ChatAgent is the per-session agent surface the server drives. Satisfied by
// agent.DualModelAgent.
type ChatAgent interface {
	HandleTurn(ctx context.Context, userText string) <-chan agent.Chunk
	Interrupt()
	Stats() agent.StatsSnapshot
	Warmup(ctx context.Context)
}

// AgentFactory builds the agent for a session on first use.
type AgentFactory func(ctx context.Context, sessionID string) (ChatAgent, error)

// Turns within one session are sequential by design; the limiter only guards
// against runaway clients hammering the endpoint.
const (
	sessionRateInterval = time.Second
	sessionRateBurst    = 5
)

type session struct {
	agent   ChatAgent
	limiter *rate.Limiter

	// turnMu serializes turns within the session; history is not built for
	// interleaved turns.
	turnMu sync.Mutex
}

// SessionManager owns the live agents, keyed by session UID.
type SessionManager struct {
	mu      sync.Mutex
	factory AgentFactory
	agents  map[string]*session
}

func NewSessionManager(factory AgentFactory) *SessionManager {
	return &SessionManager{
		factory: factory,
		agents:  make(map[string]*session),
	}
}

// Get returns the session's agent, constructing it on first use.
func (m *SessionManager) Get(ctx context.Context, uid string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.agents[uid]; ok {
		return s, nil
	}

	a, err := m.factory(ctx, uid)
	if err != nil {
		return nil, err
	}
	s := &session{
		agent:   a,
		limiter: rate.NewLimiter(rate.Every(sessionRateInterval), sessionRateBurst),
	}
	m.agents[uid] = s
	return s, nil
}

// Peek returns the session if it is live, without constructing one.
func (m *SessionManager) Peek(uid string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.agents[uid]
	return s, ok
}

// Evict drops the live agent for a session. Persisted history survives.
func (m *SessionManager) Evict(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, uid)
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}
