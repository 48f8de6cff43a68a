package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vocalis-ai/vocalis/ai/agent"
	"github.com/vocalis-ai/vocalis/store"
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	// SessionID resumes an existing session; empty starts a new one.
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// InterruptRequest is the body of POST /api/v1/chat/interrupt.
type InterruptRequest struct {
	SessionID string `json:"session_id"`
}

type sseEvent struct {
	SessionID string          `json:"session_id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Progress  *json.RawMessage `json:"progress,omitempty"`
	Stats     any             `json:"stats,omitempty"`
}

// chat runs one turn and streams the response as server-sent events. Event
// names mirror the chunk types (text, acknowledgment, tool_progress); a
// terminal "done" event carries the session stats.
func (s *Server) chat(c echo.Context) error {
	req := &ChatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text required")
	}
	if req.SessionID == "" {
		req.SessionID = store.NewSessionUID()
	}

	ctx := c.Request().Context()

	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		slog.Error("chat: failed to build session agent", "session", req.SessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to initialize session")
	}
	if !sess.limiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}
	if !s.turnSlots.TryAcquire(1) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "too many concurrent turns")
	}
	defer s.turnSlots.Release(1)

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	writeEvent(resp, "session", sseEvent{SessionID: req.SessionID})

	before := sess.agent.Stats()
	turnStarted := time.Now()
	done := s.metrics.TurnStarted()
	defer done()

	for chunk := range sess.agent.HandleTurn(ctx, req.Text) {
		ev := sseEvent{Text: chunk.Text}
		if chunk.Progress != nil {
			if raw, err := json.Marshal(chunk.Progress); err == nil {
				msg := json.RawMessage(raw)
				ev.Progress = &msg
			}
		}
		writeEvent(resp, chunk.Type, ev)
	}

	after := sess.agent.Stats()
	s.recordTurn(c, req.SessionID, before, after, time.Since(turnStarted))

	writeEvent(resp, "done", sseEvent{SessionID: req.SessionID, Stats: after})
	return nil
}

// interrupt marks the session's in-flight response as cut off by the user.
func (s *Server) interrupt(c echo.Context) error {
	req := &InterruptRequest{}
	if err := c.Bind(req); err != nil || req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id required")
	}

	sess, ok := s.sessions.Peek(req.SessionID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not live")
	}

	sess.agent.Interrupt()
	s.metrics.RecordInterrupt()
	return c.JSON(http.StatusOK, map[string]string{"status": "interrupted"})
}

func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.Store.ListSessions(c.Request().Context(), &store.FindSession{})
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) getSession(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")

	sessionRow, err := s.Store.GetSession(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get session")
	}
	if sessionRow == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	transcript, err := s.Store.Load(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load transcript")
	}
	stats, err := s.Store.GetTurnStats(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load stats")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session":    sessionRow,
		"transcript": transcript,
		"stats":      stats,
	})
}

func (s *Server) deleteSession(c echo.Context) error {
	uid := c.Param("uid")
	if err := s.Store.DeleteSession(c.Request().Context(), uid); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete session")
	}
	s.sessions.Evict(uid)
	return c.NoContent(http.StatusNoContent)
}

// recordTurn persists the session counters and feeds the metrics exporter
// with this turn's deltas.
func (s *Server) recordTurn(c echo.Context, sessionID string, before, after agent.StatsSnapshot, latency time.Duration) {
	turnType := "conversation"
	if after.LastDecision.NeedsTool {
		turnType = "tool"
	}

	s.metrics.RecordTurn(turnType, latency, after.ExhaustedTurns == before.ExhaustedTurns)
	s.metrics.RecordIntentDecision(string(after.LastDecision.Method), after.LastDecision.NeedsTool)
	s.metrics.RecordLLMTokens(turnType,
		after.PromptTokens-before.PromptTokens,
		after.CompletionTokens-before.CompletionTokens)
	if after.ExhaustedTurns > before.ExhaustedTurns {
		s.metrics.RecordExhaustion()
	}

	if s.Store == nil {
		return
	}
	_, err := s.Store.UpsertTurnStats(c.Request().Context(), &store.TurnStats{
		SessionUID:        sessionID,
		Turns:             int64(after.Turns),
		ToolTurns:         int64(after.ToolTurns),
		ConversationTurns: int64(after.ConversationTurns),
		Interrupts:        int64(after.Interrupts),
		ExhaustedTurns:    int64(after.ExhaustedTurns),
		PromptTokens:      int64(after.PromptTokens),
		CompletionTokens:  int64(after.CompletionTokens),
		LastDecision:      turnType,
	})
	if err != nil {
		slog.Warn("failed to persist turn stats", "session", sessionID, "error", err)
	}
}

func writeEvent(resp *echo.Response, event string, payload sseEvent) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data)
	resp.Flush()
}
