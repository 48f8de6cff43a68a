// Package server exposes the voice assistant over HTTP: an SSE chat
// endpoint, session management, health, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/vocalis-ai/vocalis/ai/metrics"
	"github.com/vocalis-ai/vocalis/internal/profile"
	"github.com/vocalis-ai/vocalis/internal/version"
	"github.com/vocalis-ai/vocalis/store"
)

// maxConcurrentTurns caps in-flight turns across all sessions. Turns hold a
// model stream open for seconds, so this bounds upstream connections.
const maxConcurrentTurns = 8

const (
	// clientVersionHeader carries the client's build version. Absent means a
	// current client (curl, tests, same-repo tooling).
	clientVersionHeader = "X-Vocalis-Client"

	// minClientVersion is the oldest client allowed on the API: older clients
	// predate the SSE event framing.
	minClientVersion = "0.1.0"
)

type Server struct {
	echoServer *echo.Echo

	Profile *profile.Profile
	Store   *store.Store

	metrics   *metrics.Exporter
	sessions  *SessionManager
	turnSlots *semaphore.Weighted
}

// NewServer assembles the HTTP server. The factory builds one agent per
// session on first use.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, exporter *metrics.Exporter, factory AgentFactory) (*Server, error) {
	if factory == nil {
		return nil, fmt.Errorf("agent factory required")
	}
	if exporter == nil {
		exporter = metrics.NewExporter(metrics.DefaultConfig())
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echoServer: e,
		Profile:    profile,
		Store:      store,
		metrics:    exporter,
		sessions:   NewSessionManager(factory),
		turnSlots:  semaphore.NewWeighted(maxConcurrentTurns),
	}

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	apiGroup := e.Group("/api/v1", clientVersionGuard)
	apiGroup.POST("/chat", s.chat)
	apiGroup.POST("/chat/interrupt", s.interrupt)
	apiGroup.GET("/sessions", s.listSessions)
	apiGroup.GET("/sessions/:uid", s.getSession)
	apiGroup.DELETE("/sessions/:uid", s.deleteSession)

	return s, nil
}

// Start begins serving in the background; startup errors other than a clean
// close are returned on the first failed bind attempt via logs.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}

	slog.Info("server shutdown complete")
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echoServer
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetCurrentVersion(s.Profile.Mode),
		"build":   version.String(),
	})
}

// clientVersionGuard rejects API requests from clients older than
// minClientVersion. Requests without the version header pass through.
func clientVersionGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		v := c.Request().Header.Get(clientVersionHeader)
		if v != "" && !version.IsVersionGreaterOrEqualThan(v, minClientVersion) {
			return echo.NewHTTPError(http.StatusUpgradeRequired,
				fmt.Sprintf("client version %s is no longer supported, please upgrade to %s or newer", v, minClientVersion))
		}
		return next(c)
	}
}
