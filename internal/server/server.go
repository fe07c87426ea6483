// Package server exposes the game engine over HTTP: session lifecycle,
// action processing with SSE/WebSocket streaming, the mission surface,
// ingest tasks, image generation, and static asset delivery.
//
// The handlers are deliberately thin: they decode the request, call one
// runtime operation, and encode the reply. All game semantics live in the
// internal packages behind them.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joffreyzhang/kurangame/internal/health"
	"github.com/joffreyzhang/kurangame/internal/imagegen"
	"github.com/joffreyzhang/kurangame/internal/observe"
	"github.com/joffreyzhang/kurangame/internal/session"
	"github.com/joffreyzhang/kurangame/internal/stream"
	"github.com/joffreyzhang/kurangame/internal/task"
)

// Server routes HTTP traffic to the game runtime.
type Server struct {
	runtime *session.Runtime
	tasks   *task.Manager
	hub     *stream.Hub
	log     *slog.Logger

	images    *imagegen.Pipeline
	imagesDir string
	health    *health.Handler
	metrics   *observe.Metrics
}

// Option configures optional server surfaces.
type Option func(*Server)

// WithImagePipeline enables the deferred image-generation endpoint and static
// asset delivery from imagesDir.
func WithImagePipeline(p *imagegen.Pipeline, imagesDir string) Option {
	return func(s *Server) {
		s.images = p
		s.imagesDir = imagesDir
	}
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics wraps all routes in the observability middleware and mounts
// /metrics for Prometheus scraping.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates the server. runtime, tasks, and hub are required; nil log
// falls back to slog.Default.
func New(runtime *session.Runtime, tasks *task.Manager, hub *stream.Hub, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		runtime: runtime,
		tasks:   tasks,
		hub:     hub,
		log:     log.With("component", "server"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes returns the fully wired handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Session lifecycle.
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{sessionID}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{sessionID}", s.handleCloseSession)
	mux.HandleFunc("GET /api/sessions/{sessionID}/events", s.handleEvents)
	mux.HandleFunc("GET /api/sessions/{sessionID}/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/sessions/{sessionID}/recap", s.handleRecap)

	// Gameplay.
	mux.HandleFunc("POST /api/sessions/{sessionID}/actions", s.handleProcessAction)
	mux.HandleFunc("POST /api/sessions/{sessionID}/items/{itemID}/use", s.handleUseItem)
	mux.HandleFunc("POST /api/sessions/{sessionID}/scene", s.handleChangeScene)
	mux.HandleFunc("POST /api/sessions/{sessionID}/era/skip", s.handleSkipEra)
	mux.HandleFunc("POST /api/sessions/{sessionID}/npcs/{npcID}/chat", s.handleNPCChat)

	// Missions.
	mux.HandleFunc("GET /api/sessions/{sessionID}/missions", s.handleListMissions)
	mux.HandleFunc("POST /api/sessions/{sessionID}/missions/{missionID}/submit", s.handleSubmitMission)
	mux.HandleFunc("POST /api/sessions/{sessionID}/missions/{missionID}/abandon", s.handleAbandonMission)
	mux.HandleFunc("GET /api/sessions/{sessionID}/storyline", s.handleStoryline)

	// Ingest tasks.
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{taskID}", s.handleGetTask)
	mux.HandleFunc("POST /api/tasks/{taskID}/resume", s.handleResumeTask)

	// Images.
	if s.images != nil {
		mux.HandleFunc("POST /api/files/{fileID}/images", s.handleGenerateImages)
		mux.Handle("GET /images/", http.StripPrefix("/images/",
			http.FileServer(http.Dir(s.imagesDir))))
	}

	if s.health != nil {
		s.health.Register(mux)
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		handler = observe.Middleware(s.metrics)(mux)
	}
	return handler
}
