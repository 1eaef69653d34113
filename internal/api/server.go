package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/forgecrm/hookd/internal/audit"
	"github.com/forgecrm/hookd/internal/config"
	"github.com/forgecrm/hookd/internal/delivery"
	"github.com/forgecrm/hookd/internal/replay"
	"github.com/forgecrm/hookd/internal/storage"
)

type Server struct {
	cfg        *config.Config
	store      storage.Storage
	dispatcher *delivery.Dispatcher
	sender     *delivery.Sender
	replayer   *replay.Engine
	audit      *audit.Logger
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg *config.Config, store storage.Storage, dispatcher *delivery.Dispatcher,
	sender *delivery.Sender, replayer *replay.Engine, auditLog *audit.Logger, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		sender:     sender,
		replayer:   replayer,
		audit:      auditLog,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	wsHandler := NewWorkspaceHandler(s.store)
	whHandler := NewWebhookHandler(s.store, s.sender, s.dispatcher, s.audit, s.cfg.IsProduction())
	evtHandler := NewEventHandler(s.store, s.dispatcher, s.cfg.Delivery.Source)
	logHandler := NewLogHandler(s.store, s.replayer)
	statsHandler := NewStatsHandler(s.store)

	// Health check — no auth
	r.Get("/health", statsHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Workspace management — admin routes, no bearer auth
		r.Post("/workspaces", wsHandler.Create)
		r.Get("/workspaces", wsHandler.List)
		r.Post("/workspaces/{id}/rotate-key", wsHandler.RotateKey)

		// Workspace-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			// Subscriptions
			r.Post("/webhooks", whHandler.Create)
			r.Get("/webhooks", whHandler.List)
			r.Get("/webhooks/{id}", whHandler.Get)
			r.Put("/webhooks/{id}", whHandler.Update)
			r.Delete("/webhooks/{id}", whHandler.Delete)
			r.Patch("/webhooks/{id}/toggle", whHandler.Toggle)
			r.Post("/webhooks/{id}/rotate-secret", whHandler.RotateSecret)
			r.Post("/webhooks/{id}/test", whHandler.Test)
			r.Get("/webhooks/{id}/logs", logHandler.ListBySubscription)

			// Event ingestion
			r.Post("/events", evtHandler.Ingest)

			// Delivery logs and replay
			r.Get("/logs/{id}", logHandler.Get)
			r.Get("/logs/{id}/chain", logHandler.Chain)
			r.Get("/logs/{id}/can-replay", logHandler.CanReplay)
			r.Post("/logs/{id}/replay", logHandler.Replay)
			r.Post("/logs/replay-bulk", logHandler.BulkReplay)

			// Stats
			r.Get("/stats", statsHandler.Stats)
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
