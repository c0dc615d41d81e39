package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/logistica/internal/api/handler"
	mw "github.com/edvin/logistica/internal/api/middleware"
	"github.com/edvin/logistica/internal/config"
	"github.com/edvin/logistica/internal/core"
)

// Pinger reports whether the job database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	router      chi.Router
	logger      zerolog.Logger
	services    *core.Services
	ctrl        handler.BackupController
	db          Pinger
	cfg         *config.Config
	auditLogger *mw.AuditLogger
}

func NewServer(logger zerolog.Logger, db core.Querier, ping Pinger, services *core.Services, ctrl handler.BackupController, cfg *config.Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger,
		services:    services,
		ctrl:        ctrl,
		db:          ping,
		cfg:         cfg,
		auditLogger: mw.NewAuditLogger(db, logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth([]byte(s.cfg.JWTSecret)))
		r.Use(s.auditLogger.Middleware)

		backup := handler.NewBackup(s.ctrl, s.services.Jobs, s.services.Files, s.services.Activity, s.services.Logs)
		schedule := handler.NewSchedule(s.services.Schedules, s.cfg.Databases)
		cfg := handler.NewConfig(s.services.Settings)

		r.Get("/backups", backup.List)
		r.Get("/backups/stats", backup.Stats)
		r.Get("/backups/{id}", backup.Get)
		r.Get("/backups/{id}/files", backup.Files)
		r.Get("/backups/{id}/activity", backup.Activity)
		r.Get("/backups/{id}/logs", backup.Logs)
		r.Get("/backup-schedules", schedule.List)
		r.Get("/backup-config", cfg.List)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(mw.RoleOperator, mw.RoleAdmin))
			r.Post("/backups", backup.Trigger)
			r.Delete("/backups/{id}", backup.Delete)
			r.Post("/backups/{id}/cancel", backup.Cancel)
			r.Post("/backup-schedules", schedule.Create)
			r.Put("/backup-schedules/{id}/enabled", schedule.SetEnabled)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.db.PingContext(ctx); err != nil {
		checks["backup_db"] = err.Error()
		healthy = false
	} else {
		checks["backup_db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

// Close flushes pending audit entries.
func (s *Server) Close() {
	s.auditLogger.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
