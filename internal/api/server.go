// Package api exposes the HTTP control surface for the scrape service.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/jobs"
	"github.com/jobgrid/scrape-service/internal/metrics"
	"github.com/jobgrid/scrape-service/internal/orchestrator"
	"github.com/jobgrid/scrape-service/internal/store"
)

// Orchestrator is the slice of the run coordinator the handlers need.
type Orchestrator interface {
	Start(ctx context.Context, trigger jobs.Trigger, force bool) (orchestrator.StartResult, error)
	RunSync(ctx context.Context, trigger jobs.Trigger, force bool) (jobs.RunStats, error)
	RequestCancel(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) (jobs.RunSnapshot, error)
}

// Config carries the HTTP-facing settings.
type Config struct {
	// CronSecret authenticates the external scheduler; empty disables the
	// cron endpoint entirely rather than leaving it open.
	CronSecret	string
	RequestTimeout	time.Duration
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router	chi.Router
	orch	Orchestrator
	cfg	Config
	ready	func(ctx context.Context) error
	logger	*zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil;
// readyz then always reports ready.
func NewServer(orch Orchestrator, cfg Config, ready func(ctx context.Context) error, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{orch: orch, cfg: cfg, ready: ready, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/scrape", func(r chi.Router) {
		r.Post("/", s.scrapeAction)
		r.Get("/status", s.scrapeStatus)
		r.Get("/cron", s.scrapeCron)
		r.Post("/cron", s.scrapeCron)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	Action	string	`json:"action"`
	Force	bool	`json:"force"`
}

// scrapeAction handles POST /scrape with {"action": "start"|"cancel"}.
func (s *Server) scrapeAction(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	switch req.Action {
	case "start":
		s.startRun(w, r, req.Force)
	case "cancel":
		s.cancelRun(w, r)
	default:
		writeError(w, http.StatusBadRequest, "action must be start or cancel")
	}
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, force bool) {
	res, err := s.orch.Start(r.Context(), jobs.TriggerManual, force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body := map[string]any{
		"ok":		true,
		"accepted":	res.Accepted,
		"progress":	s.snapshotOrNil(r.Context()),
	}
	status := http.StatusOK
	switch {
	case res.AlreadyRunning:
		body["alreadyRunning"] = true
	case res.Skipped:
		body["skipped"] = true
		body["skipReason"] = res.SkipReason
	default:
		body["runId"] = res.RunID
		status = http.StatusAccepted
	}
	writeJSON(w, status, body)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	flagged, err := s.orch.RequestCancel(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":			true,
		"cancelRequested":	flagged,
		"progress":		s.snapshotOrNil(r.Context()),
	})
}

// scrapeStatus returns the current run record. Pollers hit this every few
// seconds, so the response is explicitly marked uncacheable.
func (s *Server) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":		true,
		"progress":	s.snapshotOrNil(r.Context()),
	})
}

// scrapeCron is the external scheduler's entry point. It runs synchronously
// and reports the run statistics in the response body.
func (s *Server) scrapeCron(w http.ResponseWriter, r *http.Request) {
	if !s.cronAuthorized(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	trigger := jobs.TriggerAuto
	if t := r.URL.Query().Get("trigger"); t == string(jobs.TriggerManual) {
		trigger = jobs.TriggerManual
	}
	force := r.URL.Query().Get("force") == "true"

	stats, err := s.orch.RunSync(r.Context(), trigger, force)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":		false,
			"errorMessage":	err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":		true,
		"stats":	stats,
	})
}

// cronAuthorized accepts the secret as a bearer token or X-Cron-Secret
// header, compared in constant time.
func (s *Server) cronAuthorized(r *http.Request) bool {
	if s.cfg.CronSecret == "" {
		return false
	}
	candidate := r.Header.Get("X-Cron-Secret")
	if candidate == "" {
		auth := r.Header.Get("Authorization")
		candidate = strings.TrimPrefix(auth, "Bearer ")
		if candidate == auth {
			candidate = ""
		}
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.cfg.CronSecret)) == 1
}

func (s *Server) snapshotOrNil(ctx context.Context) *jobs.RunSnapshot {
	snap, err := s.orch.Snapshot(ctx)
	if err != nil {
		if !isNotFound(err) {
			s.logger.Warn("load run snapshot", zap.Error(err))
		}
		return nil
	}
	return &snap
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
