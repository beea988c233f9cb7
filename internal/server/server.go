// Package server runs the long-lived deployment mode: a chi-routed REST
// surface, the GitHub webhook endpoint, and cron-scheduled scans.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/treliq/treliq/internal/scan"
	"github.com/treliq/treliq/internal/store"
)

// OrchestratorFactory builds a scan orchestrator and its options for a repo.
// The server is repo-agnostic; each scan binds a host client to one repo.
type OrchestratorFactory func(repo string) (*scan.Orchestrator, scan.Options, error)

// Server is the long-running deployment mode.
type Server struct {
	addr          string
	webhookSecret []byte
	db            *store.Store
	factory       OrchestratorFactory
	broadcaster   *Broadcaster

	cron     *cron.Cron
	schedule string
	repos    []string

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWebhookSecret enables webhook signature verification.
func WithWebhookSecret(secret string) Option {
	return func(s *Server) { s.webhookSecret = []byte(secret) }
}

// WithDB enables history endpoints and webhook persistence.
func WithDB(db *store.Store) Option {
	return func(s *Server) { s.db = db }
}

// WithSchedule enables cron scans of repos on the given spec.
func WithSchedule(schedule string, repos []string) Option {
	return func(s *Server) {
		s.schedule = schedule
		s.repos = repos
	}
}

// New creates a server listening on addr.
func New(addr string, factory OrchestratorFactory, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		factory:     factory,
		broadcaster: NewBroadcaster(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Broadcaster exposes the event stream for embedding callers.
func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

func (s *Server) orchestratorFor(repo string) (*scan.Orchestrator, scan.Options, error) {
	return s.factory(repo)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks", s.handleWebhook)
	r.Route("/api", func(r chi.Router) {
		r.Get("/scans/{owner}/{repo}", s.handleScanHistory)
		r.Get("/prs/{owner}/{repo}", s.handleRankedPRs)
		r.Post("/scan", s.handleTriggerScan)
	})

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.schedule != "" && len(s.repos) > 0 {
		if err := s.startCron(); err != nil {
			return err
		}
		defer s.cron.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) startCron() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		for _, repo := range s.repos {
			s.runScheduledScan(repo)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	slog.Info("scheduled scans enabled", "schedule", s.schedule, "repos", len(s.repos))
	return nil
}

func (s *Server) runScheduledScan(repo string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	orch, opts, err := s.orchestratorFor(repo)
	if err != nil {
		slog.Error("scheduled scan setup failed", "repo", repo, "error", err)
		return
	}
	result, err := orch.Scan(ctx, opts)
	if err != nil {
		slog.Error("scheduled scan failed", "repo", repo, "error", err)
		return
	}
	slog.Info("scheduled scan complete", "repo", repo, "summary", result.Summary)
	s.broadcaster.Publish(Event{Type: "scan_complete", Payload: map[string]any{
		"repo":    repo,
		"summary": result.Summary,
	}})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusNotImplemented, "no database configured")
		return
	}
	owner := chi.URLParam(r, "owner")
	repo := chi.URLParam(r, "repo")
	scans, err := s.db.RecentScans(r.Context(), owner, repo, 20)
	if err != nil {
		slog.Error("scan history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": scans})
}

func (s *Server) handleRankedPRs(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusNotImplemented, "no database configured")
		return
	}
	owner := chi.URLParam(r, "owner")
	repo := chi.URLParam(r, "repo")
	prs, err := s.db.TopPRs(r.Context(), owner, repo, 50)
	if err != nil {
		slog.Error("ranked PR query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prs": prs})
}

type triggerScanRequest struct {
	Repo string `json:"repo"`
}

func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	var req triggerScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" {
		writeError(w, http.StatusBadRequest, "expected JSON body with repo")
		return
	}
	if _, _, err := splitRepo(req.Repo); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	go s.runScheduledScan(req.Repo)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan started", "repo": req.Repo})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": http.StatusText(status), "message": message})
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}
