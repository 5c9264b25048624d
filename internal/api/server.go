// Package api serves the operator HTTP interface: task and approval
// listings, approval resolution, analytics, watcher status and the
// Prometheus endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/internal/integration"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
)

// TaskReader is the read side of the task store.
type TaskReader interface {
	Get(id string) (*models.Task, error)
	List(state models.TaskState) ([]models.Task, error)
	ListArchived() ([]models.Task, error)
}

// WatcherLister reports the managed watcher processes.
type WatcherLister interface {
	Status() []integration.WatcherStatus
}

// Server is the operator HTTP API.
type Server struct {
	tasks     TaskReader
	approvals core.ApprovalEngine
	intake    core.TaskIntake
	metrics   http.Handler
	watchers  WatcherLister
	logger    *zap.Logger
	router    chi.Router
}

// NewServer builds the router. intake and metrics may be nil, which disables
// POST /tasks and GET /metrics respectively.
func NewServer(tasks TaskReader, approvals core.ApprovalEngine, intake core.TaskIntake, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tasks:     tasks,
		approvals: approvals,
		intake:    intake,
		metrics:   metrics,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/tasks", s.listTasks)
	r.Post("/tasks", s.submitTask)
	r.Get("/tasks/{id}", s.getTask)
	r.Get("/approvals", s.listApprovals)
	r.Get("/approvals/{id}", s.getApproval)
	r.Post("/approvals/{id}/approve", s.resolve(models.DecisionApproved))
	r.Post("/approvals/{id}/reject", s.resolve(models.DecisionRejected))
	r.Get("/analytics", s.analytics)
	r.Get("/watchers", s.listWatchers)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	s.router = r
	return s
}

// SetWatchers enables GET /watchers. Without it the endpoint lists nothing.
func (s *Server) SetWatchers(w WatcherLister) {
	s.watchers = w
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ResolveRequest is the body of the approve and reject endpoints.
type ResolveRequest struct {
	Resolver string `json:"resolver"`
	Reason   string `json:"reason"`
}

// SubmitRequest is the body of POST /tasks.
type SubmitRequest struct {
	Source   string            `json:"source"`
	Payload  string            `json:"payload"`
	Priority string            `json:"priority,omitempty"`
	Type     string            `json:"type,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	var (
		tasks []models.Task
		err   error
	)
	switch {
	case state == "archive" || state == "archived":
		tasks, err = s.tasks.ListArchived()
	case state != "":
		st := models.TaskState(state)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown state "+state)
			return
		}
		tasks, err = s.tasks.List(st)
	default:
		for _, st := range models.AllStates {
			batch, lerr := s.tasks.List(st)
			if lerr != nil {
				err = lerr
				break
			}
			tasks = append(tasks, batch...)
		}
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	if s.intake == nil {
		writeError(w, http.StatusNotImplemented, "intake not available")
		return
	}
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" || req.Payload == "" {
		writeError(w, http.StatusBadRequest, `invalid body: {"source":"...","payload":"..."}`)
		return
	}
	id, created, err := s.intake.Submit(models.IntakeRequest{
		Source:       req.Source,
		Timestamp:    time.Now().UTC(),
		Payload:      req.Payload,
		PriorityHint: req.Priority,
		Type:         req.Type,
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"id": id, "created": created})
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	state := models.ApprovalState(r.URL.Query().Get("state"))
	if state == "" {
		state = models.ApprovalPending
	}
	if !state.Valid() {
		writeError(w, http.StatusBadRequest, "unknown state "+string(state))
		return
	}
	reqs, err := s.approvals.List(state)
	if err != nil {
		s.fail(w, err)
		return
	}
	if reqs == nil {
		reqs = []models.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	req, err := s.approvals.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) resolve(decision models.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ResolveRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, `invalid body: {"resolver":"...","reason":"..."}`)
				return
			}
		}
		if body.Resolver == "" {
			body.Resolver = "api"
		}
		req, err := s.approvals.Resolve(chi.URLParam(r, "id"), decision, body.Resolver, body.Reason)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func (s *Server) listWatchers(w http.ResponseWriter, r *http.Request) {
	out := []integration.WatcherStatus{}
	if s.watchers != nil {
		out = append(out, s.watchers.Status()...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.approvals.Analytics()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// fail maps store errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrAlreadyResolved), errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("api request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
