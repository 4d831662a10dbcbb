// Package api is the loopback control/diagnostics HTTP surface standing in
// for the out-of-scope IPC command dispatch layer (§1, §6.1): one route per
// IPC verb this module actually implements, bearer-token authenticated and
// restricted to 127.0.0.1.
//
// Grounded on internal/api/server.go's ControlServer: chi router, the same
// localhost-enforcement + token-auth middleware chain, adapted from the
// teacher's AI-assistant-feature routes to the spec's task-lifecycle verbs.
// The teacher's security.AuditLogger is dropped (the internal/security
// package has no SPEC_FULL analog — see DESIGN.md); access logging here
// goes through the same slog logger as everything else instead.
package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oniro-request/requestd/internal/config"
	"github.com/oniro-request/requestd/internal/netmon"
	"github.com/oniro-request/requestd/internal/scheduler"
	"github.com/oniro-request/requestd/internal/store"
	"github.com/oniro-request/requestd/internal/task"
)

// Server is the control/diagnostics HTTP surface.
type Server struct {
	logger *slog.Logger
	cfg    *config.Manager
	store  *store.Store
	sched  *scheduler.Scheduler
	netmon *netmon.Monitor
	idgen  *task.IDGenerator
	router *chi.Mux
}

func New(logger *slog.Logger, cfg *config.Manager, st *store.Store, sched *scheduler.Scheduler, nm *netmon.Monitor, idgen *task.IDGenerator) *Server {
	s := &Server{logger: logger, cfg: cfg, store: st, sched: sched, netmon: nm, idgen: idgen, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

// Start binds the server to 127.0.0.1:port in a background goroutine.
func (s *Server) Start(port int) {
	addr := "127.0.0.1:" + strconv.Itoa(port)
	go func() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.logger.Error("control server failed to bind", "addr", addr, "error", err)
			return
		}
		s.logger.Info("control server listening", "addr", addr)
		if err := http.Serve(ln, s.router); err != nil {
			s.logger.Error("control server stopped", "error", err)
		}
	}()
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityMiddleware)

	s.router.Post("/v1/tasks", s.handleCreateTask)
	s.router.Get("/v1/tasks", s.handleSearchTasks)
	s.router.Get("/v1/tasks/{id}", s.handleGetTask)
	s.router.Delete("/v1/tasks/{id}", s.handleRemoveTask)
	s.router.Post("/v1/tasks/{id}/pause", s.handlePause)
	s.router.Post("/v1/tasks/{id}/resume", s.handleResume)
	s.router.Post("/v1/tasks/{id}/stop", s.handleStop)
	s.router.Post("/v1/tasks/{id}/speed", s.handleSetSpeed)
	s.router.Post("/v1/tasks/{id}/mode", s.handleSetMode)
	s.router.Get("/v1/diagnostics/speedtest", s.handleSpeedtest)
	s.router.Get("/v1/diagnostics/network", s.handleNetworkState)
}

// securityMiddleware enforces loopback-only access and bearer token auth,
// the same chain as the teacher's ControlServer.securityMiddleware.
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		token := r.Header.Get("X-Request-Token")
		if token != s.cfg.GetControlToken() {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseTaskID(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	return uint32(id), err
}

// createTaskRequest mirrors the Construct verb's fields (§3 Config).
type createTaskRequest struct {
	UID      uint64            `json:"uid"`
	Bundle   string            `json:"bundle"`
	Action   string            `json:"action"`
	Mode     string            `json:"mode"`
	URL      string            `json:"url"`
	Priority int               `json:"priority"`
	Headers  map[string]string `json:"headers"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	action := task.ActionDownload
	if req.Action == "upload" {
		action = task.ActionUpload
	}
	mode := task.ModeForeground
	if req.Mode == "background" {
		mode = task.ModeBackground
	}

	now := time.Now()
	t := &task.Task{
		ID: s.idgen.Next(),
		Config: task.Config{
			UID:      req.UID,
			Bundle:   req.Bundle,
			Action:   action,
			Mode:     mode,
			Version:  task.V10,
			URL:      req.URL,
			Priority: req.Priority,
			Headers:  req.Headers,
		},
		State: task.Initialized,
		CTime: now,
		MTime: now,
	}

	if err := s.store.Insert(t); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.sched.LoadTask(t)
	s.sched.Submit(scheduler.Event{Kind: scheduler.KindStart, TaskID: t.ID})

	writeJSON(w, http.StatusCreated, map[string]uint32{"task_id": t.ID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	t, err := s.store.GetInfo(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSearchTasks(w http.ResponseWriter, r *http.Request) {
	var f store.Filter
	if bundle := r.URL.Query().Get("bundle"); bundle != "" {
		f.Bundle = &bundle
	}
	ids, err := s.store.Search(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint32{"task_ids": ids})
}

func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	s.sched.Submit(scheduler.Event{Kind: scheduler.KindRemove, TaskID: id})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.submitSimple(w, r, scheduler.KindPause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.submitSimple(w, r, scheduler.KindResume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.submitSimple(w, r, scheduler.KindStop)
}

func (s *Server) submitSimple(w http.ResponseWriter, r *http.Request, kind scheduler.Kind) {
	id, err := parseTaskID(r)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	s.sched.Submit(scheduler.Event{Kind: kind, TaskID: id})
	w.WriteHeader(http.StatusAccepted)
}

type speedRequest struct {
	BytesPerSec int `json:"bytes_per_sec"`
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	var req speedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.sched.Submit(scheduler.Event{Kind: scheduler.KindSetMaxSpeed, TaskID: id, Speed: req.BytesPerSec})
	w.WriteHeader(http.StatusAccepted)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode := task.ModeForeground
	if req.Mode == "background" {
		mode = task.ModeBackground
	}
	s.sched.Submit(scheduler.Event{Kind: scheduler.KindSetMode, TaskID: id, Mode: mode})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSpeedtest(w http.ResponseWriter, r *http.Request) {
	result, err := netmon.Diagnose(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNetworkState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.netmon.Snapshot())
}
