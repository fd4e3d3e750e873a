// Package api exposes the analysis service over HTTP: task submission,
// status polling, persisted history and a WebSocket stream of task state
// transitions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/seenimoa/stockwatch/internal/store"
	"github.com/seenimoa/stockwatch/internal/task"
)

// TaskService is the slice of the task front the API serves.
type TaskService interface {
	Submit(code, reportType, sourceMessage, source string) (task.Info, error)
	GetTaskStatus(id string) (task.Info, error)
	ListTasks(limit int) []task.Info
	GetAnalysisHistory(ctx context.Context, f store.HistoryFilter) ([]store.AnalysisRecord, error)
	Subscribe() (<-chan task.Info, func())
}

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	tasks  TaskService
	wsHub  *WSHub
	unsub  func()
}

// NewServer builds a server with all routes and middleware and starts the
// WebSocket hub feeding off the task ledger.
func NewServer(tasks TaskService) *Server {
	s := &Server{
		tasks: tasks,
		wsHub: NewWSHub(),
	}
	s.router = s.buildRouter()

	go s.wsHub.Run()
	updates, cancel := tasks.Subscribe()
	s.unsub = cancel
	go func() {
		for info := range updates {
			s.wsHub.Broadcast(WSMessage{Type: "task_update", Data: info})
		}
	}()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router { return s.router }

// Close detaches the server from the task ledger.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

// ListenAndServe starts the HTTP server and blocks until SIGINT/SIGTERM,
// then shuts down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", addr).Msg("api server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-done
	log.Info().Msg("shutting down api server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/analysis/stock/{code}", s.handleSubmit)
		r.Get("/analysis/tasks", s.handleListTasks)
		r.Get("/analysis/tasks/{id}", s.handleTaskStatus)
		r.Get("/analysis/history", s.handleHistory)

		r.Get("/ws/tasks", s.handleWebSocket)
	})

	return r
}

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SubmitRequest is the optional body for POST /api/v1/analysis/stock/{code}.
type SubmitRequest struct {
	ReportType    string `json:"report_type,omitempty"`
	SourceMessage string `json:"source_message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "stock code is required")
		return
	}

	var req SubmitRequest
	// Body is optional; only a malformed one is rejected.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := s.tasks.Submit(code, req.ReportType, req.SourceMessage, "api")
	switch {
	case errors.Is(err, task.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "submission queue full, retry later")
		return
	case errors.Is(err, task.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: info})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.tasks.GetTaskStatus(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: info})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.tasks.ListTasks(limit)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.HistoryFilter{
		QueryID: strings.TrimSpace(q.Get("query_id")),
		Code:    strings.TrimSpace(q.Get("code")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		f.Since = time.Now().AddDate(0, 0, -n)
	}

	rows, err := s.tasks.GetAnalysisHistory(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []store.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rows})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}
