// Package gateway implements the HTTP surface of spec.md §4.3 over
// internal/repository: request parsing/validation, routing, and
// response serialization, plus the NDJSON run-streaming endpoint.
package gateway

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/taskforge/taskforge/internal/repository"
)

// Server is the Gateway HTTP API.
type Server struct {
	repo        *repository.Repository
	addr        string
	leaseTTLMS  int
	maxAttempts int
	server      *http.Server
}

// NewServer builds a Server bound to addr (e.g. ":7070"). leaseTTLMS and
// maxAttempts are the defaults applied when a request omits them.
func NewServer(repo *repository.Repository, addr string, leaseTTLMS, maxAttempts int) *Server {
	return &Server{
		repo:        repo,
		addr:        addr,
		leaseTTLMS:  leaseTTLMS,
		maxAttempts: maxAttempts,
	}
}

// Start builds the route table and serves until Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/queue", s.handleTasksQueue)
	mux.HandleFunc("/tasks/run", s.handleTasksRun)
	mux.HandleFunc("/tasks/lease", s.handleTasksLease)
	mux.HandleFunc("/tasks/", s.handleTaskByID)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/state/", s.handleState)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Minute, // the run-streaming endpoint holds the connection open
	}

	log.Printf("gateway: listening on %s", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// loggingMiddleware wraps every handler with one log line per request:
// method, path, status, and latency, matching the teacher's plain
// log.Printf idiom rather than a structured-logging dependency no pack
// repo pulls in for an HTTP server.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

// statusWriter captures the status code a handler wrote, since
// http.ResponseWriter doesn't expose it after the fact.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped ResponseWriter when it supports
// streaming, so the run-streaming endpoint's http.Flusher type
// assertion still succeeds through this wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.listTasks(w, r)
}

// handleTaskByID handles /tasks/{id} and /tasks/{id}/{action}, the same
// trim-and-split path parsing the teacher's handleTaskByID uses.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusNotFound)
		return
	}
	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTask(w, r, taskID)
	case action == "attempts" && r.Method == http.MethodGet:
		s.getTaskAttempts(w, r, taskID)
	case action == "events" && r.Method == http.MethodGet:
		s.getTaskEvents(w, r, taskID)
	case action == "heartbeat" && r.Method == http.MethodPost:
		s.postHeartbeat(w, r, taskID)
	case action == "events" && r.Method == http.MethodPost:
		s.postEvent(w, r, taskID)
	case action == "complete" && r.Method == http.MethodPost:
		s.postComplete(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/state/")
	if key == "" {
		http.Error(w, "state key required", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.getState(w, r, key)
	case http.MethodPost:
		s.postState(w, r, key)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
