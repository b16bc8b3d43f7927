// Package health serves the node's liveness/readiness HTTP surface
// (spec.md §6's "GET /health → 200"), plus a readiness endpoint that also
// reports named dependency checks (registry reachable, bus reachable,
// etc.) — the teacher shipped only server_test.go for this package; this
// file is written fresh to satisfy it, in the style of the teacher's other
// small net/http servers (pkg/relay's mux-based Start/Stop).
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CheckFunc reports a named dependency's health: ok and a short message.
type CheckFunc func() (ok bool, message string)

// Check is one dependency's latest evaluated health.
type Check struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// StatusResponse is the body returned by /health and /ready.
type StatusResponse struct {
	Status string           `json:"status"`
	Uptime string           `json:"uptime"`
	Checks map[string]Check `json:"checks,omitempty"`
}

// Server is the node's health/readiness HTTP surface.
type Server struct {
	mu        sync.RWMutex
	ready     bool
	checks    map[string]CheckFunc
	startedAt time.Time
	httpSrv   *http.Server
}

// NewServer builds a Server for host:port; nothing is bound until Start.
// Port 0 lets the OS pick a free port when Start runs (tests exercise the
// handlers directly without calling Start).
func NewServer(host string, port int) *Server {
	s := &Server{
		checks:    make(map[string]CheckFunc),
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	return s
}

// Start begins serving in the background and always returns nil. Every
// ListenAndServe error is discarded, including a failure to bind as well
// as the http.ErrServerClosed that follows a graceful Stop.
func (s *Server) Start() error {
	ln := s.httpSrv
	go func() {
		_ = ln.ListenAndServe()
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down and marks the node not ready.
func (s *Server) Stop(ctx context.Context) error {
	s.SetReady(false)
	return s.httpSrv.Shutdown(ctx)
}

// SetReady flips node readiness, independent of individual checks.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// RegisterCheck adds (or replaces) a named dependency check consulted by
// /ready.
func (s *Server) RegisterCheck(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	checkFns := make(map[string]CheckFunc, len(s.checks))
	for name, fn := range s.checks {
		checkFns[name] = fn
	}
	s.mu.RUnlock()

	checks := make(map[string]Check, len(checkFns))
	allOK := true
	for name, fn := range checkFns {
		ok, msg := fn()
		checks[name] = Check{Name: name, Status: statusString(ok), Message: msg, Timestamp: time.Now()}
		if !ok {
			allOK = false
		}
	}

	status := http.StatusOK
	statusText := "ready"
	if !ready || !allOK {
		status = http.StatusServiceUnavailable
		statusText = "not ready"
	}

	resp := StatusResponse{
		Status: statusText,
		Uptime: time.Since(s.startedAt).String(),
		Checks: checks,
	}
	writeJSON(w, status, resp)
}

func statusString(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
