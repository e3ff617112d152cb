// Package debugapi exposes a small HTTP surface for operating a pgwire
// client process: liveness/readiness probes, a status summary, and
// Prometheus metrics.
package debugapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeelkantaria/pgwire/internal/monitor"
	"github.com/jeelkantaria/pgwire/internal/profile"
)

// Server is the debug HTTP server: health/ready/status endpoints plus a
// Prometheus scrape target.
type Server struct {
	resolver   *profile.Resolver
	monitor    *monitor.Monitor
	registry   http.Handler
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a debug server. metricsHandler is typically
// promhttp.HandlerFor(collector.Registry, promhttp.HandlerOpts{}).
func NewServer(r *profile.Resolver, m *monitor.Monitor, metricsHandler http.Handler) *Server {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	return &Server{
		resolver:  r,
		monitor:   m,
		registry:  metricsHandler,
		startTime: time.Now(),
	}
}

// Start starts the HTTP server listening on port. Non-blocking.
func (s *Server) Start(port int) error {
	router := mux.NewRouter()

	router.HandleFunc("/status", s.statusHandler).Methods("GET")
	router.HandleFunc("/profiles", s.listProfilesHandler).Methods("GET")
	router.HandleFunc("/profiles/{name}/disable", s.disableProfileHandler).Methods("POST")
	router.HandleFunc("/profiles/{name}/enable", s.enableProfileHandler).Methods("POST")
	router.HandleFunc("/health", s.healthHandler).Methods("GET")
	router.HandleFunc("/ready", s.readyHandler).Methods("GET")
	router.Handle("/metrics", s.registry)

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("debug api listening", "addr", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("debug api server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the debug server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.monitor.AllStatuses()
	allHealthy := s.monitor.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   boolToStatus(allHealthy),
		"profiles": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	names := s.resolver.Names()
	if len(names) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for _, name := range names {
		if s.monitor.IsHealthy(name) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_profiles":   len(s.resolver.Names()),
	})
}

func (s *Server) listProfilesHandler(w http.ResponseWriter, r *http.Request) {
	names := s.resolver.Names()
	out := make(map[string]interface{}, len(names))
	for _, name := range names {
		p, err := s.resolver.Resolve(name)
		if err != nil {
			continue
		}
		out[name] = map[string]interface{}{
			"config":   p.Redacted(),
			"disabled": s.resolver.IsDisabled(name),
			"health":   s.monitor.Status(name),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) disableProfileHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.resolver.Disable(name) {
		writeError(w, http.StatusNotFound, "unknown profile: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled", "profile": name})
}

func (s *Server) enableProfileHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.resolver.Enable(name) {
		writeError(w, http.StatusNotFound, "unknown profile: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled", "profile": name})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
