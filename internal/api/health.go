package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const storeProbeTimeout = 2 * time.Second

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse represents a comprehensive health check response
type HealthCheckResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit,omitempty"`
	BuildTime string                 `json:"build_time,omitempty"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
	System    SystemInfo             `json:"system"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	MemoryTotal   uint64 `json:"memory_total_bytes"`
	MemorySys     uint64 `json:"memory_sys_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
	Sessions      int    `json:"sessions"`
	ReloadClients int    `json:"reload_clients"`
}

// handleHealthCheck provides comprehensive health check endpoint
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	start := time.Now()

	checks := map[string]HealthCheck{
		"games":     s.checkGamesHealth(),
		"storage":   s.checkStorageHealth(r.Context()),
		"hotreload": s.checkHotReloadHealth(),
	}
	overall := HealthStatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	response := HealthCheckResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		Uptime:    time.Since(s.startTime).String(),
		Checks:    checks,
		System:    s.getSystemInfo(),
		RequestID: requestID,
	}

	// degraded still answers 200
	statusCode := http.StatusOK
	if overall == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	s.logger.Debug("health check",
		"request_id", requestID,
		"status", overall,
		"checks", len(checks),
		"duration", time.Since(start),
	)
	s.writeJSON(w, statusCode, response)
}

// handleReadiness reports whether there is at least one game to open.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := true
	message := "Ready"

	games := s.opts.Loader.Games()
	if len(games) == 0 {
		ready = false
		message = "No games available"
	}

	response := map[string]any{
		"ready":      ready,
		"message":    message,
		"games":      len(games),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    Version,
		"request_id": middleware.GetReqID(r.Context()),
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, statusCode, response)
}

// handleLiveness provides liveness probe endpoint
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"alive":      true,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    Version,
		"uptime":     time.Since(s.startTime).String(),
		"request_id": middleware.GetReqID(r.Context()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

func (s *Server) checkGamesHealth() HealthCheck {
	start := time.Now()
	n := len(s.opts.Loader.Games())
	status := HealthStatusHealthy
	message := fmt.Sprintf("%d games available", n)
	if n == 0 {
		status = HealthStatusDegraded
		message = "No games available"
	}
	return newCheck(status, message, start)
}

// checkStorageHealth round-trips a read through the store.
func (s *Server) checkStorageHealth(ctx context.Context) HealthCheck {
	start := time.Now()
	if s.opts.Store == nil {
		return newCheck(HealthStatusDegraded, "No persistent store configured", start)
	}
	ctx, cancel := context.WithTimeout(ctx, storeProbeTimeout)
	defer cancel()
	if _, _, err := s.opts.Store.Get(ctx, "health:probe"); err != nil {
		return newCheck(HealthStatusUnhealthy, "Store unreachable: "+err.Error(), start)
	}
	return newCheck(HealthStatusHealthy, "Store reachable", start)
}

func (s *Server) checkHotReloadHealth() HealthCheck {
	start := time.Now()
	switch {
	case s.opts.HotReload == nil:
		return newCheck(HealthStatusHealthy, "Hot reload disabled", start)
	case !s.opts.HotReload.Connected():
		return newCheck(HealthStatusDegraded, "Reload feed disconnected, polling", start)
	default:
		return newCheck(HealthStatusHealthy, "Reload feed connected", start)
	}
}

func newCheck(status HealthStatus, message string, start time.Time) HealthCheck {
	return HealthCheck{
		Status:      status,
		Message:     message,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Duration:    time.Since(start).String(),
	}
}

// getSystemInfo collects system information
func (s *Server) getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	info := SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		MemoryAlloc:   m.Alloc,
		MemoryTotal:   m.TotalAlloc,
		MemorySys:     m.Sys,
		GCCycles:      m.NumGC,
		Sessions:      len(s.opts.Loader.Sessions()),
	}
	if s.opts.Hub != nil {
		info.ReloadClients = s.opts.Hub.Clients()
	}
	return info
}
