package service

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/omniplex-ai/omniplex/internal/httputil"
)

// =============================================================================
// Standard Response Types
// =============================================================================

// HealthResponse is the standard response for /health endpoint.
type HealthResponse struct {
	Status    string         `json:"status"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// InfoResponse is the standard response for /info endpoint.
type InfoResponse struct {
	Status     string         `json:"status"`
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	Timestamp  string         `json:"timestamp"`
	Process    map[string]any `json:"process"`
	Statistics map[string]any `json:"statistics,omitempty"`
}

// =============================================================================
// Standard Handlers
// =============================================================================

// HealthHandler returns the /health handler. Unhealthy services answer 503.
func HealthHandler(s *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := s.HealthStatus()
		code := http.StatusOK
		if status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, HealthResponse{
			Status:    status,
			Service:   s.Name(),
			Version:   s.Version(),
			Details:   s.HealthDetails(),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

// InfoHandler returns the /info handler with process statistics and the
// registered stats provider's output.
func InfoHandler(s *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, InfoResponse{
			Status:     "active",
			Service:    s.Name(),
			Version:    s.Version(),
			Timestamp:  time.Now().Format(time.RFC3339),
			Process:    processStats(),
			Statistics: s.Stats(),
		})
	}
}

func processStats() map[string]any {
	stats := map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats["rss_bytes"] = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats["cpu_percent"] = cpu
	}
	if fds, err := proc.NumFDs(); err == nil {
		stats["open_fds"] = fds
	}
	return stats
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterStandardRoutes registers the standard /health and /info endpoints.
func (b *BaseService) RegisterStandardRoutes(router *mux.Router) {
	router.HandleFunc("/health", HealthHandler(b)).Methods(http.MethodGet)
	router.HandleFunc("/info", InfoHandler(b)).Methods(http.MethodGet)
}
