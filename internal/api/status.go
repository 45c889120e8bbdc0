package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/config"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/directory"
)

// StatusSource reports the live relay state for /status.
type StatusSource interface {
	CountByStatus() map[directory.Status]int
}

// SessionSource reports connected dashboard sessions.
type SessionSource interface {
	SessionCount() int
}

// ConnectionSource reports open camera connections.
type ConnectionSource interface {
	ConnectionCount() int
}

// RegisterStatusRoutes mounts /health, /status and /metrics.
func RegisterStatusRoutes(r *mux.Router, cameras StatusSource, sessions SessionSource, conns ConnectionSource) {
	started := time.Now()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": config.ServiceName,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		counts := cameras.CountByStatus()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"service": config.ServiceName,
			"uptime":  time.Since(started).Round(time.Second).String(),
			"cameras": map[string]int{
				"online":  counts[directory.StatusOnline],
				"offline": counts[directory.StatusOffline],
				"pending": counts[directory.StatusPending],
			},
			"camera_connections": conns.ConnectionCount(),
			"dashboard_sessions": sessions.SessionCount(),
		})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}
