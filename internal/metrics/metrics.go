package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics collectors
var (
	// Cameras

	CamerasTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camrelay_cameras_total",
			Help: "Cameras in the directory by status",
		},
		[]string{"status"},
	)

	CameraConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_camera_connections_total",
			Help: "Camera transport connections by outcome",
		},
		[]string{"result"},
	)

	CameraConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camrelay_camera_connections_active",
			Help: "Open camera transport connections, pending ones included",
		},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_registrations_total",
			Help: "Camera registrations by source and result",
		},
		[]string{"source", "result"},
	)

	HeartbeatTerminationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camrelay_heartbeat_terminations_total",
			Help: "Camera connections terminated for missing a heartbeat",
		},
	)

	// Relay

	FramesRelayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camrelay_frames_relayed_total",
			Help: "Binary frames published to an owner topic",
		},
	)

	FrameBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camrelay_frame_bytes_total",
			Help: "Bytes of frame payload received from cameras",
		},
	)

	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_frames_dropped_total",
			Help: "Frames not relayed, by reason",
		},
		[]string{"reason"},
	)

	ControlCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_control_commands_total",
			Help: "Control commands by command and result",
		},
		[]string{"command", "result"},
	)

	// Dashboard sessions

	DashboardSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camrelay_dashboard_sessions_active",
			Help: "Authenticated dashboard sessions",
		},
	)

	DashboardAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camrelay_dashboard_auth_failures_total",
			Help: "Dashboard session attempts rejected for a missing or invalid token",
		},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_events_dropped_total",
			Help: "Outbound dashboard events dropped because a session queue was full",
		},
		[]string{"event"},
	)

	// HTTP

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camrelay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)
