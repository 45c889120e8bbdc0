package relay

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/metrics"
)

// Gate routes WebSocket upgrades outside sessionPath to the camera
// transport and passes every other request to next. The camera identity is
// the request path without its leading slash; cameras present no
// credential.
func (r *Relay) Gate(sessionPath string, next http.Handler) http.Handler {
	sessionPath = strings.TrimSuffix(sessionPath, "/")

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !websocket.IsWebSocketUpgrade(req) || underPath(req.URL.Path, sessionPath) {
			next.ServeHTTP(w, req)
			return
		}

		cameraID := CameraIdentity(req.URL.Path)
		if cameraID == "" {
			rejectUpgrade(w, req)
			return
		}
		r.ServeCamera(w, req, cameraID)
	})
}

// CameraIdentity extracts the camera identity from an upgrade path.
func CameraIdentity(path string) string {
	return strings.TrimSpace(strings.TrimPrefix(path, "/"))
}

func underPath(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// rejectUpgrade drops the raw connection without an HTTP response.
func rejectUpgrade(w http.ResponseWriter, req *http.Request) {
	metrics.CameraConnectionsTotal.WithLabelValues(ErrMalformedUpgrade.Code).Inc()
	log.Warn().Str("remote_addr", req.RemoteAddr).Err(ErrMalformedUpgrade).Msg("Rejecting camera upgrade")

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, ErrMalformedUpgrade.Message, http.StatusBadRequest)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}
