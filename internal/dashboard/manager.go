package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/auth"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/directory"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/events"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/metrics"
)

// ErrAuthentication is reported to clients without a valid bearer token.
var ErrAuthentication = errors.New("authentication error")

const maxInboundMessage = 64 << 10

// CommandRouter forwards a control command on behalf of a user.
type CommandRouter interface {
	SubmitCommand(ctx context.Context, userID string, cmd events.ControlCommand) error
}

// TokenValidator turns a bearer token into the user it was issued to.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Options tunes dashboard sessions.
type Options struct {
	QueueSize       int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	AuthTimeout     time.Duration
	ReadBufferSize  int
	WriteBufferSize int
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
}

// coded is implemented by control errors that carry a stable code and a
// message fit for the dashboard.
type coded interface {
	error
	ErrorCode() string
	UserMessage() string
}

// Manager accepts dashboard WebSocket sessions.
type Manager struct {
	hub      *Hub
	dir      *directory.Directory
	router   CommandRouter
	tokens   TokenValidator
	opts     Options
	upgrader websocket.Upgrader
}

func NewManager(hub *Hub, dir *directory.Directory, router CommandRouter, tokens TokenValidator, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		hub:    hub,
		dir:    dir,
		router: router,
		tokens: tokens,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // Dashboards authenticate with a bearer token, not cookies
			},
		},
	}
}

// ServeHTTP upgrades an authenticated request into a dashboard session. A
// token may come with the request or, for clients that cannot set headers,
// in the auth field of the first message.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec, err := CodecFor(r.URL.Query().Get("encoding"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var claims *auth.Claims
	if token, err := auth.ExtractFromRequest(r); err == nil {
		claims, err = m.tokens.ValidateToken(token)
		if err != nil {
			metrics.DashboardAuthFailuresTotal.Inc()
			log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Dashboard token rejected")
			writeJSONError(w, http.StatusUnauthorized, ErrAuthentication.Error())
			return
		}
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Dashboard upgrade failed")
		return
	}
	conn.SetReadLimit(maxInboundMessage)

	if claims == nil {
		claims, err = m.handshake(conn, codec)
		if err != nil {
			metrics.DashboardAuthFailuresTotal.Inc()
			log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Dashboard handshake failed")
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrAuthentication.Error())
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.opts.WriteTimeout))
			conn.Close()
			return
		}
	}

	s := newSession(conn, codec, claims.UserID, claims.Username, m.opts.QueueSize, log.Logger)
	m.run(s)
}

// handshake waits for a first message carrying auth.token.
func (m *Manager) handshake(conn *websocket.Conn, codec Codec) (*auth.Claims, error) {
	conn.SetReadDeadline(time.Now().Add(m.opts.AuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	in, err := codec.Decode(msg)
	if err != nil {
		return nil, err
	}
	if in.Token == "" {
		return nil, auth.ErrMissingToken
	}
	return m.tokens.ValidateToken(in.Token)
}

func (m *Manager) run(s *Session) {
	m.hub.Join(s)
	metrics.DashboardSessionsActive.Inc()
	s.logger.Info().Str("codec", s.codec.Name()).Msg("Dashboard session connected")

	defer func() {
		m.hub.Leave(s)
		s.Close()
		metrics.DashboardSessionsActive.Dec()
		s.logger.Info().Msg("Dashboard session disconnected")
	}()

	go s.writePump(m.opts.WriteTimeout, m.opts.PingInterval)

	for _, e := range m.dir.ListByOwner(s.UserID) {
		s.Emit(events.Event{
			Name: events.CameraStatusUpdate,
			Data: events.StatusUpdate{CameraID: e.CameraID, Status: dashboardStatus(e.Status), Name: e.Name},
		})
	}

	m.readPump(s)
}

func (m *Manager) readPump(s *Session) {
	pongWait := 2 * m.opts.PingInterval
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("Dashboard read error")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		in, err := s.codec.Decode(msg)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Ignoring malformed dashboard message")
			continue
		}
		m.dispatch(s, in)
	}
}

func (m *Manager) dispatch(s *Session, in *Inbound) {
	switch in.Event {
	case events.CameraControl:
		m.handleControl(s, in)
	case events.GetPendingCameras:
		pending := m.dir.ListUnclaimed()
		resp := events.PendingCameras{Cameras: make([]events.CameraSummary, 0, len(pending))}
		for _, e := range pending {
			resp.Cameras = append(resp.Cameras, events.CameraSummary{CameraID: e.CameraID, Name: e.Name})
		}
		s.Emit(events.Event{Name: events.PendingCamerasResponse, Data: resp})
	default:
		s.logger.Debug().Str("event", in.Event).Msg("Ignoring unknown dashboard event")
	}
}

func (m *Manager) handleControl(s *Session, in *Inbound) {
	var cmd events.ControlCommand
	if err := in.DecodeData(&cmd); err != nil || cmd.CameraID == "" || cmd.Command == "" {
		s.Emit(events.Event{
			Name: events.ControlError,
			Data: events.ControlFailure{CameraID: cmd.CameraID, Error: "InvalidRequest", Message: "Invalid camera control request"},
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()

	if err := m.router.SubmitCommand(ctx, s.UserID, cmd); err != nil {
		failure := events.ControlFailure{CameraID: cmd.CameraID, Error: "DeliveryFailed", Message: "Failed to send command to camera"}
		var ce coded
		if errors.As(err, &ce) {
			failure.Error = ce.ErrorCode()
			failure.Message = ce.UserMessage()
		}
		s.logger.Info().Err(err).Str("camera_id", cmd.CameraID).Str("command", cmd.Command).Msg("Camera control rejected")
		s.Emit(events.Event{Name: events.ControlError, Data: failure})
		return
	}

	s.Emit(events.Event{
		Name: events.ControlSent,
		Data: events.ControlAck{
			CameraID:  cmd.CameraID,
			Command:   cmd.Command,
			Settings:  cmd.Settings,
			Timestamp: events.Millis(time.Now()),
		},
	})
}

// dashboardStatus folds the in-memory lifecycle into what dashboards show.
func dashboardStatus(s directory.Status) string {
	if s == directory.StatusOnline {
		return string(directory.StatusOnline)
	}
	return string(directory.StatusOffline)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
