package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/directory"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/events"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/metrics"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/registration"
)

// Registrar turns camera connections into directory state.
type Registrar interface {
	EnsureRegistered(ctx context.Context, cameraID string, t directory.Transport) (*registration.Outcome, error)
	Disconnect(ctx context.Context, cameraID string, t directory.Transport)
}

// Options tunes camera connections.
type Options struct {
	MaxFrameSize      int64
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	ReadBufferSize    int
	WriteBufferSize   int
	// RegisterTimeout bounds the registration of a new connection.
	RegisterTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = 1 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.RegisterTimeout <= 0 {
		o.RegisterTimeout = 10 * time.Second
	}
}

// Relay accepts camera connections, fans their frames out to the owner's
// dashboards and routes control commands back to them.
type Relay struct {
	dir       *directory.Directory
	registrar Registrar
	publisher events.Publisher
	opts      Options
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[*cameraConn]struct{}
	// wg counts running ServeCamera calls.
	wg sync.WaitGroup
}

func New(dir *directory.Directory, registrar Registrar, publisher events.Publisher, opts Options) *Relay {
	opts.setDefaults()
	return &Relay{
		dir:       dir,
		registrar: registrar,
		publisher: publisher,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // Cameras are not browsers
			},
		},
		conns: make(map[*cameraConn]struct{}),
	}
}

// ServeCamera upgrades the request and runs the connection until it closes.
func (r *Relay) ServeCamera(w http.ResponseWriter, req *http.Request, cameraID string) {
	r.wg.Add(1)
	defer r.wg.Done()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		metrics.CameraConnectionsTotal.WithLabelValues("upgrade_failed").Inc()
		log.Error().Err(err).Str("camera_id", cameraID).Str("remote_addr", req.RemoteAddr).Msg("Camera upgrade failed")
		return
	}
	conn.SetReadLimit(r.opts.MaxFrameSize)

	logger := log.With().Str("camera_id", cameraID).Str("remote_addr", req.RemoteAddr).Logger()
	c := newCameraConn(cameraID, conn, r.opts.WriteTimeout, logger)

	r.track(c)
	defer r.untrack(c)

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.RegisterTimeout)
	outcome, err := r.registrar.EnsureRegistered(ctx, cameraID, c)
	cancel()
	if err != nil {
		metrics.CameraConnectionsTotal.WithLabelValues("rejected").Inc()
		logger.Error().Err(err).Msg("Camera registration failed")
		c.Close()
		return
	}
	metrics.CameraConnectionsTotal.WithLabelValues(string(outcome.Result)).Inc()
	logger.Info().Str("result", string(outcome.Result)).Msg("Camera connected")

	if outcome.Result == registration.ResultPending {
		r.closeOlder(c)
	}

	r.readLoop(c)

	c.Close()
	r.registrar.Disconnect(context.Background(), cameraID, c)
}

func (r *Relay) readLoop(c *cameraConn) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("Camera read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			r.handleFrame(c, data)
		case websocket.TextMessage:
			r.handleText(c, data)
		}
	}
}

// owner returns the user frames from c should reach, or "" to drop them.
func (r *Relay) owner(c *cameraConn) (string, string) {
	e, ok := r.dir.Lookup(c.cameraID)
	if !ok || !e.Claimed() {
		return "", "unclaimed"
	}
	if e.Transport != nil && e.Transport != directory.Transport(c) {
		return "", "stale"
	}
	return e.OwnerID, ""
}

func (r *Relay) handleFrame(c *cameraConn, frame []byte) {
	metrics.FrameBytesTotal.Add(float64(len(frame)))

	ownerID, reason := r.owner(c)
	if ownerID == "" {
		metrics.FramesDroppedTotal.WithLabelValues(reason).Inc()
		return
	}

	now := time.Now()
	r.dir.Touch(c.cameraID, c, now)
	r.publisher.PublishToUser(ownerID, events.Event{
		Name: events.Stream,
		Data: events.Frame{
			CameraID:  c.cameraID,
			Frame:     frame,
			FrameType: "binary",
			FrameSize: len(frame),
			Timestamp: events.Millis(now),
		},
	})
	metrics.FramesRelayedTotal.Inc()
	c.logger.Trace().Int("bytes", len(frame)).Msg("Frame relayed")
}

func (r *Relay) handleText(c *cameraConn, msg []byte) {
	ownerID, _ := r.owner(c)
	if ownerID == "" {
		c.logger.Debug().Msg("Dropping text message from unclaimed camera")
		return
	}

	r.publisher.PublishToUser(ownerID, events.Event{
		Name: events.ControlResponse,
		Data: events.ControlResponseMessage{
			CameraID:  c.cameraID,
			Message:   string(msg),
			Timestamp: events.Millis(time.Now()),
		},
	})
}

func (r *Relay) track(c *cameraConn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
	metrics.CameraConnectionsActive.Inc()
}

func (r *Relay) untrack(c *cameraConn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	metrics.CameraConnectionsActive.Dec()
}

func (r *Relay) snapshot() []*cameraConn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*cameraConn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Open returns the newest open connection for cameraID, or nil.
func (r *Relay) Open(cameraID string) directory.Transport {
	var newest *cameraConn
	for _, c := range r.snapshot() {
		if c.cameraID != cameraID || c.isClosed() {
			continue
		}
		if newest == nil || c.acceptedAt.After(newest.acceptedAt) {
			newest = c
		}
	}
	if newest == nil {
		return nil
	}
	return newest
}

// closeOlder closes the connections for c's camera accepted before c. Claimed
// cameras get this from the directory on attach; pending ones only live here.
func (r *Relay) closeOlder(c *cameraConn) {
	for _, old := range r.snapshot() {
		if old == c || old.cameraID != c.cameraID || !old.acceptedAt.Before(c.acceptedAt) {
			continue
		}
		c.logger.Info().Msg("Pending camera reconnected, closing previous connection")
		if err := old.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Closing superseded connection")
		}
	}
}

// ConnectionCount returns the number of open camera connections, pending
// ones included.
func (r *Relay) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown closes every camera connection and waits until each one has
// finished its disconnect handling.
func (r *Relay) Shutdown() {
	for _, c := range r.snapshot() {
		c.Close()
	}
	r.wg.Wait()
}
