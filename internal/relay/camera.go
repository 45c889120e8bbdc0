package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errConnectionClosed = errors.New("camera connection closed")

// cameraConn is one accepted camera WebSocket. It implements
// directory.Transport. Reads happen on the connection's own goroutine;
// writes from any goroutine are serialized by writeMu.
type cameraConn struct {
	cameraID   string
	conn       *websocket.Conn
	acceptedAt time.Time

	writeMu      sync.Mutex
	writeTimeout time.Duration

	awaitingPong atomic.Bool
	closeOnce    sync.Once
	closed       chan struct{}

	logger zerolog.Logger
}

func newCameraConn(cameraID string, conn *websocket.Conn, writeTimeout time.Duration, logger zerolog.Logger) *cameraConn {
	c := &cameraConn{
		cameraID:     cameraID,
		conn:         conn,
		acceptedAt:   time.Now(),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
		logger:       logger,
	}
	conn.SetPongHandler(func(string) error {
		c.awaitingPong.Store(false)
		return nil
	})
	return c
}

// Send writes payload as a text message.
func (c *cameraConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return errConnectionClosed
	default:
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close terminates the connection. The read loop then exits and runs the
// normal disconnect path.
func (c *cameraConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// heartbeat reports whether the camera answered the previous ping, then sends a
// new one.
func (c *cameraConn) heartbeat() bool {
	if c.awaitingPong.Swap(true) {
		return false
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Debug().Err(err).Msg("Ping failed")
		return false
	}
	return true
}

func (c *cameraConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
