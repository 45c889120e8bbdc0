package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/events"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/metrics"
)

// Session is one authenticated dashboard connection. Writes go through a
// bounded queue drained by a single writer goroutine.
type Session struct {
	ID       string
	UserID   string
	Username string

	conn   *websocket.Conn
	codec  Codec
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newSession(conn *websocket.Conn, codec Codec, userID, username string, queueSize int, logger zerolog.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		ID:       id,
		UserID:   userID,
		Username: username,
		conn:     conn,
		codec:    codec,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		logger: logger.With().
			Str("session_id", id).
			Str("user_id", userID).
			Logger(),
	}
}

// Emit queues ev for this session only.
func (s *Session) Emit(ev events.Event) {
	data, err := s.codec.Encode(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event", ev.Name).Msg("Failed to encode dashboard event")
		return
	}
	s.enqueue(ev.Name, data)
}

// enqueue never blocks. A full queue means the dashboard is not keeping
// up; the event is dropped for this session only.
func (s *Session) enqueue(event string, data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- data:
		return true
	default:
		metrics.EventsDroppedTotal.WithLabelValues(event).Inc()
		if event != events.Stream {
			s.logger.Warn().Str("event", event).Msg("Dashboard queue full, dropping event")
		}
		return false
	}
}

// Close stops the writer and closes the connection. Safe to call more than
// once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump drains the queue and keeps the connection alive with pings.
func (s *Session) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(s.codec.MessageType(), data); err != nil {
				s.logger.Debug().Err(err).Msg("Dashboard write failed")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.logger.Debug().Err(err).Msg("Dashboard ping failed")
				return
			}
		}
	}
}
