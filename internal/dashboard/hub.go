package dashboard

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/events"
)

// Hub tracks connected dashboard sessions in two kinds of topics: every
// session, and every session of one user.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	byUser   map[string]map[*Session]struct{}
}

var _ events.Publisher = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		byUser:   make(map[string]map[*Session]struct{}),
	}
}

// Join subscribes s to the global topic and its user's topic.
func (h *Hub) Join(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s] = struct{}{}
	group, ok := h.byUser[s.UserID]
	if !ok {
		group = make(map[*Session]struct{})
		h.byUser[s.UserID] = group
	}
	group[s] = struct{}{}
}

// Leave unsubscribes s from every topic.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, s)
	if group, ok := h.byUser[s.UserID]; ok {
		delete(group, s)
		if len(group) == 0 {
			delete(h.byUser, s.UserID)
		}
	}
}

// PublishToUser delivers ev to every session of userID.
func (h *Hub) PublishToUser(userID string, ev events.Event) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	h.mu.RLock()
	group := h.byUser[userID]
	targets := make([]*Session, 0, len(group))
	for s := range group {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	deliver(targets, ev)
}

// Broadcast delivers ev to every session.
func (h *Hub) Broadcast(ev events.Event) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	deliver(targets, ev)
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// UserSessionCount returns the number of sessions of userID.
func (h *Hub) UserSessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// deliver encodes ev once per codec in use and queues it on each session.
func deliver(targets []*Session, ev events.Event) {
	if len(targets) == 0 {
		return
	}

	encoded := make(map[string][]byte, 2)
	for _, s := range targets {
		data, ok := encoded[s.codec.Name()]
		if !ok {
			var err error
			data, err = s.codec.Encode(ev)
			if err != nil {
				log.Error().Err(err).Str("event", ev.Name).Str("codec", s.codec.Name()).Msg("Failed to encode dashboard event")
				continue
			}
			encoded[s.codec.Name()] = data
		}
		s.enqueue(ev.Name, data)
	}
}
