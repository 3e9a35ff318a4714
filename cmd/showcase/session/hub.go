package session

import (
	"sync"

	"github.com/portfolio/showcase/cmd/showcase/metrics"
	"github.com/portfolio/showcase/cmd/showcase/provider"
	"github.com/portfolio/showcase/common/logger"
)

// Hub tracks live sessions by id
type Hub struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Register adds a session. A session that was already closed is refused,
// since its Unregister has run or is about to.
func (h *Hub) Register(s *Session) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if s.ctx.Err() != nil {
		return false
	}

	h.sessions[s.id] = s
	metrics.ActiveSessions.Inc()
	h.log.Debug("session registered", "session_id", s.id, "total", len(h.sessions))
	return true
}

// Unregister removes a session
func (h *Hub) Unregister(s *Session) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.sessions[s.id] == s {
		delete(h.sessions, s.id)
		metrics.ActiveSessions.Dec()
		h.log.Debug("session unregistered", "session_id", s.id, "remaining", len(h.sessions))
	}
}

// Get returns the session with id
func (h *Hub) Get(id string) (*Session, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	s, ok := h.sessions[id]
	return s, ok
}

// Broadcast hot-swaps the changed list into every live session
func (h *Hub) Broadcast(change provider.Change) {
	h.mutex.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mutex.RUnlock()

	h.log.Info("broadcasting asset change", "sessions", len(sessions), "hash", change.Hash)

	for _, s := range sessions {
		s.ApplyChange(change)
	}
}

// Count returns the number of live sessions
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// CloseAll closes every live session
func (h *Hub) CloseAll() {
	h.mutex.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mutex.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}
