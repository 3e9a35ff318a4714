// Package session binds one browser page to one showcase orchestrator over
// a websocket.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portfolio/showcase/cmd/showcase/blobcache"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/models"
	"github.com/portfolio/showcase/cmd/showcase/orchestrator"
	"github.com/portfolio/showcase/cmd/showcase/provider"
	"github.com/portfolio/showcase/cmd/showcase/readiness"
	"github.com/portfolio/showcase/cmd/showcase/transition"
	"github.com/portfolio/showcase/common/cache"
	"github.com/portfolio/showcase/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	sendBuffer = 512
)

var (
	// ErrSessionClosed is returned by Send after Close
	ErrSessionClosed = errors.New("session closed")
	// ErrSendBufferFull is returned when the browser is not keeping up
	ErrSendBufferFull = errors.New("session send buffer full")
)

// Session is one page lifetime: one connection, one orchestrator, one blob cache
type Session struct {
	id    string
	conn  *websocket.Conn
	hub   *Hub
	log   *logger.Logger
	blobs *blobcache.Cache
	store *cache.MemoryCache
	orch  *orchestrator.Orchestrator

	// sent is the asset list the page last received
	sentMu sync.Mutex
	sent   []models.Asset

	fonts   *readiness.Latch
	service *readiness.Latch

	seq     atomic.Uint64
	handles sync.Map // index -> *RemoteHandle

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func newSession(ctx context.Context, id string, hub *Hub, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:      id,
		hub:     hub,
		log:     log,
		fonts:   readiness.NewLatch(),
		service: readiness.NewLatch(),
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Orchestrator returns the session's orchestrator
func (s *Session) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// Open returns the bytes of a cached object
func (s *Session) Open(ctx context.Context, objectID string) ([]byte, string, error) {
	return s.blobs.Open(ctx, objectID)
}

// CacheStats describes the session's blob store
func (s *Session) CacheStats() map[string]interface{} {
	if s.store == nil {
		return map[string]interface{}{}
	}
	return s.store.Stats()
}

// Send queues msg for the browser without blocking
func (s *Session) Send(msg models.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	if s.closed {
		s.sendMu.Unlock()
		return ErrSessionClosed
	}
	select {
	case s.send <- data:
		s.sendMu.Unlock()
		return nil
	default:
	}
	s.sendMu.Unlock()

	// A dropped command would leave the page out of step with the ring.
	// Close so the page reconnects and starts from a clean state.
	s.log.Warn("browser not keeping up, closing session", "buffered", sendBuffer)
	go s.Close()
	return ErrSendBufferFull
}

// handleFor is the orchestrator's HandleFactory. Each asset list gets
// fresh handles since the browser rebuilds its elements per list.
func (s *Session) handleFor(index int, _ models.Asset) media.Handle {
	h := NewRemoteHandle(index, s, &s.seq, s.log)
	s.handles.Store(index, h)
	return h
}

func (s *Session) handle(index int) *RemoteHandle {
	v, ok := s.handles.Load(index)
	if !ok {
		return nil
	}
	return v.(*RemoteHandle)
}

// pushState forwards orchestrator state to the browser
func (s *Session) pushState(st models.ShowcaseState) {
	if err := s.Send(models.ServerMessage{Type: models.MessageState, State: &st}); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.Debug("dropping state update", "error", err)
	}
}

// ApplyChange sends the new list to the browser, then hands it to the orchestrator
func (s *Session) ApplyChange(change provider.Change) {
	err := s.Send(models.ServerMessage{
		Type:   models.MessageAssets,
		Assets: change.Assets,
		Patch:  s.patchFor(change),
	})
	if err != nil {
		s.log.Warn("failed to send asset update", "error", err)
		return
	}
	s.orch.SetAssets(change.Assets)
}

// patchFor returns change.Patch when it turns the list the page last
// received into the new one. A page that saw another base gets no patch.
func (s *Session) patchFor(change provider.Change) json.RawMessage {
	s.sentMu.Lock()
	base := s.sent
	s.sent = change.Assets
	s.sentMu.Unlock()

	if len(change.Patch) == 0 {
		return nil
	}
	applied, err := provider.Apply(base, change.Patch)
	if err != nil || models.ContentHash(applied) != change.Hash {
		s.log.Debug("patch does not match the page's list, sending full list", "error", err)
		return nil
	}
	return change.Patch
}

func (s *Session) recordSent(assets []models.Asset) {
	s.sentMu.Lock()
	s.sent = assets
	s.sentMu.Unlock()
}

// handleMessage dispatches one message from the browser
func (s *Session) handleMessage(data []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug("ignoring malformed message", "error", err)
		return
	}

	switch msg.Type {
	case models.EventReadyState, models.EventFrame, models.EventPlayResult:
		if h := s.handle(msg.Index); h != nil {
			h.Deliver(msg)
		}
	case models.EventEnded:
		s.orch.Ended(msg.Index)
	case models.EventFontsLoaded:
		s.fonts.Set()
	case models.EventServiceSettled:
		s.service.Set()
	case models.ControlNext:
		s.orch.Next()
	case models.ControlPrevious:
		s.orch.Previous()
	case models.ControlPrepare:
		dir := transition.Forward
		if msg.Direction < 0 {
			dir = transition.Backward
		}
		go s.orch.Prepare(s.ctx, dir)
	default:
		s.log.Debug("ignoring unknown message", "type", msg.Type)
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		// Cancel before unregistering so a racing Register sees the session closed
		s.cancel()
		s.hub.Unregister(s)

		if s.orch != nil {
			s.orch.Close()
		}

		s.sendMu.Lock()
		s.closed = true
		close(s.send)
		s.sendMu.Unlock()

		s.log.Info("session closed")
	})
}

// readPump feeds browser messages to the session until the connection drops
func (s *Session) readPump() {
	defer func() {
		s.Close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket error", "error", err)
			}
			return
		}
		s.handleMessage(data)
	}
}

// writePump pumps queued messages to the connection
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Session closed the channel
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON object per frame
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(s.send)
			for i := 0; i < n; i++ {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
