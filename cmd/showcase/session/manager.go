package session

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/portfolio/showcase/cmd/showcase/blobcache"
	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/models"
	"github.com/portfolio/showcase/cmd/showcase/orchestrator"
	"github.com/portfolio/showcase/cmd/showcase/provider"
	"github.com/portfolio/showcase/common/cache"
	"github.com/portfolio/showcase/common/clients"
	"github.com/portfolio/showcase/common/config"
	"github.com/portfolio/showcase/common/logger"
)

// Manager builds sessions and keeps them on the hub
type Manager struct {
	ctx        context.Context
	cfg        *config.Config
	classifier *capability.Classifier
	fetcher    blobcache.Fetcher
	catalog    *provider.Catalog
	hub        *Hub
	log        *logger.Logger
}

// NewManager creates a manager. Sessions live until their connection
// drops or ctx is cancelled.
func NewManager(ctx context.Context, cfg *config.Config, classifier *capability.Classifier, fetcher blobcache.Fetcher, catalog *provider.Catalog, hub *Hub, log *logger.Logger) *Manager {
	return &Manager{
		ctx:        ctx,
		cfg:        cfg,
		classifier: classifier,
		fetcher:    fetcher,
		catalog:    catalog,
		hub:        hub,
		log:        log,
	}
}

// Hub returns the session hub
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Open starts a session on an upgraded connection
func (m *Manager) Open(conn *websocket.Conn, userAgent string) *Session {
	s := m.build(userAgent)
	s.conn = conn

	go s.writePump()
	if m.start(s) {
		go s.readPump()
	}
	return s
}

// build wires the per-page components without touching any connection
func (m *Manager) build(userAgent string) *Session {
	id := uuid.NewString()
	log := m.log.WithSession(id)
	adapter := capability.ForUserAgent(m.classifier, userAgent)

	s := newSession(m.ctx, id, m.hub, log)

	store := cache.NewMemoryCache(log)
	s.store = store
	prefix := strings.TrimRight(m.cfg.Service.PublicURL, "/") + "/blobs/" + id + "/"
	s.blobs = blobcache.New(clients.WithSessionID(s.ctx, id), m.fetcher, store, prefix, log.WithComponent("blobcache"))

	policy := orchestrator.PolicyFor(m.cfg.Showcase, adapter.Engine())
	s.orch = orchestrator.New(s.ctx, policy, adapter, s.blobs, s.handleFor, log,
		orchestrator.WithFonts(s.fonts),
		orchestrator.WithService(s.service),
		orchestrator.WithStateListener(s.pushState),
	)

	log.Info("session opened", "engine", adapter.Engine().String(), "user_agent", userAgent)
	return s
}

// start registers the session, greets the browser and applies the current
// list. It reports false when the session closed before it could register.
func (m *Manager) start(s *Session) bool {
	if !m.hub.Register(s) {
		s.log.Debug("session closed before start")
		return false
	}

	assets, _ := m.catalog.Assets()
	s.recordSent(assets)
	if err := s.Send(models.ServerMessage{
		Type:    models.MessageHello,
		Session: s.id,
		Engine:  s.orch.Engine().String(),
		Assets:  assets,
	}); err != nil {
		s.log.Warn("failed to greet browser", "error", err)
	}

	s.orch.Start()
	s.orch.SetAssets(assets)
	return true
}
