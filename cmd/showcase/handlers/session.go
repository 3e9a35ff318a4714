package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/portfolio/showcase/cmd/showcase/container"
	"github.com/portfolio/showcase/cmd/showcase/session"
	"github.com/portfolio/showcase/cmd/showcase/transition"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionHandler opens showcase sessions and exposes their controls
type SessionHandler struct {
	container *container.Container
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(c *container.Container) *SessionHandler {
	return &SessionHandler{container: c}
}

// Connect upgrades to a websocket and starts a session
// GET /ws/showcase
func (h *SessionHandler) Connect(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.container.Components.Logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	ua := c.Request().UserAgent()
	if hint := c.QueryParam("ua"); hint != "" {
		ua = hint
	}

	s := h.container.Sessions.Open(conn, ua)
	h.container.Components.Logger.Info("websocket session started",
		"session_id", s.ID(),
		"remote", c.RealIP())
	return nil
}

func (h *SessionHandler) lookup(c echo.Context) (*session.Session, error) {
	s, ok := h.container.Hub.Get(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return s, nil
}

// GetSession returns the UI state and readiness signals
// GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c echo.Context) error {
	s, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session":   s.ID(),
		"state":     s.Orchestrator().State(),
		"readiness": s.Orchestrator().Readiness(),
		"cache": map[string]interface{}{
			"coverage": s.Orchestrator().CacheCoverage(),
			"store":    s.CacheStats(),
		},
	})
}

// Next advances the ring
// POST /api/v1/sessions/:id/next
func (h *SessionHandler) Next(c echo.Context) error {
	s, err := h.lookup(c)
	if err != nil {
		return err
	}
	s.Orchestrator().Next()
	return c.JSON(http.StatusAccepted, s.Orchestrator().State())
}

// Previous moves the ring back
// POST /api/v1/sessions/:id/previous
func (h *SessionHandler) Previous(c echo.Context) error {
	s, err := h.lookup(c)
	if err != nil {
		return err
	}
	s.Orchestrator().Previous()
	return c.JSON(http.StatusAccepted, s.Orchestrator().State())
}

// Prepare readies a neighbour without moving the ring
// POST /api/v1/sessions/:id/prepare?direction=next|previous
func (h *SessionHandler) Prepare(c echo.Context) error {
	s, err := h.lookup(c)
	if err != nil {
		return err
	}

	dir, ok := transition.ParseDirection(c.QueryParam("direction"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "direction must be next or previous")
	}

	index := s.Orchestrator().Prepare(c.Request().Context(), dir)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"prepared": index,
	})
}
