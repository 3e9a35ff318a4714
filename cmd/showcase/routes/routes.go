package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/portfolio/showcase/cmd/showcase/container"
	"github.com/portfolio/showcase/cmd/showcase/handlers"
)

// RegisterAssetRoutes registers the asset list routes
func RegisterAssetRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAssetHandler(c)

	assets := e.Group("/api/v1/assets")
	{
		assets.GET("", h.ListAssets)             // GET /api/v1/assets
		assets.POST("/refresh", h.RefreshAssets) // POST /api/v1/assets/refresh
	}
}

// RegisterBlobRoutes registers the object URL route
func RegisterBlobRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewBlobHandler(c)

	e.GET("/blobs/:session/:object", h.GetBlob)
}

// RegisterSessionRoutes registers the websocket endpoint and session controls
func RegisterSessionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSessionHandler(c)

	e.GET("/ws/showcase", h.Connect)

	sessions := e.Group("/api/v1/sessions")
	{
		sessions.GET("/:id", h.GetSession)         // GET /api/v1/sessions/:id
		sessions.POST("/:id/next", h.Next)         // POST /api/v1/sessions/:id/next
		sessions.POST("/:id/previous", h.Previous) // POST /api/v1/sessions/:id/previous
		sessions.POST("/:id/prepare", h.Prepare)   // POST /api/v1/sessions/:id/prepare?direction=next
	}
}
