package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/portfolio/showcase/cmd/showcase/container"
)

// AssetHandler serves the asset list
type AssetHandler struct {
	container *container.Container
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(c *container.Container) *AssetHandler {
	return &AssetHandler{container: c}
}

// ListAssets returns the current list and its content hash
// GET /api/v1/assets
func (h *AssetHandler) ListAssets(c echo.Context) error {
	assets, hash := h.container.Catalog.Assets()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"assets": assets,
		"hash":   hash,
		"count":  len(assets),
	})
}

// RefreshAssets announces that the list changed. Every instance reloads it.
// POST /api/v1/assets/refresh
func (h *AssetHandler) RefreshAssets(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.container.Notifier.Publish(ctx, "api"); err != nil {
		h.container.Components.Logger.Error("failed to request asset refresh", "error", err)
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error": "failed to request refresh",
		})
	}

	_, hash := h.container.Catalog.Assets()
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"status": "refresh_requested",
		"hash":   hash,
	})
}
