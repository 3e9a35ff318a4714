package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/portfolio/showcase/cmd/showcase/blobcache"
	"github.com/portfolio/showcase/cmd/showcase/container"
)

// BlobHandler serves cached asset bytes under their object URLs
type BlobHandler struct {
	container *container.Container
}

// NewBlobHandler creates a new blob handler
func NewBlobHandler(c *container.Container) *BlobHandler {
	return &BlobHandler{container: c}
}

// GetBlob streams one cached object
// GET /blobs/:session/:object
func (h *BlobHandler) GetBlob(c echo.Context) error {
	s, ok := h.container.Hub.Get(c.Param("session"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	data, contentType, err := s.Open(c.Request().Context(), c.Param("object"))
	switch {
	case errors.Is(err, blobcache.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "object not found")
	case errors.Is(err, blobcache.ErrReleased):
		return echo.NewHTTPError(http.StatusGone, "object released")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set("Cache-Control", "private, max-age=3600, immutable")
	return c.Blob(http.StatusOK, contentType, data)
}
