// Package handlers contains the Echo route handlers for the relay's HTTP surface.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaybot/chatrelay/internal/version"
)

// HealthHandler serves liveness endpoints.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(log *slog.Logger) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{logger: log.With(slog.String("handler", "health"))}
}

// Register mounts GET / and GET /ping on the Echo instance.
func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/", h.Status)
	e.GET("/ping", h.Ping)
}

// Status returns the liveness payload with the running version.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "alive",
		"version": version.GetInfo(),
	})
}

// Ping returns 200 JSON {"status":"ok"}.
func (h *HealthHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
