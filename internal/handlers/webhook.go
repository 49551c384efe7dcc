package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaybot/chatrelay/internal/gchat"
)

// Enqueuer schedules a classified event for asynchronous processing.
// Satisfied by *relay.Pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, event gchat.Event) error
}

// WebhookHandler receives Chat webhook events. It acknowledges the call as
// soon as classification succeeds; the delivery pipeline runs detached from
// the request so Chat's webhook timeout never races the assistant API.
type WebhookHandler struct {
	pipeline Enqueuer
	verify   echo.MiddlewareFunc
	logger   *slog.Logger
}

// NewWebhookHandler creates the webhook handler. verify may be nil when
// request-origin verification is disabled.
func NewWebhookHandler(log *slog.Logger, pipeline Enqueuer, verify echo.MiddlewareFunc) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		pipeline: pipeline,
		verify:   verify,
		logger:   log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts POST / with the verification middleware applied.
func (h *WebhookHandler) Register(e *echo.Echo) {
	if h.verify != nil {
		e.POST("/", h.Receive, h.verify)
		return
	}
	e.POST("/", h.Receive)
}

// Receive decodes, classifies, and enqueues one webhook event.
func (h *WebhookHandler) Receive(c echo.Context) error {
	var payload gchat.WebhookPayload
	if err := c.Bind(&payload); err != nil {
		h.logger.Warn("webhook decode failed", slog.Any("error", err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}

	event, err := gchat.Classify(payload)
	if err != nil {
		if errors.Is(err, gchat.ErrUnsupportedEvent) {
			// Well-formed but not ours; confirm receipt so Chat does not retry.
			h.logger.Info("unsupported event acknowledged", slog.String("type", payload.Type))
			return c.JSON(http.StatusOK, map[string]any{})
		}
		h.logger.Warn("webhook rejected", slog.Any("error", err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := h.pipeline.Enqueue(c.Request().Context(), event); err != nil {
		h.logger.Error("enqueue failed", slog.String("space", event.Space), slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event queue unavailable"})
	}

	return c.JSON(http.StatusOK, map[string]any{})
}
