package bot

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"strings"
)

const (
	webhookEventReceived = "Event received"
	alertEventBuffer     = 32
)

// AlertEvent is the payload posted to the alert webhook by service
// monitoring
type AlertEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AlertType returns the normalized alert type
func (e AlertEvent) AlertType() AlertType {
	return AlertType(strings.ToLower(strings.TrimSpace(e.Type)))
}

type webhookHandlers struct {
	bot    *Bot
	logger *slog.Logger
}

// receiveAlert accepts an AlertEvent and queues it for the agents. The
// response doesn't wait for the event to be handled.
func (h *webhookHandlers) receiveAlert(c *gin.Context) {
	logger := ginContextLogger(c, h.logger)

	var event AlertEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		logger.Warn("invalid alert payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid JSON payload"})
		return
	}

	if err := h.bot.DispatchAlert(c.Request.Context(), event); err != nil {
		logger.Error("error dispatching alert", tint.Err(err))
		c.JSON(http.StatusServiceUnavailable, httpError{Error: "unable to accept event"})
		return
	}
	logger.Info("alert queued", "alert_type", event.Type)
	c.String(http.StatusOK, webhookEventReceived)
}

func (h *webhookHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		healthCheckResponse{
			DiscordGatewayConnected: h.bot.connected.Load(),
			EnabledModules:          h.bot.modules.EnabledNames(),
		},
	)
}

var (
	ErrShuttingDown    = errors.New("bot is shutting down")
	ErrEventBufferFull = errors.New("alert event buffer is full")
)

// DispatchAlert queues event for the alert dispatcher started by Run.
// It doesn't block: ErrEventBufferFull is returned when the queue is
// full, and ErrShuttingDown once the dispatcher has stopped.
func (b *Bot) DispatchAlert(ctx context.Context, event AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.eventsMu.RLock()
	defer b.eventsMu.RUnlock()
	if b.eventsClosed {
		return ErrShuttingDown
	}
	select {
	case b.events <- event:
		return nil
	default:
		return ErrEventBufferFull
	}
}

// closeEvents stops DispatchAlert from accepting events, and drops
// whatever is still queued
func (b *Bot) closeEvents(ctx context.Context) {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()
	if b.eventsClosed {
		return
	}
	b.eventsClosed = true

	for {
		select {
		case event := <-b.events:
			b.logger.WarnContext(
				ctx,
				"dropping queued alert",
				"alert_type", event.Type,
				"alert_message", event.Message,
			)
		default:
			return
		}
	}
}

// dispatchEvents handles queued alerts until ctx is canceled. Each
// alert is handled in its own goroutine.
func (b *Bot) dispatchEvents(ctx context.Context) error {
	b.logger.InfoContext(ctx, "starting alert dispatcher")
	for {
		select {
		case <-ctx.Done():
			b.closeEvents(ctx)
			b.logger.InfoContext(ctx, "alert dispatcher stopped")
			return nil
		case event := <-b.events:
			b.runtimeWG.Add(1)
			go func() {
				defer b.runtimeWG.Done()
				defer b.handleRecover(ctx, "alert")
				b.handleAlertEvent(ctx, event)
			}()
		}
	}
}
