package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/impulselabs/impulse/internal/bus"
)

const (
	streamHeartbeatEvent    = "heartbeat"
	streamHeartbeatInterval = 25 * time.Second
)

// handleEventStream serves the realtime feed over server-sent events. The
// caller receives the public broadcast scope merged with their own directed
// scope on a single connection.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	identity := c.GetString(identityContextKey)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	ctx := c.Request.Context()
	broadcast, cancelBroadcast := h.bus.SubscribeBroadcast(ctx)
	defer cancelBroadcast()
	directed, cancelDirected := h.bus.SubscribeDirected(ctx, identity)
	defer cancelDirected()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-broadcast:
			if !open {
				return
			}
			h.writeStreamEvent(c, flusher, event)
		case event, open := <-directed:
			if !open {
				return
			}
			h.writeStreamEvent(c, flusher, event)
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", streamHeartbeatEvent); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *httpHandler) writeStreamEvent(c *gin.Context, flusher http.Flusher, event bus.Event) {
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, event.Payload); err != nil {
		h.logger.Debug("stream write failed", zap.Error(err))
		return
	}
	flusher.Flush()
}
