package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/impulselabs/impulse/internal/bus"
)

const (
	socketWriteWait      = 10 * time.Second
	socketPongWait       = 60 * time.Second
	socketPingPeriod     = (socketPongWait * 9) / 10
	socketMaxMessageSize = 512
	socketSendBuffer     = 256
)

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		// Auth is the session token, not the Origin header.
		return true
	},
}

// handleEventSocket serves the realtime feed over a websocket for clients
// that keep a long-lived bidirectional connection. The feed is the same
// merged broadcast-plus-directed stream the SSE endpoint carries.
func (h *httpHandler) handleEventSocket(c *gin.Context) {
	identity := c.GetString(identityContextKey)

	// The handler returns right after the upgrade, which cancels the request
	// context; subscriptions must outlive it and end with the socket instead.
	// Subscribing before the upgrade means a client sees every event emitted
	// after its handshake completed.
	socketCtx, cancelSocket := context.WithCancel(context.Background())
	broadcast, cancelBroadcast := h.bus.SubscribeBroadcast(socketCtx)
	directed, cancelDirected := h.bus.SubscribeDirected(socketCtx, identity)

	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		cancelBroadcast()
		cancelDirected()
		cancelSocket()
		return
	}

	client := &socketClient{
		conn:   conn,
		send:   make(chan []byte, socketSendBuffer),
		done:   make(chan struct{}),
		logger: h.logger,
	}
	cleanup := func() {
		cancelBroadcast()
		cancelDirected()
		cancelSocket()
	}

	go client.writePump(cleanup)
	go client.readPump()
	go client.forward(broadcast)
	go client.forward(directed)
}

type socketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *zap.Logger
}

// forward serializes bus events into outbound frames. A full send buffer
// drops the frame rather than stalling the bus; clients reconcile by
// re-listing.
func (c *socketClient) forward(events <-chan bus.Event) {
	for {
		select {
		case <-c.done:
			return
		case event, open := <-events:
			if !open {
				return
			}
			frame, err := json.Marshal(event)
			if err != nil {
				c.logger.Error("websocket frame marshal failed", zap.Error(err))
				continue
			}
			select {
			case c.send <- frame:
			case <-c.done:
				return
			default:
			}
		}
	}
}

// readPump drains inbound frames so pong handlers run; the feed is
// one-directional and client payloads are ignored.
func (c *socketClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(socketMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *socketClient) writePump(cleanup func()) {
	ticker := time.NewTicker(socketPingPeriod)
	defer func() {
		ticker.Stop()
		cleanup()
		close(c.done)
		c.conn.Close()
	}()

	for {
		select {
		case frame, open := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if !open {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
