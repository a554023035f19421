package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tau-run/tau/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB
)

// Client is one upgraded WebSocket connection. Frames are dispatched
// synchronously from the read pump; outbound frames and events are
// funneled through a single buffered channel so only one goroutine ever
// calls conn.WriteMessage, matching gorilla/websocket's single-writer
// requirement.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	outbound chan []byte
	done     chan struct{}
}

// NewClient wraps conn for server.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		server:   server,
		outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// SendEvent enqueues event for delivery; it never blocks the caller on a
// slow client — a full outbound buffer drops the event.
func (c *Client) SendEvent(event protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.outbound <- data:
	default:
		slog.Warn("gateway client outbound buffer full, dropping event", "client_id", c.id)
	}
}

// Close tears down the client's channels. Safe to call more than once.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Run drives both the read and write pumps until the connection closes
// or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			c.handleFrame(data)
		case websocket.BinaryMessage:
			// unrecognized binary frames are ignored per the gateway wire
			// protocol; the connection stays open.
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reply("", protocol.KindError, map[string]any{"code": protocol.ErrCodeInvalidJSON, "message": err.Error()})
		return
	}

	switch frame.Kind {
	case protocol.KindCapabilitiesRequest:
		c.reply(frame.RequestID, protocol.KindCapabilitiesResponse, c.server.capabilities())
	case protocol.KindGatewayStatusRequest:
		c.reply(frame.RequestID, protocol.KindGatewayStatusResponse, c.server.gatewayStatus())
	case protocol.KindSessionStatusRequest:
		c.reply(frame.RequestID, protocol.KindSessionStatusResponse, c.server.sessionStatus(frame.Payload))
	case protocol.KindSessionResetRequest:
		c.reply(frame.RequestID, protocol.KindSessionResetResponse, c.server.sessionReset(frame.Payload))
	default:
		c.reply(frame.RequestID, protocol.KindError, map[string]any{"code": "unknown_kind", "kind": frame.Kind})
	}
}

func (c *Client) reply(requestID, kind string, payload map[string]any) {
	data, err := json.Marshal(protocol.NewFrame(requestID, kind, payload))
	if err != nil {
		return
	}
	select {
	case c.outbound <- data:
	case <-c.done:
	}
}
