package http

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ferryx/internal/config"
	"ferryx/internal/registry"
)

// Client frame types
const (
	FrameJoin   = "join"
	FrameLeave  = "leave"
	FrameJoined = "joined"
	FrameLeft   = "left"
	FrameError  = "error"
)

// ClientFrame is a subscriber-to-server message
type ClientFrame struct {
	Type  string `json:"type"`
	Group string `json:"group"`
}

// ServerFrame acknowledges a client frame
type ServerFrame struct {
	Type  string `json:"type"`
	Group string `json:"group,omitempty"`
	Error string `json:"error,omitempty"`
}

// subscriberConn owns one socket. writePump is the only writer of data
// frames; readPump answers through the subscriber queue.
type subscriberConn struct {
	ws       *websocket.Conn
	sub      *registry.Subscriber
	hub      *Hub
	settings config.Subscribers
}

func (c *subscriberConn) readPump() {
	pongWait := c.settings.PongTimeout()

	c.ws.SetReadLimit(maxFrameSize)
	if pongWait > 0 {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug("Subscriber read error", "connectionID", c.sub.ID(), "error", err)
			}
			return
		}
		if c.hub.metrics != nil {
			c.hub.metrics.SubscriberFramesRecvd.Inc()
		}
		c.handleFrame(data)
	}
}

func (c *subscriberConn) handleFrame(data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reply(ServerFrame{Type: FrameError, Error: "invalid frame"})
		return
	}

	group := strings.TrimSpace(frame.Group)
	switch frame.Type {
	case FrameJoin, FrameLeave:
		if group == "" {
			c.reply(ServerFrame{Type: FrameError, Error: "group is required"})
			return
		}
	default:
		c.reply(ServerFrame{Type: FrameError, Error: "unknown frame type"})
		return
	}

	id := c.sub.ID()
	if frame.Type == FrameJoin {
		if err := c.hub.registry.Join(id, group); err != nil {
			return
		}
		c.hub.logger.Debug("Subscriber joined group", "connectionID", id, "group", group)
		c.reply(ServerFrame{Type: FrameJoined, Group: group})
	} else {
		if err := c.hub.registry.Leave(id, group); err != nil {
			return
		}
		c.hub.logger.Debug("Subscriber left group", "connectionID", id, "group", group)
		c.reply(ServerFrame{Type: FrameLeft, Group: group})
	}
	c.hub.updateGroups()
}

func (c *subscriberConn) reply(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := c.sub.TrySend(data); err == registry.ErrBufferFull {
		c.hub.logger.Warn("Slow subscriber dropped", "connectionID", c.sub.ID())
		c.hub.registry.Unregister(c.sub.ID())
	}
}

func (c *subscriberConn) writePump() {
	var tick <-chan time.Time
	if period := c.settings.PingInterval(); period > 0 {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}
	// unblocks readPump
	defer c.ws.Close()

	for {
		select {
		case msg := <-c.sub.Messages():
			c.setWriteDeadline()
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("Subscriber write failed", "connectionID", c.sub.ID(), "error", err)
				return
			}

		case <-tick:
			c.setWriteDeadline()
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("Failed to send ping to subscriber", "connectionID", c.sub.ID(), "error", err)
				return
			}

		case <-c.sub.Done():
			code, text := websocket.CloseNormalClosure, ""
			if c.hub.ctx.Err() != nil {
				code, text = websocket.CloseGoingAway, "server stopping"
			}
			closeWith(c.ws, code, text)
			return
		}
	}
}

func (c *subscriberConn) setWriteDeadline() {
	if wait := c.settings.WriteTimeout(); wait > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(wait))
	}
}
