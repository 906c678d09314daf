package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Upper bound for a single event handler, persistence calls included.
	handlerTimeout = 15 * time.Second
)

// Conn is one live client session. The user id is bound at admission from
// the verified credential and never changes; handlers trust it exclusively.
type Conn struct {
	ID     string
	UserID int

	gw   *Gateway
	sock *websocket.Conn
	send chan []byte
	log  *zap.SugaredLogger

	// joined is owned by the room manager; only it reads or writes the set.
	joined map[string]struct{}

	mu     sync.Mutex
	closed bool
}

func (c *Conn) sendEvent(event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.log.Errorw("encode frame", "event", event, "error", err)
		return
	}
	c.enqueue(event, frame)
}

// enqueue never blocks: a receiver that cannot keep up simply misses the
// push and reconciles on its next getConversations fetch. Enqueueing on a
// connection that already disconnected is likewise a silent miss.
func (c *Conn) enqueue(event string, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Debugw("send buffer full, dropping frame", "event", event)
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) sendError(gerr *Error) {
	c.log.Warnw("operation failed",
		"action", gerr.Action, "code", gerr.Code, "error", gerr)
	c.sendEvent(EvError, errorPayload{Action: gerr.Action, Message: gerr.Message})
}

// readPump pumps inbound frames into the router. One goroutine per
// connection; exit forces cleanup of every group membership.
func (c *Conn) readPump() {
	defer func() {
		c.gw.disconnect(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(c.gw.maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("read error", "error", err)
			}
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		c.gw.HandleEvent(ctx, c, raw)
		cancel()
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
