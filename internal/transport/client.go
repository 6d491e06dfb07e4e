// Package transport implements the realtime channel: one authenticated
// WebSocket connection per user, typed events in both directions. Connection
// lifecycle (dial, close) is owned by the surrounding composition, not by
// the messaging core.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachchat/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
	sendBufSize    = 256
)

var ErrClosed = errors.New("transport: channel closed")

type outgoing struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Client is one WebSocket connection to the backend.
// Lifecycle: Dial -> OnEvent -> Start -> [pumps] -> Close -> Wait.
type Client struct {
	conn    *websocket.Conn
	send    chan outgoing
	userID  string
	onEvent func(Event)

	// done guards non-blocking sends in Emit.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// Dial opens the channel for authUserID. The returned client is not pumping
// yet; register a handler with OnEvent, then call Start.
func Dial(ctx context.Context, wsURL, authUserID string) (*Client, error) {
	header := http.Header{}
	header.Set("X-User-ID", authUserID)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", wsURL, err)
	}
	return &Client{
		conn:   conn,
		send:   make(chan outgoing, sendBufSize),
		userID: authUserID,
		done:   make(chan struct{}),
	}, nil
}

// OnEvent registers the inbound handler. Must be called before Start.
func (c *Client) OnEvent(fn func(Event)) {
	c.onEvent = fn
}

// Start launches the read and write pumps with controlled lifecycle.
// ctx bounds pump lifetime; cancel is stored for Close.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals shutdown. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

// Emit enqueues an event, best-effort. A full buffer or a closed channel is
// reported but never blocks the caller; message durability does not depend
// on this path.
func (c *Client) Emit(typ EventType, payload any) error {
	select {
	case c.send <- outgoing{Type: typ, Payload: payload}:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		logger.Errorf("transport: send buffer full, dropping %s", typ)
		return fmt.Errorf("transport: send buffer full, dropped %s", typ)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("transport: set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("transport: read: %v", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("transport: unmarshal event: %v", err)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("transport: close message: %v", err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("transport: set write deadline: %v", err)
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Errorf("transport: marshal %s: %v", msg.Type, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("transport: set write deadline: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
