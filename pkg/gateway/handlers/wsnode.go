package handlers

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

const outboundQueueSize = 256

// clientSocket is the downstream leg of the pipeline: a bus node whose
// Receive serialises events back to the client's WebSocket. Writes go
// through a single writer goroutine so control pings and event frames
// never interleave.
type clientSocket struct {
	ws           *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration
	pingInterval time.Duration

	// onDrop observes events discarded because the outbound queue was
	// full or the socket already closed.
	onDrop func(reason string)

	mu     sync.Mutex
	closed bool
	queue  chan []byte
	done   chan struct{}
}

func newClientSocket(ws *websocket.Conn, writeTimeout, pingInterval time.Duration, logger *slog.Logger, onDrop func(string)) *clientSocket {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	c := &clientSocket{
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		onDrop:       onDrop,
		queue:        make(chan []byte, outboundQueueSize),
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Subscribe is part of the bus node contract; the client socket is a
// sink and keeps no subscribers.
func (c *clientSocket) Subscribe(nodes ...events.Node) {}

func (c *clientSocket) Receive(ev events.Event) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("marshal client-bound event", "error", err)
		}
		return
	}
	c.enqueue(data)
}

// Warn pushes an advisory error payload to the client, ahead of
// whatever is queued if possible.
func (c *clientSocket) Warn(message string) error {
	data, err := json.Marshal(map[string]any{
		"type": "warning",
		"warning": map[string]any{
			"message": message,
		},
	})
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

func (c *clientSocket) enqueue(data []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.drop("socket_closed")
		return
	}
	select {
	case c.queue <- data:
	default:
		// The client is not draining; losing a frame beats blocking the
		// whole session.
		c.drop("outbound_queue_full")
	}
}

func (c *clientSocket) drop(reason string) {
	if c.onDrop != nil {
		c.onDrop(reason)
	}
}

func (c *clientSocket) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.queue:
			if !ok {
				deadline := time.Now().Add(c.writeTimeout)
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				close(c.done)
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				if c.logger != nil {
					c.logger.Debug("client write failed", "error", err)
				}
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				if c.logger != nil {
					c.logger.Debug("client ping failed", "error", err)
				}
			}
		}
	}
}

// Cleanup stops the writer after draining what is already queued. The
// underlying socket close is the handler's responsibility. Idempotent.
func (c *clientSocket) Cleanup() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.queue)
	select {
	case <-c.done:
	case <-time.After(c.writeTimeout):
	}
}
