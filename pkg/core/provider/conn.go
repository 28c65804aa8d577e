// Package provider maintains the long-lived upstream vendor socket: a
// bidirectional JSON passthrough with liveness probing and automatic
// reconnect. Nothing in here surfaces an error to the pipeline; every
// failure is logged and handled through the reconnect path or dropped.
package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

// Sample is one observed round-trip latency probe.
type Sample struct {
	TimestampMs int64
	LatencyMs   float64
	Provider    events.Style
}

// State of the upstream connection.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

// Endpoint is the vendor socket URL plus its auth headers.
type Endpoint struct {
	URL    string
	Header http.Header
}

type Config struct {
	Provider       events.Style
	Endpoint       Endpoint
	ConnectTimeout time.Duration // per dial attempt
	PingInterval   time.Duration // liveness probe cadence
	BackoffMax     time.Duration // reconnect backoff cap
	MaxReconnects  int           // attempts before giving up; 0 = unlimited
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// wsConn is the slice of *websocket.Conn the connection uses; tests
// substitute a fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Conn is a bus node: Receive writes client-bound events upstream, and
// every inbound frame is emitted to subscribers tagged with the
// provider's style.
type Conn struct {
	events.Emitter
	cfg    Config
	logger *slog.Logger

	// dispatch serialises callbacks and inbound emits onto the owning
	// session's execution context.
	dispatch func(func())
	dial     dialFunc
	now      func() time.Time

	mu         sync.Mutex
	writeMu    sync.Mutex
	ws         wsConn
	state      State
	selfClosed bool
	gen        int // increments per (re)connect; stale loops exit

	onConnected func()
	onStats     func(Sample)
}

func New(cfg Config, logger *slog.Logger, dispatch func(func())) *Conn {
	cfg.applyDefaults()
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	c := &Conn{
		cfg:      cfg,
		logger:   logger,
		dispatch: dispatch,
		dial:     gorillaDial,
		now:      time.Now,
		state:    StateInit,
	}
	c.Logger = logger
	return c
}

func (c *Conn) Provider() events.Style { return c.cfg.Provider }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnConnected registers the callback fired once per successful open,
// including reopens after an unsolicited close.
func (c *Conn) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

// OnStats registers the latency sample callback.
func (c *Conn) OnStats(fn func(Sample)) {
	c.mu.Lock()
	c.onStats = fn
	c.mu.Unlock()
}

// Connect starts the dial loop in the background. The first successful
// open fires the onConnected callback; dial failures back off
// exponentially up to the configured cap and attempt budget.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.state != StateInit {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	go c.connectLoop()
}

func (c *Conn) connectLoop() {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		if c.selfClosed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		ws, err := c.dial(ctx, c.cfg.Endpoint.URL, c.cfg.Endpoint.Header)
		cancel()
		if err == nil {
			c.installConn(ws)
			return
		}

		if c.logger != nil {
			c.logger.Error("upstream dial failed",
				"provider", string(c.cfg.Provider), "attempt", attempt+1, "error", err)
		}
		if c.cfg.MaxReconnects > 0 && attempt+1 >= c.cfg.MaxReconnects {
			if c.logger != nil {
				c.logger.Error("upstream reconnect budget exhausted", "provider", string(c.cfg.Provider))
			}
			c.mu.Lock()
			c.state = StateClosed
			c.mu.Unlock()
			return
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
}

func (c *Conn) installConn(ws wsConn) {
	c.mu.Lock()
	if c.selfClosed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.state = StateOpen
	c.gen++
	gen := c.gen
	connected := c.onConnected
	c.mu.Unlock()

	ws.SetPongHandler(func(appData string) error {
		c.handlePong(appData)
		return nil
	})

	go c.readLoop(ws, gen)
	go c.pingLoop(ws, gen)

	if connected != nil {
		c.dispatch(connected)
	}
}

func (c *Conn) readLoop(ws wsConn, gen int) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			if c.logger != nil {
				c.logger.Error("malformed upstream frame", "provider", string(c.cfg.Provider), "error", err)
			}
			continue
		}
		c.dispatch(func() {
			c.Emit(events.Event{Src: c.cfg.Provider, Payload: payload})
		})
	}
}

// handleClosed reacts to an unsolicited close by reconnecting. A
// self-initiated close (Cleanup) stays closed.
func (c *Conn) handleClosed(gen int, cause error) {
	c.mu.Lock()
	if c.selfClosed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateReconnecting
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Warn("upstream closed, reconnecting",
			"provider", string(c.cfg.Provider), "cause", cause)
	}
	c.connectLoop()
}

func (c *Conn) pingLoop(ws wsConn, gen int) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		stale := c.selfClosed || gen != c.gen || c.state != StateOpen
		c.mu.Unlock()
		if stale {
			return
		}
		payload := strconv.FormatInt(c.now().UnixMilli(), 10)
		deadline := c.now().Add(c.cfg.ConnectTimeout)
		if err := ws.WriteControl(websocket.PingMessage, []byte(payload), deadline); err != nil {
			return
		}
	}
}

// handlePong computes round-trip latency from the echoed timestamp.
// A missed pong simply produces no sample.
func (c *Conn) handlePong(appData string) {
	sentMs, err := strconv.ParseInt(appData, 10, 64)
	if err != nil {
		return
	}
	now := c.now().UnixMilli()
	sample := Sample{
		TimestampMs: now,
		LatencyMs:   float64(now - sentMs),
		Provider:    c.cfg.Provider,
	}
	c.mu.Lock()
	stats := c.onStats
	c.mu.Unlock()
	if stats != nil {
		c.dispatch(func() { stats(sample) })
	}
}

// Receive serialises the event payload and writes it upstream. Events
// arriving while the socket is not open are dropped.
func (c *Conn) Receive(ev events.Event) {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || ws == nil {
		if c.logger != nil {
			c.logger.Debug("dropping outbound event, upstream not open", "provider", string(c.cfg.Provider))
		}
		return
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("marshal outbound event", "provider", string(c.cfg.Provider), "error", err)
		}
		return
	}
	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil && c.logger != nil {
		c.logger.Warn("upstream write failed", "provider", string(c.cfg.Provider), "error", err)
	}
}

// Cleanup marks the close as self-initiated, closes the socket, and
// releases every registered callback. The connection is inert
// afterwards; further Receive calls are no-ops. Idempotent.
func (c *Conn) Cleanup() {
	c.mu.Lock()
	if c.state == StateClosed && c.selfClosed {
		c.mu.Unlock()
		return
	}
	c.selfClosed = true
	c.state = StateClosed
	ws := c.ws
	c.ws = nil
	c.onConnected = nil
	c.onStats = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	c.Emitter.Cleanup()
}
