package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/voiceswitch/pkg/core/events"
	"github.com/vango-go/voiceswitch/pkg/core/extract"
	"github.com/vango-go/voiceswitch/pkg/store"
)

// Transcript entry kinds as they appear on disk.
const (
	kindUser       = "user"
	kindAgent      = "agent"
	kindCheckpoint = "agent_checkpoint"
)

// flushThreshold is the buffered character count above which a flush is
// scheduled.
const flushThreshold = 200

const flushTimeout = 10 * time.Second

// Checkpointer observes server-side events in the client's style,
// buffers user/agent transcript deltas, and appends them to the
// session's conversation log. Flushes are fire-and-forget but ordered:
// a single writer goroutine serialises them through the store.
type Checkpointer struct {
	events.Emitter
	style     events.Style
	accountID string
	sessionID string
	st        store.Store
	logger    *slog.Logger
	ex        *extract.ServerExtractor

	// onFlush, when set, observes the byte size of each flushed chunk.
	onFlush func(bytes int)

	mu     sync.Mutex
	kind   string
	parts  []string
	total  int
	closed bool

	flushCh chan string
	done    chan struct{}
}

func NewCheckpointer(style events.Style, accountID, sessionID string, st store.Store, logger *slog.Logger) *Checkpointer {
	c := &Checkpointer{
		style:     style,
		accountID: accountID,
		sessionID: sessionID,
		st:        st,
		logger:    logger,
		flushCh:   make(chan string, 16),
		done:      make(chan struct{}),
	}
	c.Logger = logger
	c.ex = extract.NewServerExtractor(style, logger)
	c.ex.UserTranscript = func(ev events.Event) {
		c.appendDelta(kindUser, extract.TranscriptText(c.style, extract.KindUserTranscript, ev.Payload))
	}
	c.ex.ResponseTranscript = func(ev events.Event) {
		c.appendDelta(kindAgent, extract.TranscriptText(c.style, extract.KindResponseTranscript, ev.Payload))
	}
	// Audio, tool calls and turn boundaries flow through the pipeline
	// but are not logged.
	go c.writeLoop()
	return c
}

func (c *Checkpointer) SetOnFlush(fn func(bytes int)) { c.onFlush = fn }

func (c *Checkpointer) Receive(ev events.Event) {
	c.ex.Extract(ev)
}

func (c *Checkpointer) appendDelta(kind, delta string) {
	if delta == "" {
		return
	}
	c.mu.Lock()
	if kind == c.kind && len(c.parts) > 0 {
		c.parts = append(c.parts, delta)
	} else {
		if len(c.parts) > 0 {
			c.parts = append(c.parts, "\n")
		}
		c.parts = append(c.parts, kind+":"+delta)
		c.kind = kind
	}
	c.total += len(delta)
	var chunk string
	if c.total > flushThreshold {
		chunk = c.drainLocked()
	}
	c.mu.Unlock()

	if chunk != "" {
		c.enqueue(chunk)
	}
}

// drainLocked serialises and resets the buffer. Caller holds c.mu.
func (c *Checkpointer) drainLocked() string {
	chunk := strings.Join(c.parts, "")
	c.parts = nil
	c.kind = ""
	c.total = 0
	return chunk
}

// Flush schedules a write of whatever is buffered. It does not wait for
// persistence.
func (c *Checkpointer) Flush() {
	c.mu.Lock()
	chunk := c.drainLocked()
	c.mu.Unlock()
	if chunk != "" {
		c.enqueue(chunk)
	}
}

// CreateCheckpoint flushes the buffer, appends a marker entry, and
// flushes again.
func (c *Checkpointer) CreateCheckpoint(reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = "manual"
	}
	c.Flush()
	c.appendDelta(kindCheckpoint, "Checkpoint: "+reason+" - "+time.Now().UTC().Format(time.RFC3339))
	c.Flush()
}

func (c *Checkpointer) enqueue(chunk string) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.flushCh <- chunk
}

func (c *Checkpointer) writeLoop() {
	defer close(c.done)
	for chunk := range c.flushCh {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		err := c.st.Append(ctx, c.accountID, "conversations", c.sessionID, chunk)
		cancel()
		if err != nil {
			if c.logger != nil {
				c.logger.Error("append conversation log", "error", err)
			}
			continue
		}
		if c.onFlush != nil {
			c.onFlush(len(chunk))
		}
	}
	// A session-exclusive store dies with the session; the shared
	// singleton stays open.
	if c.st.Exclusive() {
		if err := c.st.Cleanup(); err != nil && c.logger != nil {
			c.logger.Error("close session store", "error", err)
		}
	}
}

// Cleanup flushes whatever is buffered (fire and forget), releases the
// extractor callbacks, and stops the writer. Idempotent.
func (c *Checkpointer) Cleanup() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	chunk := c.drainLocked()
	c.closed = true
	c.mu.Unlock()

	if chunk != "" {
		c.flushCh <- chunk
	}
	close(c.flushCh)
	c.ex.Cleanup()
	c.Emitter.Cleanup()
}
