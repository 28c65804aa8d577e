// Package pipeline wires the per-session event graph: config store,
// translators, provider connection, checkpointer and switch controller.
// All event dispatch for a session is serialised through one mutex; the
// client reader, the provider reader, liveness timers and persistence
// completions all enter through Dispatch, so no two handlers ever run
// concurrently within a session.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/voiceswitch/pkg/core/events"
	"github.com/vango-go/voiceswitch/pkg/core/provider"
	"github.com/vango-go/voiceswitch/pkg/core/translate"
	"github.com/vango-go/voiceswitch/pkg/store"
)

const replayReadTimeout = 5 * time.Second

// Observer receives pipeline lifecycle signals; the gateway feeds them
// into Prometheus. All methods must tolerate concurrent calls.
type Observer interface {
	SwitchPerformed(from, to events.Style)
	LatencySample(p events.Style, latencyMs float64)
	ProviderConnected(p events.Style)
	EventDropped(reason string)
	TranscriptFlushed(bytes int)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) SwitchPerformed(events.Style, events.Style) {}
func (NopObserver) LatencySample(events.Style, float64)        {}
func (NopObserver) ProviderConnected(events.Style)             {}
func (NopObserver) EventDropped(string)                        {}
func (NopObserver) TranscriptFlushed(int)                      {}

// ConnFactory builds a provider connection for the given vendor. The
// dispatch function must be used for every callback into the session.
type ConnFactory func(p events.Style, dispatch func(func())) *provider.Conn

type Deps struct {
	Style     events.Style // dialect the client speaks
	Provider  events.Style // initial upstream vendor; defaults to Style
	AccountID string
	SessionID string

	// Downstream is the client-facing socket node. The pipeline never
	// closes it; the caller owns it.
	Downstream events.Node

	Store       store.Store
	Logger      *slog.Logger
	Observer    Observer
	ConnFactory ConnFactory

	SwitchThresholdMs float64
	SwitchCount       int
}

// Pipeline owns the session graph and the swap transaction.
type Pipeline struct {
	mu sync.Mutex

	style     events.Style
	provider  events.Style
	accountID string
	sessionID string

	logger   *slog.Logger
	observer Observer
	factory  ConnFactory

	downstream  events.Node
	configStore *ConfigStore
	checkpoint  *Checkpointer
	sw          *Switch
	clientTr    *translate.ClientTranslator
	serverTr    *translate.ServerTranslator
	conn        *provider.Conn

	swapping bool
	closed   bool
}

func New(d Deps) *Pipeline {
	if d.Provider == "" {
		d.Provider = d.Style
	}
	if d.Observer == nil {
		d.Observer = NopObserver{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	p := &Pipeline{
		style:      d.Style,
		provider:   d.Provider,
		accountID:  d.AccountID,
		sessionID:  d.SessionID,
		logger:     d.Logger,
		observer:   d.Observer,
		factory:    d.ConnFactory,
		downstream: d.Downstream,
	}

	p.configStore = NewConfigStore(d.Style, d.AccountID, d.SessionID, d.Store, d.Logger)
	p.checkpoint = NewCheckpointer(d.Style, d.AccountID, d.SessionID, d.Store, d.Logger)
	p.checkpoint.SetOnFlush(p.observer.TranscriptFlushed)
	p.sw = NewSwitch(d.Provider, d.SwitchThresholdMs, d.SwitchCount, d.Logger)
	p.sw.OnSwitch(p.performSwap)

	p.buildProviderSide(d.Provider)
	return p
}

// buildProviderSide constructs the connection and its flanking
// translators for the given vendor and wires the full graph. Caller
// holds p.mu (or is the constructor).
func (p *Pipeline) buildProviderSide(target events.Style) {
	p.conn = p.factory(target, p.Dispatch)
	p.conn.OnConnected(p.handleProviderConnected)
	p.conn.OnStats(p.handleStats)

	p.clientTr = translate.NewClient(p.style, target, p.logger)
	p.serverTr = translate.NewServer(target, p.style, p.logger)

	p.configStore.ClearSubscribers()
	p.configStore.Subscribe(p.clientTr)
	p.clientTr.Subscribe(p.conn)
	p.conn.Subscribe(p.serverTr)
	p.serverTr.Subscribe(p.downstream, p.checkpoint)
}

// Start opens the initial provider connection.
func (p *Pipeline) Start() {
	p.conn.Connect()
}

// Dispatch runs fn on the session's serialised execution context.
func (p *Pipeline) Dispatch(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// ReceiveEvent wraps a raw client payload into an event in the client's
// style and feeds it into the graph. Events arriving mid-swap or after
// cleanup are dropped; the client has no expectation of in-flight audio
// surviving a vendor change.
func (p *Pipeline) ReceiveEvent(raw map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.swapping {
		p.observer.EventDropped("session_unavailable")
		return
	}
	p.configStore.Receive(events.Event{Src: p.style, Payload: raw})
}

// CreateCheckpoint writes a marker entry into the conversation log.
func (p *Pipeline) CreateCheckpoint(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.checkpoint.CreateCheckpoint(reason)
}

// handleProviderConnected runs on every successful open, including
// reconnects and post-swap connects. It feeds the merged config
// directly into the client translator, bypassing the config store so
// the replayed config is not re-persisted.
func (p *Pipeline) handleProviderConnected() {
	if p.closed {
		return
	}
	p.observer.ProviderConnected(p.provider)
	ctx, cancel := context.WithTimeout(context.Background(), replayReadTimeout)
	defer cancel()
	replay := p.configStore.GetForReplay(ctx)
	if replay == nil {
		return
	}
	p.logger.Info("replaying session config", "provider", string(p.provider))
	p.clientTr.Receive(*replay)
}

func (p *Pipeline) handleStats(sample provider.Sample) {
	if p.closed {
		return
	}
	p.observer.LatencySample(sample.Provider, sample.LatencyMs)
	p.sw.AddStats(sample)
}

// performSwap atomically replaces the provider connection and its
// flanking translators. The config store, checkpointer, switch and
// downstream socket survive. Runs with p.mu held (it is invoked from
// the stats path, which enters through Dispatch).
func (p *Pipeline) performSwap(target events.Style) {
	if p.closed {
		return
	}
	from := p.provider
	p.logger.Info("swapping provider", "from", string(from), "to", string(target))
	p.swapping = true

	p.conn.Cleanup()
	p.clientTr.Cleanup()
	p.serverTr.Cleanup()

	p.buildProviderSide(target)
	p.provider = target
	p.swapping = false

	p.observer.SwitchPerformed(from, target)

	// Replay happens when the new connection's onConnected fires.
	p.conn.Connect()
}

// CurrentProvider reports which vendor the session is routed to.
func (p *Pipeline) CurrentProvider() events.Style {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.provider
}

// Cleanup tears the session down. The downstream socket is left open
// for the caller. Idempotent.
func (p *Pipeline) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	p.configStore.Cleanup()
	p.conn.Cleanup()
	p.serverTr.Cleanup()
	p.clientTr.Cleanup()
	p.checkpoint.Cleanup()
	p.sw.Cleanup()
}
