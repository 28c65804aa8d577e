package pipeline

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/voiceswitch/pkg/core/events"
	"github.com/vango-go/voiceswitch/pkg/core/provider"
)

// fakeVendor is a WebSocket server standing in for an upstream
// provider: it records every JSON frame it receives and can push frames
// back down.
type fakeVendor struct {
	srv      *httptest.Server
	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan map[string]any
}

func newFakeVendor(t *testing.T) *fakeVendor {
	t.Helper()
	v := &fakeVendor{received: make(chan map[string]any, 64)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.conns = append(v.conns, conn)
		v.mu.Unlock()
		for {
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				return
			}
			v.received <- payload
		}
	}))
	t.Cleanup(v.close)
	return v
}

func (v *fakeVendor) url() string {
	return "ws" + strings.TrimPrefix(v.srv.URL, "http")
}

func (v *fakeVendor) send(t *testing.T, payload map[string]any) {
	t.Helper()
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.conns) == 0 {
		t.Fatalf("no vendor connection to send on")
	}
	if err := v.conns[len(v.conns)-1].WriteJSON(payload); err != nil {
		t.Fatalf("vendor send: %v", err)
	}
}

func (v *fakeVendor) waitFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case payload := <-v.received:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for vendor frame")
		return nil
	}
}

func (v *fakeVendor) close() {
	v.mu.Lock()
	for _, c := range v.conns {
		_ = c.Close()
	}
	v.mu.Unlock()
	v.srv.Close()
}

type chanNode struct {
	ch chan events.Event
}

func newChanNode() *chanNode { return &chanNode{ch: make(chan events.Event, 64)} }

func (n *chanNode) Subscribe(nodes ...events.Node) {}
func (n *chanNode) Receive(ev events.Event)        { n.ch <- ev }
func (n *chanNode) Cleanup()                       {}

func (n *chanNode) wait(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-n.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for downstream event")
		return events.Event{}
	}
}

type countingObserver struct {
	mu       sync.Mutex
	switches [][2]events.Style
	dropped  []string
	connects []events.Style
}

func (o *countingObserver) SwitchPerformed(from, to events.Style) {
	o.mu.Lock()
	o.switches = append(o.switches, [2]events.Style{from, to})
	o.mu.Unlock()
}
func (o *countingObserver) LatencySample(events.Style, float64) {}
func (o *countingObserver) ProviderConnected(p events.Style) {
	o.mu.Lock()
	o.connects = append(o.connects, p)
	o.mu.Unlock()
}
func (o *countingObserver) EventDropped(reason string) {
	o.mu.Lock()
	o.dropped = append(o.dropped, reason)
	o.mu.Unlock()
}
func (o *countingObserver) TranscriptFlushed(int) {}

// cleanupPipeline tears the pipeline down and waits for the
// checkpointer's writer so its final flush lands before t.TempDir
// removes the store directory.
func cleanupPipeline(p *Pipeline) {
	p.Cleanup()
	<-p.checkpoint.done
}

func vendorFactory(openai, gemini *fakeVendor) ConnFactory {
	return func(p events.Style, dispatch func(func())) *provider.Conn {
		url := openai.url()
		if p == events.StyleGemini {
			url = gemini.url()
		}
		return provider.New(provider.Config{
			Provider:     p,
			Endpoint:     provider.Endpoint{URL: url},
			PingInterval: time.Hour,
		}, nil, dispatch)
	}
}

func TestPipeline_ForwardsClientEventsUpstream(t *testing.T) {
	openai := newFakeVendor(t)
	gemini := newFakeVendor(t)
	downstream := newChanNode()
	obs := &countingObserver{}

	p := New(Deps{
		Style:       events.StyleOpenAI,
		AccountID:   "acc",
		SessionID:   "sess",
		Downstream:  downstream,
		Store:       newTestFileStore(t),
		Observer:    obs,
		ConnFactory: vendorFactory(openai, gemini),
	})
	defer cleanupPipeline(p)
	p.Start()

	waitCond(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.connects) == 1
	}, "provider connect")

	p.ReceiveEvent(map[string]any{
		"type":    "session.update",
		"session": map[string]any{"model": "gpt-4o-realtime", "instructions": "hi"},
	})

	frame := openai.waitFrame(t)
	if frame["type"] != "session.update" {
		t.Fatalf("vendor got %v, want session.update", frame)
	}
}

func TestPipeline_ForwardsProviderEventsDownstream(t *testing.T) {
	openai := newFakeVendor(t)
	gemini := newFakeVendor(t)
	downstream := newChanNode()
	obs := &countingObserver{}

	p := New(Deps{
		Style:       events.StyleOpenAI,
		AccountID:   "acc",
		SessionID:   "sess",
		Downstream:  downstream,
		Store:       newTestFileStore(t),
		Observer:    obs,
		ConnFactory: vendorFactory(openai, gemini),
	})
	defer cleanupPipeline(p)
	p.Start()

	waitCond(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.connects) == 1
	}, "provider connect")

	openai.send(t, map[string]any{"type": "response.audio_transcript.delta", "delta": "hello"})

	ev := downstream.wait(t)
	if ev.Src != events.StyleOpenAI {
		t.Fatalf("src=%q", ev.Src)
	}
	if events.StringAt(ev.Payload, "delta") != "hello" {
		t.Fatalf("payload=%v", ev.Payload)
	}
}

func TestPipeline_SwapReplaysTranslatedConfig(t *testing.T) {
	openai := newFakeVendor(t)
	gemini := newFakeVendor(t)
	downstream := newChanNode()
	obs := &countingObserver{}

	p := New(Deps{
		Style:       events.StyleOpenAI,
		AccountID:   "acc",
		SessionID:   "sess",
		Downstream:  downstream,
		Store:       newTestFileStore(t),
		Observer:    obs,
		ConnFactory: vendorFactory(openai, gemini),
	})
	defer cleanupPipeline(p)
	p.Start()

	waitCond(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.connects) == 1
	}, "initial connect")

	p.ReceiveEvent(map[string]any{
		"type":    "session.update",
		"session": map[string]any{"model": "gpt-4o-realtime", "instructions": "stay calm"},
	})
	openai.waitFrame(t) // the original config reaching the first vendor

	p.Dispatch(func() { p.performSwap(events.StyleGemini) })

	if got := p.CurrentProvider(); got != events.StyleGemini {
		t.Fatalf("current provider=%q, want GEMINI", got)
	}
	obs.mu.Lock()
	nswitch := len(obs.switches)
	obs.mu.Unlock()
	if nswitch != 1 {
		t.Fatalf("observer saw %d switches, want 1", nswitch)
	}

	// The new vendor receives the stored config reshaped into its own
	// dialect.
	frame := gemini.waitFrame(t)
	setup, ok := events.MapAt(frame, "setup")
	if !ok {
		t.Fatalf("replayed frame=%v, want setup", frame)
	}
	if setup["model"] != "gpt-4o-realtime" {
		t.Fatalf("setup=%v", setup)
	}
	parts, _ := events.SliceAt(setup, "systemInstruction", "parts")
	if len(parts) == 0 || events.StringAt(parts[0].(map[string]any), "text") != "stay calm" {
		t.Fatalf("systemInstruction=%v", setup["systemInstruction"])
	}
}

func TestPipeline_SwapTranslatesProviderEventsBack(t *testing.T) {
	openai := newFakeVendor(t)
	gemini := newFakeVendor(t)
	downstream := newChanNode()
	obs := &countingObserver{}

	p := New(Deps{
		Style:       events.StyleOpenAI,
		AccountID:   "acc",
		SessionID:   "sess",
		Downstream:  downstream,
		Store:       newTestFileStore(t),
		Observer:    obs,
		ConnFactory: vendorFactory(openai, gemini),
	})
	defer cleanupPipeline(p)
	p.Start()

	waitCond(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.connects) == 1
	}, "initial connect")

	p.Dispatch(func() { p.performSwap(events.StyleGemini) })
	waitCond(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.connects) == 2
	}, "post-swap connect")

	// Gemini-shaped transcript comes back to the OpenAI-style client.
	gemini.send(t, map[string]any{
		"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "oversatt"},
		},
	})

	ev := downstream.wait(t)
	if events.StringAt(ev.Payload, "type") != "response.audio_transcript.delta" {
		t.Fatalf("payload=%v", ev.Payload)
	}
	if events.StringAt(ev.Payload, "delta") != "oversatt" {
		t.Fatalf("delta=%q", events.StringAt(ev.Payload, "delta"))
	}
}

func TestPipeline_EventsDroppedAfterCleanup(t *testing.T) {
	openai := newFakeVendor(t)
	gemini := newFakeVendor(t)
	obs := &countingObserver{}

	p := New(Deps{
		Style:       events.StyleOpenAI,
		AccountID:   "acc",
		SessionID:   "sess",
		Downstream:  newChanNode(),
		Store:       newTestFileStore(t),
		Observer:    obs,
		ConnFactory: vendorFactory(openai, gemini),
	})
	p.Start()
	cleanupPipeline(p)

	p.ReceiveEvent(map[string]any{"type": "input_audio_buffer.append", "audio": "AA"})
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.dropped) != 1 {
		t.Fatalf("dropped=%v, want one entry", obs.dropped)
	}
}

func waitCond(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
