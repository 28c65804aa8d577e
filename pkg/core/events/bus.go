package events

import "log/slog"

// Node is the capability every pipeline component shares: it can be
// subscribed to, it can receive events, and it can be torn down.
type Node interface {
	Subscribe(nodes ...Node)
	Receive(ev Event)
	Cleanup()
}

// Emitter is the embeddable pub/sub half of a Node. Emit delivers to
// each subscriber synchronously in subscription order on the caller's
// goroutine; there is no queueing or reordering. A panicking subscriber
// is logged and does not stop delivery to later subscribers.
type Emitter struct {
	Logger *slog.Logger
	subs   []Node
}

func (e *Emitter) Subscribe(nodes ...Node) {
	e.subs = append(e.subs, nodes...)
}

// ClearSubscribers drops the subscriber list without touching the
// subscribers themselves. Used when the pipeline rewires around a new
// provider connection.
func (e *Emitter) ClearSubscribers() {
	e.subs = nil
}

func (e *Emitter) Emit(ev Event) {
	for _, sub := range e.subs {
		e.deliver(sub, ev)
	}
}

func (e *Emitter) deliver(sub Node, ev Event) {
	defer func() {
		if v := recover(); v != nil && e.Logger != nil {
			e.Logger.Error("subscriber panicked", "panic", v, "src", string(ev.Src))
		}
	}()
	sub.Receive(ev)
}

// Cleanup drops all subscriber references.
func (e *Emitter) Cleanup() {
	e.subs = nil
}
