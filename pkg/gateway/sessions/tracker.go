// Package sessions tracks live realtime sessions so graceful shutdown
// can warn and then cancel them.
package sessions

import (
	"context"
	"sync"
)

// Handle is what a session exposes to the tracker: Warn pushes an
// advisory message to the client, Cancel tears the session down.
type Handle struct {
	Warn   func(message string) error
	Cancel func()
}

type entry struct {
	handle Handle
	once   sync.Once
}

type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Register adds a session; a second registration under the same id
// replaces (and releases) the first. The returned func unregisters.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	e := &entry{handle: h}

	t.mu.Lock()
	old := t.entries[sessionID]
	t.entries[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.release(sessionID, old)
	}
	return func() { t.release(sessionID, e) }
}

func (t *Tracker) release(sessionID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.entries[sessionID] == e {
			delete(t.entries, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// WarnAll sends an advisory message to every tracked session.
func (t *Tracker) WarnAll(message string) (sent int) {
	if t == nil {
		return 0
	}
	var warns []func(string) error
	t.mu.Lock()
	for _, e := range t.entries {
		if e.handle.Warn != nil {
			warns = append(warns, e.handle.Warn)
		}
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(message)
		sent++
	}
	return sent
}

// CancelAll tears down every tracked session.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	var cancels []func()
	t.mu.Lock()
	for _, e := range t.entries {
		if e.handle.Cancel != nil {
			cancels = append(cancels, e.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every session has unregistered or ctx expires.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
