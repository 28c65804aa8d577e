package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/voiceswitch/pkg/core/events"
	"github.com/vango-go/voiceswitch/pkg/core/extract"
	"github.com/vango-go/voiceswitch/pkg/store"
)

// replayPrefix introduces the prior transcript when a session's merged
// config is replayed to a freshly opened provider connection.
const replayPrefix = "The following is the prior conversation to continue:"

const persistTimeout = 5 * time.Second

// ConfigStore captures and merges every sessionUpdate the client sends,
// persists the merged view, and rebuilds it (enriched with the prior
// transcript) for replay whenever a provider connection opens. It is a
// pass-through bus node: every received event is re-emitted downstream
// whether or not it was a sessionUpdate.
type ConfigStore struct {
	events.Emitter
	style      events.Style
	accountID  string
	sessionID  string
	st         store.Store
	logger     *slog.Logger
	ex         *extract.ClientExtractor

	mu      sync.Mutex
	current map[string]any
	closed  bool

	persistCh chan string
	done      chan struct{}
}

func NewConfigStore(style events.Style, accountID, sessionID string, st store.Store, logger *slog.Logger) *ConfigStore {
	cs := &ConfigStore{
		style:     style,
		accountID: accountID,
		sessionID: sessionID,
		st:        st,
		logger:    logger,
		persistCh: make(chan string, 1),
		done:      make(chan struct{}),
	}
	cs.Logger = logger
	cs.ex = extract.NewClientExtractor(style, logger)
	cs.ex.SessionUpdate = cs.handleSessionUpdate
	go cs.persistLoop()
	go cs.loadInitial()
	return cs
}

// mergeKey is the top-level sub-map sessionUpdate merges happen under.
func (cs *ConfigStore) mergeKey() string {
	if cs.style == events.StyleGemini {
		return "setup"
	}
	return "session"
}

func (cs *ConfigStore) Receive(ev events.Event) {
	cs.ex.Extract(ev)
	cs.Emit(ev)
}

func (cs *ConfigStore) handleSessionUpdate(ev events.Event) {
	key := cs.mergeKey()

	cs.mu.Lock()
	if cs.current == nil {
		cs.current = events.CloneMap(ev.Payload)
	} else {
		// Shallow, last-writer-wins merge at the sub-map's top level:
		// each field in the update replaces the same-named stored field
		// entirely; absent fields are preserved.
		merged := events.CloneMap(cs.current)
		stored, ok := events.MapAt(merged, key)
		if !ok {
			stored = map[string]any{}
			merged[key] = stored
		}
		if update, ok := events.MapAt(ev.Payload, key); ok {
			for k, v := range events.CloneMap(update) {
				stored[k] = v
			}
		}
		cs.current = merged
	}
	snapshot, err := json.Marshal(cs.current)
	cs.mu.Unlock()

	if err != nil {
		if cs.logger != nil {
			cs.logger.Error("marshal session config", "error", err)
		}
		return
	}
	cs.schedulePersist(string(snapshot))
}

// schedulePersist hands the snapshot to the background writer without
// blocking the event path; a newer snapshot replaces a queued older one.
func (cs *ConfigStore) schedulePersist(snapshot string) {
	cs.mu.Lock()
	closed := cs.closed
	cs.mu.Unlock()
	if closed {
		return
	}
	for {
		select {
		case cs.persistCh <- snapshot:
			return
		default:
			select {
			case <-cs.persistCh:
			default:
			}
		}
	}
}

func (cs *ConfigStore) persistLoop() {
	defer close(cs.done)
	for snapshot := range cs.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := cs.st.Overwrite(ctx, cs.accountID, "sessions", cs.sessionID, snapshot)
		cancel()
		if err != nil && cs.logger != nil {
			cs.logger.Error("persist session config", "error", err)
		}
	}
}

// loadInitial adopts a previously persisted config, unless a live
// sessionUpdate beat it to the store.
func (cs *ConfigStore) loadInitial() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	content, err := cs.st.Read(ctx, cs.accountID, "sessions", cs.sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && cs.logger != nil {
			cs.logger.Error("load session config", "error", err)
		}
		return
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		if cs.logger != nil {
			cs.logger.Error("decode persisted session config", "error", err)
		}
		return
	}
	cs.mu.Lock()
	if cs.current == nil {
		cs.current = payload
	}
	cs.mu.Unlock()
}

// GetForReplay reloads the merged config from persistence, clones it,
// and appends the prior conversation transcript into its instructions
// field. Returns nil when no sessionUpdate was ever seen.
func (cs *ConfigStore) GetForReplay(ctx context.Context) *events.Event {
	if content, err := cs.st.Read(ctx, cs.accountID, "sessions", cs.sessionID); err == nil {
		var payload map[string]any
		if err := json.Unmarshal([]byte(content), &payload); err == nil {
			cs.mu.Lock()
			cs.current = payload
			cs.mu.Unlock()
		}
	} else if !errors.Is(err, store.ErrNotFound) && cs.logger != nil {
		cs.logger.Error("reload session config", "error", err)
	}

	cs.mu.Lock()
	if cs.current == nil {
		cs.mu.Unlock()
		return nil
	}
	clone := events.CloneMap(cs.current)
	cs.mu.Unlock()

	transcript, err := cs.st.Read(ctx, cs.accountID, "conversations", cs.sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) && cs.logger != nil {
		cs.logger.Error("read prior conversation", "error", err)
	}
	if transcript != "" {
		cs.appendTranscript(clone, transcript)
	}
	return &events.Event{Src: cs.style, Payload: clone}
}

func (cs *ConfigStore) appendTranscript(payload map[string]any, transcript string) {
	suffix := "\n\n" + replayPrefix + "\n" + transcript
	switch cs.style {
	case events.StyleGemini:
		setup, ok := events.MapAt(payload, "setup")
		if !ok {
			setup = map[string]any{}
			payload["setup"] = setup
		}
		si, ok := events.MapAt(setup, "systemInstruction")
		if !ok {
			si = map[string]any{}
			setup["systemInstruction"] = si
		}
		parts, _ := events.SliceAt(si, "parts")
		if len(parts) == 0 {
			si["parts"] = []any{map[string]any{"text": suffix}}
			return
		}
		if part, ok := parts[0].(map[string]any); ok {
			part["text"] = events.StringAt(part, "text") + suffix
		}
	default:
		session, ok := events.MapAt(payload, "session")
		if !ok {
			session = map[string]any{}
			payload["session"] = session
		}
		session["instructions"] = events.StringAt(session, "instructions") + suffix
	}
}

// Cleanup stops the persist writer and releases extractor callbacks.
// Idempotent; an in-flight persist may be abandoned.
func (cs *ConfigStore) Cleanup() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	cs.mu.Unlock()

	close(cs.persistCh)
	cs.ex.Cleanup()
	cs.Emitter.Cleanup()
}
