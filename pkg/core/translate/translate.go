// Package translate converts events between vendor dialects. A
// translator is a bus node that owns an extractor for its input style
// and re-emits each classified event reshaped into its output style.
// When the two styles match it forwards events unchanged.
package translate

import (
	"log/slog"

	"github.com/vango-go/voiceswitch/pkg/core/events"
	"github.com/vango-go/voiceswitch/pkg/core/extract"
)

// ClientTranslator reshapes client-originated events from style From
// into style To on their way to the provider.
type ClientTranslator struct {
	events.Emitter
	from, to events.Style
	ex       *extract.ClientExtractor
}

func NewClient(from, to events.Style, logger *slog.Logger) *ClientTranslator {
	t := &ClientTranslator{from: from, to: to}
	t.Logger = logger
	if from == to {
		return t
	}
	t.ex = extract.NewClientExtractor(from, logger)
	switch to {
	case events.StyleGemini:
		t.ex.UserAudio = t.userAudioToGemini
		t.ex.SessionUpdate = t.sessionUpdateToGemini
		t.ex.ToolResponse = t.toolResponseToGemini
	case events.StyleOpenAI:
		t.ex.UserAudio = t.userAudioToOpenAI
		t.ex.SessionUpdate = t.sessionUpdateToOpenAI
		t.ex.ToolResponse = t.toolResponseToOpenAI
	}
	return t
}

func (t *ClientTranslator) Receive(ev events.Event) {
	if t.from == t.to {
		t.Emit(ev)
		return
	}
	t.ex.Extract(ev)
}

func (t *ClientTranslator) Cleanup() {
	if t.ex != nil {
		t.ex.Cleanup()
	}
	t.Emitter.Cleanup()
}

func (t *ClientTranslator) emitTo(payload map[string]any) {
	t.Emit(events.Event{Src: t.to, Payload: payload})
}

// ServerTranslator reshapes provider-originated events from style From
// into the client's style To.
type ServerTranslator struct {
	events.Emitter
	from, to events.Style
	ex       *extract.ServerExtractor
}

func NewServer(from, to events.Style, logger *slog.Logger) *ServerTranslator {
	t := &ServerTranslator{from: from, to: to}
	t.Logger = logger
	if from == to {
		return t
	}
	t.ex = extract.NewServerExtractor(from, logger)
	switch to {
	case events.StyleGemini:
		t.ex.UserTranscript = t.userTranscriptToGemini
		t.ex.ResponseTranscript = t.responseTranscriptToGemini
		t.ex.ResponseAudio = t.responseAudioToGemini
		t.ex.ToolCall = t.toolCallToGemini
		t.ex.TurnBoundary = t.turnBoundaryToGemini
	case events.StyleOpenAI:
		t.ex.UserTranscript = t.userTranscriptToOpenAI
		t.ex.ResponseTranscript = t.responseTranscriptToOpenAI
		t.ex.ResponseAudio = t.responseAudioToOpenAI
		t.ex.ToolCall = t.toolCallToOpenAI
		t.ex.TurnBoundary = t.turnBoundaryToOpenAI
	}
	return t
}

func (t *ServerTranslator) Receive(ev events.Event) {
	if t.from == t.to {
		t.Emit(ev)
		return
	}
	t.ex.Extract(ev)
}

func (t *ServerTranslator) Cleanup() {
	if t.ex != nil {
		t.ex.Cleanup()
	}
	t.Emitter.Cleanup()
}

func (t *ServerTranslator) emitTo(payload map[string]any) {
	t.Emit(events.Event{Src: t.to, Payload: payload})
}
