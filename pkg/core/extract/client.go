package extract

import (
	"log/slog"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

// ClientExtractor classifies client-originated events (audio frames,
// session configuration, tool results). At most one callback fires per
// Extract call.
type ClientExtractor struct {
	style  events.Style
	logger *slog.Logger

	UserAudio     func(ev events.Event)
	SessionUpdate func(ev events.Event)
	ToolResponse  func(ev events.Event)
}

func NewClientExtractor(style events.Style, logger *slog.Logger) *ClientExtractor {
	return &ClientExtractor{style: style, logger: logger}
}

func (x *ClientExtractor) Style() events.Style { return x.style }

// Extract classifies ev and invokes the matching callback, if any.
func (x *ClientExtractor) Extract(ev events.Event) {
	kind := ClassifyClient(x.style, ev.Payload)
	switch kind {
	case KindUserAudio:
		if x.UserAudio != nil {
			x.UserAudio(ev)
		}
	case KindSessionUpdate:
		if x.SessionUpdate != nil {
			x.SessionUpdate(ev)
		}
	case KindToolResponse:
		if x.ToolResponse != nil {
			x.ToolResponse(ev)
		}
	default:
		if x.logger != nil {
			x.logger.Debug("unrecognized client event", "style", string(x.style))
		}
	}
}

// Cleanup releases all registered callbacks so the owning translator
// can be collected.
func (x *ClientExtractor) Cleanup() {
	x.UserAudio = nil
	x.SessionUpdate = nil
	x.ToolResponse = nil
}

// ClassifyClient maps a client payload to its semantic bucket.
func ClassifyClient(style events.Style, payload map[string]any) Kind {
	switch style {
	case events.StyleOpenAI:
		switch events.StringAt(payload, "type") {
		case "input_audio_buffer.append":
			return KindUserAudio
		case "session.update":
			return KindSessionUpdate
		case "conversation.item.create":
			if events.StringAt(payload, "item", "type") == "function_call_output" {
				return KindToolResponse
			}
		}
	case events.StyleGemini:
		switch {
		case events.Has(payload, "realtimeInput"):
			return KindUserAudio
		case events.Has(payload, "setup"):
			return KindSessionUpdate
		case events.Has(payload, "toolResponse"):
			return KindToolResponse
		}
	}
	return KindNone
}
