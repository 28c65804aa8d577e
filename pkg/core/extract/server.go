package extract

import (
	"log/slog"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

// ServerExtractor classifies provider-originated events (transcripts,
// audio, tool calls, turn boundaries).
type ServerExtractor struct {
	style  events.Style
	logger *slog.Logger

	UserTranscript     func(ev events.Event)
	ResponseTranscript func(ev events.Event)
	ResponseAudio      func(ev events.Event)
	ToolCall           func(ev events.Event)
	TurnBoundary       func(ev events.Event)
}

func NewServerExtractor(style events.Style, logger *slog.Logger) *ServerExtractor {
	return &ServerExtractor{style: style, logger: logger}
}

func (x *ServerExtractor) Style() events.Style { return x.style }

func (x *ServerExtractor) Extract(ev events.Event) {
	kind := ClassifyServer(x.style, ev.Payload)
	switch kind {
	case KindUserTranscript:
		if x.UserTranscript != nil {
			x.UserTranscript(ev)
		}
	case KindResponseTranscript:
		if x.ResponseTranscript != nil {
			x.ResponseTranscript(ev)
		}
	case KindResponseAudio:
		if x.ResponseAudio != nil {
			x.ResponseAudio(ev)
		}
	case KindToolCall:
		if x.ToolCall != nil {
			x.ToolCall(ev)
		}
	case KindTurnBoundary:
		if x.TurnBoundary != nil {
			x.TurnBoundary(ev)
		}
	default:
		if x.logger != nil {
			x.logger.Debug("unrecognized server event", "style", string(x.style))
		}
	}
}

func (x *ServerExtractor) Cleanup() {
	x.UserTranscript = nil
	x.ResponseTranscript = nil
	x.ResponseAudio = nil
	x.ToolCall = nil
	x.TurnBoundary = nil
}

// ClassifyServer maps a provider payload to its semantic bucket.
func ClassifyServer(style events.Style, payload map[string]any) Kind {
	switch style {
	case events.StyleOpenAI:
		switch events.StringAt(payload, "type") {
		case "conversation.item.input_audio_transcription.delta":
			return KindUserTranscript
		case "response.audio_transcript.delta":
			return KindResponseTranscript
		case "response.audio.delta":
			return KindResponseAudio
		case "response.output_item.done":
			if events.StringAt(payload, "item", "type") == "function_call" {
				return KindToolCall
			}
		case "response.done":
			switch events.StringAt(payload, "response", "status") {
			case "completed", "cancelled":
				return KindTurnBoundary
			}
		}
	case events.StyleGemini:
		switch {
		case events.Has(payload, "serverContent", "inputTranscription"):
			return KindUserTranscript
		case events.Has(payload, "serverContent", "outputTranscription"):
			return KindResponseTranscript
		case events.Has(payload, "serverContent", "modelTurn"):
			return KindResponseAudio
		case events.Has(payload, "toolCall"):
			return KindToolCall
		case events.Has(payload, "serverContent", "generationComplete"),
			events.Has(payload, "serverContent", "interrupted"),
			events.Has(payload, "serverContent", "turnComplete"):
			return KindTurnBoundary
		}
	}
	return KindNone
}

// TranscriptText returns the transcript delta carried by a user or
// response transcript event in the given style.
func TranscriptText(style events.Style, kind Kind, payload map[string]any) string {
	switch style {
	case events.StyleOpenAI:
		return events.StringAt(payload, "delta")
	case events.StyleGemini:
		if kind == KindUserTranscript {
			return events.StringAt(payload, "serverContent", "inputTranscription", "text")
		}
		return events.StringAt(payload, "serverContent", "outputTranscription", "text")
	}
	return ""
}
