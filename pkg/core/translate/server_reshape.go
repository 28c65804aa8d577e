package translate

import (
	"encoding/json"

	"github.com/vango-go/voiceswitch/pkg/core/events"
	"github.com/vango-go/voiceswitch/pkg/core/extract"
)

// --- OpenAI server events -> Gemini ---

func (t *ServerTranslator) userTranscriptToGemini(ev events.Event) {
	delta := extract.TranscriptText(events.StyleOpenAI, extract.KindUserTranscript, ev.Payload)
	t.emitTo(map[string]any{
		"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": delta},
		},
	})
}

func (t *ServerTranslator) responseTranscriptToGemini(ev events.Event) {
	delta := extract.TranscriptText(events.StyleOpenAI, extract.KindResponseTranscript, ev.Payload)
	t.emitTo(map[string]any{
		"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": delta},
		},
	})
}

func (t *ServerTranslator) responseAudioToGemini(ev events.Event) {
	delta := events.StringAt(ev.Payload, "delta")
	t.emitTo(map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []any{map[string]any{
					"inlineData": map[string]any{
						"mimeType": pcmMimeType,
						"data":     delta,
					},
				}},
			},
		},
	})
}

func (t *ServerTranslator) toolCallToGemini(ev events.Event) {
	item, _ := events.MapAt(ev.Payload, "item")
	// OpenAI carries arguments as a JSON string; Gemini wants an object.
	var args map[string]any
	if raw := events.StringAt(item, "arguments"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = nil
		}
	}
	call := map[string]any{
		"id":   events.StringAt(item, "call_id"),
		"name": events.StringAt(item, "name"),
	}
	if args != nil {
		call["args"] = args
	}
	t.emitTo(map[string]any{
		"toolCall": map[string]any{
			"functionCalls": []any{call},
		},
	})
}

func (t *ServerTranslator) turnBoundaryToGemini(ev events.Event) {
	// A completed turn maps to generationComplete, a cancelled one to
	// interrupted; both are followed by turnComplete.
	status := events.StringAt(ev.Payload, "response", "status")
	if status == "cancelled" {
		t.emitTo(map[string]any{"serverContent": map[string]any{"interrupted": true}})
	} else {
		t.emitTo(map[string]any{"serverContent": map[string]any{"generationComplete": true}})
	}
	t.emitTo(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
}

// --- Gemini server events -> OpenAI ---

func (t *ServerTranslator) userTranscriptToOpenAI(ev events.Event) {
	text := extract.TranscriptText(events.StyleGemini, extract.KindUserTranscript, ev.Payload)
	t.emitTo(map[string]any{
		"type":  "conversation.item.input_audio_transcription.delta",
		"delta": text,
	})
}

func (t *ServerTranslator) responseTranscriptToOpenAI(ev events.Event) {
	text := extract.TranscriptText(events.StyleGemini, extract.KindResponseTranscript, ev.Payload)
	t.emitTo(map[string]any{
		"type":  "response.audio_transcript.delta",
		"delta": text,
	})
}

func (t *ServerTranslator) responseAudioToOpenAI(ev events.Event) {
	parts, ok := events.SliceAt(ev.Payload, "serverContent", "modelTurn", "parts")
	if !ok {
		return
	}
	for _, raw := range parts {
		part, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		data := events.StringAt(part, "inlineData", "data")
		if data == "" {
			continue
		}
		t.emitTo(map[string]any{
			"type":  "response.audio.delta",
			"delta": data,
		})
	}
}

func (t *ServerTranslator) toolCallToOpenAI(ev events.Event) {
	calls, ok := events.SliceAt(ev.Payload, "toolCall", "functionCalls")
	if !ok {
		return
	}
	for _, raw := range calls {
		call, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		args := "{}"
		if obj, ok := events.MapAt(call, "args"); ok {
			if encoded, err := json.Marshal(obj); err == nil {
				args = string(encoded)
			}
		}
		t.emitTo(map[string]any{
			"type": "response.output_item.done",
			"item": map[string]any{
				"type":      "function_call",
				"call_id":   events.StringAt(call, "id"),
				"name":      events.StringAt(call, "name"),
				"arguments": args,
			},
		})
	}
}

func (t *ServerTranslator) turnBoundaryToOpenAI(ev events.Event) {
	content, _ := events.MapAt(ev.Payload, "serverContent")
	switch {
	case events.Has(content, "interrupted"):
		t.emitTo(map[string]any{
			"type":     "response.done",
			"response": map[string]any{"status": "cancelled"},
		})
	case events.Has(content, "generationComplete"):
		t.emitTo(map[string]any{
			"type":     "response.done",
			"response": map[string]any{"status": "completed"},
		})
	default:
		// turnComplete arrives after generationComplete/interrupted has
		// already produced the response.done; nothing left to emit.
	}
}
