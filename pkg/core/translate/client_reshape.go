package translate

import (
	"encoding/json"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

// pcmMimeType is attached when OpenAI-style raw base64 audio is wrapped
// into Gemini realtimeInput. Both dialects carry pcm16; the rate is the
// OpenAI realtime default.
const pcmMimeType = "audio/pcm;rate=24000"

// --- OpenAI client events -> Gemini ---

func (t *ClientTranslator) userAudioToGemini(ev events.Event) {
	audio := events.StringAt(ev.Payload, "audio")
	t.emitTo(map[string]any{
		"realtimeInput": map[string]any{
			"audio": map[string]any{
				"mimeType": pcmMimeType,
				"data":     audio,
			},
		},
	})
}

func (t *ClientTranslator) sessionUpdateToGemini(ev events.Event) {
	session, _ := events.MapAt(ev.Payload, "session")
	setup := map[string]any{}
	if model := events.StringAt(session, "model"); model != "" {
		setup["model"] = model
	}
	if instr := events.StringAt(session, "instructions"); instr != "" {
		setup["systemInstruction"] = map[string]any{
			"parts": []any{map[string]any{"text": instr}},
		}
	}
	if temp, ok := session["temperature"]; ok {
		setup["generationConfig"] = map[string]any{"temperature": temp}
	}
	if tools, ok := events.SliceAt(session, "tools"); ok && len(tools) > 0 {
		decls := make([]any, 0, len(tools))
		for _, raw := range tools {
			tool, ok := raw.(map[string]any)
			if !ok || events.StringAt(tool, "type") != "function" {
				continue
			}
			decl := map[string]any{"name": events.StringAt(tool, "name")}
			if desc := events.StringAt(tool, "description"); desc != "" {
				decl["description"] = desc
			}
			if params, ok := events.MapAt(tool, "parameters"); ok {
				decl["parameters"] = UpperSchemaTypes(params)
			}
			decls = append(decls, decl)
		}
		if len(decls) > 0 {
			setup["tools"] = []any{map[string]any{"functionDeclarations": decls}}
		}
	}
	t.emitTo(map[string]any{"setup": setup})
}

func (t *ClientTranslator) toolResponseToGemini(ev events.Event) {
	item, _ := events.MapAt(ev.Payload, "item")
	callID := events.StringAt(item, "call_id")
	// OpenAI carries the output as a JSON-encoded string; Gemini wants
	// the parsed object. Non-JSON output is wrapped verbatim.
	output := events.StringAt(item, "output")
	var response map[string]any
	if err := json.Unmarshal([]byte(output), &response); err != nil {
		response = map[string]any{"output": output}
	}
	// function_call_output does not carry the tool name; Gemini
	// upstreams that require it will reject. Known limitation.
	t.emitTo(map[string]any{
		"toolResponse": map[string]any{
			"functionResponses": []any{map[string]any{
				"id":       callID,
				"name":     "",
				"response": response,
			}},
		},
	})
}

// --- Gemini client events -> OpenAI ---

func (t *ClientTranslator) userAudioToOpenAI(ev events.Event) {
	data := events.StringAt(ev.Payload, "realtimeInput", "audio", "data")
	t.emitTo(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": data,
	})
}

func (t *ClientTranslator) sessionUpdateToOpenAI(ev events.Event) {
	setup, _ := events.MapAt(ev.Payload, "setup")
	session := map[string]any{}
	if model := events.StringAt(setup, "model"); model != "" {
		session["model"] = model
	}
	if parts, ok := events.SliceAt(setup, "systemInstruction", "parts"); ok && len(parts) > 0 {
		if part, ok := parts[0].(map[string]any); ok {
			if text := events.StringAt(part, "text"); text != "" {
				session["instructions"] = text
			}
		}
	}
	if gen, ok := events.MapAt(setup, "generationConfig"); ok {
		if temp, ok := gen["temperature"]; ok {
			session["temperature"] = temp
		}
	}
	if tools, ok := events.SliceAt(setup, "tools"); ok {
		var out []any
		for _, raw := range tools {
			group, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			decls, ok := events.SliceAt(group, "functionDeclarations")
			if !ok {
				continue
			}
			for _, rawDecl := range decls {
				decl, ok := rawDecl.(map[string]any)
				if !ok {
					continue
				}
				tool := map[string]any{
					"type": "function",
					"name": events.StringAt(decl, "name"),
				}
				if desc := events.StringAt(decl, "description"); desc != "" {
					tool["description"] = desc
				}
				if params, ok := events.MapAt(decl, "parameters"); ok {
					tool["parameters"] = LowerSchemaTypes(params)
				}
				out = append(out, tool)
			}
		}
		if len(out) > 0 {
			session["tools"] = out
		}
	}
	t.emitTo(map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

func (t *ClientTranslator) toolResponseToOpenAI(ev events.Event) {
	responses, ok := events.SliceAt(ev.Payload, "toolResponse", "functionResponses")
	if !ok {
		return
	}
	for _, raw := range responses {
		resp, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		output := ""
		if encoded, err := json.Marshal(resp["response"]); err == nil {
			output = string(encoded)
		}
		t.emitTo(map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": events.StringAt(resp, "id"),
				"output":  output,
			},
		})
	}
}
