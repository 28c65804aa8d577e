package translate

import (
	"testing"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

type captureNode struct {
	got []events.Event
}

func (n *captureNode) Subscribe(nodes ...events.Node) {}
func (n *captureNode) Receive(ev events.Event)        { n.got = append(n.got, ev) }
func (n *captureNode) Cleanup()                       {}

func clientThrough(t *testing.T, from, to events.Style, payload map[string]any) []events.Event {
	t.Helper()
	tr := NewClient(from, to, nil)
	sink := &captureNode{}
	tr.Subscribe(sink)
	tr.Receive(events.Event{Src: from, Payload: payload})
	return sink.got
}

func serverThrough(t *testing.T, from, to events.Style, payload map[string]any) []events.Event {
	t.Helper()
	tr := NewServer(from, to, nil)
	sink := &captureNode{}
	tr.Subscribe(sink)
	tr.Receive(events.Event{Src: from, Payload: payload})
	return sink.got
}

func TestClientTranslator_IdentityForwardsUnchanged(t *testing.T) {
	payload := map[string]any{"type": "response.create", "unknown_field": "kept"}
	got := clientThrough(t, events.StyleOpenAI, events.StyleOpenAI, payload)
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	if got[0].Payload["unknown_field"] != "kept" {
		t.Fatalf("identity translation dropped a field: %v", got[0].Payload)
	}
}

func TestClientTranslator_AudioOpenAIToGemini(t *testing.T) {
	got := clientThrough(t, events.StyleOpenAI, events.StyleGemini, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": "BASE64AUDIO",
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	if got[0].Src != events.StyleGemini {
		t.Fatalf("src=%q, want GEMINI", got[0].Src)
	}
	if data := events.StringAt(got[0].Payload, "realtimeInput", "audio", "data"); data != "BASE64AUDIO" {
		t.Fatalf("audio data=%q, want BASE64AUDIO", data)
	}
	if mime := events.StringAt(got[0].Payload, "realtimeInput", "audio", "mimeType"); mime != "audio/pcm;rate=24000" {
		t.Fatalf("mimeType=%q", mime)
	}
}

func TestClientTranslator_AudioGeminiToOpenAI(t *testing.T) {
	got := clientThrough(t, events.StyleGemini, events.StyleOpenAI, map[string]any{
		"realtimeInput": map[string]any{
			"audio": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "BASE64AUDIO"},
		},
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	if tp := events.StringAt(got[0].Payload, "type"); tp != "input_audio_buffer.append" {
		t.Fatalf("type=%q", tp)
	}
	if audio := events.StringAt(got[0].Payload, "audio"); audio != "BASE64AUDIO" {
		t.Fatalf("audio=%q", audio)
	}
}

func TestClientTranslator_SessionUpdateOpenAIToGemini(t *testing.T) {
	got := clientThrough(t, events.StyleOpenAI, events.StyleGemini, map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"model":        "gpt-4o-realtime",
			"instructions": "be brief",
			"temperature":  0.7,
			"tools": []any{map[string]any{
				"type":        "function",
				"name":        "get_weather",
				"description": "weather lookup",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"city": map[string]any{"type": "string"},
					},
				},
			}},
		},
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	p := got[0].Payload
	if model := events.StringAt(p, "setup", "model"); model != "gpt-4o-realtime" {
		t.Fatalf("model=%q", model)
	}
	parts, ok := events.SliceAt(p, "setup", "systemInstruction", "parts")
	if !ok || len(parts) != 1 {
		t.Fatalf("systemInstruction parts=%v", parts)
	}
	if text := events.StringAt(parts[0].(map[string]any), "text"); text != "be brief" {
		t.Fatalf("instructions=%q", text)
	}
	tools, ok := events.SliceAt(p, "setup", "tools")
	if !ok || len(tools) != 1 {
		t.Fatalf("tools=%v", tools)
	}
	decls, ok := events.SliceAt(tools[0].(map[string]any), "functionDeclarations")
	if !ok || len(decls) != 1 {
		t.Fatalf("functionDeclarations=%v", decls)
	}
	decl := decls[0].(map[string]any)
	if events.StringAt(decl, "parameters", "type") != "OBJECT" {
		t.Fatalf("schema type not uppercased: %v", decl["parameters"])
	}
	if events.StringAt(decl, "parameters", "properties", "city", "type") != "STRING" {
		t.Fatalf("nested schema type not uppercased")
	}
}

func TestClientTranslator_SessionUpdateGeminiToOpenAI(t *testing.T) {
	got := clientThrough(t, events.StyleGemini, events.StyleOpenAI, map[string]any{
		"setup": map[string]any{
			"model": "gemini-2.0-flash-live",
			"systemInstruction": map[string]any{
				"parts": []any{map[string]any{"text": "be helpful"}},
			},
			"generationConfig": map[string]any{"temperature": 0.3},
			"tools": []any{map[string]any{
				"functionDeclarations": []any{map[string]any{
					"name": "lookup",
					"parameters": map[string]any{
						"type": "OBJECT",
						"properties": map[string]any{
							"id": map[string]any{"type": "STRING"},
						},
					},
				}},
			}},
		},
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	p := got[0].Payload
	if tp := events.StringAt(p, "type"); tp != "session.update" {
		t.Fatalf("type=%q", tp)
	}
	if instr := events.StringAt(p, "session", "instructions"); instr != "be helpful" {
		t.Fatalf("instructions=%q", instr)
	}
	tools, ok := events.SliceAt(p, "session", "tools")
	if !ok || len(tools) != 1 {
		t.Fatalf("tools=%v", tools)
	}
	tool := tools[0].(map[string]any)
	if events.StringAt(tool, "type") != "function" || events.StringAt(tool, "name") != "lookup" {
		t.Fatalf("flattened tool=%v", tool)
	}
	if events.StringAt(tool, "parameters", "properties", "id", "type") != "string" {
		t.Fatalf("schema type not lowercased")
	}
}

func TestClientTranslator_ToolResponseOpenAIToGemini(t *testing.T) {
	got := clientThrough(t, events.StyleOpenAI, events.StyleGemini, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": "call_1",
			"output":  `{"temp":21}`,
		},
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	resps, ok := events.SliceAt(got[0].Payload, "toolResponse", "functionResponses")
	if !ok || len(resps) != 1 {
		t.Fatalf("functionResponses=%v", resps)
	}
	resp := resps[0].(map[string]any)
	if events.StringAt(resp, "id") != "call_1" {
		t.Fatalf("id=%q", resp["id"])
	}
	inner, ok := events.MapAt(resp, "response")
	if !ok || inner["temp"] != float64(21) {
		t.Fatalf("parsed output=%v", inner)
	}
}

func TestClientTranslator_ToolResponseNonJSONOutputWrapped(t *testing.T) {
	got := clientThrough(t, events.StyleOpenAI, events.StyleGemini, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": "call_2",
			"output":  "plain text",
		},
	})
	resps, _ := events.SliceAt(got[0].Payload, "toolResponse", "functionResponses")
	resp := resps[0].(map[string]any)
	if events.StringAt(resp, "response", "output") != "plain text" {
		t.Fatalf("non-JSON output not wrapped: %v", resp["response"])
	}
}

func TestClientTranslator_ToolResponseGeminiToOpenAI(t *testing.T) {
	got := clientThrough(t, events.StyleGemini, events.StyleOpenAI, map[string]any{
		"toolResponse": map[string]any{
			"functionResponses": []any{
				map[string]any{"id": "c1", "name": "f", "response": map[string]any{"a": float64(1)}},
				map[string]any{"id": "c2", "name": "g", "response": map[string]any{"b": float64(2)}},
			},
		},
	})
	if len(got) != 2 {
		t.Fatalf("emitted %d events, want 2 (one item per response)", len(got))
	}
	first := got[0].Payload
	if events.StringAt(first, "type") != "conversation.item.create" {
		t.Fatalf("type=%q", events.StringAt(first, "type"))
	}
	if events.StringAt(first, "item", "call_id") != "c1" {
		t.Fatalf("call_id=%q", events.StringAt(first, "item", "call_id"))
	}
	if events.StringAt(first, "item", "output") != `{"a":1}` {
		t.Fatalf("output=%q", events.StringAt(first, "item", "output"))
	}
}

func TestServerTranslator_TranscriptsOpenAIToGemini(t *testing.T) {
	got := serverThrough(t, events.StyleOpenAI, events.StyleGemini, map[string]any{
		"type":  "conversation.item.input_audio_transcription.delta",
		"delta": "hello",
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	if text := events.StringAt(got[0].Payload, "serverContent", "inputTranscription", "text"); text != "hello" {
		t.Fatalf("text=%q", text)
	}
}

func TestServerTranslator_AudioGeminiToOpenAI_OneDeltaPerPart(t *testing.T) {
	got := serverThrough(t, events.StyleGemini, events.StyleOpenAI, map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []any{
					map[string]any{"inlineData": map[string]any{"data": "CHUNK1"}},
					map[string]any{"inlineData": map[string]any{"data": "CHUNK2"}},
				},
			},
		},
	})
	if len(got) != 2 {
		t.Fatalf("emitted %d events, want 2", len(got))
	}
	if events.StringAt(got[0].Payload, "delta") != "CHUNK1" || events.StringAt(got[1].Payload, "delta") != "CHUNK2" {
		t.Fatalf("audio deltas=%v %v", got[0].Payload, got[1].Payload)
	}
}

func TestServerTranslator_ToolCallOpenAIToGemini(t *testing.T) {
	got := serverThrough(t, events.StyleOpenAI, events.StyleGemini, map[string]any{
		"type": "response.output_item.done",
		"item": map[string]any{
			"type":      "function_call",
			"call_id":   "call_9",
			"name":      "get_weather",
			"arguments": `{"city":"Oslo"}`,
		},
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	calls, _ := events.SliceAt(got[0].Payload, "toolCall", "functionCalls")
	call := calls[0].(map[string]any)
	if events.StringAt(call, "name") != "get_weather" {
		t.Fatalf("name=%q", call["name"])
	}
	if events.StringAt(call, "args", "city") != "Oslo" {
		t.Fatalf("args not parsed into object: %v", call["args"])
	}
}

func TestServerTranslator_ToolCallGeminiToOpenAI(t *testing.T) {
	got := serverThrough(t, events.StyleGemini, events.StyleOpenAI, map[string]any{
		"toolCall": map[string]any{
			"functionCalls": []any{map[string]any{
				"id":   "c5",
				"name": "lookup",
				"args": map[string]any{"id": "x"},
			}},
		},
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	item, _ := events.MapAt(got[0].Payload, "item")
	if events.StringAt(item, "arguments") != `{"id":"x"}` {
		t.Fatalf("arguments=%q", item["arguments"])
	}
}

func TestServerTranslator_TurnBoundaryOpenAIToGemini(t *testing.T) {
	got := serverThrough(t, events.StyleOpenAI, events.StyleGemini, map[string]any{
		"type":     "response.done",
		"response": map[string]any{"status": "completed"},
	})
	if len(got) != 2 {
		t.Fatalf("emitted %d events, want 2 (generationComplete then turnComplete)", len(got))
	}
	if !events.Has(got[0].Payload, "serverContent", "generationComplete") {
		t.Fatalf("first event=%v, want generationComplete", got[0].Payload)
	}
	if !events.Has(got[1].Payload, "serverContent", "turnComplete") {
		t.Fatalf("second event=%v, want turnComplete", got[1].Payload)
	}

	got = serverThrough(t, events.StyleOpenAI, events.StyleGemini, map[string]any{
		"type":     "response.done",
		"response": map[string]any{"status": "cancelled"},
	})
	if len(got) != 2 || !events.Has(got[0].Payload, "serverContent", "interrupted") {
		t.Fatalf("cancelled turn=%v", got)
	}
}

func TestServerTranslator_TurnBoundaryGeminiToOpenAI(t *testing.T) {
	got := serverThrough(t, events.StyleGemini, events.StyleOpenAI, map[string]any{
		"serverContent": map[string]any{"generationComplete": true},
	})
	if len(got) != 1 {
		t.Fatalf("emitted %d events, want 1", len(got))
	}
	if events.StringAt(got[0].Payload, "response", "status") != "completed" {
		t.Fatalf("status=%q", events.StringAt(got[0].Payload, "response", "status"))
	}

	got = serverThrough(t, events.StyleGemini, events.StyleOpenAI, map[string]any{
		"serverContent": map[string]any{"interrupted": true},
	})
	if len(got) != 1 || events.StringAt(got[0].Payload, "response", "status") != "cancelled" {
		t.Fatalf("interrupted turn=%v", got)
	}

	// turnComplete on its own follows a generationComplete that already
	// emitted the boundary; it must not produce a second response.done.
	got = serverThrough(t, events.StyleGemini, events.StyleOpenAI, map[string]any{
		"serverContent": map[string]any{"turnComplete": true},
	})
	if len(got) != 0 {
		t.Fatalf("bare turnComplete emitted %d events, want 0", len(got))
	}
}

func TestSchemaTypeMapping_RoundTrip(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "number"},
			},
		},
	}
	up := UpperSchemaTypes(schema)
	if events.StringAt(up, "properties", "items", "items", "type") != "NUMBER" {
		t.Fatalf("deep type not uppercased: %v", up)
	}
	down := LowerSchemaTypes(up)
	if events.StringAt(down, "type") != "object" {
		t.Fatalf("round trip type=%q", events.StringAt(down, "type"))
	}
}
