// Package extract classifies raw vendor events into a fixed set of
// semantic buckets and dispatches a registered callback per bucket.
// Classification is by payload shape: the OpenAI realtime dialect
// carries a `type` discriminator string, the Gemini Live dialect is
// recognised by which marker sub-object is present. Unknown shapes are
// logged at debug and dropped; nothing here ever fails a session.
package extract

// Kind is the semantic bucket an event classifies into.
type Kind int

const (
	KindNone Kind = iota

	// Client-side buckets.
	KindUserAudio
	KindSessionUpdate
	KindToolResponse

	// Server-side buckets.
	KindUserTranscript
	KindResponseTranscript
	KindResponseAudio
	KindToolCall
	KindTurnBoundary
)

func (k Kind) String() string {
	switch k {
	case KindUserAudio:
		return "user_audio"
	case KindSessionUpdate:
		return "session_update"
	case KindToolResponse:
		return "tool_response"
	case KindUserTranscript:
		return "user_transcript"
	case KindResponseTranscript:
		return "response_transcript"
	case KindResponseAudio:
		return "response_audio"
	case KindToolCall:
		return "tool_call"
	case KindTurnBoundary:
		return "turn_boundary"
	default:
		return "none"
	}
}
