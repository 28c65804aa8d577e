// Package events defines the per-session event graph primitives: the
// Event envelope every component passes around, the Style tag naming a
// vendor dialect, and the Emitter pub/sub node the pipeline is wired
// from.
package events

// Style names a vendor wire dialect. The same tags double as provider
// identifiers: a session's client style and its upstream provider are
// drawn from the same set.
type Style string

const (
	StyleOpenAI Style = "OPENAI"
	StyleGemini Style = "GEMINI"
)

// ParseStyle maps a client-supplied tag to a Style.
func ParseStyle(raw string) (Style, bool) {
	switch Style(raw) {
	case StyleOpenAI:
		return StyleOpenAI, true
	case StyleGemini:
		return StyleGemini, true
	default:
		return "", false
	}
}

// Other returns the alternate provider for a two-provider switch cycle.
func Other(s Style) Style {
	if s == StyleOpenAI {
		return StyleGemini
	}
	return StyleOpenAI
}

// Event is a vendor-shape message tagged with the dialect it is encoded
// in. Payloads are opaque JSON trees; components read the fields they
// recognise and pass the rest through untouched.
type Event struct {
	Src     Style
	Payload map[string]any
}

// Clone returns a deep copy of the event so that later merges cannot
// mutate a payload already handed downstream.
func (e Event) Clone() Event {
	return Event{Src: e.Src, Payload: CloneMap(e.Payload)}
}
