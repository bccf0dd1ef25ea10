package relay

import "encoding/json"

// EventType discriminates relay events sent to the caller.
type EventType string

const (
	EventContent EventType = "content"
	EventSources EventType = "sources"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one frame of the relay's response stream. A stream ends with
// exactly one terminal event: done on success, error on failure. A relay
// abandoned by its caller ends with no terminal event at all.
type Event struct {
	Type           EventType       `json:"type"`
	Content        string          `json:"content,omitempty"`
	Sources        json.RawMessage `json:"sources,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Err            string          `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
