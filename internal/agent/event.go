// ABOUTME: StreamEvent types emitted during a turn
// ABOUTME: Tagged status/content/error/done variants with exactly-once terminal semantics

package agent

// EventType tags a stream event variant.
type EventType string

const (
	// EventStatus is a free-text phase label ("starting", "planning", ...).
	EventStatus EventType = "status"
	// EventContent carries partial or full agent text.
	EventContent EventType = "content"
	// EventError is the terminal failure marker, carrying a stable code.
	EventError EventType = "error"
	// EventDone is the terminal success marker.
	EventDone EventType = "done"
)

// Stable error codes carried by terminal error events.
const (
	CodeAgentError = "agent_error"
	CodeTimeout    = "timeout"
	CodeInternal   = "internal"
)

// Event is one unit of incremental output during a turn. Consumers observe
// events in emission order; exactly one terminal event ends a turn.
type Event struct {
	Type EventType
	Data string
	Code string // stable error code, set on error events only
}

// Terminal reports whether the event ends a turn.
func (e *Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// StatusEvent builds a status event with the given phase label.
func StatusEvent(label string) *Event {
	return &Event{Type: EventStatus, Data: label}
}

// ContentEvent builds a content event with the given text.
func ContentEvent(text string) *Event {
	return &Event{Type: EventContent, Data: text}
}

// DoneEvent builds the terminal success event. Data carries the full
// response text for clients that did not consume the incremental stream.
func DoneEvent(fullResponse string) *Event {
	return &Event{Type: EventDone, Data: fullResponse}
}

// ErrorEvent builds the terminal failure event with a stable code.
func ErrorEvent(code, message string) *Event {
	return &Event{Type: EventError, Data: message, Code: code}
}
