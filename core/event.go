package core

import "time"

// EventKind names what happened in the simulation.
type EventKind string

const (
	EventTickSuppressed      EventKind = "tick_suppressed"
	EventDecision            EventKind = "decision"
	EventTaskCompleted       EventKind = "task_completed"
	EventTaskFailed          EventKind = "task_failed"
	EventTaskRequeued        EventKind = "task_requeued"
	EventConversationStarted EventKind = "conversation_started"
	EventConversationLine    EventKind = "conversation_line"
	EventConversationEnded   EventKind = "conversation_ended"
)

// Event is an immutable notification for observers such as the live feed.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	AgentID   string         `json:"agent_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event stamped with a fresh id and the current UTC time.
func NewEvent(kind EventKind, agentID, message string) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		AgentID:   agentID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithSession returns a copy bound to a conversation session.
func (e Event) WithSession(sessionID string) Event {
	e.SessionID = sessionID
	return e
}

// WithData returns a copy with an extra data attribute.
func (e Event) WithData(key string, value any) Event {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Publisher receives simulation events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

// NopPublisher drops all events.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(Event) {}
