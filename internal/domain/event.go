package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventStreamStarted       EventType = "stream.started"
	EventStreamDelta         EventType = "stream.delta"
	EventStreamCompleted     EventType = "stream.completed"
	EventStreamError         EventType = "stream.error"
	EventStreamCancelled     EventType = "stream.cancelled"
	EventMemorySaved         EventType = "memory.saved"
	EventProgressLogged      EventType = "progress.logged"
	EventConnectionChanged   EventType = "connection.changed"
	EventConversationCreated EventType = "conversation.created"
	EventTimelineRefreshed   EventType = "timeline.refreshed"
	EventLedgerChanged       EventType = "ledger.changed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for engine events.
// Handlers for one publish run before the next publish returns, so
// subscribers observe events in frame-arrival order.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close prevents further publishes.
	Close()
}

// StreamDeltaPayload is the payload for EventStreamDelta events. Buffer is
// the full accumulated assistant text after appending Content.
type StreamDeltaPayload struct {
	Content string `json:"content"`
	Buffer  string `json:"buffer"`
}

// StreamCompletedPayload is the payload for EventStreamCompleted events.
type StreamCompletedPayload struct {
	Content string `json:"content"`
}

// StreamErrorPayload is the payload for EventStreamError events.
type StreamErrorPayload struct {
	Error string `json:"error"`
}

// ConnectionChangedPayload is the payload for EventConnectionChanged events.
type ConnectionChangedPayload struct {
	Status ConnectionStatus `json:"status"`
}
