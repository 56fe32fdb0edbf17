// Package events provides a publish/subscribe event bus for
// operational observability. Events flow from the agent loop and the
// session store to subscribers (the SSE chat stream, the WebSocket
// feed). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the agent loop.
	SourceAgent = "agent"
	// SourceSession identifies events from the session store.
	SourceSession = "session"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals the beginning of an agent turn.
	// Data: request_id, session_id.
	KindRequestStart = "request_start"
	// KindThinking signals an LLM call is starting.
	// Data: request_id, iter, model.
	KindThinking = "thinking"
	// KindToolStart signals the start of a tool execution.
	// Data: request_id, tool, message.
	KindToolStart = "tool_start"
	// KindToolDone signals completion of a tool execution.
	// Data: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindBudgetAudit signals a validate_budget verdict was observed.
	// Data: request_id, passed.
	KindBudgetAudit = "budget_audit"
	// KindRequestComplete signals the turn produced a final answer.
	// Data: request_id, session_id, iterations, tools_used, elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindRequestFailed signals the turn ended in an error.
	// Data: request_id, session_id, error.
	KindRequestFailed = "request_failed"

	// KindSessionDeleted signals an operator removed a session.
	// Data: session_id.
	KindSessionDeleted = "session_deleted"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events and a
// cancel function that must be called to release the subscription.
// bufSize controls the channel buffer; 64 is a reasonable default for
// network consumers.
func (b *Bus) Subscribe(bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
