// Package events provides a publish/subscribe bus for task activity.
// The agent runner publishes task and iteration events; the MQTT
// publisher and the bot's status command consume them. The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the task runners.
	SourceAgent = "agent"
	// SourceCopilot identifies events from Copilot session tracking.
	SourceCopilot = "copilot"
	// SourceBot identifies events from the command router.
	SourceBot = "bot"
	// SourceGauntlet identifies events from gauntlet evaluation runs.
	SourceGauntlet = "gauntlet"
)

// Kind constants describe the type of event within a source.
const (
	// KindTaskStart signals a task began.
	// Data: task_id, room, provider, mode.
	KindTaskStart = "task_start"
	// KindIteration signals the start of one plan/execute iteration.
	// Data: task_id, iteration.
	KindIteration = "iteration"
	// KindCommand signals a sandbox command finished.
	// Data: task_id, iteration, output_chars, duration_ms.
	KindCommand = "command"
	// KindTaskComplete signals a task ended.
	// Data: task_id, provider, iterations, exhausted, ok, elapsed_ms.
	KindTaskComplete = "task_complete"
	// KindSessionComplete signals a ticket-based session ended.
	// Data: task_id, provider, ok, elapsed_ms.
	KindSessionComplete = "session_complete"
	// KindSessionStatus signals a Copilot session changed status or
	// gained a pull request.
	// Data: session, repository, issue, pr, status.
	KindSessionStatus = "session_status"
	// KindProviderSwitch signals the global provider changed.
	// Data: provider.
	KindProviderSwitch = "provider_switch"
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

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
