package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// eventBufferSize is the maximum number of events stored per hostname.
const eventBufferSize = 100

// subscriberBuffer is the channel capacity handed to Subscribe callers. Slow
// subscribers lose events rather than stall the engine.
const subscriberBuffer = 64

// EventType names a connection lifecycle event.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventReplaced         EventType = "replaced"
	EventOpenFailed       EventType = "open_failed"
	EventAuthFailed       EventType = "auth_failed"
	EventValidationFailed EventType = "validation_failed"
	EventSessionDead      EventType = "session_dead"
	EventEvicted          EventType = "evicted"
	EventRemoved          EventType = "removed"
	EventCloseFailed      EventType = "close_failed"
)

// Event is one connection lifecycle event.
type Event struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// EventListener is called synchronously for every event. Listeners must not
// call back into the engine for the same hostname.
type EventListener func(Event)

// eventBuffer is a fixed-size ring buffer of events for one hostname.
type eventBuffer struct {
	events [eventBufferSize]Event
	head   int // next write position
	count  int
}

func (b *eventBuffer) record(event Event) {
	b.events[b.head] = event
	b.head = (b.head + 1) % eventBufferSize
	if b.count < eventBufferSize {
		b.count++
	}
}

// history returns events oldest first.
func (b *eventBuffer) history() []Event {
	if b.count == 0 {
		return nil
	}
	result := make([]Event, b.count)
	if b.count < eventBufferSize {
		copy(result, b.events[:b.count])
	} else {
		n := copy(result, b.events[b.head:])
		copy(result[n:], b.events[:b.head])
	}
	return result
}

type eventLog struct {
	mu      sync.RWMutex
	buffers map[string]*eventBuffer
}

func newEventLog() *eventLog {
	return &eventLog{buffers: make(map[string]*eventBuffer)}
}

func (el *eventLog) record(event Event) {
	el.mu.Lock()
	defer el.mu.Unlock()

	buf, ok := el.buffers[event.Hostname]
	if !ok {
		buf = &eventBuffer{}
		el.buffers[event.Hostname] = buf
	}
	buf.record(event)
}

func (el *eventLog) get(hostname string) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	buf, ok := el.buffers[hostname]
	if !ok {
		return nil
	}
	return buf.history()
}

// Events returns the event history for hostname, oldest first. Up to 100
// events are retained per hostname, including hostnames no longer pooled.
func (e *Engine) Events(hostname string) []Event {
	return e.events.get(normalize(hostname))
}

// OnEvent registers a listener for connection events.
func (e *Engine) OnEvent(listener EventListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// Subscribe returns a channel receiving every subsequent event and a function
// that cancels the subscription and closes the channel.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	e.listenersMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch
	e.listenersMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.listenersMu.Lock()
			delete(e.subscribers, id)
			e.listenersMu.Unlock()
			close(ch)
		})
	}
}

// emitEvent records an event and notifies listeners and subscribers.
func (e *Engine) emitEvent(hostname string, typ EventType, kind, details string) {
	event := Event{
		ID:        uuid.NewString(),
		Hostname:  hostname,
		Type:      typ,
		Timestamp: e.now(),
		Kind:      kind,
		Details:   details,
	}
	e.events.record(event)

	e.listenersMu.RLock()
	listeners := make([]EventListener, len(e.listeners))
	copy(listeners, e.listeners)
	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	e.listenersMu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}
