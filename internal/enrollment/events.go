package enrollment

import (
	"sync"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

// Event types emitted over a session's event stream.
const (
	EventStatus    = "status"
	EventCaptured  = "captured"
	EventCompleted = "completed"
	EventAborted   = "aborted"
	EventFailed    = "failed"
)

// eventChannelBuffer is the per-listener buffer size. A listener that cannot
// keep up loses events rather than stalling the session loop.
const eventChannelBuffer = 64

// Event is one presentation-level notification from a capture session.
type Event struct {
	Type     string            `json:"type"`
	Message  string            `json:"message,omitempty"`
	Severity liveness.Severity `json:"severity,omitempty"`
	Step     string            `json:"step"`
	Captured int               `json:"captured"`
	Required int               `json:"required"`
}

// Broadcaster fans session events out to any number of listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []chan Event
}

// AddListener registers a new event listener.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, eventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener unregisters and closes a listener channel.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Send delivers an event to all listeners without blocking.
func (b *Broadcaster) Send(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Close removes and closes every listener.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, listener := range b.listeners {
		close(listener)
	}
	b.listeners = nil
}
