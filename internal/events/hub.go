// Package events broadcasts pipeline progress to websocket subscribers.
package events

import (
	"sync"
	"time"
)

// Event is one pipeline state change.
type Event struct {
	Type         string    `json:"type"`
	TranscriptID string    `json:"transcript_id,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	State        string    `json:"state,omitempty"`
	At           time.Time `json:"at"`
}

// Event types published by the service layer.
const (
	TypeTaskAssigned   = "task_assigned"
	TypeTaskSubmitted  = "task_submitted"
	TypeTaskSettled    = "task_settled"
	TypeTaskAborted    = "task_aborted"
	TypeTranscript     = "transcript_created"
	TypeLengthSet      = "length_set"
	TypeExportFinished = "export_finished"
)

// Hub fans events out to subscribers. A subscriber that falls behind has
// events dropped rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers the event to every subscriber that has buffer space.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}
