package mcp

import (
	"sync"
	"time"
)

// Event is one reporting action taken through the server.
type Event struct {
	Timestamp string            `json:"ts"`
	Tool      string            `json:"tool"`
	UUID      string            `json:"uuid,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// EventLog is a thread-safe, append-only log of tool actions.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends an event.
func (l *EventLog) Emit(tool, uuid string, meta map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Tool:      tool,
		UUID:      uuid,
		Meta:      meta,
	})
}

// Since returns the events from index idx onward.
func (l *EventLog) Since(idx int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx < 0 {
		idx = 0
	}
	if idx >= len(l.events) {
		return []Event{}
	}
	return append([]Event(nil), l.events[idx:]...)
}

// Len returns the number of events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
