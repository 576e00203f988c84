package engine

import (
	"time"
)

// EventType captures lifecycle notifications emitted by a group.
type EventType string

const (
	EventTypeStarted     EventType = "started"
	EventTypeSpawnFailed EventType = "spawn_failed"
	EventTypeExited      EventType = "exited"
	EventTypeInterrupt   EventType = "interrupt"
	EventTypeKill        EventType = "kill"
	// EventTypeDropped is synthesized by queues that shed events; Dropped
	// holds how many were lost.
	EventTypeDropped EventType = "dropped"
)

// Event represents a single lifecycle notification for one process, or for
// the whole group when Process is zero.
type Event struct {
	Timestamp time.Time
	Group     string
	Process   int
	Name      string
	Command   string
	Type      EventType
	ExitCode  int
	Elapsed   time.Duration
	Dropped   int
	Err       error
}

// EventSink receives events synchronously on the goroutine that produced
// them. Implementations must not block for long.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f(evt).
func (f EventSinkFunc) Publish(evt Event) {
	f(evt)
}

// MultiSink fans events out to every non-nil sink in order.
type MultiSink []EventSink

// Publish delivers evt to each sink.
func (m MultiSink) Publish(evt Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(evt)
		}
	}
}
