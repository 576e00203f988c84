package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Paintersrp/concur/internal/engine"
)

// EventRecord represents a lifecycle event ready for JSON encoding.
type EventRecord struct {
	Timestamp time.Time `json:"ts"`
	Group     string    `json:"group"`
	Process   int       `json:"process,omitempty"`
	Name      string    `json:"name,omitempty"`
	Command   string    `json:"command,omitempty"`
	Event     string    `json:"event"`
	Level     string    `json:"level"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Elapsed   string    `json:"elapsed,omitempty"`
	Dropped   int       `json:"dropped,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewEventRecord converts an engine event into a structured record. Commands
// and error messages are passed through RedactSecrets.
func NewEventRecord(event engine.Event) EventRecord {
	record := EventRecord{
		Timestamp: event.Timestamp,
		Group:     event.Group,
		Process:   event.Process,
		Name:      event.Name,
		Command:   RedactSecrets(event.Command),
		Event:     string(event.Type),
		Level:     eventLevel(event),
		Dropped:   event.Dropped,
	}
	switch event.Type {
	case engine.EventTypeExited, engine.EventTypeSpawnFailed:
		code := event.ExitCode
		record.ExitCode = &code
		record.Elapsed = event.Elapsed.String()
	}
	if event.Err != nil {
		record.Error = RedactSecrets(event.Err.Error())
	}
	return record
}

func eventLevel(event engine.Event) string {
	switch event.Type {
	case engine.EventTypeSpawnFailed:
		return "error"
	case engine.EventTypeInterrupt, engine.EventTypeKill, engine.EventTypeDropped:
		return "warn"
	case engine.EventTypeExited:
		if event.ExitCode != 0 {
			return "warn"
		}
	}
	return "info"
}

// EncodeEvent encodes an event to JSON, reporting errors to stderr if needed.
func EncodeEvent(enc *json.Encoder, stderr io.Writer, event engine.Event) {
	if enc == nil {
		return
	}
	record := NewEventRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode event: %v\n", err)
	}
}

// EventLog is an engine.EventSink writing one JSON record per line. Publish
// may be called from several goroutines.
type EventLog struct {
	mu     sync.Mutex
	enc    *json.Encoder
	stderr io.Writer
	closer io.Closer
}

// NewEventLog writes records to w.
func NewEventLog(w io.Writer, stderr io.Writer) *EventLog {
	return &EventLog{enc: json.NewEncoder(w), stderr: stderr}
}

// OpenEventLog appends records to the file at path, creating it if needed.
func OpenEventLog(path string, stderr io.Writer) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := NewEventLog(f, stderr)
	l.closer = f
	return l, nil
}

// Publish implements engine.EventSink.
func (l *EventLog) Publish(event engine.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	EncodeEvent(l.enc, l.stderr, event)
}

// Close releases the underlying file, if any.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	l.enc = nil
	return err
}
