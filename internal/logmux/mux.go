package logmux

import (
	"sync"
	"time"

	"github.com/Paintersrp/concur/internal/engine"
)

// Mux decouples event producers from a slow sink. Events are queued on a
// bounded channel and delivered to the sink by a single goroutine. When the
// queue would overflow, the mux drops events and later emits a synthesized
// EventTypeDropped event carrying the number of discarded entries.
type Mux struct {
	out  chan engine.Event
	sink engine.EventSink
	done chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu    sync.Mutex
	drops map[int]dropRecord
}

type dropRecord struct {
	count int
	group string
	name  string
}

// New constructs a mux delivering to sink through a queue of the provided
// size. A size of zero results in a minimally buffered queue.
func New(size int, sink engine.EventSink) *Mux {
	if size <= 0 {
		size = 1
	}
	m := &Mux{
		out:   make(chan engine.Event, size),
		sink:  sink,
		done:  make(chan struct{}),
		drops: make(map[int]dropRecord),
	}
	go m.forward()
	return m
}

// Publish implements engine.EventSink. It never blocks.
func (m *Mux) Publish(evt engine.Event) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return
	}
	m.deliver(normalize(evt))
}

// Close emits any pending drop metadata, waits until the sink has received
// every queued event and stops the mux. Later events are discarded.
func (m *Mux) Close() {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	m.closeMu.Unlock()

	m.flushDrops()
	close(m.out)
	<-m.done
}

func (m *Mux) forward() {
	defer close(m.done)
	for evt := range m.out {
		if m.sink != nil {
			m.sink.Publish(evt)
		}
	}
}

func (m *Mux) deliver(evt engine.Event) {
	if !m.flushPending(evt.Process) {
		m.recordDrop(evt, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt, 1)
}

func (m *Mux) flushPending(process int) bool {
	for {
		rec := m.takeDrops(process)
		if rec.count == 0 {
			return true
		}
		if m.trySend(synthesizeDropEvent(process, rec)) {
			continue
		}
		m.recordDropWithCount(process, rec)
		return false
	}
}

func (m *Mux) takeDrops(process int) dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[process]
	if rec.count != 0 {
		delete(m.drops, process)
	}
	return rec
}

func (m *Mux) recordDrop(evt engine.Event, count int) {
	m.recordDropWithCount(evt.Process, dropRecord{count: count, group: evt.Group, name: evt.Name})
}

func (m *Mux) recordDropWithCount(process int, add dropRecord) {
	if add.count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[process]
	rec.count += add.count
	if rec.group == "" {
		rec.group = add.group
	}
	if rec.name == "" {
		rec.name = add.name
	}
	m.drops[process] = rec
}

func (m *Mux) flushDrops() {
	for process, rec := range m.collectDrops() {
		m.out <- synthesizeDropEvent(process, rec)
	}
}

func (m *Mux) collectDrops() map[int]dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.drops) == 0 {
		return nil
	}
	dup := make(map[int]dropRecord, len(m.drops))
	for process, rec := range m.drops {
		if rec.count == 0 {
			continue
		}
		dup[process] = rec
	}
	m.drops = make(map[int]dropRecord)
	return dup
}

func (m *Mux) trySend(evt engine.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func normalize(evt engine.Event) engine.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	return evt
}

func synthesizeDropEvent(process int, rec dropRecord) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		Group:     rec.group,
		Process:   process,
		Name:      rec.name,
		Type:      engine.EventTypeDropped,
		Dropped:   rec.count,
	}
}
