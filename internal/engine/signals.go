package engine

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// ErrInterrupted is the cancellation cause of a context cancelled by the
// first operator interrupt.
var ErrInterrupted = errors.New("interrupted")

// SignalBridge forwards operator interrupts to a group. Every signal calls
// Group.HandleInterrupt, so repeated interrupts escalate from a cooperative
// stop to a forceful kill. The first signal also cancels the context returned
// by Start, which pre-empts ordinary reporting.
type SignalBridge struct {
	group   *Group
	signals chan os.Signal

	notify func(chan<- os.Signal, ...os.Signal)
	stop   func(chan<- os.Signal)

	cancel   context.CancelCauseFunc
	received atomic.Int32

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// NewSignalBridge constructs a bridge for group. Nothing is subscribed until
// Start is called.
func NewSignalBridge(group *Group) *SignalBridge {
	return &SignalBridge{
		group:   group,
		signals: make(chan os.Signal, 4),
		notify:  signal.Notify,
		stop:    signal.Stop,
		done:    make(chan struct{}),
	}
}

// Start subscribes to SIGINT and SIGTERM and returns a context that is
// cancelled with ErrInterrupted by the first one.
func (b *SignalBridge) Start(ctx context.Context) context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, b.cancel = context.WithCancelCause(ctx)
	if b.notify != nil {
		b.notify(b.signals, os.Interrupt, syscall.SIGTERM)
	}
	b.started = true
	go b.loop()
	return ctx
}

// Deliver injects sig as if it had been received from the operating system.
func (b *SignalBridge) Deliver(sig os.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.stopped {
		return
	}
	b.signals <- sig
}

func (b *SignalBridge) loop() {
	defer close(b.done)
	for sig := range b.signals {
		n := b.received.Add(1)
		logger.Printf("received %s (count=%d)", sig, n)
		b.group.HandleInterrupt()
		if n == 1 {
			b.cancel(ErrInterrupted)
		}
	}
}

// Interrupted reports whether at least one signal has been handled.
func (b *SignalBridge) Interrupted() bool {
	return b.received.Load() > 0
}

// Stop unsubscribes from the operating system and waits for the forwarding
// goroutine to exit.
func (b *SignalBridge) Stop() {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	if b.stop != nil {
		b.stop(b.signals)
	}
	close(b.signals)
	b.mu.Unlock()

	<-b.done
	b.cancel(nil)
}
