package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Paintersrp/concur/internal/command"
	"github.com/Paintersrp/concur/internal/runtime/process"
)

// Exit codes of a run.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitInterrupted = 2
)

var logger = log.New(io.Discard, "concur: engine: ", log.LstdFlags)

// SetLogOutput redirects diagnostic logging for the package.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Status is the aggregate state of a group.
type Status int

const (
	StatusRunning Status = iota
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// ExitCode maps a finished status to the process exit code of the run.
func (s Status) ExitCode() int {
	if s == StatusSuccess {
		return ExitSuccess
	}
	return ExitFailure
}

// Option configures a Group.
type Option func(*Group)

// WithEventSink delivers lifecycle events to sink.
func WithEventSink(sink EventSink) Option {
	return func(g *Group) {
		g.events = sink
	}
}

// WithEnv applies KEY=VALUE overrides to every process before the
// per-command overrides.
func WithEnv(env []string) Option {
	return func(g *Group) {
		g.env = append([]string(nil), env...)
	}
}

// Group owns an ordered set of processes that are spawned, reported and
// signalled together.
type Group struct {
	id        string
	env       []string
	processes []*process.Process
	events    EventSink

	// spawnMu orders spawns against interrupts, so every process is either
	// signalled or cancelled.
	spawnMu    sync.Mutex
	interrupts atomic.Int32

	reportMu sync.Mutex
	reported map[int]bool

	closeOnce sync.Once
	closeErr  error
}

// NewGroup parses and resolves every command before creating any process.
// When executables are missing the returned error is a single
// *command.ResolutionError naming all of them and nothing is created.
func NewGroup(commands []string, opts ...Option) (*Group, error) {
	if len(commands) == 0 {
		return nil, errors.New("no commands to run")
	}
	specs, err := command.ParseAll(commands)
	if err != nil {
		return nil, err
	}

	g := &Group{
		id:       uuid.NewString(),
		reported: make(map[int]bool, len(specs)),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.processes = make([]*process.Process, 0, len(specs))
	for i, spec := range specs {
		g.processes = append(g.processes, process.New(i+1, g.id, spec, g.env))
	}
	return g, nil
}

// ID returns the group identifier.
func (g *Group) ID() string {
	return g.id
}

// Processes returns the owned processes in declaration order.
func (g *Group) Processes() []*process.Process {
	return g.processes
}

// Run spawns every process in declaration order. A spawn failure is local to
// its process and does not prevent the remaining spawns; the joined failures
// are returned for diagnostics. Once HandleInterrupt has been called the
// remaining processes are cancelled instead of spawned.
func (g *Group) Run() error {
	var errs []error
	cancelled := 0
	for _, p := range g.processes {
		g.spawnMu.Lock()
		var err error
		if g.interrupts.Load() > 0 {
			p.Cancel()
			cancelled++
		} else {
			err = p.Start()
		}
		g.spawnMu.Unlock()

		if err != nil {
			errs = append(errs, err)
		}
		if p.Err() != nil {
			g.publish(p, EventTypeSpawnFailed, p.Err())
			g.markReported(p)
			continue
		}
		g.publish(p, EventTypeStarted, nil)
	}
	logger.Printf("group %s started %d processes (%d spawn failures, %d cancelled)",
		g.id, len(g.processes)-len(errs)-cancelled, len(errs), cancelled)
	return errors.Join(errs...)
}

// Poll recomputes the aggregate status from the current state of every
// process. It never blocks.
func (g *Group) Poll() Status {
	running := false
	failed := false
	for _, p := range g.processes {
		code, exited := p.Poll()
		if !exited {
			running = true
			continue
		}
		if g.markReported(p) {
			g.publish(p, EventTypeExited, nil)
		}
		if code != 0 {
			failed = true
		}
	}
	switch {
	case running:
		return StatusRunning
	case failed:
		return StatusFailure
	default:
		return StatusSuccess
	}
}

// Observe publishes the exit event of p if it has exited and has not been
// reported yet. Renderers call it as they observe completions one by one.
func (g *Group) Observe(p *process.Process) {
	if _, exited := p.Poll(); !exited {
		return
	}
	if g.markReported(p) {
		g.publish(p, EventTypeExited, nil)
	}
}

func (g *Group) markReported(p *process.Process) bool {
	g.reportMu.Lock()
	defer g.reportMu.Unlock()
	if g.reported[p.ID()] {
		return false
	}
	g.reported[p.ID()] = true
	return true
}

// HandleInterrupt escalates cancellation: the first call interrupts every
// process, every later call kills every process.
func (g *Group) HandleInterrupt() {
	g.spawnMu.Lock()
	defer g.spawnMu.Unlock()
	count := g.interrupts.Add(1)
	kind := EventTypeInterrupt
	if count > 1 {
		kind = EventTypeKill
	}
	for _, p := range g.processes {
		var err error
		if kind == EventTypeInterrupt {
			err = p.Interrupt()
		} else {
			err = p.Kill()
		}
		if err != nil {
			logger.Printf("%s %s: %v", kind, p.Name(), err)
		}
	}
	g.publishGroup(kind)
}

// Interrupts returns how many times HandleInterrupt has been called.
func (g *Group) Interrupts() int {
	return int(g.interrupts.Load())
}

// Wait blocks until every process has exited or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	for _, p := range g.processes {
		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close releases the output of every process. It is safe to call more than
// once; children that are still running are left alone.
func (g *Group) Close() error {
	g.closeOnce.Do(func() {
		var errs []error
		for _, p := range g.processes {
			if err := p.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		g.closeErr = errors.Join(errs...)
	})
	return g.closeErr
}

func (g *Group) publish(p *process.Process, t EventType, err error) {
	if g.events == nil {
		return
	}
	code, _ := p.Poll()
	g.events.Publish(Event{
		Timestamp: time.Now(),
		Group:     g.id,
		Process:   p.ID(),
		Name:      p.Name(),
		Command:   p.Spec().Raw,
		Type:      t,
		ExitCode:  code,
		Elapsed:   p.Elapsed(),
		Err:       err,
	})
}

func (g *Group) publishGroup(t EventType) {
	if g.events == nil {
		return
	}
	g.events.Publish(Event{
		Timestamp: time.Now(),
		Group:     g.id,
		Type:      t,
	})
}
