package process

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	units "github.com/docker/go-units"

	"github.com/Paintersrp/concur/internal/command"
)

// ExitCodeSpawnFailed is recorded for a process whose child could not be
// created by the operating system.
const ExitCodeSpawnFailed = 127

// ExitCodeCancelled is recorded for a process cancelled before it was spawned.
const ExitCodeCancelled = 130

// ErrCancelled is the error of a process cancelled before it was spawned.
var ErrCancelled = errors.New("cancelled before start")

var logger = log.New(io.Discard, "concur: process: ", log.LstdFlags)

// SetLogOutput redirects diagnostic logging for the package.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// State is the lifecycle position of a process. It only moves forward.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// SpawnError reports that the operating system refused to create the child
// for an already resolved executable.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Process supervises one spawned command.
type Process struct {
	id    int
	group string
	spec  command.Spec
	env   []string

	cmd  *exec.Cmd
	sink *sink

	start time.Time
	end   atomic.Int64
	state atomic.Int32

	exitCode atomic.Int32
	spawnErr error
	done     chan struct{}

	startOnce sync.Once
}

// New prepares a process for spec. extraEnv entries (KEY=VALUE) are applied
// before the command's own overrides, so per-command keys win.
func New(id int, group string, spec command.Spec, extraEnv []string) *Process {
	p := &Process{
		id:    id,
		group: group,
		spec:  spec,
		done:  make(chan struct{}),
	}
	p.env = append(p.env, extraEnv...)
	p.env = append(p.env, spec.EnvList()...)
	p.exitCode.Store(-1)
	p.state.Store(int32(StateNotStarted))
	return p
}

// ID returns the declaration-order identifier of the process.
func (p *Process) ID() int { return p.id }

// Group returns the identifier of the owning group.
func (p *Process) Group() string { return p.group }

// Name returns the executable name as written in the command.
func (p *Process) Name() string { return p.spec.Name }

// Args returns the command arguments.
func (p *Process) Args() []string { return p.spec.Args }

// Spec returns the parsed command.
func (p *Process) Spec() command.Spec { return p.spec }

// State returns the current lifecycle state.
func (p *Process) State() State { return State(p.state.Load()) }

// Err returns the spawn failure or ErrCancelled, if any.
func (p *Process) Err() error { return p.spawnErr }

// Done is closed once the process has exited or failed to spawn.
func (p *Process) Done() <-chan struct{} { return p.done }

// Start spawns the child. Calling Start more than once has no effect.
func (p *Process) Start() error {
	var err error
	p.startOnce.Do(func() {
		err = p.spawn()
	})
	return err
}

// Cancel marks a process that was never started as exited with
// ExitCodeCancelled. It has no effect once Start has been called.
func (p *Process) Cancel() {
	p.startOnce.Do(func() {
		p.start = time.Now()
		p.finish(ExitCodeCancelled, ErrCancelled)
		logger.Printf("%s cancelled before start", p.spec.Name)
	})
}

func (p *Process) spawn() error {
	p.start = time.Now()

	path := p.spec.Path
	if path == "" {
		path = p.spec.Name
	}

	out, err := newSink()
	if err != nil {
		return p.fail(err)
	}

	cmd := exec.Command(path, p.spec.Args...)
	cmd.Args[0] = p.spec.Name
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Stdout = out.file
	cmd.Stderr = out.file
	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = out.close()
		return p.fail(err)
	}

	p.cmd = cmd
	p.sink = out
	p.state.Store(int32(StateRunning))
	logger.Printf("started %s (id=%d pid=%d sink=%s)", p.spec.Name, p.id, cmd.Process.Pid, out.name())

	go p.wait()
	return nil
}

func (p *Process) fail(err error) error {
	p.finish(ExitCodeSpawnFailed, &SpawnError{Name: p.spec.Name, Err: err})
	logger.Printf("spawn %s failed: %v", p.spec.Name, err)
	return p.spawnErr
}

// finish records an exit without a child.
func (p *Process) finish(code int, err error) {
	p.spawnErr = err
	p.exitCode.Store(int32(code))
	p.end.Store(int64(time.Since(p.start)))
	p.state.Store(int32(StateExited))
	close(p.done)
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitCode(exitErr.ProcessState)
		} else {
			code = -1
		}
	}
	p.end.Store(int64(time.Since(p.start)))
	p.exitCode.Store(int32(code))
	p.state.Store(int32(StateExited))
	close(p.done)
	logger.Printf("%s exited with code %d after %s", p.spec.Name, code, p.Elapsed())
}

// Poll reports the exit code once the child has exited. It never blocks.
func (p *Process) Poll() (int, bool) {
	select {
	case <-p.done:
		return int(p.exitCode.Load()), true
	default:
		return 0, false
	}
}

// ReadNew returns output appended since the previous call. It never returns
// the same bytes twice and never blocks.
func (p *Process) ReadNew() ([]byte, error) {
	if p.sink == nil {
		return nil, nil
	}
	return p.sink.readNew()
}

// ReadAll returns the full accumulated output regardless of the read cursor.
func (p *Process) ReadAll() ([]byte, error) {
	if p.sink == nil {
		return nil, nil
	}
	data, err := p.sink.readAll()
	if err == nil {
		logger.Printf("%s produced %s of output", p.spec.Name, units.HumanSize(float64(len(data))))
	}
	return data, err
}

// Elapsed returns the time since start, frozen at the moment of exit.
func (p *Process) Elapsed() time.Duration {
	if p.State() == StateExited {
		return time.Duration(p.end.Load())
	}
	if p.start.IsZero() {
		return 0
	}
	return time.Since(p.start)
}

// Interrupt asks the child to terminate cooperatively.
func (p *Process) Interrupt() error {
	if !p.signalable() {
		return nil
	}
	return p.interrupt()
}

// Kill terminates the child forcefully.
func (p *Process) Kill() error {
	if !p.signalable() {
		return nil
	}
	return p.kill()
}

func (p *Process) signalable() bool {
	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	_, exited := p.Poll()
	return !exited
}

// Close releases the output sink. The child is left untouched.
func (p *Process) Close() error {
	if p.sink == nil {
		return nil
	}
	return p.sink.close()
}
