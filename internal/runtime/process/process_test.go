package process

import (
	"bytes"
	"errors"
	"os"
	stdruntime "runtime"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/concur/internal/command"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if stdruntime.GOOS == "windows" {
		t.Skip("process tests skipped on windows")
	}
}

func newShellProcess(t *testing.T, script string, extraEnv ...string) *Process {
	t.Helper()
	spec, err := command.Resolve(command.Spec{Name: "sh", Args: []string{"-c", script}})
	if err != nil {
		t.Fatalf("resolve sh: %v", err)
	}
	p := New(1, "test-group", spec, extraEnv)
	t.Cleanup(func() {
		_ = p.Kill()
		if err := p.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return p
}

func newTestProcess(t *testing.T, raw string) *Process {
	t.Helper()
	spec, err := command.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if spec, err = command.Resolve(spec); err != nil {
		t.Fatalf("resolve %q: %v", raw, err)
	}
	p := New(1, "test-group", spec, nil)
	t.Cleanup(func() {
		_ = p.Kill()
		if err := p.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return p
}

func waitExit(t *testing.T, p *Process) int {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s to exit", p.Name())
	}
	code, ok := p.Poll()
	if !ok {
		t.Fatalf("expected poll to report exit after Done closed")
	}
	return code
}

func TestPollReportsExitCodeStably(t *testing.T) {
	skipOnWindows(t)
	p := newShellProcess(t, "sleep 0.2; exit 3")

	if p.State() != StateNotStarted {
		t.Fatalf("expected not started, got %s", p.State())
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := p.Poll(); ok {
		t.Fatalf("expected process to still be running")
	}
	if p.State() != StateRunning {
		t.Fatalf("expected running, got %s", p.State())
	}

	if code := waitExit(t, p); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
	for i := 0; i < 3; i++ {
		code, ok := p.Poll()
		if !ok || code != 3 {
			t.Fatalf("expected stable exit code 3, got %d (exited=%v)", code, ok)
		}
	}
	if p.State() != StateExited {
		t.Fatalf("expected exited, got %s", p.State())
	}
}

func TestReadNewNeverRepeatsBytes(t *testing.T) {
	skipOnWindows(t)
	p := newShellProcess(t, "printf one; sleep 0.2; printf two 1>&2; sleep 0.2; echo three")
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var chunks [][]byte
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := p.ReadNew()
		if err != nil {
			t.Fatalf("read new: %v", err)
		}
		if len(data) > 0 {
			chunks = append(chunks, data)
		}
		if _, ok := p.Poll(); ok {
			data, err := p.ReadNew()
			if err != nil {
				t.Fatalf("read new: %v", err)
			}
			if len(data) > 0 {
				chunks = append(chunks, data)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for process")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(chunks) < 2 {
		t.Fatalf("expected output to arrive incrementally, got %d chunks", len(chunks))
	}

	joined := bytes.Join(chunks, nil)
	all, err := p.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(joined, all) {
		t.Fatalf("expected ReadAll %q to equal concatenated ReadNew %q", all, joined)
	}
	if string(all) != "onetwothree\n" {
		t.Fatalf("expected merged output, got %q", all)
	}

	if data, err := p.ReadNew(); err != nil || len(data) != 0 {
		t.Fatalf("expected nothing new after draining, got %q (%v)", data, err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	skipOnWindows(t)
	t.Setenv("CONCUR_INHERITED", "parent")
	t.Setenv("CONCUR_OVERRIDDEN", "parent")

	spec, err := command.Parse(`CONCUR_OVERRIDDEN=command CONCUR_GROUP=command sh -c 'echo "$CONCUR_INHERITED $CONCUR_OVERRIDDEN $CONCUR_GROUP"'`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	spec, err = command.Resolve(spec)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	p := New(1, "g", spec, []string{"CONCUR_GROUP=group"})
	t.Cleanup(func() { _ = p.Close() })

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p)
	out, err := p.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "parent command command" {
		t.Fatalf("unexpected environment %q", got)
	}
}

func TestInterruptStopsChild(t *testing.T) {
	skipOnWindows(t)
	p := newShellProcess(t, "sleep 10")
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	// The shell ignores SIGINT until it has finished starting up.
	time.Sleep(100 * time.Millisecond)
	if err := p.Interrupt(); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if code := waitExit(t, p); code == 0 {
		t.Fatalf("expected non-zero exit after interrupt")
	}
	if err := p.Interrupt(); err != nil {
		t.Fatalf("interrupt after exit should be a no-op, got %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill after exit should be a no-op, got %v", err)
	}
}

func TestInterruptRightAfterStartStopsDirectChild(t *testing.T) {
	skipOnWindows(t)
	p := newTestProcess(t, "sleep 10")
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Interrupt(); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if code := waitExit(t, p); code != 128+2 {
		t.Fatalf("expected exit code 130 after SIGINT, got %d", code)
	}
}

func TestCancelBeforeStart(t *testing.T) {
	skipOnWindows(t)
	p := newTestProcess(t, "true")
	p.Cancel()
	if err := p.Start(); err != nil {
		t.Fatalf("start after cancel should be a no-op, got %v", err)
	}
	code, exited := p.Poll()
	if !exited || code != ExitCodeCancelled {
		t.Fatalf("expected cancelled exit %d, got %d (exited=%v)", ExitCodeCancelled, code, exited)
	}
	if !errors.Is(p.Err(), ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", p.Err())
	}
	if p.State() != StateExited {
		t.Fatalf("expected exited state, got %s", p.State())
	}
	if err := p.Interrupt(); err != nil {
		t.Fatalf("interrupt after cancel should be a no-op, got %v", err)
	}
	if data, err := p.ReadNew(); err != nil || len(data) != 0 {
		t.Fatalf("expected no output, got %q (%v)", data, err)
	}
}

func TestKillTerminatesChildIgnoringInterrupt(t *testing.T) {
	skipOnWindows(t)
	p := newShellProcess(t, "trap '' INT; sleep 10")
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.Interrupt(); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	select {
	case <-p.Done():
		t.Fatalf("expected child trapping SIGINT to keep running")
	case <-time.After(200 * time.Millisecond):
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if code := waitExit(t, p); code != 128+9 {
		t.Fatalf("expected exit code 137 after SIGKILL, got %d", code)
	}
}

func TestSignalsBeforeStartAreNoops(t *testing.T) {
	p := New(1, "g", command.Spec{Name: "true"}, nil)
	if err := p.Interrupt(); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if _, ok := p.Poll(); ok {
		t.Fatalf("expected unstarted process to have no exit code")
	}
	if p.Elapsed() != 0 {
		t.Fatalf("expected zero elapsed before start")
	}
}

func TestSpawnFailureIsRecorded(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	spec := command.Spec{Name: "not-executable", Path: dir}
	p := New(1, "g", spec, nil)
	t.Cleanup(func() { _ = p.Close() })

	err := p.Start()
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if !errors.Is(p.Err(), err) {
		t.Fatalf("expected Err to return the spawn error")
	}
	code, ok := p.Poll()
	if !ok || code != ExitCodeSpawnFailed {
		t.Fatalf("expected exit code %d, got %d (exited=%v)", ExitCodeSpawnFailed, code, ok)
	}
	if data, err := p.ReadAll(); err != nil || len(data) != 0 {
		t.Fatalf("expected no output, got %q (%v)", data, err)
	}
}

func TestElapsedFreezesAtExit(t *testing.T) {
	skipOnWindows(t)
	p := newShellProcess(t, "sleep 0.1")
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p)
	first := p.Elapsed()
	if first < 100*time.Millisecond {
		t.Fatalf("expected elapsed of at least 100ms, got %s", first)
	}
	time.Sleep(50 * time.Millisecond)
	if again := p.Elapsed(); again != first {
		t.Fatalf("expected elapsed to stay at %s, got %s", first, again)
	}
}

func TestCloseRemovesSink(t *testing.T) {
	skipOnWindows(t)
	p := newShellProcess(t, "echo hi")
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p)
	path := p.sink.name()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected sink file %s to be removed, stat err=%v", path, err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if data, err := p.ReadNew(); err != nil || data != nil {
		t.Fatalf("expected no data after close, got %q (%v)", data, err)
	}
}
