package tui

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/concur/internal/engine"
)

type fakeCommand struct {
	name string
	args []string
	err  error

	mu     sync.Mutex
	output string
	code   int
	exited bool
}

func (f *fakeCommand) Name() string           { return f.name }
func (f *fakeCommand) Args() []string         { return f.args }
func (f *fakeCommand) Err() error             { return f.err }
func (f *fakeCommand) Elapsed() time.Duration { return 2 * time.Second }

func (f *fakeCommand) write(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output += s
}

func (f *fakeCommand) exit(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code, f.exited = code, true
}

func (f *fakeCommand) ReadNew() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.output
	f.output = ""
	return []byte(out), nil
}

func (f *fakeCommand) Poll() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.exited
}

func newTestUI(t *testing.T, commands ...Command) *UI {
	t.Helper()
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	logs := tview.NewTextView()
	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 2, true).
		AddItem(logs, 0, 3, false)
	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := newUI(app, pages, table, logs, commands)

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	return ui
}

func TestHandleKeyRespectsOverlayFocus(t *testing.T) {
	ui := newTestUI(t)
	ui.app.SetFocus(ui.table)

	slash := tcell.NewEventKey(tcell.KeyRune, '/', tcell.ModNone)
	if res := ui.handleKey(slash); res != nil {
		t.Fatalf("expected filter shortcut to be consumed when table focused")
	}

	if _, ok := ui.app.GetFocus().(*tview.InputField); !ok {
		t.Fatalf("expected filter input to have focus, got %T", ui.app.GetFocus())
	}

	enter := tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone)
	if res := ui.handleKey(enter); res != enter {
		t.Fatalf("expected Enter to bypass global handler when overlay focused")
	}

	runeEvent := tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)
	if res := ui.handleKey(runeEvent); res != runeEvent {
		t.Fatalf("expected rune to bypass global handler when overlay focused")
	}

	ui.pages.RemovePage(filterPageName)
	ui.app.SetFocus(ui.table)

	if res := ui.handleKey(runeEvent); res != runeEvent {
		t.Fatalf("expected rune to pass through when table focused")
	}
	if ui.logsFocused {
		t.Fatalf("expected logsFocused to match table focus")
	}
}

func TestHandleKeyTogglesOutputFocus(t *testing.T) {
	ui := newTestUI(t)
	ui.app.SetFocus(ui.table)

	enter := tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone)
	if res := ui.handleKey(enter); res != nil {
		t.Fatalf("expected Enter to be consumed")
	}
	if ui.app.GetFocus() != ui.logs {
		t.Fatalf("expected output pane to have focus after toggle")
	}

	slash := tcell.NewEventKey(tcell.KeyRune, '/', tcell.ModNone)
	if res := ui.handleKey(slash); res != nil {
		t.Fatalf("expected filter shortcut to be consumed when output focused")
	}
}

func TestCtrlCRoutesToInterrupt(t *testing.T) {
	ui := newTestUI(t)
	called := make(chan struct{}, 2)
	ui.interrupt = func() { called <- struct{}{} }

	ctrlC := tcell.NewEventKey(tcell.KeyCtrlC, 0, tcell.ModCtrl)
	for i := 0; i < 2; i++ {
		if res := ui.handleKey(ctrlC); res != nil {
			t.Fatalf("expected Ctrl-C to be consumed")
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-called:
		case <-time.After(time.Second):
			t.Fatalf("expected interrupt %d to be forwarded", i+1)
		}
	}
	select {
	case <-ui.Done():
		t.Fatalf("expected Ctrl-C not to stop the dashboard")
	default:
	}
}

func TestQuitOnlyOnceFinished(t *testing.T) {
	cmd := &fakeCommand{name: "sleep", args: []string{"1"}}
	ui := newTestUI(t, cmd)
	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)

	ui.poll()
	if res := ui.handleKey(q); res != nil {
		t.Fatalf("expected q to be consumed")
	}
	select {
	case <-ui.Done():
		t.Fatalf("expected q to be ignored while commands run")
	case <-time.After(50 * time.Millisecond):
	}
	if !strings.Contains(ui.banner, "still running") {
		t.Fatalf("expected a hint banner, got %q", ui.banner)
	}

	cmd.exit(0)
	ui.poll()
	if !ui.Finished() {
		t.Fatalf("expected dashboard to notice completion")
	}
	ui.handleKey(q)
	select {
	case <-ui.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected q to stop the dashboard once finished")
	}
}

func TestPollTracksOutputAndCompletion(t *testing.T) {
	ok := &fakeCommand{name: "echo", args: []string{"hi"}}
	broken := &fakeCommand{name: "broken", err: errors.New("start broken: permission denied")}
	ui := newTestUI(t, ok, broken)

	var completed []string
	ui.onComplete = func(c Command) { completed = append(completed, c.Name()) }

	ok.write("first\nsec")
	broken.exit(127)
	ui.poll()

	first := ui.commands[0]
	if got := strings.Join(first.lines, "|"); got != "first" {
		t.Fatalf("expected only complete lines, got %q", got)
	}
	if first.partial != "sec" {
		t.Fatalf("expected partial line to be held back, got %q", first.partial)
	}
	if got := first.stateLabel(); got != "Running" {
		t.Fatalf("expected Running, got %q", got)
	}
	if got := ui.commands[1].stateLabel(); got != "Spawn failed" {
		t.Fatalf("expected Spawn failed, got %q", got)
	}
	if ui.commands[1].message == "" {
		t.Fatalf("expected spawn error as message")
	}

	ok.write("ond\n")
	ok.exit(3)
	ui.poll()
	if got := strings.Join(first.lines, "|"); got != "first|second" {
		t.Fatalf("expected joined lines, got %q", got)
	}
	if first.size != int64(len("first\nsecond\n")) {
		t.Fatalf("expected size to count every byte, got %d", first.size)
	}
	if got := first.stateLabel(); got != "Failed" {
		t.Fatalf("expected Failed, got %q", got)
	}
	if strings.Join(completed, ",") != "broken,echo" {
		t.Fatalf("expected each completion reported once, got %v", completed)
	}
}

func TestLogRetention(t *testing.T) {
	cmd := &fakeCommand{name: "yes"}
	ui := newTestUI(t, cmd)
	ui.maxLogs = 3
	cmd.write("1\n2\n3\n4\n5\n")
	ui.poll()
	if got := strings.Join(ui.commands[0].lines, ","); got != "3,4,5" {
		t.Fatalf("expected last 3 lines, got %q", got)
	}
}

func TestRefreshTableAppliesFilter(t *testing.T) {
	ui := newTestUI(t,
		&fakeCommand{name: "npm", args: []string{"test"}},
		&fakeCommand{name: "go", args: []string{"test", "./..."}},
	)
	ui.filter = "^go"
	ui.filterExpr = regexp.MustCompile(ui.filter)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	if len(ui.visible) != 1 || ui.visible[0] != 1 {
		t.Fatalf("expected only the go command visible, got %v", ui.visible)
	}
	if got := ui.table.GetCell(1, 1).Text; got != "go test ./..." {
		t.Fatalf("expected command label, got %q", got)
	}
	if ui.selected != 1 {
		t.Fatalf("expected selection to follow the filter, got %d", ui.selected)
	}
}

func TestApplyEventUpdatesBanner(t *testing.T) {
	ui := newTestUI(t, &fakeCommand{name: "sleep"})
	ui.applyEvent(engine.Event{Type: engine.EventTypeInterrupt})
	if !strings.Contains(ui.banner, "interrupt") {
		t.Fatalf("expected interrupt banner, got %q", ui.banner)
	}
	ui.applyEvent(engine.Event{Type: engine.EventTypeSpawnFailed, Process: 1, Err: errors.New("boom")})
	if ui.commands[0].message != "boom" {
		t.Fatalf("expected spawn failure message, got %q", ui.commands[0].message)
	}
}

func TestApplyFilterRejectsInvalidExpression(t *testing.T) {
	ui := newTestUI(t, &fakeCommand{name: "go"})
	ui.applyFilter("^go")
	ui.applyFilter("(")

	ui.mu.RLock()
	defer ui.mu.RUnlock()
	if ui.filter != "^go" {
		t.Fatalf("expected previous filter to survive, got %q", ui.filter)
	}
	if !strings.Contains(ui.banner, "invalid filter") {
		t.Fatalf("expected invalid filter banner, got %q", ui.banner)
	}
}
