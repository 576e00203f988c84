package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/concur/internal/engine"
	"github.com/Paintersrp/concur/internal/render"
)

const (
	tableTitle          = "Commands"
	logsTitle           = "Output"
	filterPageName      = "filter"
	defaultLogRetention = 500
	defaultInterval     = 250 * time.Millisecond
)

// Command is a supervised command shown on the dashboard.
type Command interface {
	Name() string
	Args() []string
	Poll() (int, bool)
	ReadNew() ([]byte, error)
	Elapsed() time.Duration
	Err() error
}

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxLogs sets the maximum number of output lines retained per command.
func WithMaxLogs(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxLogs = n
		}
	}
}

// WithInterval sets how often commands are polled.
func WithInterval(d time.Duration) Option {
	return func(u *UI) {
		if d > 0 {
			u.interval = d
		}
	}
}

// WithInterrupt routes Ctrl-C inside the dashboard to fn.
func WithInterrupt(fn func()) Option {
	return func(u *UI) {
		u.interrupt = fn
	}
}

// WithOnComplete calls fn once per command when its exit is first observed.
func WithOnComplete(fn func(Command)) Option {
	return func(u *UI) {
		u.onComplete = fn
	}
}

// UI is a full-screen dashboard listing every command with its state and the
// captured output of the selected one.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	logs   *tview.TextView
	events chan engine.Event

	commands []*commandState

	visible     []int
	selected    int
	filter      string
	filterExpr  *regexp.Regexp
	logsFocused bool
	maxLogs     int
	interval    time.Duration
	banner      string
	finished    bool

	// selecting is set while a refresh moves the table selection itself. It
	// is only touched on the event loop.
	selecting bool

	refreshPending atomic.Bool
	logsDirty      atomic.Bool

	interrupt  func()
	onComplete func(Command)

	mu sync.RWMutex

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type commandState struct {
	cmd     Command
	exited  bool
	code    int
	size    int64
	elapsed time.Duration
	message string
	lines   []string
	partial string
}

// New constructs a dashboard for commands, in declaration order.
func New(commands []Command, opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	logs := tview.NewTextView().SetDynamicColors(false).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 2, true).
		AddItem(logs, 0, 3, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := newUI(app, pages, table, logs, commands)
	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(func(row, column int) {
		if ui.selecting {
			return
		}
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderLogsLocked()
	})

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

func newUI(app *tview.Application, pages *tview.Pages, table *tview.Table, logs *tview.TextView, commands []Command) *UI {
	ui := &UI{
		app:      app,
		pages:    pages,
		table:    table,
		logs:     logs,
		events:   make(chan engine.Event, 256),
		maxLogs:  defaultLogRetention,
		interval: defaultInterval,
		done:     make(chan struct{}),
	}
	for _, cmd := range commands {
		ui.commands = append(ui.commands, &commandState{cmd: cmd})
	}
	return ui
}

// Publish implements engine.EventSink. Events are dropped when the dashboard
// falls behind.
func (u *UI) Publish(evt engine.Event) {
	select {
	case <-u.done:
	case u.events <- evt:
	default:
	}
}

// CloseEvents releases the event channel, allowing internal goroutines to exit cleanly.
func (u *UI) CloseEvents() {
	u.closeOnce.Do(func() {
		close(u.events)
	})
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Finished reports whether every command has exited.
func (u *UI) Finished() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.finished
}

// Run shows the dashboard and polls commands until Stop is invoked or ctx
// is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.wg.Add(2)
	go func() {
		defer u.wg.Done()
		u.consume(ctx)
	}()
	go func() {
		defer u.wg.Done()
		select {
		case <-ctx.Done():
			u.Stop()
		case <-u.done:
		}
	}()

	err := u.app.Run()
	u.Stop()
	cancel()
	u.wg.Wait()
	return err
}

// Stop ends the application loop. It is safe to call more than once and
// from any goroutine.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) consume(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-u.events:
			if !ok {
				return
			}
			u.applyEvent(evt)
			u.queueRefresh(false)
		case <-ticker.C:
			changed := u.poll()
			u.queueRefresh(changed)
		}
	}
}

// poll reads new output from every running command and reports whether the
// selected command changed.
func (u *UI) poll() bool {
	var completed []Command

	u.mu.Lock()
	changed := false
	finished := true
	for i, state := range u.commands {
		if state.exited {
			continue
		}
		code, exited := state.cmd.Poll()
		data, err := state.cmd.ReadNew()
		if err != nil {
			state.message = err.Error()
		}
		if len(data) > 0 {
			state.size += int64(len(data))
			state.append(string(data), u.maxLogs)
			if i == u.selected {
				changed = true
			}
		}
		state.elapsed = state.cmd.Elapsed()
		if !exited {
			finished = false
			continue
		}
		state.exited = true
		state.code = code
		state.flush(u.maxLogs)
		if spawnErr := state.cmd.Err(); spawnErr != nil {
			state.message = spawnErr.Error()
		}
		if i == u.selected {
			changed = true
		}
		completed = append(completed, state.cmd)
	}
	if finished && !u.finished {
		u.finished = true
		u.banner = "all commands finished, press q to quit"
	}
	u.mu.Unlock()

	if u.onComplete != nil {
		for _, cmd := range completed {
			u.onComplete(cmd)
		}
	}
	return changed
}

func (s *commandState) append(text string, limit int) {
	text = s.partial + text
	parts := strings.Split(text, "\n")
	s.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		s.lines = append(s.lines, render.SanitizeLine(line))
	}
	if len(s.lines) > limit {
		s.lines = append([]string(nil), s.lines[len(s.lines)-limit:]...)
	}
}

func (s *commandState) flush(limit int) {
	if s.partial == "" {
		return
	}
	s.append("\n", limit)
}

func (u *UI) applyEvent(evt engine.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch evt.Type {
	case engine.EventTypeInterrupt:
		u.banner = "interrupt sent, press Ctrl-C again to kill"
	case engine.EventTypeKill:
		u.banner = "kill sent"
	case engine.EventTypeSpawnFailed:
		if evt.Process > 0 && evt.Process <= len(u.commands) && evt.Err != nil {
			u.commands[evt.Process-1].message = evt.Err.Error()
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.overlayFocused() {
		return event
	}
	switch event.Key() {
	case tcell.KeyCtrlC:
		if u.interrupt != nil {
			go u.interrupt()
		}
		return nil
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			if u.Finished() {
				go u.Stop()
			} else {
				u.mu.Lock()
				u.banner = "commands are still running, press Ctrl-C to interrupt"
				u.mu.Unlock()
				u.queueRefresh(false)
			}
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		}
	}
	return event
}

func (u *UI) overlayFocused() bool {
	if !u.pages.HasPage(filterPageName) {
		return false
	}
	focus := u.app.GetFocus()
	return focus != u.table && focus != u.logs
}

func (u *UI) toggleFocus() {
	if u.logsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.logs)
	}
	u.logsFocused = !u.logsFocused
}

// showFilterPrompt overlays a one-line regex input. Enter applies the
// expression, Escape discards it.
func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("/").
		SetText(current)
	input.SetBorder(true).SetTitle("Filter (regex)")
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			u.applyFilter(input.GetText())
		}
		u.pages.RemovePage(filterPageName)
		u.app.SetFocus(u.table)
	})

	overlay := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(input, 3, 0, true)

	u.pages.AddPage(filterPageName, overlay, true, true)
	u.app.SetFocus(input)
}

// applyFilter installs expr as the table filter. An invalid expression keeps
// the previous filter and is reported in the title banner.
func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	var re *regexp.Regexp
	if expr != "" {
		var err error
		if re, err = regexp.Compile(expr); err != nil {
			u.mu.Lock()
			u.banner = fmt.Sprintf("invalid filter: %v", err)
			u.mu.Unlock()
			u.queueRefresh(false)
			return
		}
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh(true)
}

// queueRefresh schedules a redraw without blocking the caller, so it is safe
// on the event loop. At most one redraw is outstanding at a time.
func (u *UI) queueRefresh(updateLogs bool) {
	if updateLogs {
		u.logsDirty.Store(true)
	}
	if !u.refreshPending.CompareAndSwap(false, true) {
		return
	}
	go u.app.QueueUpdateDraw(func() {
		u.refreshPending.Store(false)
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if u.logsDirty.Swap(false) {
			u.renderLogsLocked()
		}
	})
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"#", "COMMAND", "STATE", "EXIT", "OUTPUT", "ELAPSED", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	u.visible = u.visible[:0]
	for i, state := range u.commands {
		if u.filterExpr != nil && !u.filterExpr.MatchString(commandLabel(state.cmd)) {
			continue
		}
		u.visible = append(u.visible, i)
	}

	title := tableTitle
	if u.filter != "" {
		title = fmt.Sprintf("%s /%s/", title, u.filter)
	}
	if u.banner != "" {
		title = fmt.Sprintf("%s - %s", title, u.banner)
	}
	u.table.SetTitle(title)

	for row, idx := range u.visible {
		state := u.commands[idx]
		exit := "-"
		if state.exited {
			exit = fmt.Sprintf("%d", state.code)
		}
		message := state.message
		if len(message) > 80 {
			message = message[:77] + "..."
		}

		values := []string{
			fmt.Sprintf("%d", idx+1),
			commandLabel(state.cmd),
			state.stateLabel(),
			exit,
			units.HumanSize(float64(state.size)),
			render.FormatElapsed(state.elapsed),
			message,
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 2 {
				cell = cell.SetTextColor(state.stateColor())
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

func (u *UI) renderLogsLocked() {
	u.logs.Clear()
	if u.selected < 0 || u.selected >= len(u.commands) {
		u.logs.SetTitle(logsTitle)
		return
	}
	state := u.commands[u.selected]
	u.logs.SetTitle(fmt.Sprintf("%s (%s)", logsTitle, state.cmd.Name()))
	for _, line := range state.lines {
		fmt.Fprintln(u.logs, line)
	}
	if state.partial != "" {
		fmt.Fprintln(u.logs, render.SanitizeLine(state.partial))
	}
	u.logs.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	u.selecting = true
	defer func() { u.selecting = false }()
	if len(u.visible) == 0 {
		u.selected = -1
		u.table.Select(0, 0)
		return
	}
	row := 0
	for i, idx := range u.visible {
		if idx == u.selected {
			row = i
			break
		}
	}
	u.selected = u.visible[row]
	u.table.Select(row+1, 0)
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

func (s *commandState) stateLabel() string {
	switch {
	case s.exited && s.cmd.Err() != nil:
		return "Spawn failed"
	case s.exited && s.code == 0:
		return "Done"
	case s.exited:
		return "Failed"
	default:
		return "Running"
	}
}

func (s *commandState) stateColor() tcell.Color {
	switch {
	case s.exited && s.code == 0:
		return tcell.ColorGreen
	case s.exited:
		return tcell.ColorRed
	default:
		return tcell.ColorYellow
	}
}

func commandLabel(cmd Command) string {
	if args := cmd.Args(); len(args) > 0 {
		return cmd.Name() + " " + strings.Join(args, " ")
	}
	return cmd.Name()
}
