package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Paintersrp/concur/internal/cliutil"
	"github.com/Paintersrp/concur/internal/config"
	"github.com/Paintersrp/concur/internal/engine"
	"github.com/Paintersrp/concur/internal/logmux"
	"github.com/Paintersrp/concur/internal/metrics"
	"github.com/Paintersrp/concur/internal/render"
	"github.com/Paintersrp/concur/internal/runtime/process"
	"github.com/Paintersrp/concur/internal/tui"
)

// eventQueueSize bounds the lifecycle events waiting to be written to the
// event log.
const eventQueueSize = 256

// bridgeStarted observes the signal bridge of every run once it is
// listening, before any command is spawned. Tests replace it to inject
// interrupts.
var bridgeStarted = func(context.Context, *engine.SignalBridge) {}

func (o *options) run(cmd *cobra.Command, args []string) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	settings, err := o.settings(cmd, os.Getenv)
	if err != nil {
		return fail(err)
	}
	if settings.Debug {
		process.SetLogOutput(stderr)
		engine.SetLogOutput(stderr)
	}

	commands := args
	if len(commands) == 0 {
		commands = settings.Commands
	}
	if len(commands) == 0 {
		return fail(errors.New("no commands given; pass at least one COMMAND or list commands in " + config.DefaultFile))
	}

	interactive, width, height := terminalInfo(stdout)
	interactive = interactive && settings.Interactive
	if o.tui && !interactive {
		return fail(errors.New("tui requires an interactive terminal"))
	}

	metrics.EmitBuildInfo()
	if settings.MetricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(settings.MetricsFile); err != nil {
				fmt.Fprintln(stderr, "error:", err)
			}
		}()
	}

	relay := &dashboardRelay{}
	sinks := engine.MultiSink{metricsSink{}, relay}
	if settings.LogFile != "" {
		eventLog, err := cliutil.OpenEventLog(settings.LogFile, stderr)
		if err != nil {
			return fail(err)
		}
		defer eventLog.Close()
		queue := logmux.New(eventQueueSize, eventLog)
		defer queue.Close()
		sinks = append(sinks, queue)
	}

	group, err := engine.NewGroup(commands,
		engine.WithEnv(settings.EnvList()),
		engine.WithEventSink(sinks),
	)
	if err != nil {
		return fail(err)
	}
	defer group.Close()

	opts := render.Options{
		Out:         stdout,
		Interactive: interactive,
		Verbose:     settings.Verbose,
		Timer:       settings.Timer,
		FailFast:    settings.FailFast,
		Tail:        settings.Tail,
		Interval:    settings.Interval,
		Width:       width,
		Height:      height,
		Prefix:      settings.Prefix,
		OnComplete: func(src render.Source) {
			if p, ok := src.(*process.Process); ok {
				group.Observe(p)
			}
		},
	}

	bridge := engine.NewSignalBridge(group)
	var dash *tui.UI
	if o.tui {
		dash = newDashboard(group, bridge, settings)
		relay.set(dash)
	}

	ctx := bridge.Start(cmd.Context())
	defer bridge.Stop()
	bridgeStarted(ctx, bridge)

	// Spawn failures are local to their command and reported by the renderer.
	_ = group.Run()

	var passed bool
	switch {
	case dash != nil:
		passed, err = runDashboard(ctx, dash, group)
		relay.set(nil)
		dash.CloseEvents()
	case settings.Stream:
		passed, err = render.Streamed(ctx, sources(group), opts)
	default:
		passed, err = render.Buffered(ctx, sources(group), opts)
	}

	if bridge.Interrupted() {
		render.Interrupted(opts)
		if err := group.Wait(context.Background()); err != nil {
			fmt.Fprintln(stderr, "error:", err)
		}
		return exitSilently(ExitInterrupted)
	}
	if err != nil {
		return fail(err)
	}

	render.Summary(opts, passed)
	if !passed {
		return exitSilently(ExitFailure)
	}
	return nil
}

func sources(group *engine.Group) []render.Source {
	procs := group.Processes()
	out := make([]render.Source, len(procs))
	for i, p := range procs {
		out[i] = p
	}
	return out
}

func newDashboard(group *engine.Group, bridge *engine.SignalBridge, settings config.Settings) *tui.UI {
	procs := group.Processes()
	commands := make([]tui.Command, len(procs))
	for i, p := range procs {
		commands[i] = p
	}
	opts := []tui.Option{
		tui.WithInterrupt(func() { bridge.Deliver(os.Interrupt) }),
		tui.WithOnComplete(func(c tui.Command) {
			if p, ok := c.(*process.Process); ok {
				group.Observe(p)
			}
		}),
	}
	if settings.Interval > 0 {
		opts = append(opts, tui.WithInterval(settings.Interval))
	}
	return tui.New(commands, opts...)
}

// runDashboard shows the dashboard until the operator quits or ctx is
// cancelled, then reports the aggregate result of the group.
func runDashboard(ctx context.Context, dash *tui.UI, group *engine.Group) (bool, error) {
	if err := dash.Run(ctx); err != nil {
		return false, fmt.Errorf("run dashboard: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return group.Poll() == engine.StatusSuccess, nil
}

// terminalInfo reports whether w is a terminal and, if so, its size.
func terminalInfo(w io.Writer) (bool, int, int) {
	f, ok := w.(*os.File)
	if !ok {
		return false, 0, 0
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return false, 0, 0
	}
	width, height, err := term.GetSize(fd)
	if err != nil {
		return true, 0, 0
	}
	return true, width, height
}
