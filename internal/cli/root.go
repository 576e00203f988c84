package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/concur/internal/config"
	"github.com/Paintersrp/concur/internal/render"
)

// Exit codes of a run.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitInterrupted = 2
)

// exitError carries the process exit code out of RunE. A silent error has
// already been reported to the user.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func fail(err error) error {
	return &exitError{code: ExitFailure, err: err}
}

func exitSilently(code int) error {
	return &exitError{code: code, silent: true}
}

type options struct {
	noStream       bool
	nonInteractive bool
	failFast       bool
	verbose        bool
	noTimer        bool
	tui            bool
	debug          bool
	tail           int
	interval       time.Duration
	configPath     string
	logFile        string
	metricsFile    string
}

// NewRootCmd builds the concur command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *options) {
	opts := &options{}

	root := &cobra.Command{
		Use:   "concur [flags] [--] COMMAND...",
		Short: "Run commands concurrently and report their results",
		Long: `Run every COMMAND at the same time and report each one in the order given.

Each COMMAND is a single quoted string. It may start with KEY=VALUE
environment overrides. When no COMMAND is given, the commands listed in the
config file are run.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}

	flags := root.Flags()
	flags.BoolVarP(&opts.noStream, "no-stream", "s", false, "Buffer output and report each command after it exits")
	flags.BoolVarP(&opts.nonInteractive, "non-interactive", "n", false, "Disable colors and in-place repainting")
	flags.BoolVarP(&opts.failFast, "fail-fast", "f", false, "Stop reporting at the first failed command (buffered mode)")
	flags.BoolVarP(&opts.verbose, "verbose", "V", false, "Show command arguments in status lines")
	flags.BoolVarP(&opts.noTimer, "no-timer", "t", false, "Hide elapsed time in status lines")
	flags.IntVar(&opts.tail, "tail", render.DefaultTail, "Output lines shown per running command when repainting")
	flags.DurationVar(&opts.interval, "interval", render.DefaultInterval, "Polling and redraw interval")
	flags.BoolVar(&opts.tui, "tui", false, "Show a full-screen dashboard instead of line output")
	flags.StringVar(&opts.configPath, "config", "", "Path to a config file (default ./"+config.DefaultFile+")")
	flags.StringVar(&opts.logFile, "log-file", "", "Append JSON lifecycle events to this file")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	flags.BoolVar(&opts.debug, "debug", false, "Write diagnostics to stderr")

	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, opts
}

// settings layers defaults, the config file, CONCUR_* variables and the
// flags that were set explicitly.
func (o *options) settings(cmd *cobra.Command, getenv func(string) string) (config.Settings, error) {
	settings := config.Defaults()

	dir, err := os.Getwd()
	if err != nil {
		return settings, fmt.Errorf("resolve working directory: %w", err)
	}
	path, err := config.Locate(o.configPath, dir)
	if err != nil {
		return settings, err
	}
	if path != "" {
		doc, err := config.Load(path)
		if err != nil {
			return settings, err
		}
		settings.ApplyFile(doc)
	}
	settings.ApplyEnv(getenv)

	flags := cmd.Flags()
	if flags.Changed("no-stream") {
		settings.Stream = !o.noStream
	}
	if flags.Changed("non-interactive") {
		settings.Interactive = !o.nonInteractive
	}
	if flags.Changed("fail-fast") {
		settings.FailFast = o.failFast
	}
	if flags.Changed("verbose") {
		settings.Verbose = o.verbose
	}
	if flags.Changed("no-timer") {
		settings.Timer = !o.noTimer
	}
	if flags.Changed("debug") {
		settings.Debug = o.debug
	}
	if flags.Changed("tail") {
		if o.tail < 1 {
			return settings, fmt.Errorf("--tail must be at least 1, got %d", o.tail)
		}
		settings.Tail = o.tail
	}
	if flags.Changed("interval") {
		if o.interval <= 0 {
			return settings, fmt.Errorf("--interval must be positive, got %s", o.interval)
		}
		settings.Interval = o.interval
	}
	if flags.Changed("log-file") {
		settings.LogFile = o.logFile
	}
	if flags.Changed("metrics-file") {
		settings.MetricsFile = o.metricsFile
	}
	return settings, nil
}

// Run executes the CLI with args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if !exitErr.silent {
			fmt.Fprintln(stderr, "Error:", exitErr)
		}
		return exitErr.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitFailure
}

// Execute runs the CLI entrypoint and exits the process.
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
