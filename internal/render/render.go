// Package render reports the progress of a group of supervised commands on a
// terminal or a plain stream.
//
// Two loops are provided. Buffered waits out each command in declaration
// order and prints a complete block per command. Streamed repaints the tail
// of every running command in place on each tick, or streams commands one
// after another when the output is not interactive.
//
// Both loops only use the non-blocking Poll and ReadNew calls of a Source,
// plus its Done channel as the wake-up primitive, and stop as soon as their
// context is cancelled.
package render

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultTail     = 10
	DefaultInterval = 100 * time.Millisecond
)

// Source is one supervised command as seen by a renderer.
type Source interface {
	Name() string
	Args() []string
	Poll() (int, bool)
	ReadNew() ([]byte, error)
	ReadAll() ([]byte, error)
	Elapsed() time.Duration
	Err() error
	Done() <-chan struct{}
}

// Options control both render loops.
type Options struct {
	Out         io.Writer
	Interactive bool
	Verbose     bool
	Timer       bool
	FailFast    bool
	Tail        int
	Interval    time.Duration
	Width       int
	Prefix      string

	// Height is the terminal height in rows. When positive, streamed
	// repaints shrink the per-command tail so the running commands fit on
	// screen. Zero means unknown.
	Height int

	// OnComplete is called once per source when the renderer first observes
	// its completion. Completions seen in one sweep are reported in
	// declaration order.
	OnComplete func(Source)
}

func (o Options) withDefaults() Options {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Tail <= 0 {
		o.Tail = DefaultTail
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	return o
}

func (o Options) style() style {
	return style{color: o.Interactive, width: o.Width}
}

func (o Options) complete(src Source) {
	if o.OnComplete != nil {
		o.OnComplete(src)
	}
}

// Summary prints the closing line of a finished run.
func Summary(opts Options, passed bool) {
	opts = opts.withDefaults()
	fmt.Fprintln(opts.Out, opts.style().summary(passed))
}

// Interrupted prints the banner shown once when the operator cancels a run.
func Interrupted(opts Options) {
	opts = opts.withDefaults()
	s := opts.style()
	if opts.Interactive {
		fmt.Fprint(opts.Out, clearLine+showCursor)
	}
	fmt.Fprintln(opts.Out, s.paint(colorRed, "Interrupt!"))
}

// outputLines returns what a report shows below a status line: the spawn
// failure when the command never started, its captured output otherwise.
func outputLines(src Source, data []byte) []string {
	if err := src.Err(); err != nil {
		return []string{err.Error()}
	}
	return splitLines(data)
}
