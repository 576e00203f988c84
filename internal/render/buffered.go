package render

import (
	"context"
	"fmt"
	"time"
)

// Buffered reports each source in declaration order once it has exited: a
// status line, its full captured output and a blank separator. It reports
// whether every reported source succeeded. When ctx is cancelled it stops
// immediately and returns the context error.
//
// With FailFast the loop stops at the first failure; sources that were not
// reported keep running.
func Buffered(ctx context.Context, sources []Source, opts Options) (bool, error) {
	opts = opts.withDefaults()
	s := opts.style()
	w := opts.Out

	if !opts.Interactive {
		fmt.Fprint(w, "Running commands...\n\n")
	}

	passed := true
	frame := 0
	for _, src := range sources {
		code, err := awaitExit(ctx, src, opts, &frame)
		if err != nil {
			return false, err
		}
		opts.complete(src)

		if opts.Interactive {
			fmt.Fprint(w, clearLine)
		}
		fmt.Fprintln(w, s.status(src, code, opts.Verbose, opts.Timer))

		data, err := src.ReadAll()
		if err != nil {
			return false, fmt.Errorf("read output of %s: %w", src.Name(), err)
		}
		for _, line := range outputLines(src, data) {
			fmt.Fprintln(w, s.output(opts.Prefix, line))
		}
		fmt.Fprintln(w)

		if code != 0 {
			passed = false
			if opts.FailFast {
				break
			}
		}
	}
	return passed, nil
}

// awaitExit blocks until src has exited. Interactive runs repaint the spinner
// on every tick while waiting.
func awaitExit(ctx context.Context, src Source, opts Options, frame *int) (int, error) {
	if code, exited := src.Poll(); exited {
		return code, nil
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		if opts.Interactive {
			fmt.Fprint(opts.Out, clearLine+"Running commands "+spinner(*frame))
			*frame++
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-src.Done():
			code, _ := src.Poll()
			return code, nil
		case <-ticker.C:
		}
	}
}
