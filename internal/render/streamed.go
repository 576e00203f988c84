package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// Streamed reports sources while they run. Interactive output repaints the
// tail of every running source in place on each tick; otherwise sources are
// streamed one after another in declaration order. It reports whether every
// source succeeded. When ctx is cancelled it stops immediately and returns
// the context error.
func Streamed(ctx context.Context, sources []Source, opts Options) (bool, error) {
	opts = opts.withDefaults()
	if opts.Interactive {
		return streamInteractive(ctx, sources, opts)
	}
	return streamPlain(ctx, sources, opts)
}

func streamInteractive(ctx context.Context, sources []Source, opts Options) (bool, error) {
	w := opts.Out
	p := newPainter(sources, opts)

	fmt.Fprint(w, hideCursor)
	defer fmt.Fprint(w, showCursor)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		if err := p.sweep(); err != nil {
			return false, err
		}
		fmt.Fprint(w, p.paint().text)
		if p.finished() {
			return p.passed(), nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func streamPlain(ctx context.Context, sources []Source, opts Options) (bool, error) {
	s := opts.style()
	w := opts.Out
	fmt.Fprint(w, "Running commands...\n\n")

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	passed := true
	for _, src := range sources {
		fmt.Fprintln(w, s.running(src, opts.Verbose))
		var pending lineBuffer
		for {
			code, exited := src.Poll()
			data, err := src.ReadNew()
			if err != nil {
				return false, fmt.Errorf("read output of %s: %w", src.Name(), err)
			}
			for _, line := range pending.feed(data) {
				fmt.Fprintln(w, s.output(opts.Prefix, line))
			}
			if exited {
				for _, line := range append(pending.flush(), outputLines(src, nil)...) {
					fmt.Fprintln(w, s.output(opts.Prefix, line))
				}
				opts.complete(src)
				fmt.Fprintln(w, s.status(src, code, opts.Verbose, opts.Timer))
				fmt.Fprintln(w)
				if code != 0 {
					passed = false
				}
				break
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-src.Done():
			case <-ticker.C:
			}
		}
	}
	return passed, nil
}

// lineBuffer splits a byte stream into complete lines, holding back a
// trailing partial line until more data or flush.
type lineBuffer struct {
	partial []byte
}

func (b *lineBuffer) feed(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	b.partial = append(b.partial, data...)
	idx := bytes.LastIndexByte(b.partial, '\n')
	if idx < 0 {
		return nil
	}
	lines := splitLines(b.partial[:idx+1])
	b.partial = append(b.partial[:0], b.partial[idx+1:]...)
	return lines
}

func (b *lineBuffer) flush() []string {
	if len(b.partial) == 0 {
		return nil
	}
	line := strings.TrimSuffix(string(b.partial), "\r")
	b.partial = b.partial[:0]
	return []string{line}
}

// track is the repaint state of one source.
type track struct {
	src     Source
	pending lineBuffer
	lines   []string
	code    int
	exited  bool
}

func (t *track) keep(lines []string, n int) {
	for _, line := range lines {
		t.lines = append(t.lines, SanitizeLine(line))
	}
	if len(t.lines) > n {
		t.lines = append(t.lines[:0], t.lines[len(t.lines)-n:]...)
	}
}

// visible returns the tail shown under the header, including a partial line
// that has not been terminated yet.
func (t *track) visible(n int) []string {
	if len(t.pending.partial) == 0 {
		return tail(t.lines, n)
	}
	all := append(append([]string(nil), t.lines...), SanitizeLine(string(t.pending.partial)))
	return tail(all, n)
}

// frame is the text written by one repaint along with its line accounting.
type frame struct {
	text      string
	erased    int
	committed int
	live      int
}

// painter composes in-place repaints. Sources that completed at the head of
// declaration order are committed: printed once more as a permanent record
// and never erased again. Everything after them is the live region, which
// the next repaint erases line by line before printing it anew. When the
// terminal height is known the live region never exceeds Height-1 rows.
type painter struct {
	opts      Options
	style     style
	tracks    []*track
	committed int
	live      int
	spin      int
}

func newPainter(sources []Source, opts Options) *painter {
	p := &painter{opts: opts, style: opts.style()}
	for _, src := range sources {
		p.tracks = append(p.tracks, &track{src: src})
	}
	return p
}

// sweep polls and then reads every source that has not completed yet, in
// declaration order. Polling first guarantees the read of an exited source
// observes all of its output.
func (p *painter) sweep() error {
	for _, t := range p.tracks[p.committed:] {
		if t.exited {
			continue
		}
		code, exited := t.src.Poll()
		data, err := t.src.ReadNew()
		if err != nil {
			return fmt.Errorf("read output of %s: %w", t.src.Name(), err)
		}
		t.keep(t.pending.feed(data), p.opts.Tail)
		if exited {
			t.keep(t.pending.flush(), p.opts.Tail)
			t.keep(outputLines(t.src, nil), p.opts.Tail)
			t.code = code
			t.exited = true
			p.opts.complete(t.src)
		}
	}
	return nil
}

func (p *painter) paint() frame {
	var b strings.Builder
	f := frame{erased: p.live}
	b.WriteString(strings.Repeat(eraseLine, p.live))

	for p.committed < len(p.tracks) && p.tracks[p.committed].exited {
		for _, line := range p.region(p.tracks[p.committed], p.opts.Tail, false) {
			b.WriteString(line)
			b.WriteByte('\n')
			f.committed++
		}
		p.committed++
	}

	if p.committed < len(p.tracks) {
		live := p.tracks[p.committed:]
		tail, shown, compact := p.budget(len(live))
		for _, t := range live[:shown] {
			for _, line := range p.region(t, tail, compact) {
				b.WriteString(line)
				b.WriteByte('\n')
				f.live++
			}
		}
		if hidden := len(live) - shown; hidden > 0 {
			b.WriteString(p.style.paint(colorMuted, fmt.Sprintf("(%d more running)", hidden)) + "\n")
			f.live++
		}
		b.WriteString("Running commands " + spinner(p.spin) + "\n")
		f.live++
		p.spin++
	}

	p.live = f.live
	f.text = b.String()
	return f
}

// budget decides how many output lines each of n live regions shows and how
// many regions are shown, so that the live region stays within Height-1 rows.
// A compact region is a header without output or separator. Without a known
// height every region shows the full tail.
func (p *painter) budget(n int) (tail, shown int, compact bool) {
	if p.opts.Height <= 0 {
		return p.opts.Tail, n, false
	}
	rows := p.opts.Height - 2
	if per := rows / n; per >= 2 {
		return min(p.opts.Tail, per-2), n, false
	}
	if n <= rows {
		return 0, n, true
	}
	return 0, max(rows-1, 0), true
}

func (p *painter) region(t *track, tail int, compact bool) []string {
	header := p.style.running(t.src, p.opts.Verbose)
	if t.exited {
		header = p.style.status(t.src, t.code, p.opts.Verbose, p.opts.Timer)
	}
	lines := []string{header}
	if compact {
		return lines
	}
	room := 0
	if p.opts.Width > 0 {
		room = max(p.opts.Width-runewidth.StringWidth(p.opts.Prefix), 1)
	}
	for _, line := range t.visible(tail) {
		lines = append(lines, p.style.output(p.opts.Prefix, truncate(line, room)))
	}
	return append(lines, "")
}

func (p *painter) finished() bool {
	return p.committed == len(p.tracks)
}

func (p *painter) passed() bool {
	for _, t := range p.tracks {
		if t.code != 0 {
			return false
		}
	}
	return true
}
