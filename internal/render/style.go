package render

import (
	"strings"
)

const (
	glyphSuccess = "✓"
	glyphFailure = "✗"

	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorBold  = "\033[1m"
	colorMuted = "\033[38;5;245m"

	eraseLine  = "\033[1F\033[2K"
	clearLine  = "\r\033[2K"
	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"
)

var spinnerFrames = []string{"/", "-", "\\", "|"}

// style decorates report tokens. Colors are only emitted when enabled, which
// keeps non-interactive output byte-for-byte predictable.
type style struct {
	color bool
	width int
}

// statusRoom is the widest suffix a status line adds after the label.
const statusRoom = 26

func (s style) paint(code, text string) string {
	if !s.color || text == "" {
		return text
	}
	return code + text + colorReset
}

func (s style) name(src Source, verbose bool) string {
	label := src.Name()
	if verbose && len(src.Args()) > 0 {
		label += " " + strings.Join(src.Args(), " ")
	}
	if s.width > statusRoom {
		label = truncate(label, s.width-statusRoom)
	}
	return "[" + s.paint(colorBold, label) + "]"
}

func (s style) running(src Source, verbose bool) string {
	return s.name(src, verbose) + " running... "
}

// status renders the final line of a completed source.
func (s style) status(src Source, code int, verbose, timer bool) string {
	var b strings.Builder
	b.WriteString(s.name(src, verbose))
	if code == 0 {
		b.WriteString(" done ")
		b.WriteString(s.paint(colorGreen, glyphSuccess))
	} else {
		b.WriteString(" failed ")
		b.WriteString(s.paint(colorRed, glyphFailure))
	}
	if timer {
		b.WriteString(" (")
		b.WriteString(FormatElapsed(src.Elapsed()))
		b.WriteString(")")
	}
	return b.String()
}

func (s style) output(prefix, line string) string {
	return s.paint(colorMuted, prefix) + line
}

func (s style) summary(passed bool) string {
	if passed {
		return s.paint(colorGreen, "Success!")
	}
	return s.paint(colorRed, "A command failed!")
}

func spinner(frame int) string {
	return spinnerFrames[frame%len(spinnerFrames)]
}
