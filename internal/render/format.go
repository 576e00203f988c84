package render

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// DefaultPrefix marks captured output lines in reports.
const DefaultPrefix = "    => "

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-_]`)

// FormatElapsed renders d as whole hours, minutes and seconds. Leading zero
// buckets are omitted; seconds are always present.
func FormatElapsed(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// splitLines breaks captured output into lines. A trailing newline does not
// produce an empty final line and CRLF endings are folded.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// SanitizeLine makes line safe to repaint in place: escape sequences are
// removed, carriage returns overwrite the start of the line the way a
// terminal would, and tabs become spaces.
func SanitizeLine(line string) string {
	line = ansiSequence.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "\t", "    ")
	if strings.ContainsRune(line, '\r') {
		line = overwrite(line)
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, line)
}

func overwrite(line string) string {
	var buf []rune
	for _, segment := range strings.Split(line, "\r") {
		runes := []rune(segment)
		if len(runes) >= len(buf) {
			buf = runes
			continue
		}
		copy(buf, runes)
	}
	return string(buf)
}

// truncate cuts line to at most width terminal columns. A width of zero or
// less disables truncation.
func truncate(line string, width int) string {
	if width <= 0 || runewidth.StringWidth(line) <= width {
		return line
	}
	return runewidth.Truncate(line, width, "")
}

// tail returns the last n entries of lines.
func tail(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
