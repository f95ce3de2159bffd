// Package display renders the fullscreen job view: a title banner, printer
// status and temperatures, then elapsed time and the instruction in flight
// pinned to the bottom of the terminal.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bfourk/SerialPrint/pkg/printer"
	"github.com/bfourk/SerialPrint/pkg/protocol"
)

const title = "Serial Printer"

// clearScreen wipes the terminal and homes the cursor.
const clearScreen = "\x1b[2J\x1b[H"

// Screen redraws the status view from snapshots. Safe for concurrent use;
// each frame is built off-screen and written in one call.
type Screen struct {
	mu   sync.Mutex
	out  io.Writer
	size func() (cols, rows int)
}

// New creates a screen writing to out. When out is a terminal the layout
// follows its current size, otherwise 80x24 is assumed.
func New(out io.Writer) *Screen {
	return &Screen{
		out:  out,
		size: func() (int, int) { return termSize(out) },
	}
}

func termSize(out io.Writer) (int, int) {
	f, ok := out.(*os.File)
	if !ok {
		return 80, 24
	}
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 || ws.Row == 0 {
		return 80, 24
	}
	return int(ws.Col), int(ws.Row)
}

// Render draws one frame.
func (s *Screen) Render(snap printer.Snapshot) {
	cols, rows := s.size()

	var sb strings.Builder
	sb.WriteString(clearScreen)
	writeBanner(&sb, cols)

	status := snap.Status
	if status == "" {
		status = protocol.StatusIdle
	}
	fmt.Fprintf(&sb, "Status: %s\n", status)
	fmt.Fprintf(&sb, "Ext. Temp: %s/%s°C\n", orZero(snap.Temps.Extruder), orZero(snap.Temps.ExtruderTarget))
	fmt.Fprintf(&sb, "Bed Temp: %s/%s°C\n", orZero(snap.Temps.Bed), orZero(snap.Temps.BedTarget))

	// Push the trailer to the bottom edge. Seven rows are spoken for: the
	// banner, three state lines, elapsed, instruction, and the bottom rule.
	for i := 0; i < rows-7; i++ {
		sb.WriteByte('\n')
	}

	fmt.Fprintf(&sb, "Elapsed: %s\n", FormatDuration(snap.Job.Elapsed))
	fmt.Fprintf(&sb, "Inst: %s\n", snap.Job.Instruction)
	sb.WriteString(strings.Repeat("=", cols))

	s.mu.Lock()
	io.WriteString(s.out, sb.String())
	s.mu.Unlock()
}

// Finish replaces the view with the final runtime line.
func (s *Screen) Finish(total time.Duration) {
	s.mu.Lock()
	fmt.Fprintf(s.out, "%sPrint finished in %s\n", clearScreen, FormatDuration(total))
	s.mu.Unlock()
}

// Clear wipes the view, leaving the cursor at the top.
func (s *Screen) Clear() {
	s.mu.Lock()
	io.WriteString(s.out, clearScreen)
	s.mu.Unlock()
}

// writeBanner centers the title in a rule of = characters. Odd widths give
// the right side the extra column.
func writeBanner(sb *strings.Builder, cols int) {
	left := (cols - len(title)) / 2
	if left < 0 {
		left = 0
	}
	right := left
	if cols%2 != 0 {
		right++
	}
	sb.WriteString(strings.Repeat("=", left))
	sb.WriteString(title)
	sb.WriteString(strings.Repeat("=", right))
	sb.WriteByte('\n')
}

// orZero substitutes "0" before the first temperature report arrives.
func orZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}

// FormatDuration spells a duration out in hours, minutes and seconds,
// dropping leading zero units: "1 Hour, 0 Seconds", "2 Minutes, 5 Seconds".
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var sb strings.Builder
	if hours != 0 {
		fmt.Fprintf(&sb, "%d Hour%s, ", hours, plural(hours))
	}
	if minutes != 0 {
		fmt.Fprintf(&sb, "%d Minute%s, ", minutes, plural(minutes))
	}
	fmt.Fprintf(&sb, "%d Second%s", seconds, plural(seconds))
	return sb.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
