package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bfourk/SerialPrint/pkg/printer"
	"github.com/bfourk/SerialPrint/pkg/protocol"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 Seconds"},
		{time.Second, "1 Second"},
		{5 * time.Second, "5 Seconds"},
		{61 * time.Second, "1 Minute, 1 Second"},
		{2 * time.Minute, "2 Minutes, 0 Seconds"},
		{time.Hour, "1 Hour, 0 Seconds"},
		{3661 * time.Second, "1 Hour, 1 Minute, 1 Second"},
		{2*time.Hour + 2*time.Minute + 2*time.Second, "2 Hours, 2 Minutes, 2 Seconds"},
		{-time.Second, "0 Seconds"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func testScreen(cols, rows int) (*Screen, *bytes.Buffer) {
	var buf bytes.Buffer
	s := New(&buf)
	s.size = func() (int, int) { return cols, rows }
	return s, &buf
}

func TestRenderLayout(t *testing.T) {
	s, buf := testScreen(40, 12)

	s.Render(printer.Snapshot{
		Temps: protocol.TempReport{
			Extruder: "60.2", ExtruderTarget: "210.0",
			Bed: "40.1", BedTarget: "60.0",
		},
		Status: protocol.StatusPrinting,
		Job: printer.Progress{
			Instruction: "G1 X10 Y10",
			Elapsed:     65 * time.Second,
		},
	})

	frame := strings.TrimPrefix(buf.String(), clearScreen)
	lines := strings.Split(frame, "\n")

	// Banner, three state lines, filler, elapsed, instruction, bottom rule.
	if len(lines) != 12 {
		t.Fatalf("frame has %d lines, want 12:\n%s", len(lines), frame)
	}
	if len(lines[0]) != 40 || !strings.Contains(lines[0], title) {
		t.Errorf("banner = %q", lines[0])
	}
	if lines[1] != "Status: Printing" {
		t.Errorf("status line = %q", lines[1])
	}
	if lines[2] != "Ext. Temp: 60.2/210.0°C" {
		t.Errorf("extruder line = %q", lines[2])
	}
	if lines[3] != "Bed Temp: 40.1/60.0°C" {
		t.Errorf("bed line = %q", lines[3])
	}
	for i := 4; i < 9; i++ {
		if lines[i] != "" {
			t.Errorf("filler line %d = %q", i, lines[i])
		}
	}
	if lines[9] != "Elapsed: 1 Minute, 5 Seconds" {
		t.Errorf("elapsed line = %q", lines[9])
	}
	if lines[10] != "Inst: G1 X10 Y10" {
		t.Errorf("instruction line = %q", lines[10])
	}
	if lines[11] != strings.Repeat("=", 40) {
		t.Errorf("bottom rule = %q", lines[11])
	}
}

func TestRenderDefaults(t *testing.T) {
	s, buf := testScreen(40, 12)

	s.Render(printer.Snapshot{})

	frame := buf.String()
	if !strings.Contains(frame, "Status: Idle") {
		t.Errorf("zero snapshot status:\n%s", frame)
	}
	if !strings.Contains(frame, "Ext. Temp: 0/0°C") {
		t.Errorf("zero snapshot temps:\n%s", frame)
	}
}

func TestBannerWidths(t *testing.T) {
	for _, cols := range []int{40, 41, 80, 14, 10} {
		var sb strings.Builder
		writeBanner(&sb, cols)
		line := strings.TrimSuffix(sb.String(), "\n")
		if cols >= len(title) && len(line) != cols {
			t.Errorf("cols=%d: banner width %d", cols, len(line))
		}
		if !strings.Contains(line, title) {
			t.Errorf("cols=%d: banner %q lost the title", cols, line)
		}
	}
}

func TestFinish(t *testing.T) {
	s, buf := testScreen(40, 12)
	s.Finish(90 * time.Second)
	if !strings.Contains(buf.String(), "Print finished in 1 Minute, 30 Seconds") {
		t.Errorf("finish output = %q", buf.String())
	}
}
