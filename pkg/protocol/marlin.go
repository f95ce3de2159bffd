// Package protocol implements the Marlin-style text dialect spoken by the
// printer: command constants, acknowledgement classification, and
// temperature report extraction.
package protocol

import (
	"regexp"
	"strings"
)

// Commands issued by the host.
const (
	// TempRequest asks for a temperature report ("ok T:..." comes back).
	TempRequest = "M105"

	// HelloRequest asks for the firmware banner.
	HelloRequest = "M115"

	// Cooldown commands, sent best-effort on interrupt.
	ExtruderOff = "M104 S0"
	BedOff      = "M140 S0"
	FanOff      = "M106 S0"
)

// Response line markers.
const (
	ackPrefix     = "ok"
	ackTempPrefix = "ok T:"
	tempPrefix    = "T:"
	busyNotice    = "echo:busy: processing"
)

// tempPattern matches one numeric field of a temperature report. Either side
// of the point may be empty; some firmwares emit values like "60." or ".5".
var tempPattern = regexp.MustCompile(`\d*\.\d*`)

// CooldownSequence returns the shutdown commands in the required order:
// extruder heater, bed heater, part fan.
func CooldownSequence() []string {
	return []string{ExtruderOff, BedOff, FanOff}
}

// Status is the printer state as inferred from its responses.
type Status string

const (
	StatusIdle     Status = "Idle"
	StatusPrinting Status = "Printing"
	StatusHeating  Status = "Heating"
)

// TempReport holds one temperature report. Values are the exact numeric text
// sent by the device, never reformatted.
type TempReport struct {
	Extruder       string `json:"extruder"`
	ExtruderTarget string `json:"extruder_target"`
	Bed            string `json:"bed"`
	BedTarget      string `json:"bed_target"`
}

// Response is the classification of one line from the printer.
type Response struct {
	// Ready reports that the device acknowledged the instruction in flight
	// and will accept the next one.
	Ready bool

	// Status is the state transition implied by the line, or empty for no
	// change.
	Status Status

	// Temps is a full replacement temperature report, or nil when the line
	// carried none (including short or garbled reports).
	Temps *TempReport
}

// Parse classifies one line from the printer. The order matters: a
// temperature-poll acknowledgement ("ok T:...") must not be mistaken for the
// acknowledgement of a streamed instruction, so it is checked before the
// bare "ok" prefix.
func Parse(line string) Response {
	line = strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(line, ackTempPrefix):
		return Response{Temps: parseTemps(line)}
	case strings.HasPrefix(line, tempPrefix):
		return Response{Temps: parseTemps(line)}
	case strings.HasPrefix(line, ackPrefix):
		return Response{Ready: true, Status: StatusPrinting}
	case line == busyNotice:
		return Response{Status: StatusHeating}
	}
	return Response{}
}

// parseTemps extracts the four temperature fields in wire order: extruder
// current, extruder target, bed current, bed target. A report with fewer
// than four numeric fields is discarded so a previous good report survives.
func parseTemps(line string) *TempReport {
	matches := tempPattern.FindAllString(line, -1)
	if len(matches) < 4 {
		return nil
	}
	return &TempReport{
		Extruder:       matches[0],
		ExtruderTarget: matches[1],
		Bed:            matches[2],
		BedTarget:      matches[3],
	}
}
