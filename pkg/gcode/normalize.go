// Package gcode loads G-code programs and normalizes instructions for
// transmission.
package gcode

import "strings"

// commentMarker starts an inline or whole-line comment.
const commentMarker = ";"

// tempRequestPrefix identifies temperature requests. The streamer issues
// these itself on a timer, so any in the program are dropped rather than
// sent twice.
const tempRequestPrefix = "M105"

// Normalize prepares one raw program line for transmission. It returns the
// cleaned instruction and true, or "" and false when the line carries
// nothing to send: blank lines, whole-line comments, temperature requests,
// and lines that are empty once their inline comment is stripped.
//
// Normalize is idempotent and its output never contains the comment marker.
func Normalize(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return "", false
	}
	if strings.HasPrefix(line, commentMarker) {
		return "", false
	}
	if strings.HasPrefix(line, tempRequestPrefix) {
		return "", false
	}

	code, _, _ := strings.Cut(line, commentMarker)
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	return code, true
}
