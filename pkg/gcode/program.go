package gcode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Instruction is one transmittable line of a program.
type Instruction struct {
	// Line is the 1-based line number in the source file, for failure
	// reports.
	Line int

	// Text is the normalized instruction as it goes on the wire (without
	// the terminator).
	Text string
}

// Program is an ordered sequence of instructions loaded from a file. An
// empty program is valid; streaming it completes immediately.
type Program struct {
	Name         string
	Instructions []Instruction

	// Discarded counts source lines dropped by normalization.
	Discarded int
}

// Load reads and normalizes a G-code file.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gcode: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, filepath.Base(path))
}

// Parse reads and normalizes a G-code program from r.
func Parse(r io.Reader, name string) (*Program, error) {
	prog := &Program{Name: name}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		text, ok := Normalize(scanner.Text())
		if !ok {
			prog.Discarded++
			continue
		}
		prog.Instructions = append(prog.Instructions, Instruction{Line: lineNum, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gcode: read %s: %w", name, err)
	}
	return prog, nil
}

// Len returns the number of transmittable instructions.
func (p *Program) Len() int {
	return len(p.Instructions)
}
