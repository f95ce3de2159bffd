package printer

import (
	"time"

	"github.com/bfourk/SerialPrint/pkg/protocol"
)

// Progress describes the job's position and counters.
type Progress struct {
	// ID is the identifier assigned to this run.
	ID string `json:"id"`

	// File is the program name.
	File string `json:"file"`

	// Index is the 1-based position of the instruction in flight; Total is
	// the program length.
	Index int `json:"index"`
	Total int `json:"total"`

	// Instruction is the text of the instruction in flight.
	Instruction string `json:"instruction"`

	// Elapsed is the time since the job started.
	Elapsed time.Duration `json:"elapsed"`

	// Counters for the status surface: instructions sent and acknowledged,
	// and temperature polls issued.
	Sent  int `json:"sent"`
	Acked int `json:"acked"`
	Polls int `json:"polls"`
}

// Snapshot is a self-consistent copy of the printer's observed state,
// published to the display and status surfaces. The temperature report is
// always replaced wholesale, so a snapshot never mixes fields from two
// reports.
type Snapshot struct {
	Temps  protocol.TempReport `json:"temps"`
	Status protocol.Status     `json:"status"`
	Job    Progress            `json:"job"`
}
