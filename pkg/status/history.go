package status

import (
	"sync"
)

// JobRecord is one finished job. Times follow the convention of unix seconds
// as floats so dashboard code can consume them without date parsing.
type JobRecord struct {
	ID           string  `json:"id"`
	File         string  `json:"file"`
	Status       string  `json:"status"`
	Error        string  `json:"error,omitempty"`
	StartTime    float64 `json:"start_time"`
	Duration     float64 `json:"total_duration"`
	Instructions int     `json:"instructions"`
}

// Job status values.
const (
	JobCompleted   = "completed"
	JobFailed      = "failed"
	JobInterrupted = "interrupted"
)

// History keeps finished jobs in memory, most recent first, capped at max.
type History struct {
	mu   sync.RWMutex
	jobs []JobRecord
	max  int
}

// NewHistory creates a history holding at most max records.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 100
	}
	return &History{max: max}
}

// Record adds a finished job at the front, evicting the oldest past the cap.
func (h *History) Record(rec JobRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.jobs = append([]JobRecord{rec}, h.jobs...)
	if len(h.jobs) > h.max {
		h.jobs = h.jobs[:h.max]
	}
}

// Jobs returns a copy of the records, most recent first.
func (h *History) Jobs() []JobRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	jobs := make([]JobRecord, len(h.jobs))
	copy(jobs, h.jobs)
	return jobs
}

// Totals aggregates the recorded jobs.
type Totals struct {
	TotalJobs      int     `json:"total_jobs"`
	CompletedJobs  int     `json:"completed_jobs"`
	TotalTime      float64 `json:"total_time"`
	LongestJob     float64 `json:"longest_job"`
	InstructionSum int     `json:"total_instructions"`
}

// Totals computes aggregate statistics over the kept records.
func (h *History) Totals() Totals {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var t Totals
	for _, job := range h.jobs {
		t.TotalJobs++
		if job.Status == JobCompleted {
			t.CompletedJobs++
		}
		t.TotalTime += job.Duration
		if job.Duration > t.LongestJob {
			t.LongestJob = job.Duration
		}
		t.InstructionSum += job.Instructions
	}
	return t
}
