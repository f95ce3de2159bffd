// SerialPrint metric definitions
//
// One struct holding every series the streamer publishes, with typed record
// methods so callers never touch metric names or label keys directly.
//
// Copyright (C) 2026  SerialPrint Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Printer states tracked by the status gauge.
var printerStates = []string{"Idle", "Printing", "Heating"}

// PrintMetrics holds all streamer metrics, registered as a set.
type PrintMetrics struct {
	InstructionsSent  *Counter
	InstructionsAcked *Counter
	TempPolls         *Counter
	Temperature       *Gauge
	PrinterStatus     *Gauge
	JobProgress       *Gauge
	JobElapsed        *Gauge
	HTTPDuration      *Histogram

	// Counter deltas are computed against the previous cumulative report.
	mu        sync.Mutex
	lastSent  int
	lastAcked int
	lastPolls int
}

// NewPrintMetrics creates the metric set and registers it on reg.
func NewPrintMetrics(reg *Registry) *PrintMetrics {
	m := &PrintMetrics{
		InstructionsSent: NewCounter("serialprint_instructions_sent_total",
			"Instructions written to the printer"),
		InstructionsAcked: NewCounter("serialprint_instructions_acked_total",
			"Instructions acknowledged by the printer"),
		TempPolls: NewCounter("serialprint_temperature_polls_total",
			"Temperature requests sent between instructions"),
		Temperature: NewGauge("serialprint_temperature_celsius",
			"Reported temperatures by sensor and kind"),
		PrinterStatus: NewGauge("serialprint_printer_status",
			"Printer state, 1 for the current state"),
		JobProgress: NewGauge("serialprint_job_progress_ratio",
			"Fraction of the program transmitted"),
		JobElapsed: NewGauge("serialprint_job_elapsed_seconds",
			"Time since the job started"),
		HTTPDuration: NewHistogram("serialprint_http_request_duration_seconds",
			"Status server request latency", DefaultBuckets()),
	}
	reg.MustRegister(m.InstructionsSent)
	reg.MustRegister(m.InstructionsAcked)
	reg.MustRegister(m.TempPolls)
	reg.MustRegister(m.Temperature)
	reg.MustRegister(m.PrinterStatus)
	reg.MustRegister(m.JobProgress)
	reg.MustRegister(m.JobElapsed)
	reg.MustRegister(m.HTTPDuration)
	return m
}

// RecordProgress folds one cumulative progress report into the counters and
// gauges. A report with lower counts than the last one is taken as the start
// of a new job.
func (m *PrintMetrics) RecordProgress(sent, acked, polls, index, total int, elapsed time.Duration) {
	m.mu.Lock()
	sentDelta := counterDelta(sent, &m.lastSent)
	ackedDelta := counterDelta(acked, &m.lastAcked)
	pollsDelta := counterDelta(polls, &m.lastPolls)
	m.mu.Unlock()

	m.InstructionsSent.Add(nil, sentDelta)
	m.InstructionsAcked.Add(nil, ackedDelta)
	m.TempPolls.Add(nil, pollsDelta)

	if total > 0 {
		m.JobProgress.Set(nil, float64(index)/float64(total))
	}
	m.JobElapsed.Set(nil, elapsed.Seconds())
}

func counterDelta(current int, last *int) uint64 {
	delta := current - *last
	if delta < 0 {
		delta = current
	}
	*last = current
	return uint64(delta)
}

// RecordTemperatures publishes one temperature report. Fields carry the exact
// device text; anything that does not parse as a number is skipped, leaving
// the previous sample in place.
func (m *PrintMetrics) RecordTemperatures(extruder, extruderTarget, bed, bedTarget string) {
	m.setTemp("extruder", "current", extruder)
	m.setTemp("extruder", "target", extruderTarget)
	m.setTemp("bed", "current", bed)
	m.setTemp("bed", "target", bedTarget)
}

func (m *PrintMetrics) setTemp(sensor, kind, text string) {
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return
	}
	m.Temperature.Set(Labels{"sensor": sensor, "kind": kind}, v)
}

// RecordStatus marks the current printer state. The other known states drop
// to zero so exactly one series reads 1.
func (m *PrintMetrics) RecordStatus(status string) {
	for _, s := range printerStates {
		v := 0.0
		if s == status {
			v = 1
		}
		m.PrinterStatus.Set(Labels{"state": s}, v)
	}
}
