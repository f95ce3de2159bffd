// Package printer drives a G-code program over a serial connection, paced
// by the device's acknowledgement protocol.
package printer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bfourk/SerialPrint/pkg/gcode"
	"github.com/bfourk/SerialPrint/pkg/log"
	"github.com/bfourk/SerialPrint/pkg/protocol"
	"github.com/bfourk/SerialPrint/pkg/serial"
)

// Transport is the line-oriented connection the driver streams over.
// *serial.LineConn satisfies it; tests substitute scripted fakes.
type Transport interface {
	WriteLine(line string) error
	ReadLine(timeout time.Duration) (string, error)
	Close() error
}

// Default pacing. The device is polled for temperatures and the snapshot is
// republished once per second; reads time out quickly so the wait loop can
// service both timers between response lines.
const (
	DefaultPollInterval    = time.Second
	DefaultRefreshInterval = time.Second
	DefaultReadTimeout     = 25 * time.Millisecond
)

// JobError reports a transport failure that aborted the job, carrying the
// command that was in flight.
type JobError struct {
	// Line is the source line number in the program, or 0 for commands the
	// driver issued itself.
	Line        int
	Instruction string
	Err         error
}

func (e *JobError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("job failed at line %d (%q): %v", e.Line, e.Instruction, e.Err)
	}
	return fmt.Sprintf("job failed (%q): %v", e.Instruction, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Config adjusts driver pacing and wiring. Zero values take the defaults.
type Config struct {
	PollInterval    time.Duration
	RefreshInterval time.Duration
	ReadTimeout     time.Duration

	// OnSnapshot receives a state copy after each transmission and each
	// refresh tick. Called from the driver goroutine; keep it quick.
	OnSnapshot func(Snapshot)

	Logger *log.Logger
}

// Driver streams one program to the printer. It owns all telemetry state;
// consumers only ever see value snapshots, so no locking is needed.
type Driver struct {
	transport Transport
	prog      *gcode.Program
	cfg       Config
	logger    *log.Logger

	temps    protocol.TempReport
	status   protocol.Status
	progress Progress

	start       time.Time
	lastPoll    time.Time
	lastRefresh time.Time

	now func() time.Time
}

// New creates a driver for one program over an open transport.
func New(t Transport, prog *gcode.Program, cfg Config) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{
		transport: t,
		prog:      prog,
		cfg:       cfg,
		logger:    logger,
		status:    protocol.StatusIdle,
		progress: Progress{
			ID:    uuid.NewString(),
			File:  prog.Name,
			Total: prog.Len(),
		},
		now: time.Now,
	}
}

// JobID returns the identifier assigned to this run.
func (d *Driver) JobID() string {
	return d.progress.ID
}

// Hello sends a firmware-info request and returns the banner line. The
// acknowledgement that follows the banner is consumed here so it cannot be
// mistaken for the first instruction's acknowledgement later.
func (d *Driver) Hello(ctx context.Context, timeout time.Duration) (string, error) {
	if err := d.transport.WriteLine(protocol.HelloRequest); err != nil {
		return "", fmt.Errorf("printer: hello: %w", err)
	}

	var banner string
	deadline := d.now().Add(timeout)
	for d.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := d.transport.ReadLine(d.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			return "", fmt.Errorf("printer: hello: %w", err)
		}
		if protocol.Parse(line).Ready {
			return banner, nil
		}
		if banner == "" && line != "" {
			banner = line
		}
	}
	if banner != "" {
		return banner, nil
	}
	return "", fmt.Errorf("printer: hello: %w", serial.ErrTimeout)
}

// Run streams the whole program and returns the total elapsed time. It
// sends one instruction at a time and waits for the device's
// acknowledgement before the next. Read timeouts mean "no data yet" and are
// absorbed; any other transport error aborts the job with a JobError.
func (d *Driver) Run(ctx context.Context) (time.Duration, error) {
	d.start = d.now()
	d.lastPoll = d.start
	d.lastRefresh = d.start

	d.logger.WithFields(log.Fields{
		"job":          d.progress.ID,
		"file":         d.prog.Name,
		"instructions": d.prog.Len(),
	}).Info("job started")

	for i, inst := range d.prog.Instructions {
		if err := ctx.Err(); err != nil {
			return d.elapsed(), err
		}

		// Out-of-band temperature poll between instructions.
		if d.now().Sub(d.lastPoll) >= d.cfg.PollInterval {
			d.lastPoll = d.now()
			if err := d.transport.WriteLine(protocol.TempRequest); err != nil {
				return d.elapsed(), &JobError{Instruction: protocol.TempRequest, Err: err}
			}
			d.progress.Polls++
		}

		d.progress.Index = i + 1
		d.progress.Instruction = inst.Text
		if err := d.transport.WriteLine(inst.Text); err != nil {
			return d.elapsed(), &JobError{Line: inst.Line, Instruction: inst.Text, Err: err}
		}
		d.progress.Sent++
		d.logger.WithField("line", inst.Line).Debug("sent %s", inst.Text)
		d.publish()

		if err := d.awaitAck(ctx, inst); err != nil {
			return d.elapsed(), err
		}
		d.progress.Acked++
	}

	total := d.elapsed()
	d.logger.WithField("job", d.progress.ID).Info("job complete in %v", total)
	return total, nil
}

// awaitAck consumes response lines until the device is ready for the next
// instruction, keeping the refresh timer serviced while it waits.
func (d *Driver) awaitAck(ctx context.Context, inst gcode.Instruction) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.now().Sub(d.lastRefresh) >= d.cfg.RefreshInterval {
			d.lastRefresh = d.now()
			d.publish()
		}

		line, err := d.transport.ReadLine(d.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			return &JobError{Line: inst.Line, Instruction: inst.Text, Err: err}
		}

		resp := protocol.Parse(line)
		d.apply(resp)
		if resp.Ready {
			return nil
		}
	}
}

// apply folds a classified response into the telemetry state. Temperature
// reports replace all four fields at once.
func (d *Driver) apply(resp protocol.Response) {
	if resp.Temps != nil {
		d.temps = *resp.Temps
	}
	if resp.Status != "" {
		d.status = resp.Status
	}
}

func (d *Driver) publish() {
	if d.cfg.OnSnapshot == nil {
		return
	}
	d.cfg.OnSnapshot(d.snapshot())
}

func (d *Driver) snapshot() Snapshot {
	job := d.progress
	if !d.start.IsZero() {
		job.Elapsed = d.now().Sub(d.start)
	}
	return Snapshot{Temps: d.temps, Status: d.status, Job: job}
}

func (d *Driver) elapsed() time.Duration {
	return d.now().Sub(d.start)
}
