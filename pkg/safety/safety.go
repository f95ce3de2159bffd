// Package safety owns the interrupt-safe shutdown path: when a job is cut
// short the printer's heaters and fan are turned off best-effort before the
// connection closes, so an abandoned print does not keep a hotend at
// temperature.
package safety

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bfourk/SerialPrint/pkg/log"
	"github.com/bfourk/SerialPrint/pkg/protocol"
)

// Conn is the slice of the serial connection the guard needs.
type Conn interface {
	WriteLine(line string) error
	Close() error
}

// Guard runs the cooldown sequence over a serial connection when the job is
// interrupted. It is safe for concurrent use; Shutdown and Close are
// idempotent and the second caller gets a no-op.
type Guard struct {
	mu     sync.Mutex
	conn   Conn
	logger *log.Logger

	armed      bool
	done       bool
	onShutdown []func()
}

// NewGuard wraps an open connection. The guard starts disarmed: until Arm
// is called an interrupt closes the connection without sending cooldown
// commands.
func NewGuard(conn Conn, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.Default()
	}
	return &Guard{conn: conn, logger: logger}
}

// Arm enables the cooldown sequence. Call once the printer is live, before
// streaming begins.
func (g *Guard) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

// Disarm turns the cooldown sequence back off.
func (g *Guard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = false
}

// OnShutdown registers a callback to run after the connection is torn down.
// Callbacks run once, in registration order, whichever of Shutdown or Close
// gets there first.
func (g *Guard) OnShutdown(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onShutdown = append(g.onShutdown, fn)
}

// Shutdown sends the cooldown sequence and closes the connection. Every
// command is attempted even if an earlier one fails; a half-dead link should
// still get the chance to turn the bed off. Returns the close error, if any.
func (g *Guard) Shutdown() error {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return nil
	}
	g.done = true
	armed := g.armed
	callbacks := make([]func(), len(g.onShutdown))
	copy(callbacks, g.onShutdown)
	g.mu.Unlock()

	if armed {
		// Extruder heater, bed heater, part fan, in that order.
		for _, cmd := range protocol.CooldownSequence() {
			if err := g.conn.WriteLine(cmd); err != nil {
				g.logger.WithError(err).Warn("cooldown %s not delivered", cmd)
			}
		}
		g.logger.Info("cooldown sequence sent")
	}

	err := g.conn.Close()
	for _, fn := range callbacks {
		fn()
	}
	return err
}

// Close tears the connection down without cooling anything, for the normal
// end of a job where the program's own end-of-print commands already ran.
func (g *Guard) Close() error {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return nil
	}
	g.done = true
	callbacks := make([]func(), len(g.onShutdown))
	copy(callbacks, g.onShutdown)
	g.mu.Unlock()

	err := g.conn.Close()
	for _, fn := range callbacks {
		fn()
	}
	return err
}

// NotifyOnInterrupt installs a SIGINT/SIGTERM handler that runs Shutdown and
// exits with code 130. The handler may fire while the driver goroutine is
// mid-exchange; the process exits immediately after the cooldown, so the
// connection is never handed back to the driver.
func (g *Guard) NotifyOnInterrupt() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		g.logger.Warn("caught %s, shutting the printer down", sig)
		if err := g.Shutdown(); err != nil {
			g.logger.WithError(err).Error("shutdown incomplete")
		}
		os.Exit(130)
	}()
}
