// mock-printer simulates a Marlin-style printer controller on a unix
// socket for testing the streamer without hardware. It speaks the text
// dialect the streamer expects:
//   - every normal instruction is answered with "ok"
//   - M105 is answered with an "ok T:..." temperature report
//   - M104/M140 set heater targets, M106/M107 the fan
//   - M109/M190 block while heating, emitting "echo:busy: processing" and
//     temperature reports until the target is reached
//   - M115 reports a firmware banner
//
// Temperatures drift toward their targets on a background tick so heating
// waits and cooldowns behave like a warm machine.
//
// Usage:
//
//	mock-printer -socket /tmp/serialprint-mock [-ackdelay 50ms] [-trace]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	ambientTemp = 22.0

	// How far from the target counts as "heated" for M109/M190.
	reachedBand = 1.0

	// Heating waits give up after this long so a stuck client cannot hang
	// the connection forever.
	heatTimeout = 60 * time.Second
)

type printerState struct {
	mu             sync.Mutex
	extruder       float64
	extruderTarget float64
	bed            float64
	bedTarget      float64
	fan            float64
}

func newPrinterState() *printerState {
	return &printerState{extruder: ambientTemp, bed: ambientTemp}
}

// step moves each temperature a fraction of the way toward its target.
// A zero target means the heater is off and the part drifts to ambient.
func (p *printerState) step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extruder = approach(p.extruder, heaterGoal(p.extruderTarget))
	p.bed = approach(p.bed, heaterGoal(p.bedTarget))
}

func heaterGoal(target float64) float64 {
	if target <= 0 {
		return ambientTemp
	}
	return target
}

func approach(cur, want float64) float64 {
	diff := want - cur
	if math.Abs(diff) < 0.05 {
		return want
	}
	return cur + diff*0.2
}

func (p *printerState) setExtruderTarget(t float64) {
	p.mu.Lock()
	p.extruderTarget = t
	p.mu.Unlock()
}

func (p *printerState) setBedTarget(t float64) {
	p.mu.Lock()
	p.bedTarget = t
	p.mu.Unlock()
}

func (p *printerState) setFan(v float64) {
	p.mu.Lock()
	p.fan = v
	p.mu.Unlock()
}

// report renders a Marlin temperature report, optionally with the ok prefix.
func (p *printerState) report(acked bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := ""
	if acked {
		prefix = "ok "
	}
	return fmt.Sprintf("%sT:%.1f /%.1f B:%.1f /%.1f @:0 B@:0",
		prefix, p.extruder, p.extruderTarget, p.bed, p.bedTarget)
}

func (p *printerState) extruderReached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return math.Abs(p.extruder-heaterGoal(p.extruderTarget)) <= reachedBand
}

func (p *printerState) bedReached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return math.Abs(p.bed-heaterGoal(p.bedTarget)) <= reachedBand
}

func main() {
	socketPath := flag.String("socket", "/tmp/serialprint-mock", "Unix socket path")
	ackDelay := flag.Duration("ackdelay", 0, "Delay before acknowledging each instruction")
	trace := flag.Bool("trace", false, "Echo the conversation to stdout")
	flag.Parse()

	os.Remove(*socketPath)

	listener, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating socket: %v\n", err)
		os.Exit(1)
	}
	defer listener.Close()
	defer os.Remove(*socketPath)

	fmt.Printf("Mock printer listening on %s\n", *socketPath)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	connCh := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			return
		case conn := <-connCh:
			fmt.Println("Client connected")
			go handleConnection(conn, *ackDelay, *trace)
		}
	}
}

func handleConnection(conn net.Conn, ackDelay time.Duration, trace bool) {
	defer conn.Close()

	// Fresh printer per client so reconnects start cold.
	state := newPrinterState()
	stopCh := make(chan struct{})
	defer close(stopCh)

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				state.step()
			}
		}
	}()

	w := bufio.NewWriter(conn)
	reply := func(line string) {
		if trace {
			fmt.Printf("-> %s\n", line)
		}
		w.WriteString(line)
		w.WriteByte('\n')
		w.Flush()
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if trace {
			fmt.Printf("<- %s\n", line)
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "M105":
			reply(state.report(true))

		case "M104":
			state.setExtruderTarget(sValue(fields))
			reply("ok")

		case "M140":
			state.setBedTarget(sValue(fields))
			reply("ok")

		case "M106":
			state.setFan(sValue(fields))
			reply("ok")

		case "M107":
			state.setFan(0)
			reply("ok")

		case "M109":
			state.setExtruderTarget(sValue(fields))
			waitHeated(state.extruderReached, state, reply)
			reply("ok")

		case "M190":
			state.setBedTarget(sValue(fields))
			waitHeated(state.bedReached, state, reply)
			reply("ok")

		case "M115":
			reply("FIRMWARE_NAME:MockMarlin 1.0 PROTOCOL_VERSION:1.0 MACHINE_TYPE:SerialPrint-Mock EXTRUDER_COUNT:1")
			reply("ok")

		case "G4":
			time.Sleep(dwellDuration(fields))
			reply("ok")

		default:
			if ackDelay > 0 {
				time.Sleep(ackDelay)
			}
			reply("ok")
		}
	}

	fmt.Println("Client disconnected")
}

// waitHeated blocks until reached reports true, sending the busy notice and
// a temperature report every second like Marlin does while holding a
// blocking heat command.
func waitHeated(reached func() bool, state *printerState, reply func(string)) {
	deadline := time.Now().Add(heatTimeout)
	for !reached() && time.Now().Before(deadline) {
		reply("echo:busy: processing")
		reply(state.report(false))
		time.Sleep(time.Second)
	}
}

// sValue extracts the S parameter from an instruction, 0 when absent.
func sValue(fields []string) float64 {
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "S") {
			v, err := strconv.ParseFloat(f[1:], 64)
			if err != nil {
				return 0
			}
			return v
		}
	}
	return 0
}

// dwellDuration reads G4's P (milliseconds) or S (seconds) parameter.
func dwellDuration(fields []string) time.Duration {
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "P") {
			if ms, err := strconv.ParseFloat(f[1:], 64); err == nil {
				return time.Duration(ms * float64(time.Millisecond))
			}
		}
		if strings.HasPrefix(f, "S") {
			if s, err := strconv.ParseFloat(f[1:], 64); err == nil {
				return time.Duration(s * float64(time.Second))
			}
		}
	}
	return 0
}
