// Package serial provides the serial connection to the printer controller.
package serial

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrTimeout = errors.New("serial: operation timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyUSB0, /dev/ttyACM0)
	Device string

	// Baud rate (default: 115200)
	BaudRate int

	// Read timeout for individual operations (default: 25ms)
	ReadTimeout time.Duration

	// RTS/DTR control on connect
	RTSOnConnect bool
	DTROnConnect bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BaudRate:     115200,
		ReadTimeout:  25 * time.Millisecond,
		RTSOnConnect: true,
		DTROnConnect: true,
	}
}

// Port is an open serial device or simulator socket.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
	isSocket   bool
}

// ListPorts returns candidate printer device paths.
func ListPorts() ([]string, error) {
	var patterns []string
	switch runtime.GOOS {
	case "linux":
		patterns = []string{
			"/dev/ttyUSB*",
			"/dev/ttyACM*",
		}
	case "darwin":
		patterns = []string{
			"/dev/tty.usbserial*",
			"/dev/tty.usbmodem*",
			"/dev/cu.usbserial*",
			"/dev/cu.usbmodem*",
		}
	default:
		return nil, fmt.Errorf("serial: unsupported platform %s", runtime.GOOS)
	}

	var ports []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports, nil
}

// Open opens a serial device in raw 8N1 mode at the configured baud rate.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 25 * time.Millisecond
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios := *oldTermios

	// Raw mode: no input/output processing, no echo, no signals.
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	speed, customBaud, err := baudRateToSpeed(cfg.BaudRate)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	setSpeed(&termios, speed)

	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	// macOS needs IOSSIOSPEED for rates without a Bnnn constant.
	if customBaud > 0 && runtime.GOOS == "darwin" {
		if err := setCustomBaudRate(fd, customBaud); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("serial: set custom baud rate: %w", err)
		}
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	port := &Port{
		fd:         fd,
		device:     cfg.Device,
		config:     cfg,
		oldTermios: oldTermios,
	}

	if err := port.setModemControl(cfg.RTSOnConnect, cfg.DTROnConnect); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set modem control: %w", err)
	}

	return port, nil
}

// OpenSocket connects to a Unix socket serving a simulated printer
// (see cmd/mock-printer). I/O behaves like a serial port.
func OpenSocket(socketPath string, timeout time.Duration) (*Port, error) {
	if socketPath == "" {
		return nil, errors.New("serial: socket path required")
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: create socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: socketPath}
	deadline := time.Now().Add(timeout)
	var connectErr error
	for time.Now().Before(deadline) {
		connectErr = unix.Connect(fd, addr)
		if connectErr == nil {
			break
		}
		// Socket might not exist yet, wait and retry.
		if errors.Is(connectErr, unix.ENOENT) || errors.Is(connectErr, unix.ECONNREFUSED) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		unix.Close(fd)
		return nil, fmt.Errorf("serial: connect to %s: %w", socketPath, connectErr)
	}
	if connectErr != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: connect timeout to %s: %w", socketPath, connectErr)
	}

	return &Port{
		fd:       fd,
		device:   socketPath,
		config:   Config{ReadTimeout: 25 * time.Millisecond},
		isSocket: true,
	}, nil
}

// IsSocket reports whether this port is a simulator socket.
func (p *Port) IsSocket() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isSocket
}

// Read reads up to len(buf) bytes. A quiet line returns ErrTimeout after the
// configured read timeout; a hung-up or errored descriptor returns io.EOF.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.config.ReadTimeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // Interrupted, try again
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

// Write writes buf to the port.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// Close closes the port, restoring the original termios settings.
// Safe to call more than once.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.oldTermios != nil && !p.isSocket {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.device
}

// SetReadTimeout sets the timeout applied to each Read.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.config.ReadTimeout = d
	p.mu.Unlock()
}

// Flush discards pending input and output, e.g. boot chatter after open.
func (p *Port) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	if p.isSocket {
		return nil
	}
	return unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIOFLUSH)
}

// setModemControl sets RTS and DTR. Many USB adapters don't implement modem
// control; those errors are ignored.
func (p *Port) setModemControl(rts, dtr bool) error {
	if p.isSocket {
		return nil
	}

	var status int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), uintptr(unix.TIOCMGET), uintptr(unsafe.Pointer(&status)))
	if errno != 0 {
		return nil
	}

	if rts {
		status |= unix.TIOCM_RTS
	} else {
		status &^= unix.TIOCM_RTS
	}
	if dtr {
		status |= unix.TIOCM_DTR
	} else {
		status &^= unix.TIOCM_DTR
	}

	_, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), uintptr(unix.TIOCMSET), uintptr(unsafe.Pointer(&status)))
	if errno != 0 {
		return nil
	}
	return nil
}

// setCustomBaudRate sets a custom baud rate on macOS using IOSSIOSPEED.
func setCustomBaudRate(fd int, baud int) error {
	const IOSSIOSPEED = 0x80045402
	return unix.IoctlSetPointerInt(fd, IOSSIOSPEED, baud)
}

// baudRateToSpeed converts a baud rate to a termios speed constant. A
// customBaud > 0 means the rate needs IOSSIOSPEED on macOS.
func baudRateToSpeed(baud int) (speed uint32, customBaud int, err error) {
	speeds := map[int]uint32{
		9600:   unix.B9600,
		19200:  unix.B19200,
		38400:  unix.B38400,
		57600:  unix.B57600,
		115200: unix.B115200,
		230400: unix.B230400,
	}
	if runtime.GOOS == "linux" {
		speeds[250000] = 0x1003 // B250000
		speeds[460800] = 0x1004 // B460800
		speeds[500000] = 0x1005 // B500000
		speeds[921600] = 0x1007 // B921600
		speeds[1000000] = 0x1008
	}

	if s, ok := speeds[baud]; ok {
		return s, 0, nil
	}
	if runtime.GOOS == "linux" {
		// BOTHER allows arbitrary rates.
		return 0x1000 | uint32(baud), 0, nil
	}
	if runtime.GOOS == "darwin" {
		return unix.B9600, baud, nil
	}
	return 0, 0, fmt.Errorf("serial: unsupported baud rate %d", baud)
}
