package serial

import (
	"bytes"
	"time"
)

// lineTerminator ends every command sent to the printer.
const lineTerminator = '\n'

// LineConn frames a Port into newline-terminated lines. Incoming bytes
// accumulate in an internal buffer until a full line is available; a partial
// line is never delivered.
type LineConn struct {
	port    *Port
	buf     []byte
	readBuf [512]byte
}

// NewLineConn wraps an open port.
func NewLineConn(p *Port) *LineConn {
	return &LineConn{port: p}
}

// WriteLine writes line followed by the terminator.
func (c *LineConn) WriteLine(line string) error {
	out := make([]byte, 0, len(line)+1)
	out = append(out, line...)
	out = append(out, lineTerminator)
	_, err := c.port.Write(out)
	return err
}

// ReadLine returns the next complete line with the terminator and any
// trailing CR removed. When no complete line arrives within the timeout it
// returns ErrTimeout; buffered partial data is kept for the next call.
func (c *LineConn) ReadLine(timeout time.Duration) (string, error) {
	if line, ok := c.takeLine(); ok {
		return line, nil
	}

	c.port.SetReadTimeout(timeout)
	n, err := c.port.Read(c.readBuf[:])
	if err != nil {
		return "", err
	}
	if n > 0 {
		c.buf = append(c.buf, c.readBuf[:n]...)
		if line, ok := c.takeLine(); ok {
			return line, nil
		}
	}
	return "", ErrTimeout
}

// takeLine extracts one complete line from the buffer.
func (c *LineConn) takeLine() (string, bool) {
	line, rest, ok := nextLine(c.buf)
	if !ok {
		return "", false
	}
	c.buf = rest
	return line, true
}

// Close closes the underlying port. Safe to call more than once.
func (c *LineConn) Close() error {
	return c.port.Close()
}

// Device returns the underlying device path.
func (c *LineConn) Device() string {
	return c.port.Device()
}

// nextLine splits buf at the first terminator, dropping it and a trailing CR.
func nextLine(buf []byte) (line string, rest []byte, ok bool) {
	idx := bytes.IndexByte(buf, lineTerminator)
	if idx < 0 {
		return "", buf, false
	}
	raw := buf[:idx]
	if len(raw) > 0 && raw[len(raw)-1] == '\r' {
		raw = raw[:len(raw)-1]
	}
	return string(raw), buf[idx+1:], true
}
