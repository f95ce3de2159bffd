package serial

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestNextLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line string
		rest string
		ok   bool
	}{
		{"simple", "ok\n", "ok", "", true},
		{"crlf", "ok\r\n", "ok", "", true},
		{"two lines", "ok\nT:200.0\n", "ok", "T:200.0\n", true},
		{"partial", "ok T:2", "", "ok T:2", false},
		{"empty", "", "", "", false},
		{"bare newline", "\n", "", "", true},
		{"embedded cr kept", "o\rk\n", "o\rk", "", true},
	}
	for _, tt := range tests {
		line, rest, ok := nextLine([]byte(tt.in))
		if ok != tt.ok || line != tt.line || string(rest) != tt.rest {
			t.Errorf("%s: nextLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.name, tt.in, line, rest, ok, tt.line, tt.rest, tt.ok)
		}
	}
}

// fakeDevice serves one connection on a unix socket for LineConn tests.
type fakeDevice struct {
	ln   net.Listener
	conn net.Conn
}

func newFakeDevice(t *testing.T) (*fakeDevice, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "printer.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeDevice{ln: ln}, path
}

func (d *fakeDevice) accept(t *testing.T) {
	t.Helper()
	conn, err := d.ln.Accept()
	if err != nil {
		t.Errorf("accept: %v", err)
		return
	}
	d.conn = conn
}

func (d *fakeDevice) close() {
	if d.conn != nil {
		d.conn.Close()
	}
	d.ln.Close()
}

func TestLineConnReadWrite(t *testing.T) {
	dev, path := newFakeDevice(t)
	defer dev.close()

	accepted := make(chan struct{})
	go func() {
		dev.accept(t)
		close(accepted)
	}()

	port, err := OpenSocket(path, 2*time.Second)
	if err != nil {
		t.Fatalf("OpenSocket: %v", err)
	}
	conn := NewLineConn(port)
	defer conn.Close()
	<-accepted

	// Two lines in one burst: the second must come from the buffer.
	if _, err := dev.conn.Write([]byte("ok T:200.0 /210.0 B:60.0 /65.0\r\nok\n")); err != nil {
		t.Fatalf("device write: %v", err)
	}

	line, err := conn.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "ok T:200.0 /210.0 B:60.0 /65.0" {
		t.Errorf("first line = %q", line)
	}

	line, err = conn.ReadLine(time.Second)
	if err != nil || line != "ok" {
		t.Errorf("second line = %q, %v; want ok", line, err)
	}

	// Round trip a command.
	if err := conn.WriteLine("M105"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	buf := make([]byte, 16)
	n, err := dev.conn.Read(buf)
	if err != nil {
		t.Fatalf("device read: %v", err)
	}
	if string(buf[:n]) != "M105\n" {
		t.Errorf("device received %q, want M105 with terminator", buf[:n])
	}
}

func TestLineConnTimeoutAndPartial(t *testing.T) {
	dev, path := newFakeDevice(t)
	defer dev.close()

	accepted := make(chan struct{})
	go func() {
		dev.accept(t)
		close(accepted)
	}()

	port, err := OpenSocket(path, 2*time.Second)
	if err != nil {
		t.Fatalf("OpenSocket: %v", err)
	}
	conn := NewLineConn(port)
	defer conn.Close()
	<-accepted

	// Nothing sent yet: timeout.
	if _, err := conn.ReadLine(30 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("quiet read = %v, want ErrTimeout", err)
	}

	// A fragment without a terminator stays buffered.
	if _, err := dev.conn.Write([]byte("echo:busy:")); err != nil {
		t.Fatalf("device write: %v", err)
	}
	if _, err := conn.ReadLine(500 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("partial read = %v, want ErrTimeout", err)
	}

	// Completing the line delivers the whole of it.
	if _, err := dev.conn.Write([]byte(" processing\n")); err != nil {
		t.Fatalf("device write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	var line string
	for time.Now().Before(deadline) {
		line, err = conn.ReadLine(100 * time.Millisecond)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("ReadLine: %v", err)
		}
	}
	if line != "echo:busy: processing" {
		t.Errorf("completed line = %q", line)
	}
}

func TestLineConnCloseIdempotent(t *testing.T) {
	dev, path := newFakeDevice(t)
	defer dev.close()

	accepted := make(chan struct{})
	go func() {
		dev.accept(t)
		close(accepted)
	}()

	port, err := OpenSocket(path, 2*time.Second)
	if err != nil {
		t.Fatalf("OpenSocket: %v", err)
	}
	conn := NewLineConn(port)
	<-accepted

	if err := conn.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := conn.WriteLine("M105"); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close = %v, want ErrClosed", err)
	}
	if _, err := conn.ReadLine(10 * time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Errorf("read after close = %v, want ErrClosed", err)
	}
}
