// Package transport constructs the duplex byte streams the update engine
// drives: a serial port or a TCP socket, selected by URI.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.bug.st/serial"

	"github.com/librescoot/dfu-tool/pkg/dfu"
)

// Open parses uri and dials the corresponding transport. Recognized schemes
// are "serial" (path in the host+path portion, e.g. "serial:///dev/ttyUSB0")
// and "tcp" (host:port, e.g. "tcp://192.0.2.1:4000"). baud is only used for
// the serial scheme.
func Open(ctx context.Context, uri string, baud int) (dfu.Transport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case "serial":
		path := u.Host + u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("transport: serial uri %q has no device path", uri)
		}
		return OpenSerial(path, baud)
	case "tcp":
		return DialTCP(ctx, u.Host)
	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

// serialTransport wraps go.bug.st/serial.Port to satisfy dfu.Transport,
// including a real SetSpeed that reconfigures the open port at the new
// baud rate.
type serialTransport struct {
	port serial.Port
	path string
}

// OpenSerial opens path at baud 8N1, no flow control, matching the mode
// bootloaders on this kind of embedded link expect.
func OpenSerial(path string, baud int) (dfu.Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open serial port %s: %w", path, err)
	}
	return &serialTransport{port: port, path: path}, nil
}

func (s *serialTransport) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }

// SetSpeed reconfigures the already-open port at the new baud rate.
func (s *serialTransport) SetSpeed(baud int) error {
	return s.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// tcpTransport wraps a net.Conn. SetSpeed is a documented no-op: TCP has no
// baud rate to change.
type tcpTransport struct {
	conn net.Conn
}

// DialTCP connects to addr (host:port) with a short connect timeout.
func DialTCP(ctx context.Context, addr string) (dfu.Transport, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to dial %s: %w", addr, err)
	}
	return &tcpTransport{conn: conn}, nil
}

func (t *tcpTransport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *tcpTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *tcpTransport) SetSpeed(int) error           { return nil }
