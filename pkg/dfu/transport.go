package dfu

import "io"

// Transport is the duplex byte stream the engine drives: non-blocking-ish
// partial reads are fine (the APL session's deadline handling covers them),
// writes must be complete, and SetSpeed is a no-op on transports (like TCP)
// that have no concept of baud rate.
type Transport interface {
	io.Reader
	io.Writer
	SetSpeed(baud int) error
}
