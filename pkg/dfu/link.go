package dfu

import (
	"context"
	"sync"

	"github.com/librescoot/dfu-tool/pkg/apl"
	"github.com/librescoot/dfu-tool/pkg/lpl"
)

// transportLink adapts a Transport plus the LPL codec into an apl.Link: it
// owns a background read loop that feeds raw bytes into an lpl.Decoder and
// delivers decoded APL packets to whoever is waiting.
type transportLink struct {
	transport Transport
	dec       *lpl.Decoder

	incoming chan []byte
	readErr  chan error
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func newTransportLink(t Transport) *transportLink {
	l := &transportLink{
		transport: t,
		dec:       lpl.NewDecoder(),
		incoming:  make(chan []byte, 4),
		readErr:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.readLoop()
	return l
}

func (l *transportLink) readLoop() {
	defer l.wg.Done()
	buf := make([]byte, 512)
	for {
		n, err := l.transport.Read(buf)
		if err != nil {
			select {
			case l.readErr <- wrapErr(KindConnection, err, "transport read failed"):
			case <-l.stopChan:
			}
			return
		}
		if n == 0 {
			continue
		}

		frames, ferr := l.dec.Feed(buf[:n])
		for _, f := range frames {
			select {
			case l.incoming <- f:
			case <-l.stopChan:
				return
			}
		}
		if ferr != nil {
			// A malformed frame was discarded; the decoder has already
			// resynced to the next delimiter, so keep reading.
			continue
		}
	}
}

// WriteFrame LPL-encodes payload and writes it to the transport.
func (l *transportLink) WriteFrame(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	frame, err := lpl.Encode(payload)
	if err != nil {
		return wrapErr(KindProtocol, err, "encode failed")
	}
	if _, err := l.transport.Write(frame); err != nil {
		return wrapErr(KindConnection, err, "transport write failed")
	}
	return nil
}

// ReadFrame blocks for the next decoded APL packet, a transport error, or
// ctx cancellation, whichever comes first.
func (l *transportLink) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f := <-l.incoming:
		return f, nil
	case err := <-l.readErr:
		return nil, err
	case <-ctx.Done():
		return nil, wrapErr(KindTimeout, ctx.Err(), "read deadline exceeded")
	}
}

// Close stops the read loop and waits for it to exit.
func (l *transportLink) Close() {
	close(l.stopChan)
	l.wg.Wait()
}

var _ apl.Link = (*transportLink)(nil)
