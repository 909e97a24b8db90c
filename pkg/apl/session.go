package apl

import (
	"context"
	"errors"
	"fmt"
)

const (
	// MaxRetries is the number of times a single request is resent before
	// the session gives up and attempts a reconnect.
	MaxRetries = 3

	// MaxReconnects is the number of whole-session reconnect attempts
	// allowed before a request finally fails.
	MaxReconnects = 3
)

// Link is the framed transport a Session drives requests over. It is
// expected to already speak LPL: WriteFrame hands it one decoded APL
// packet to encode and send, ReadFrame blocks for the next decoded APL
// packet (or ctx cancellation / transport error).
type Link interface {
	WriteFrame(payload []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Reconnector recreates the underlying link after MaxRetries is exhausted.
// Implementations typically close and reopen the transport and replay
// whatever bootloader handshake is required.
type Reconnector func(ctx context.Context) (Link, error)

// RequestBuilder serializes a request packet for blockNumber. A retried send
// re-invokes the builder with the same block number, so the wire bytes of a
// retry are identical to the original send.
type RequestBuilder func(blockNumber uint16) []byte

// Session drives the half-duplex request/response protocol: at most one
// request outstanding at a time, retried on timeout, with a bounded number
// of whole-link reconnects if retries are exhausted. This mirrors the
// attempt-budget retry loop used to talk to the bootloader serial link,
// generalized here to the block-numbered request/response packets.
//
// Session owns the monotonic block_number counter for its entire lifetime;
// a Session is created once per update session and its counter starts at
// (and, on a fresh NewSession, is) zero.
type Session struct {
	id   uint8
	link Link

	reconnect Reconnector
	inFlight  bool

	blockNumber uint16
}

// NewSession wraps link for a given session id. reconnect may be nil if the
// caller never wants automatic reconnection (reconnect failures then simply
// surface as ErrReconnectsExhausted on the first retry exhaustion).
func NewSession(id uint8, link Link, reconnect Reconnector) *Session {
	return &Session{id: id, link: link, reconnect: reconnect}
}

// BlockNumber returns the block number the session is currently waiting to
// advance past (i.e. the block number of the next request it will send).
func (s *Session) BlockNumber() uint16 { return s.blockNumber }

// SendAndAwait builds and sends a request packet via build, and blocks for
// the matching response, retrying on timeout/mismatch and reconnecting the
// link if retries are exhausted. It returns the decoded response Packet
// (Data or Ack) and advances the session's block number counter on success.
func (s *Session) SendAndAwait(ctx context.Context, build RequestBuilder) (Packet, error) {
	if s.inFlight {
		return Packet{}, ErrHalfDuplexViolation
	}
	s.inFlight = true
	defer func() { s.inFlight = false }()

	reconnects := 0
	for {
		resp, err := s.sendWithRetries(ctx, build)
		if err == nil {
			s.blockNumber = NextBlockNumber(s.blockNumber)
			return resp, nil
		}
		if !errors.Is(err, ErrRetriesExhausted) {
			return Packet{}, err
		}
		if s.reconnect == nil || reconnects >= MaxReconnects {
			return Packet{}, fmt.Errorf("%w: %w", ErrReconnectsExhausted, err)
		}

		reconnects++
		newLink, rerr := s.reconnect(ctx)
		if rerr != nil {
			if reconnects >= MaxReconnects {
				return Packet{}, fmt.Errorf("%w: %w", ErrReconnectsExhausted, rerr)
			}
			continue
		}
		s.link = newLink
	}
}

func (s *Session) sendWithRetries(ctx context.Context, build RequestBuilder) (Packet, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if err := s.link.WriteFrame(build(s.blockNumber)); err != nil {
			lastErr = err
			continue
		}

		resp, err := s.awaitMatchingResponse(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Packet{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
	}
	return Packet{}, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// awaitMatchingResponse reads one frame and dispatches it per handleData/
// handleAck/handleError/"any other type": a block number mismatch or an
// unexpected packet type is surfaced immediately as an error rather than
// silently waiting for a better frame, so a genuine desync fails fast
// instead of hanging until ctx's deadline.
func (s *Session) awaitMatchingResponse(ctx context.Context) (Packet, error) {
	raw, err := s.link.ReadFrame(ctx)
	if err != nil {
		return Packet{}, err
	}
	pkt, err := ParsePacket(raw)
	if err != nil {
		// Malformed packet: per the protocol's InvalidPacket handling,
		// this counts as a failed attempt rather than a fatal error.
		return Packet{}, err
	}

	switch pkt.Type {
	case Data:
		if pkt.BlockNumber != s.blockNumber {
			return Packet{}, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedBlockNumber, pkt.BlockNumber, s.blockNumber)
		}
		// handleData: a matching Data packet is acked immediately so the
		// peer can advance, before the payload is surfaced to the caller.
		if err := s.link.WriteFrame(EncodeAck(s.id, s.blockNumber)); err != nil {
			return Packet{}, err
		}
		return pkt, nil
	case Ack:
		if pkt.BlockNumber != s.blockNumber {
			return Packet{}, fmt.Errorf("%w: got %d, want %d", ErrInvalidAck, pkt.BlockNumber, s.blockNumber)
		}
		return pkt, nil
	case Error:
		return pkt, &RemoteError{Code: pkt.ErrorCode, Message: pkt.ErrorMessage}
	default:
		return Packet{}, fmt.Errorf("%w: %s", ErrUnsupportedMessage, pkt.Type)
	}
}

// NextBlockNumber returns n+1, wrapping per the 16-bit block number field.
func NextBlockNumber(n uint16) uint16 {
	return n + 1
}
