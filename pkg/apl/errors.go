package apl

import "errors"

var (
	// ErrTimeout is returned when ctx's deadline expires while a request is
	// awaiting its response, after any retries the remaining time allowed.
	ErrTimeout = errors.New("apl: request timed out")

	// ErrRetriesExhausted is returned when a request was retried the
	// maximum number of times without success.
	ErrRetriesExhausted = errors.New("apl: retries exhausted")

	// ErrReconnectsExhausted is returned when every reconnect attempt in a
	// session failed to recover communication.
	ErrReconnectsExhausted = errors.New("apl: reconnects exhausted")

	// ErrUnexpectedBlockNumber is handleData's mismatch error: a Data packet
	// arrived carrying a block number other than the one the session is
	// waiting on.
	ErrUnexpectedBlockNumber = errors.New("apl: invalid block number")

	// ErrInvalidAck is handleAck's mismatch error: an Ack packet arrived
	// carrying a block number other than the one the session is waiting on.
	ErrInvalidAck = errors.New("apl: invalid ack block number")

	// ErrUnsupportedMessage is returned when a packet is of a type a
	// response can never legitimately be (None, ReadRequest, WriteRequest),
	// whatever its block number.
	ErrUnsupportedMessage = errors.New("apl: unsupported message type")

	// ErrHalfDuplexViolation guards the no-pipelining invariant: a caller
	// tried to issue a second request before the first was resolved.
	ErrHalfDuplexViolation = errors.New("apl: request already in flight")
)

// RemoteError wraps an Error packet returned by the peer.
type RemoteError struct {
	Code    uint8
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "apl: remote error"
}
