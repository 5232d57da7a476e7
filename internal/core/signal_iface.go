package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a raw encoded payload.
type Frame []byte

// SignalConnection abstracts the event transport of one connection.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks; ErrBackpressure means the outbound buffer is full.
	TrySend(Frame) error
	Close()
}
