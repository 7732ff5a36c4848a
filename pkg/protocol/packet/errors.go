package packet

import (
	"errors"
	"fmt"
)

var (
	// ErrShortPacket indicates the buffer is shorter than the packet header
	// or the length it announces.
	ErrShortPacket = errors.New("short packet")
	// ErrTooLarge indicates the packet doesn't fit the 16-bit length field.
	ErrTooLarge = errors.New("packet too large")
	// ErrNoEvent indicates a packet without event.
	ErrNoEvent = errors.New("no event")
)

// SerializationError indicates a packet can't be serialized.
type SerializationError struct {
	Type uint16
	Err  error
}

// Error implements error.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize event 0x%04x: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}
