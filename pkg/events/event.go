package events

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/protobuf/proto"
)

// HeaderLen is the size of the length and type header of a serialized event.
const HeaderLen = 4

// MaxLength is the largest serialized event.
const MaxLength = 0xffff

// Event is an application event carried in a packet.
type Event interface {
	// Type returns the numeric type tag.
	Type() uint16
	// Serialize encodes the event including its header.
	Serialize() ([]byte, error)
}

// Decoder reconstructs an event from its serialized form.
type Decoder interface {
	DecodeEvent(buf []byte) (Event, error)
}

// DecodeEventFunc is func form of Decoder.
type DecodeEventFunc func([]byte) (Event, error)

// DecodeEvent implements Decoder.
func (f DecodeEventFunc) DecodeEvent(buf []byte) (Event, error) {
	return f(buf)
}

// SerializableEvent is an event whose body is a protobuf message.
type SerializableEvent interface {
	Event
	// NewEvent creates an empty event of the same type.
	NewEvent() SerializableEvent
	// Body returns the message carrying the event payload.
	Body() proto.Message
}

var (
	// ErrTruncated indicates the buffer is shorter than the event it announces.
	ErrTruncated = errors.New("truncated event")
	// ErrTooLarge indicates the event doesn't fit the 16-bit length field.
	ErrTooLarge = errors.New("event too large")
)

// ErrUnknownType indicates no event is registered for the type tag.
type ErrUnknownType struct {
	Type uint16
}

// Error implements error.
func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown event type: 0x%04x", e.Type)
}

// Length reads the total event length from the header.
func Length(buf []byte) (int, error) {
	if len(buf) < HeaderLen {
		return 0, ErrTruncated
	}
	return int(binary.LittleEndian.Uint16(buf)), nil
}

// TypeOf reads the type tag from the header.
func TypeOf(buf []byte) (uint16, error) {
	if len(buf) < HeaderLen {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint16(buf[2:]), nil
}

// Marshal serializes an event with a protobuf body.
func Marshal(ev SerializableEvent) ([]byte, error) {
	body, err := proto.Marshal(ev.Body())
	if err != nil {
		return nil, err
	}
	size := HeaderLen + len(body)
	if size > MaxLength {
		return nil, ErrTooLarge
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf, uint16(size))
	binary.LittleEndian.PutUint16(buf[2:], ev.Type())
	copy(buf[HeaderLen:], body)
	return buf, nil
}

// Equal reports whether two events have the same type and body.
func Equal(a, b Event) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}
	sa, okA := a.(SerializableEvent)
	sb, okB := b.(SerializableEvent)
	if okA && okB {
		return proto.Equal(sa.Body(), sb.Body())
	}
	ba, errA := a.Serialize()
	bb, errB := b.Serialize()
	return errA == nil && errB == nil && string(ba) == string(bb)
}
