// Package packet implements the addressed event packet exchanged between nodes.
package packet

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/robotalks/evbus/pkg/events"
)

// NullAddress marks the absence of a specific receiver.
const NullAddress uint32 = 0xffffffff

// Header sizes
const (
	// MultiTargetHeaderLen is the header size of a multi-target packet.
	MultiTargetHeaderLen = 7
	// UnicastHeaderLen is the header size of a unicast packet.
	UnicastHeaderLen = 11
	// MaxLength is the largest packet the length field can describe.
	MaxLength = 0xffff
)

// Flag bits
const (
	FlagMultiTarget byte = 0x80
	FlagCommand     byte = 0x40
)

// EventPacket wraps an event with addressing information.
// It's never modified after creation and can be shared by reference.
type EventPacket struct {
	multiTarget bool
	command     bool
	sender      uint32
	receiver    uint32
	event       events.Event
	err         error

	encodeOnce sync.Once
	encoded    []byte
	encodeErr  error
}

// New creates a packet. It's multi-target when receiver is NullAddress.
func New(ev events.Event, sender, receiver uint32, command bool) *EventPacket {
	return &EventPacket{
		multiTarget: receiver == NullAddress,
		command:     command,
		sender:      sender,
		receiver:    receiver,
		event:       ev,
	}
}

// NewBroadcast creates a multi-target notification packet.
func NewBroadcast(ev events.Event, sender uint32) *EventPacket {
	return New(ev, sender, NullAddress, false)
}

// IsMultiTarget indicates the packet is addressed to every receiver.
func (p *EventPacket) IsMultiTarget() bool { return p.multiTarget }

// IsCommand indicates the packet is a directive rather than a notification.
func (p *EventPacket) IsCommand() bool { return p.command }

// Sender returns the address of the originating node.
func (p *EventPacket) Sender() uint32 { return p.sender }

// Receiver returns the receiver address, NullAddress for multi-target packets.
func (p *EventPacket) Receiver() uint32 { return p.receiver }

// Event returns the embedded event, nil when malformed.
func (p *EventPacket) Event() events.Event { return p.event }

// Malformed indicates the embedded event couldn't be decoded.
func (p *EventPacket) Malformed() bool { return p.event == nil }

// Err explains why the packet is malformed.
func (p *EventPacket) Err() error {
	if p.event == nil && p.err == nil {
		return ErrNoEvent
	}
	return p.err
}

// EventType returns the type tag of the event, 0 when malformed.
func (p *EventPacket) EventType() uint16 {
	if p.event == nil {
		return 0
	}
	return p.event.Type()
}

// String implements fmt.Stringer.
func (p *EventPacket) String() string {
	if p.Malformed() {
		return fmt.Sprintf("packet(malformed: %v)", p.Err())
	}
	return fmt.Sprintf("packet(multi_target=%t, command=%t, sender=0x%08x, receiver=0x%08x, event_type=0x%04x)",
		p.multiTarget, p.command, p.sender, p.receiver, p.event.Type())
}

// Serialize encodes the packet for transmission. The packet is encoded once
// and the same buffer is returned to every caller, it must not be modified.
func (p *EventPacket) Serialize() ([]byte, error) {
	p.encodeOnce.Do(func() {
		p.encoded, p.encodeErr = p.encode()
	})
	return p.encoded, p.encodeErr
}

func (p *EventPacket) encode() ([]byte, error) {
	if p.event == nil {
		return nil, &SerializationError{Err: p.Err()}
	}
	ev, err := p.event.Serialize()
	if err != nil {
		return nil, &SerializationError{Type: p.event.Type(), Err: err}
	}
	size, err := events.Length(ev)
	if err != nil || size != len(ev) {
		return nil, &SerializationError{Type: p.event.Type(), Err: events.ErrTruncated}
	}
	offset := UnicastHeaderLen
	if p.multiTarget {
		offset = MultiTargetHeaderLen
	}
	if offset+size > MaxLength {
		return nil, &SerializationError{Type: p.event.Type(), Err: ErrTooLarge}
	}
	buf := make([]byte, offset+size)
	binary.LittleEndian.PutUint16(buf, uint16(len(buf)))
	if p.multiTarget {
		buf[2] |= FlagMultiTarget
	}
	if p.command {
		buf[2] |= FlagCommand
	}
	binary.LittleEndian.PutUint32(buf[3:], p.sender)
	if !p.multiTarget {
		binary.LittleEndian.PutUint32(buf[7:], p.receiver)
	}
	copy(buf[offset:], ev)
	return buf, nil
}

// Length reads the total packet length from a serialized packet.
func Length(buf []byte) (int, bool) {
	if len(buf) < 2 {
		return 0, false
	}
	return int(binary.LittleEndian.Uint16(buf)), true
}

// Deserialize decodes a packet. It never fails: a packet that can't be
// decoded is returned malformed with Err set.
func Deserialize(buf []byte, dec events.Decoder) *EventPacket {
	p := &EventPacket{receiver: NullAddress}
	if len(buf) < MultiTargetHeaderLen {
		p.err = ErrShortPacket
		return p
	}
	size, _ := Length(buf)
	if size < MultiTargetHeaderLen || size > len(buf) {
		p.err = ErrShortPacket
		return p
	}
	buf = buf[:size]
	p.multiTarget = buf[2]&FlagMultiTarget != 0
	p.command = buf[2]&FlagCommand != 0
	p.sender = binary.LittleEndian.Uint32(buf[3:])
	offset := MultiTargetHeaderLen
	if !p.multiTarget {
		if len(buf) < UnicastHeaderLen {
			p.err = ErrShortPacket
			return p
		}
		p.receiver = binary.LittleEndian.Uint32(buf[7:])
		offset = UnicastHeaderLen
	}
	ev, err := dec.DecodeEvent(buf[offset:])
	if err != nil {
		p.err = err
		return p
	}
	p.event = ev
	return p
}
