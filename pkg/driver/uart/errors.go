package uart

import "errors"

var (
	// ErrBadLength indicates an implausible packet length header.
	ErrBadLength = errors.New("uart: bad packet length")
	// ErrIncomplete indicates the line went idle in the middle of a packet.
	ErrIncomplete = errors.New("uart: incomplete packet")
	// ErrNoPacket indicates ReceivePacket is called without a pending packet.
	ErrNoPacket = errors.New("uart: no packet")
)
