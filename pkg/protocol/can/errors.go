package can

import "errors"

var (
	// ErrInvalidID indicates the identifier doesn't fit 29 bits.
	ErrInvalidID = errors.New("can: invalid identifier")
	// ErrPayloadTooLong indicates the frame data exceeds the frame capacity.
	ErrPayloadTooLong = errors.New("can: payload too long")
	// ErrSeqOutOfRange indicates the sequence value doesn't fit 12 bits.
	ErrSeqOutOfRange = errors.New("can: sequence value out of range")
	// ErrShortFrame indicates a multi-frame fragment without its sequence tag.
	ErrShortFrame = errors.New("can: fragment without sequence tag")
	// ErrPacketTooLarge indicates a packet needs more fragments than addressable.
	ErrPacketTooLarge = errors.New("can: packet too large")
	// ErrProtocolViolation indicates a fragment doesn't belong to the packet
	// being reassembled.
	ErrProtocolViolation = errors.New("can: protocol violation")
	// ErrAllocation indicates no reassembly buffer can be obtained.
	ErrAllocation = errors.New("can: reassembly buffer unavailable")
)
