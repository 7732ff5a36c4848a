package can

import "fmt"

// Frame capacity
const (
	// MaxDataLen is the payload capacity of a classical CAN frame.
	MaxDataLen = 8
	// FragmentDataLen is the packet bytes carried by one fragment.
	FragmentDataLen = MaxDataLen - 1
	// MaxSeq is the largest 12-bit sequence value.
	MaxSeq = 0xfff
)

// Identifier layout
const (
	FlagNotError uint32 = 1 << 28
	FlagFirst    uint32 = 1 << 27
	FlagMulti    uint32 = 1 << 26

	MaskSeqHigh uint32 = 0x000f0000
	MaskSender  uint32 = 0x0000ffff
	MaskID      uint32 = 0x1fffffff
)

// Header holds the fields of a frame beside its packet bytes.
type Header struct {
	Sender uint16
	// Seq is the fragment count on the first fragment and the fragment
	// index otherwise. Unused unless Multi is set.
	Seq   uint16
	First bool
	Multi bool
	Error bool
}

// Frame is one CAN extended frame. It's immutable once built.
type Frame struct {
	id   uint32
	data []byte
}

// EncodeFrame builds a frame from header fields and the packet bytes
// carried by this frame.
func EncodeFrame(h Header, chunk []byte) (Frame, error) {
	id := uint32(h.Sender)
	if !h.Error {
		id |= FlagNotError
	}
	if h.First {
		id |= FlagFirst
	}
	if !h.Multi {
		if len(chunk) > MaxDataLen {
			return Frame{}, ErrPayloadTooLong
		}
		data := make([]byte, len(chunk))
		copy(data, chunk)
		return Frame{id: id, data: data}, nil
	}
	if h.Seq > MaxSeq {
		return Frame{}, ErrSeqOutOfRange
	}
	if len(chunk) > FragmentDataLen {
		return Frame{}, ErrPayloadTooLong
	}
	id |= FlagMulti | (uint32(h.Seq)&0xf00)<<8
	data := make([]byte, len(chunk)+1)
	data[0] = byte(h.Seq)
	copy(data[1:], chunk)
	return Frame{id: id, data: data}, nil
}

// DecodeFrame validates a raw frame received from a driver.
func DecodeFrame(id uint32, data []byte) (Frame, error) {
	if id&^MaskID != 0 {
		return Frame{}, ErrInvalidID
	}
	if len(data) > MaxDataLen {
		return Frame{}, ErrPayloadTooLong
	}
	if id&FlagMulti != 0 && len(data) == 0 {
		return Frame{}, ErrShortFrame
	}
	f := Frame{id: id, data: make([]byte, len(data))}
	copy(f.data, data)
	return f, nil
}

// ID returns the 29-bit extended identifier.
func (f Frame) ID() uint32 {
	return f.id
}

// Data returns the raw frame payload including the sequence tag.
func (f Frame) Data() []byte {
	return f.data
}

// Sender returns the transmitter node address.
func (f Frame) Sender() uint16 {
	return uint16(f.id & MaskSender)
}

// IsError indicates an error frame.
func (f Frame) IsError() bool {
	return f.id&FlagNotError == 0
}

// IsFirst indicates the first frame of a packet.
func (f Frame) IsFirst() bool {
	return f.id&FlagFirst != 0
}

// IsMultiFrame indicates the frame is a fragment of a longer packet.
func (f Frame) IsMultiFrame() bool {
	return f.id&FlagMulti != 0
}

// Seq reconstructs the 12-bit sequence value of a fragment.
// It's always 0 for single frames.
func (f Frame) Seq() uint16 {
	if !f.IsMultiFrame() || len(f.data) == 0 {
		return 0
	}
	return uint16((f.id&MaskSeqHigh)>>8) | uint16(f.data[0])
}

// Payload returns the packet bytes with the sequence tag stripped.
func (f Frame) Payload() []byte {
	if f.IsMultiFrame() && len(f.data) > 0 {
		return f.data[1:]
	}
	return f.data
}

// Header extracts the header fields.
func (f Frame) Header() Header {
	return Header{
		Sender: f.Sender(),
		Seq:    f.Seq(),
		First:  f.IsFirst(),
		Multi:  f.IsMultiFrame(),
		Error:  f.IsError(),
	}
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	return fmt.Sprintf("%08x#%x", f.id, f.data)
}
