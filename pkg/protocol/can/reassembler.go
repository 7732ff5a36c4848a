package can

import "encoding/binary"

// Reassembler rebuilds packets from received frames, one frame at a time.
type Reassembler struct {
	// Limit caps the reassembly buffer size, MaxPacketLen if 0.
	Limit int

	state  reassemblyState
	sender uint16
	count  uint16
	next   uint16
	buf    []byte
}

// FeedResult is the outcome of feeding one frame.
// Err reports an abandoned packet, Packet a completed one. Both are set when
// a frame breaks the packet in progress and completes a packet by itself.
type FeedResult struct {
	Packet []byte
	Err    error
}

type reassemblyState int

const (
	stateIdle             reassemblyState = iota // waiting for a single frame or first fragment
	stateAwaitingFragment                        // collecting fragments into buf
	stateDiscarding                              // skipping fragments of an abandoned packet
)

// InProgress indicates a multi-frame packet is being collected.
func (r *Reassembler) InProgress() bool {
	return r.state != stateIdle
}

// Expecting returns the sender and index of the next expected fragment.
func (r *Reassembler) Expecting() (sender, index uint16, ok bool) {
	if r.state == stateIdle {
		return 0, 0, false
	}
	return r.sender, r.next, true
}

// Reset abandons the packet in progress.
func (r *Reassembler) Reset() {
	r.state, r.buf = stateIdle, nil
	r.sender, r.count, r.next = 0, 0, 0
}

// Feed consumes one frame.
func (r *Reassembler) Feed(f Frame) (res FeedResult) {
	switch r.state {
	case stateAwaitingFragment:
		if r.continues(f) {
			r.collect(f, &res)
			return
		}
		r.Reset()
		res.Err = ErrProtocolViolation
	case stateDiscarding:
		if r.continues(f) {
			if r.next++; r.next >= r.count {
				r.Reset()
			}
			return
		}
		r.Reset()
	}

	if !f.IsMultiFrame() {
		res.Packet = make([]byte, len(f.Payload()))
		copy(res.Packet, f.Payload())
		return
	}
	if !f.IsFirst() {
		if res.Err == nil {
			res.Err = ErrProtocolViolation
		}
		return
	}
	if err := r.start(f); err != nil {
		res.Err = err
	}
	return
}

func (r *Reassembler) continues(f Frame) bool {
	return f.IsMultiFrame() && !f.IsFirst() &&
		f.Sender() == r.sender && f.Seq() == r.next
}

func (r *Reassembler) start(f Frame) error {
	payload, count := f.Payload(), f.Seq()
	if len(payload) != FragmentDataLen {
		return ErrProtocolViolation
	}
	size := int(binary.LittleEndian.Uint16(payload))
	if size <= MaxDataLen || FragmentCount(size) != int(count) {
		return ErrProtocolViolation
	}
	r.sender, r.count, r.next = f.Sender(), count, 1
	limit := r.Limit
	if limit <= 0 {
		limit = MaxPacketLen
	}
	if size > limit {
		r.state = stateDiscarding
		return ErrAllocation
	}
	r.buf = make([]byte, size)
	copy(r.buf, payload)
	r.state = stateAwaitingFragment
	return nil
}

func (r *Reassembler) collect(f Frame, res *FeedResult) {
	start := int(r.next) * FragmentDataLen
	end := start + FragmentDataLen
	if end > len(r.buf) {
		end = len(r.buf)
	}
	payload := f.Payload()
	if len(payload) < end-start {
		r.Reset()
		res.Err = ErrProtocolViolation
		return
	}
	copy(r.buf[start:end], payload)
	if r.next++; r.next >= r.count {
		res.Packet = r.buf
		r.Reset()
	}
}
