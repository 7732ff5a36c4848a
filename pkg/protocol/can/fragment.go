package can

// MaxPacketLen is the longest packet that can be fragmented.
const MaxPacketLen = MaxSeq * FragmentDataLen

// FragmentCount calculates the number of frames carrying a packet of size bytes.
func FragmentCount(size int) int {
	if size <= MaxDataLen {
		return 1
	}
	return (size + FragmentDataLen - 1) / FragmentDataLen
}

// Split cuts a serialized packet into the frames to transmit, in order.
func Split(buf []byte, sender uint16) ([]Frame, error) {
	count := FragmentCount(len(buf))
	if count == 1 {
		f, err := EncodeFrame(Header{Sender: sender, First: true}, buf)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil
	}
	if count > MaxSeq {
		return nil, ErrPacketTooLarge
	}
	frames := make([]Frame, count)
	for i := range frames {
		start, end := i*FragmentDataLen, (i+1)*FragmentDataLen
		if end > len(buf) {
			end = len(buf)
		}
		h := Header{Sender: sender, Seq: uint16(i), Multi: true}
		if i == 0 {
			h.First, h.Seq = true, uint16(count)
		}
		f, err := EncodeFrame(h, buf[start:end])
		if err != nil {
			return nil, err
		}
		frames[i] = f
	}
	return frames, nil
}
