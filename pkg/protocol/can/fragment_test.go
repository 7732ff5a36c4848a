package can

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// makePacket builds a buffer carrying its own length in the first two bytes.
func makePacket(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i*7 + 3)
	}
	if size >= 2 {
		binary.LittleEndian.PutUint16(buf, uint16(size))
	}
	return buf
}

func feedAll(t *testing.T, r *Reassembler, frames []Frame) []byte {
	var packet []byte
	for n, f := range frames {
		res := r.Feed(f)
		require.NoErrorf(t, res.Err, "frame[%d]", n)
		if n+1 < len(frames) {
			require.Nilf(t, res.Packet, "frame[%d] completed early", n)
			require.True(t, r.InProgress())
		} else {
			packet = res.Packet
		}
	}
	require.False(t, r.InProgress())
	return packet
}

func TestFragmentCount(t *testing.T) {
	testCases := []struct {
		size, count int
	}{
		{0, 1}, {1, 1}, {7, 1}, {8, 1},
		{9, 2}, {14, 2}, {15, 3}, {20, 3},
		{MaxPacketLen, MaxSeq},
		{MaxPacketLen + 1, MaxSeq + 1},
	}
	for _, tc := range testCases {
		require.Equalf(t, tc.count, FragmentCount(tc.size), "size %d", tc.size)
	}
}

func TestSplitReassemble(t *testing.T) {
	for _, size := range []int{1, 7, 8, 9, 14, 15, 4095 * 7} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			buf := makePacket(size)
			frames, err := Split(buf, 0x0102)
			require.NoError(t, err)
			require.Len(t, frames, FragmentCount(size))
			for _, f := range frames {
				require.LessOrEqual(t, len(f.Data()), MaxDataLen)
				require.Equal(t, uint16(0x0102), f.Sender())
				require.False(t, f.IsError())
			}
			var r Reassembler
			require.Equal(t, buf, feedAll(t, &r, frames))
		})
	}
}

func TestSplitLayout(t *testing.T) {
	buf := makePacket(20)
	frames, err := Split(buf, 7)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	require.True(t, frames[0].IsFirst())
	require.True(t, frames[0].IsMultiFrame())
	require.Equal(t, byte(3), frames[0].Data()[0])
	require.Equal(t, buf[0:7], frames[0].Payload())

	require.False(t, frames[1].IsFirst())
	require.Equal(t, byte(1), frames[1].Data()[0])
	require.Equal(t, buf[7:14], frames[1].Payload())

	require.Equal(t, byte(2), frames[2].Data()[0])
	require.Equal(t, buf[14:20], frames[2].Payload())
	require.Len(t, frames[2].Data(), 7)
}

func TestSplitSingle(t *testing.T) {
	buf := makePacket(8)
	frames, err := Split(buf, 7)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.False(t, frames[0].IsMultiFrame())
	require.True(t, frames[0].IsFirst())
	require.Equal(t, buf, frames[0].Data())
}

func TestSplitTooLarge(t *testing.T) {
	_, err := Split(makePacket(MaxPacketLen+1), 1)
	require.Equal(t, ErrPacketTooLarge, err)
}

func TestSplitHighSequence(t *testing.T) {
	frames, err := Split(makePacket(300*FragmentDataLen), 1)
	require.NoError(t, err)
	require.Equal(t, uint16(300), frames[0].Seq())
	require.Equal(t, uint32(0x10000), frames[0].ID()&MaskSeqHigh)
	require.Equal(t, uint16(299), frames[299].Seq())
}
