package can

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustSplit(t *testing.T, size int, sender uint16) []Frame {
	frames, err := Split(makePacket(size), sender)
	require.NoError(t, err)
	return frames
}

func mustFrame(t *testing.T, h Header, chunk []byte) Frame {
	f, err := EncodeFrame(h, chunk)
	require.NoError(t, err)
	return f
}

func TestReassemblerSingleFrame(t *testing.T) {
	var r Reassembler
	f := mustFrame(t, Header{Sender: 1, First: true}, []byte{5, 0, 1, 2, 3})
	res := r.Feed(f)
	require.NoError(t, res.Err)
	require.Equal(t, []byte{5, 0, 1, 2, 3}, res.Packet)
	require.False(t, r.InProgress())
}

func TestReassemblerExpecting(t *testing.T) {
	var r Reassembler
	_, _, ok := r.Expecting()
	require.False(t, ok)
	frames := mustSplit(t, 20, 9)
	r.Feed(frames[0])
	sender, index, ok := r.Expecting()
	require.True(t, ok)
	require.Equal(t, uint16(9), sender)
	require.Equal(t, uint16(1), index)
}

func TestReassemblerViolations(t *testing.T) {
	testCases := []struct {
		name  string
		frame func(t *testing.T) Frame
		// restart indicates the violating frame starts a new packet.
		restart bool
	}{
		{
			name: "wrong sender",
			frame: func(t *testing.T) Frame {
				return mustSplit(t, 20, 2)[1]
			},
		},
		{
			name: "skipped index",
			frame: func(t *testing.T) Frame {
				return mustSplit(t, 20, 1)[2]
			},
		},
		{
			name: "short fragment",
			frame: func(t *testing.T) Frame {
				return mustFrame(t, Header{Sender: 1, Seq: 1, Multi: true}, []byte{1, 2})
			},
		},
		{
			name: "new first fragment",
			frame: func(t *testing.T) Frame {
				return mustSplit(t, 20, 1)[0]
			},
			restart: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var r Reassembler
			res := r.Feed(mustSplit(t, 20, 1)[0])
			require.NoError(t, res.Err)
			res = r.Feed(tc.frame(t))
			require.Equal(t, ErrProtocolViolation, res.Err)
			require.Nil(t, res.Packet)
			require.Equal(t, tc.restart, r.InProgress())
		})
	}
}

func TestReassemblerSingleFrameBreaksPacket(t *testing.T) {
	var r Reassembler
	r.Feed(mustSplit(t, 20, 1)[0])
	res := r.Feed(mustFrame(t, Header{Sender: 1, First: true}, []byte{3, 0, 1}))
	require.Equal(t, ErrProtocolViolation, res.Err)
	require.Equal(t, []byte{3, 0, 1}, res.Packet)
	require.False(t, r.InProgress())
}

func TestReassemblerStrayFragment(t *testing.T) {
	var r Reassembler
	res := r.Feed(mustSplit(t, 20, 1)[1])
	require.Equal(t, ErrProtocolViolation, res.Err)
	require.False(t, r.InProgress())
}

func TestReassemblerBadFirstFragment(t *testing.T) {
	var r Reassembler
	// count doesn't match the length header.
	payload := makePacket(20)[:FragmentDataLen]
	res := r.Feed(mustFrame(t, Header{Sender: 1, Seq: 4, First: true, Multi: true}, payload))
	require.Equal(t, ErrProtocolViolation, res.Err)
	require.False(t, r.InProgress())

	// length fits a single frame.
	payload = makePacket(8)[:FragmentDataLen]
	res = r.Feed(mustFrame(t, Header{Sender: 1, Seq: 2, First: true, Multi: true}, payload))
	require.Equal(t, ErrProtocolViolation, res.Err)

	// truncated first fragment.
	res = r.Feed(mustFrame(t, Header{Sender: 1, Seq: 3, First: true, Multi: true}, []byte{20, 0}))
	require.Equal(t, ErrProtocolViolation, res.Err)
}

func TestReassemblerAllocationLimit(t *testing.T) {
	r := Reassembler{Limit: 16}
	frames := mustSplit(t, 20, 1)
	res := r.Feed(frames[0])
	require.Equal(t, ErrAllocation, res.Err)
	require.True(t, r.InProgress())
	for _, f := range frames[1:] {
		res = r.Feed(f)
		require.NoError(t, res.Err)
		require.Nil(t, res.Packet)
	}
	require.False(t, r.InProgress())

	r.Limit = 0
	var last FeedResult
	for _, f := range frames {
		last = r.Feed(f)
		require.NoError(t, last.Err)
	}
	require.Equal(t, makePacket(20), last.Packet)
}

func TestReassemblerReset(t *testing.T) {
	var r Reassembler
	frames := mustSplit(t, 20, 1)
	r.Feed(frames[0])
	r.Reset()
	require.False(t, r.InProgress())
	res := r.Feed(frames[1])
	require.Equal(t, ErrProtocolViolation, res.Err)
}

func TestReassemblerBackToBack(t *testing.T) {
	var r Reassembler
	for _, size := range []int{20, 3, 9, 40} {
		require.Equal(t, makePacket(size), feedAll(t, &r, mustSplit(t, size, 5)))
	}
}
