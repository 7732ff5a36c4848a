package iface

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/evbus/pkg/driver/canbus"
	"github.com/robotalks/evbus/pkg/events"
	fx "github.com/robotalks/evbus/pkg/framework"
	"github.com/robotalks/evbus/pkg/protocol/can"
	"github.com/robotalks/evbus/pkg/protocol/packet"
)

type fakeUART struct {
	rx     [][]byte
	writes [][]byte
	err    error
}

func (u *fakeUART) IsPacketAvailable() bool { return len(u.rx) > 0 }

func (u *fakeUART) ReceivePacket() ([]byte, error) {
	if len(u.rx) == 0 {
		return nil, errors.New("empty")
	}
	buf := u.rx[0]
	u.rx = u.rx[1:]
	return buf, nil
}

func (u *fakeUART) WriteBlocking(buf []byte) error {
	if u.err != nil {
		return u.err
	}
	u.writes = append(u.writes, append([]byte(nil), buf...))
	return nil
}

type recorder struct {
	packets []*packet.EventPacket
}

func (r *recorder) HandleEvent(_ context.Context, pkt *packet.EventPacket) {
	r.packets = append(r.packets, pkt)
}

// testNode is a node with CAN interface A attached to a virtual bus
// and UART interface B. The peer port is another node on the same bus.
type testNode struct {
	mgr  *Manager
	rec  *recorder
	bus  *canbus.VirtualBus
	port *canbus.VirtualPort
	peer *canbus.VirtualPort
	a    *CANInterface
	b    *UARTInterface
	uart *fakeUART
}

func newTestNode(t *testing.T) *testNode {
	n := &testNode{rec: &recorder{}, bus: canbus.NewVirtualBus(), uart: &fakeUART{}}
	n.port, n.peer = n.bus.Attach(), n.bus.Attach()
	n.mgr = NewManager(ManagerConfig{Address: 0x00001001, Handler: n.rec})
	n.a = NewCANInterface("can0", n.port, nil)
	n.b = NewUARTInterface("uart0", n.uart, nil)
	require.NoError(t, n.mgr.Register(n.a))
	require.NoError(t, n.mgr.Register(n.b))
	return n
}

func (n *testNode) tickUntilIdle(t *testing.T) {
	for i := 0; n.mgr.Tick(context.Background()); i++ {
		require.Less(t, i, 10000, "interfaces never settle")
	}
}

func (n *testNode) peerFrames(t *testing.T) []can.Frame {
	var frames []can.Frame
	for n.peer.IsFrameAvailable() {
		raw, err := n.peer.ReceiveFrame()
		require.NoError(t, err)
		f, err := can.DecodeFrame(raw.ID, raw.Data)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

func (n *testNode) peerSend(t *testing.T, pkt *packet.EventPacket, sender uint16) {
	buf, err := pkt.Serialize()
	require.NoError(t, err)
	frames, err := can.Split(buf, sender)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, n.peer.SendFrame(canbus.RawFrame{ID: f.ID(), Data: f.Data()}))
	}
}

func blobOfPacketSize(t *testing.T, size int) *events.Blob {
	// a blob with n bytes of data is n+6 bytes long, n < 128
	ev := events.NewBlob(make([]byte, size-packet.MultiTargetHeaderLen-6))
	for i := range ev.Value {
		ev.Value[i] = byte(i + 1)
	}
	buf, err := packet.NewBroadcast(ev, 0).Serialize()
	require.NoError(t, err)
	require.Len(t, buf, size)
	return ev
}

func TestLocalEventOverCANAndUART(t *testing.T) {
	n := newTestNode(t)
	ev := blobOfPacketSize(t, 20)
	require.NoError(t, n.mgr.ReportLocalEvent(context.Background(), ev))
	require.Equal(t, 1, n.a.Pending())
	require.Equal(t, 1, n.b.Pending())
	n.tickUntilIdle(t)

	frames := n.peerFrames(t)
	require.Len(t, frames, 3)
	for i, tag := range []byte{3, 1, 2} {
		require.True(t, frames[i].IsMultiFrame())
		require.Equal(t, i == 0, frames[i].IsFirst())
		require.Equal(t, tag, frames[i].Data()[0])
		require.Equal(t, uint16(0x1001), frames[i].Sender())
	}

	require.Len(t, n.uart.writes, 1)
	require.Len(t, n.uart.writes[0], 20)

	var r can.Reassembler
	var buf []byte
	for _, f := range frames {
		res := r.Feed(f)
		require.NoError(t, res.Err)
		buf = res.Packet
	}
	require.Equal(t, n.uart.writes[0], buf)

	pkt := packet.Deserialize(buf, events.DefaultRegistry)
	require.False(t, pkt.Malformed())
	require.True(t, pkt.IsMultiTarget())
	require.Equal(t, uint32(0x00001001), pkt.Sender())
	require.Equal(t, packet.NullAddress, pkt.Receiver())
	require.True(t, events.Equal(ev, pkt.Event()))

	require.Empty(t, n.rec.packets)
	require.Equal(t, Stats{Local: 1, Forwarded: 2}, n.mgr.Stats())
}

type countingEvent struct {
	*events.Text
	count int
}

func (e *countingEvent) Serialize() ([]byte, error) {
	e.count++
	return e.Text.Serialize()
}

func TestLocalEventSerializedOnce(t *testing.T) {
	n := newTestNode(t)
	ev := &countingEvent{Text: events.NewText("once")}
	require.NoError(t, n.mgr.ReportLocalEvent(context.Background(), ev))
	n.tickUntilIdle(t)
	// 17 bytes in 3 frames
	require.Len(t, n.peerFrames(t), 3)
	require.Len(t, n.uart.writes, 1)
	require.Equal(t, 1, ev.count)
}

func TestEchoSuppression(t *testing.T) {
	n := newTestNode(t)
	sent := packet.New(events.NewText("from the bus"), 0x2002, 0x1001, true)
	n.peerSend(t, sent, 0x2002)
	n.tickUntilIdle(t)

	require.Len(t, n.rec.packets, 1)
	got := n.rec.packets[0]
	require.Equal(t, uint32(0x2002), got.Sender())
	require.Equal(t, uint32(0x1001), got.Receiver())
	require.True(t, got.IsCommand())
	require.True(t, events.Equal(sent.Event(), got.Event()))

	require.Empty(t, n.peerFrames(t), "packet echoed back to its source")
	require.Len(t, n.uart.writes, 1)
	expected, err := sent.Serialize()
	require.NoError(t, err)
	require.Equal(t, expected, n.uart.writes[0])
	require.Equal(t, Stats{Received: 1, Forwarded: 1, Delivered: 1}, n.mgr.Stats())
}

func TestUARTInbound(t *testing.T) {
	n := newTestNode(t)
	buf, err := packet.NewBroadcast(events.NewCounter(7), 0x3003).Serialize()
	require.NoError(t, err)
	n.uart.rx = append(n.uart.rx, buf)
	n.tickUntilIdle(t)

	require.Len(t, n.rec.packets, 1)
	require.Empty(t, n.uart.writes)
	frames := n.peerFrames(t)
	require.Len(t, frames, can.FragmentCount(len(buf)))
}

func TestMalformedDropped(t *testing.T) {
	n := newTestNode(t)
	bogus := []byte{11, 0, 0x80, 1, 0, 0, 0, 4, 0, 0xcd, 0xab}
	frames, err := can.Split(bogus, 0x2002)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, n.peer.SendFrame(canbus.RawFrame{ID: f.ID(), Data: f.Data()}))
	}
	n.tickUntilIdle(t)

	require.Empty(t, n.rec.packets)
	require.Empty(t, n.uart.writes)
	require.Equal(t, Stats{Malformed: 1}, n.mgr.Stats())
}

func TestErrorFrameDropped(t *testing.T) {
	n := newTestNode(t)
	f, err := can.EncodeFrame(can.Header{Sender: 2, Error: true}, []byte{7, 0, 0x80, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, n.peer.SendFrame(canbus.RawFrame{ID: f.ID(), Data: f.Data()}))
	n.tickUntilIdle(t)
	require.Empty(t, n.rec.packets)
	require.Equal(t, Stats{}, n.mgr.Stats())
}

func TestLockContention(t *testing.T) {
	lock := &ResourceLock{}
	bus := canbus.NewVirtualBus()
	port, peer := bus.Attach(), bus.Attach()
	mgr := NewManager(ManagerConfig{Address: 1})
	a := NewCANInterface("can0", port, lock)
	require.NoError(t, mgr.Register(a))
	require.NoError(t, mgr.ReportLocalEvent(context.Background(), events.NewSwitch(true)))

	require.True(t, lock.TryAcquire())
	require.False(t, lock.TryAcquire())
	require.Equal(t, Yielded, a.Step(context.Background()))
	require.Equal(t, StateAwaitingLock, a.State())
	require.False(t, peer.IsFrameAvailable())

	lock.Release()
	require.Equal(t, Completed, a.Step(context.Background()))
	require.Equal(t, StateIdle, a.State())
	require.False(t, lock.Held())
	require.True(t, peer.IsFrameAvailable())
}

func TestTxBusyDraining(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.mgr.ReportLocalEvent(context.Background(), blobOfPacketSize(t, 20)))
	n.port.FailSend(canbus.ErrTxBusy)

	require.Equal(t, Yielded, n.a.Step(context.Background()))
	require.Equal(t, StateDraining, n.a.State())
	require.Zero(t, n.port.Sent())
	require.Zero(t, n.a.Pending())

	require.Equal(t, Completed, n.a.Step(context.Background()))
	require.Equal(t, StateIdle, n.a.State())
	require.Len(t, n.peerFrames(t), 3)
}

func TestSendFailureAbandonsPacket(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	require.NoError(t, n.mgr.ReportLocalEvent(ctx, blobOfPacketSize(t, 20)))
	require.NoError(t, n.mgr.ReportLocalEvent(ctx, events.NewCounter(1)))
	n.port.FailSend(errors.New("bus off"))

	require.Equal(t, Completed, n.a.Step(ctx))
	require.Equal(t, StateIdle, n.a.State())
	require.Empty(t, n.peerFrames(t))

	require.Equal(t, Completed, n.a.Step(ctx))
	frames := n.peerFrames(t)
	require.Len(t, frames, 2)
}

func TestReceptionBlocksTransmission(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	buf, err := packet.NewBroadcast(blobOfPacketSize(t, 20), 0x2002).Serialize()
	require.NoError(t, err)
	frames, err := can.Split(buf, 0x2002)
	require.NoError(t, err)

	require.NoError(t, n.peer.SendFrame(canbus.RawFrame{ID: frames[0].ID(), Data: frames[0].Data()}))
	require.Equal(t, Completed, n.a.Step(ctx))
	require.Equal(t, StateAwaitingFragment, n.a.State())

	require.NoError(t, n.mgr.ReportLocalEvent(ctx, events.NewCounter(1)))
	require.Equal(t, Yielded, n.a.Step(ctx))
	require.Equal(t, StateAwaitingFragment, n.a.State())
	require.Equal(t, 1, n.a.Pending())

	for _, f := range frames[1:] {
		require.NoError(t, n.peer.SendFrame(canbus.RawFrame{ID: f.ID(), Data: f.Data()}))
	}
	n.tickUntilIdle(t)
	require.Len(t, n.rec.packets, 1)
	require.Zero(t, n.a.Pending())
	require.Len(t, n.peerFrames(t), 2)
	require.Len(t, n.uart.writes, 2)
}

func TestReassemblyTimeout(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	clock := time.Unix(1000, 0)
	n.a.now = func() time.Time { return clock }

	buf, err := packet.NewBroadcast(blobOfPacketSize(t, 20), 0x2002).Serialize()
	require.NoError(t, err)
	frames, err := can.Split(buf, 0x2002)
	require.NoError(t, err)
	require.NoError(t, n.peer.SendFrame(canbus.RawFrame{ID: frames[0].ID(), Data: frames[0].Data()}))
	require.Equal(t, Completed, n.a.Step(ctx))
	require.Equal(t, StateAwaitingFragment, n.a.State())

	clock = clock.Add(n.a.ReassemblyTimeout / 2)
	require.Equal(t, Yielded, n.a.Step(ctx))
	require.Equal(t, StateAwaitingFragment, n.a.State())

	clock = clock.Add(n.a.ReassemblyTimeout)
	require.Equal(t, Yielded, n.a.Step(ctx))
	require.Equal(t, StateIdle, n.a.State())

	// the late fragments are stray now
	for _, f := range frames[1:] {
		require.NoError(t, n.peer.SendFrame(canbus.RawFrame{ID: f.ID(), Data: f.Data()}))
	}
	n.tickUntilIdle(t)
	require.Empty(t, n.rec.packets)
}

func TestRegister(t *testing.T) {
	mgr := NewManager(ManagerConfig{Address: 1})
	bus := canbus.NewVirtualBus()
	a := NewCANInterface("can0", bus.Attach(), nil)
	require.NoError(t, mgr.Register(a))
	require.Error(t, mgr.Register(a))
	require.Error(t, mgr.Register(NewCANInterface("can1", nil, nil)))
	require.Error(t, mgr.Register(NewUARTInterface("uart0", nil, nil)))

	mgr.Tick(context.Background())
	require.Equal(t, ErrRegistryClosed, mgr.Register(NewCANInterface("can2", bus.Attach(), nil)))
	require.Len(t, mgr.Interfaces(), 1)
}

type failingEvent struct{}

func (failingEvent) Type() uint16               { return 0x0777 }
func (failingEvent) Serialize() ([]byte, error) { return nil, errors.New("boom") }

func TestReportLocalEventErrors(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	require.Equal(t, packet.ErrNoEvent, n.mgr.ReportLocalEvent(ctx, nil))
	var serr *packet.SerializationError
	require.True(t, errors.As(n.mgr.ReportLocalEvent(ctx, failingEvent{}), &serr))
	require.Zero(t, n.a.Pending())
	require.Zero(t, n.b.Pending())
	require.Equal(t, Stats{Malformed: 2}, n.mgr.Stats())
}

func TestUARTWriteFailure(t *testing.T) {
	n := newTestNode(t)
	n.uart.err = errors.New("unplugged")
	require.NoError(t, n.mgr.ReportLocalEvent(context.Background(), events.NewCounter(1)))
	n.tickUntilIdle(t)
	require.Empty(t, n.uart.writes)
	require.Zero(t, n.b.Pending())
}

type memLink struct {
	in     chan []byte
	out    [][]byte
	lock   sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func newMemLink() *memLink {
	return &memLink{in: make(chan []byte, 4), closed: make(chan struct{})}
}

func (l *memLink) ReadPacket() ([]byte, error) {
	select {
	case buf := <-l.in:
		return buf, nil
	case <-l.closed:
		return nil, io.EOF
	}
}

func (l *memLink) WritePacket(buf []byte) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.out = append(l.out, buf)
	return nil
}

func (l *memLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *memLink) written() [][]byte {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([][]byte(nil), l.out...)
}

func TestLinkInterfaceInLoop(t *testing.T) {
	n := newTestNode(t)
	ml := newMemLink()
	li := NewLinkInterface("link0", ml)
	require.NoError(t, n.mgr.Register(li))

	loop := fx.NewLoop()
	loop.Interval = time.Millisecond
	loop.Add(n.mgr)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	buf, err := packet.NewBroadcast(events.NewText("over the link"), 0x4004).Serialize()
	require.NoError(t, err)
	ml.in <- buf

	require.Eventually(t, func() bool { return n.mgr.Stats().Delivered == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return n.mgr.Stats().Forwarded == 2 }, time.Second, time.Millisecond)
	cancel()
	require.Equal(t, context.Canceled, <-done)

	require.Len(t, n.rec.packets, 1)
	require.Empty(t, ml.written())
	require.Len(t, n.uart.writes, 1)
	require.Equal(t, buf, n.uart.writes[0])
}

func TestLinkInterfaceTransmit(t *testing.T) {
	n := newTestNode(t)
	ml := newMemLink()
	li := NewLinkInterface("link0", ml)
	require.NoError(t, n.mgr.Register(li))
	require.NoError(t, n.mgr.ReportLocalEvent(context.Background(), events.NewSwitch(false)))
	n.tickUntilIdle(t)
	out := ml.written()
	require.Len(t, out, 1)
	require.Equal(t, n.uart.writes[0], out[0])
}

func TestStrings(t *testing.T) {
	require.Equal(t, "awaiting-fragment", StateAwaitingFragment.String())
	require.Equal(t, "state(9)", State(9).String())
	require.Equal(t, "completed", Completed.String())
	require.Equal(t, "yielded", Yielded.String())
}
