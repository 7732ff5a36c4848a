package iface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/evbus/pkg/driver/canbus"
	"github.com/robotalks/evbus/pkg/protocol/can"
)

// DefaultReassemblyTimeout abandons a multi-frame reception stalled longer.
const DefaultReassemblyTimeout = time.Second

// CANInterface exchanges packets over a CAN bus, fragmenting packets larger
// than a single frame.
//
// In each step, with the peripheral lock held, it services one side:
// a received frame first, otherwise outbound frames. While a multi-frame
// packet is being received, nothing is transmitted.
type CANInterface struct {
	base

	Driver canbus.Driver
	Lock   *ResourceLock
	// ReassemblyTimeout abandons a stalled reception, 0 disables.
	ReassemblyTimeout time.Duration
	// MaxPacketLen limits received packets, can.MaxPacketLen if 0.
	MaxPacketLen int

	reasm        can.Reassembler
	lastFragment time.Time
	draining     []can.Frame
	now          func() time.Time
}

// NewCANInterface creates a CANInterface. The lock is shared with every other
// task using the same peripheral, nil creates a private one.
func NewCANInterface(name string, drv canbus.Driver, lock *ResourceLock) *CANInterface {
	if lock == nil {
		lock = &ResourceLock{}
	}
	return &CANInterface{
		base:              base{name: name},
		Driver:            drv,
		Lock:              lock,
		ReassemblyTimeout: DefaultReassemblyTimeout,
		now:               time.Now,
	}
}

// Init implements Interface.
func (c *CANInterface) Init(host Host) error {
	if c.Driver == nil {
		return fmt.Errorf("interface %s: no driver", c.name)
	}
	if c.Lock == nil {
		c.Lock = &ResourceLock{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.reasm.Limit = c.MaxPacketLen
	return c.init(host)
}

// Step implements Interface.
func (c *CANInterface) Step(ctx context.Context) StepResult {
	c.checkStall()
	rx := c.Driver.IsFrameAvailable()
	tx := !c.reasm.InProgress() && (len(c.draining) > 0 || c.queue.Len() > 0)
	if !rx && !tx {
		c.updateState()
		return Yielded
	}
	if !c.Lock.TryAcquire() {
		c.state = StateAwaitingLock
		return Yielded
	}
	defer c.Lock.Release()

	result := Completed
	if rx {
		c.receive(ctx)
	} else {
		result = c.transmit()
	}
	c.updateState()
	return result
}

func (c *CANInterface) updateState() {
	switch {
	case c.reasm.InProgress():
		c.state = StateAwaitingFragment
	case len(c.draining) > 0:
		c.state = StateDraining
	default:
		c.state = StateIdle
	}
}

func (c *CANInterface) checkStall() {
	if c.ReassemblyTimeout <= 0 || !c.reasm.InProgress() {
		return
	}
	if c.now().Sub(c.lastFragment) > c.ReassemblyTimeout {
		sender, index, _ := c.reasm.Expecting()
		glog.Warningf("%s: reception from 0x%04x stalled at fragment %d, abandoned", c.name, sender, index)
		c.reasm.Reset()
	}
}

func (c *CANInterface) receive(ctx context.Context) {
	raw, err := c.Driver.ReceiveFrame()
	if err != nil {
		glog.Warningf("%s: receive frame: %v", c.name, err)
		return
	}
	frame, err := can.DecodeFrame(raw.ID, raw.Data)
	if err != nil {
		glog.Warningf("%s: invalid frame %s: %v", c.name, raw, err)
		return
	}
	if frame.IsError() {
		glog.Warningf("%s: error frame %s dropped", c.name, frame)
		return
	}
	if glog.V(3) {
		glog.Infof("%s: RCV %s", c.name, frame)
	}
	res := c.reasm.Feed(frame)
	if c.reasm.InProgress() {
		c.lastFragment = c.now()
	}
	if res.Err != nil {
		glog.Warningf("%s: packet from 0x%04x dropped: %v", c.name, frame.Sender(), res.Err)
	}
	if res.Packet != nil {
		c.host.ReportPacket(ctx, c.host.DecodePacket(res.Packet), c)
	}
}

// transmit sends the frames of one packet. It's Yielded when the driver is
// busy and frames are left for the next step.
func (c *CANInterface) transmit() StepResult {
	if len(c.draining) == 0 {
		pkt, ok := c.queue.Pop()
		if !ok {
			return Yielded
		}
		buf, err := pkt.Serialize()
		if err != nil {
			glog.Errorf("%s: %v", c.name, err)
			return Completed
		}
		frames, err := can.Split(buf, uint16(c.host.LocalAddress()))
		if err != nil {
			glog.Errorf("%s: %s: %v", c.name, pkt, err)
			return Completed
		}
		c.draining = frames
	}
	for len(c.draining) > 0 {
		frame := c.draining[0]
		err := c.Driver.SendFrame(canbus.RawFrame{ID: frame.ID(), Data: frame.Data()})
		if errors.Is(err, canbus.ErrTxBusy) {
			return Yielded
		}
		if err != nil {
			glog.Errorf("%s: send frame %s: %v, packet abandoned", c.name, frame, err)
			c.draining = nil
			return Completed
		}
		if glog.V(3) {
			glog.Infof("%s: SND %s", c.name, frame)
		}
		c.draining[0] = can.Frame{}
		c.draining = c.draining[1:]
	}
	c.draining = nil
	return Completed
}
