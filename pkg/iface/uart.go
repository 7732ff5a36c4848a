package iface

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/evbus/pkg/driver/uart"
)

// UARTInterface exchanges whole packets over a serial line.
type UARTInterface struct {
	base

	Driver uart.Driver
	Lock   *ResourceLock
}

// NewUARTInterface creates a UARTInterface, nil lock creates a private one.
func NewUARTInterface(name string, drv uart.Driver, lock *ResourceLock) *UARTInterface {
	if lock == nil {
		lock = &ResourceLock{}
	}
	return &UARTInterface{base: base{name: name}, Driver: drv, Lock: lock}
}

// Init implements Interface.
func (u *UARTInterface) Init(host Host) error {
	if u.Driver == nil {
		return fmt.Errorf("interface %s: no driver", u.name)
	}
	if u.Lock == nil {
		u.Lock = &ResourceLock{}
	}
	return u.init(host)
}

// Step implements Interface.
func (u *UARTInterface) Step(ctx context.Context) StepResult {
	rx := u.Driver.IsPacketAvailable()
	if !rx && u.queue.Len() == 0 {
		u.state = StateIdle
		return Yielded
	}
	if !u.Lock.TryAcquire() {
		u.state = StateAwaitingLock
		return Yielded
	}
	defer u.Lock.Release()
	u.state = StateIdle

	if rx {
		buf, err := u.Driver.ReceivePacket()
		if err != nil {
			glog.Warningf("%s: receive packet: %v", u.name, err)
			return Completed
		}
		u.host.ReportPacket(ctx, u.host.DecodePacket(buf), u)
		return Completed
	}

	pkt, ok := u.queue.Pop()
	if !ok {
		return Yielded
	}
	buf, err := pkt.Serialize()
	if err != nil {
		glog.Errorf("%s: %v", u.name, err)
		return Completed
	}
	if err = u.Driver.WriteBlocking(buf); err != nil {
		glog.Errorf("%s: write %s: %v", u.name, pkt, err)
		return Completed
	}
	if glog.V(3) {
		glog.Infof("%s: SND %d bytes", u.name, len(buf))
	}
	return Completed
}
