package iface

import (
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"

	fx "github.com/robotalks/evbus/pkg/framework"
	"github.com/robotalks/evbus/pkg/link"
)

// LinkInterface exchanges whole packets over a link.PacketReadWriter.
// Reading blocks, so packets are read by a background runner and
// handed over to Step through a channel.
type LinkInterface struct {
	base

	ReadWriter link.PacketReadWriter

	packetCh chan []byte
}

// NewLinkInterface creates a LinkInterface.
func NewLinkInterface(name string, rw link.PacketReadWriter) *LinkInterface {
	return &LinkInterface{
		base:       base{name: name},
		ReadWriter: rw,
		packetCh:   make(chan []byte, 16),
	}
}

// Init implements Interface.
func (l *LinkInterface) Init(host Host) error {
	if l.ReadWriter == nil {
		return fmt.Errorf("interface %s: no link", l.name)
	}
	if l.packetCh == nil {
		l.packetCh = make(chan []byte, 16)
	}
	return l.init(host)
}

// Step implements Interface.
func (l *LinkInterface) Step(ctx context.Context) StepResult {
	l.state = StateIdle
	select {
	case buf := <-l.packetCh:
		l.host.ReportPacket(ctx, l.host.DecodePacket(buf), l)
		return Completed
	default:
	}
	pkt, ok := l.queue.Pop()
	if !ok {
		return Yielded
	}
	buf, err := pkt.Serialize()
	if err != nil {
		glog.Errorf("%s: %v", l.name, err)
		return Completed
	}
	if err = l.ReadWriter.WritePacket(buf); err != nil {
		glog.Errorf("%s: write %s: %v", l.name, pkt, err)
	}
	return Completed
}

// Run implements framework.Runnable. It reads packets until the context is
// cancelled or the link fails.
func (l *LinkInterface) Run(ctx context.Context) error {
	read := func() error {
		for {
			buf, err := l.ReadWriter.ReadPacket()
			if err != nil {
				return err
			}
			select {
			case l.packetCh <- buf:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	var err error
	if closer, ok := l.ReadWriter.(io.Closer); ok {
		err = fx.RunWithContextCloser(ctx, closer, read)
	} else {
		err = read()
	}
	if err != nil && err != context.Canceled {
		glog.Errorf("%s: link stopped: %v", l.name, err)
	}
	return err
}

// AddToLoop implements framework.LoopAdder.
func (l *LinkInterface) AddToLoop(loop *fx.Loop) {
	if adder, ok := l.ReadWriter.(fx.LoopAdder); ok {
		loop.Add(adder)
	} else if runnable, ok := l.ReadWriter.(fx.Runnable); ok {
		loop.AddRunnable(runnable)
	}
	loop.AddRunnable(fx.NamedRun(l.name, fx.RunFunc(l.Run)))
}
