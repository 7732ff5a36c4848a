package env

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/evbus/pkg/driver/canbus"
	"github.com/robotalks/evbus/pkg/events"
	fx "github.com/robotalks/evbus/pkg/framework"
	"github.com/robotalks/evbus/pkg/iface"
	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// SimPeer is a simulated node on a virtual bus. It broadcasts a heartbeat
// and a counter every Interval.
type SimPeer struct {
	Manager  *iface.Manager
	Interval time.Duration

	last  time.Time
	count int64
}

// NewSimPeer attaches a simulated node to the bus.
func NewSimPeer(bus *canbus.VirtualBus, address uint32) (*SimPeer, error) {
	p := &SimPeer{Interval: time.Second}
	p.Manager = iface.NewManager(iface.ManagerConfig{
		Address: address,
		Handler: iface.HandleEventFunc(func(_ context.Context, pkt *packet.EventPacket) {
			glog.V(1).Infof("sim peer: %s", pkt)
		}),
	})
	if err := p.Manager.Register(iface.NewCANInterface("sim-peer", bus.Attach(), nil)); err != nil {
		return nil, err
	}
	return p, nil
}

// Control implements framework.Controller.
func (p *SimPeer) Control(cc fx.ControlContext) error {
	ctx, now := cc.Context(), cc.Time()
	if now.Sub(p.last) >= p.Interval {
		p.last = now
		p.count++
		var errs fx.AggregatedError
		errs.Add(
			p.Manager.ReportLocalEvent(ctx, events.NewHeartbeat(now)),
			p.Manager.ReportLocalEvent(ctx, events.NewCounter(p.count)),
		)
		if err := errs.Aggregate(); err != nil {
			return err
		}
	}
	if p.Manager.Tick(ctx) {
		cc.TriggerNext()
	}
	return nil
}

// AddToLoop implements framework.LoopAdder.
func (p *SimPeer) AddToLoop(loop *fx.Loop) {
	loop.AddController(p)
}
