package iface

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/evbus/pkg/events"
	fx "github.com/robotalks/evbus/pkg/framework"
	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// ErrRegistryClosed indicates an interface is registered after ticking started.
var ErrRegistryClosed = errors.New("interface registry closed")

// EventHandler receives events delivered to the local application.
type EventHandler interface {
	HandleEvent(context.Context, *packet.EventPacket)
}

// HandleEventFunc is func type of EventHandler.
type HandleEventFunc func(context.Context, *packet.EventPacket)

// HandleEvent implements EventHandler.
func (f HandleEventFunc) HandleEvent(ctx context.Context, pkt *packet.EventPacket) {
	f(ctx, pkt)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Address of the local node.
	Address uint32
	// Decoder decodes received events, events.DefaultRegistry if nil.
	Decoder events.Decoder
	// Handler receives events for the local application, optional.
	Handler EventHandler
}

// Stats are counters of packets passing through the manager.
type Stats struct {
	// Received is the number of well-formed packets from interfaces.
	Received uint64
	// Malformed is the number of dropped packets.
	Malformed uint64
	// Forwarded is the number of packets queued on interfaces.
	Forwarded uint64
	// Local is the number of events originated by the local application.
	Local uint64
	// Delivered is the number of events handed to the local application.
	Delivered uint64
}

// Manager owns the interfaces of a node. Every received packet is forwarded
// to all interfaces except the one it was received from and delivered to the
// local application. Local events are broadcast on all interfaces.
type Manager struct {
	address uint32
	decoder events.Decoder
	handler EventHandler

	interfaces []Interface
	lock       sync.RWMutex
	started    bool

	received, malformed, forwarded, local, delivered atomic.Uint64
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{address: cfg.Address, decoder: cfg.Decoder, handler: cfg.Handler}
	if m.decoder == nil {
		m.decoder = events.DefaultRegistry
	}
	return m
}

// Register adds an interface. Interfaces can only be registered before the
// first Tick.
func (m *Manager) Register(iface Interface) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.started {
		return ErrRegistryClosed
	}
	for _, registered := range m.interfaces {
		if registered == iface {
			return fmt.Errorf("interface %s already registered", iface.Name())
		}
	}
	if err := iface.Init(m); err != nil {
		return err
	}
	m.interfaces = append(m.interfaces, iface)
	glog.Infof("interface %s registered", iface.Name())
	return nil
}

// Interfaces returns the registered interfaces in registration order.
func (m *Manager) Interfaces() []Interface {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return append([]Interface(nil), m.interfaces...)
}

// LocalAddress implements Host.
func (m *Manager) LocalAddress() uint32 {
	return m.address
}

// DecodePacket implements Host.
func (m *Manager) DecodePacket(buf []byte) *packet.EventPacket {
	return packet.Deserialize(buf, m.decoder)
}

// ReportPacket implements Host. The packet is queued on every interface
// except source, and delivered to the application.
func (m *Manager) ReportPacket(ctx context.Context, pkt *packet.EventPacket, source Interface) {
	name := "local"
	if source != nil {
		name = source.Name()
	}
	if pkt.Malformed() {
		m.malformed.Add(1)
		glog.Warningf("%s: malformed packet dropped: %v", name, pkt.Err())
		return
	}
	m.received.Add(1)
	if glog.V(2) {
		glog.Infof("%s: %s", name, pkt)
	}
	m.forward(pkt, source)
	m.delivered.Add(1)
	if h := m.handler; h != nil {
		h.HandleEvent(ctx, pkt)
	}
}

// ReportLocalEvent broadcasts an event from the local application on every
// interface.
func (m *Manager) ReportLocalEvent(ctx context.Context, ev events.Event) error {
	if ev == nil {
		m.malformed.Add(1)
		return packet.ErrNoEvent
	}
	pkt := packet.NewBroadcast(ev, m.address)
	if _, err := pkt.Serialize(); err != nil {
		m.malformed.Add(1)
		glog.Warningf("local event dropped: %v", err)
		return err
	}
	m.local.Add(1)
	m.forward(pkt, nil)
	return nil
}

func (m *Manager) forward(pkt *packet.EventPacket, source Interface) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	for _, iface := range m.interfaces {
		if iface != source {
			iface.Enqueue(pkt)
			m.forwarded.Add(1)
		}
	}
}

// Tick steps every interface once in registration order. It returns true if
// any interface made progress.
func (m *Manager) Tick(ctx context.Context) bool {
	m.lock.Lock()
	m.started = true
	ifaces := m.interfaces
	m.lock.Unlock()

	var progress bool
	for _, iface := range ifaces {
		if iface.Step(ctx) == Completed {
			progress = true
		}
	}
	return progress
}

// Stats returns the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Received:  m.received.Load(),
		Malformed: m.malformed.Load(),
		Forwarded: m.forwarded.Load(),
		Local:     m.local.Load(),
		Delivered: m.delivered.Load(),
	}
}

// Control implements framework.Controller. The next iteration is triggered
// immediately as long as interfaces make progress.
func (m *Manager) Control(cc fx.ControlContext) error {
	if m.Tick(cc.Context()) {
		cc.TriggerNext()
	}
	return nil
}

// AddToLoop implements framework.LoopAdder. Interfaces with background work
// are added as well.
func (m *Manager) AddToLoop(loop *fx.Loop) {
	for _, iface := range m.Interfaces() {
		if adder, ok := iface.(fx.LoopAdder); ok {
			loop.Add(adder)
		} else if runnable, ok := iface.(fx.Runnable); ok {
			loop.AddRunnable(runnable)
		}
	}
	loop.AddController(m)
}
