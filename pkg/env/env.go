package env

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/evbus/pkg/driver/canbus"
	"github.com/robotalks/evbus/pkg/driver/uart"
	fx "github.com/robotalks/evbus/pkg/framework"
	"github.com/robotalks/evbus/pkg/iface"
	"github.com/robotalks/evbus/pkg/link"
	"github.com/robotalks/evbus/pkg/link/mqtt"
	"github.com/robotalks/evbus/pkg/link/stream"
	"github.com/robotalks/evbus/pkg/link/websocket"
)

// DefaultBaud is the serial baud rate when not configured.
const DefaultBaud = 115200

// Env is a node with its interfaces.
type Env struct {
	Config  *Config
	Manager *iface.Manager

	buses   map[string]*canbus.VirtualBus
	locks   map[string]*iface.ResourceLock
	runners []fx.Runnable
	closers []io.Closer
}

// NewEnv opens the configured interfaces and registers them to a Manager
// delivering events to handler.
func (c *Config) NewEnv(handler iface.EventHandler) (*Env, error) {
	conf := *c
	conf.Interfaces = append([]InterfaceConfig(nil), c.Interfaces...)
	if conf.ConfigFile != "" {
		if err := conf.LoadFile(conf.ConfigFile); err != nil {
			return nil, err
		}
	}
	if conf.Address == 0 {
		id, err := MachineID()
		if err != nil {
			return nil, fmt.Errorf("node address: %w", err)
		}
		conf.Address = NodeAddress(id, conf.Name)
	}
	if conf.Name == "" {
		conf.Name = fmt.Sprintf("node-%08x", conf.Address)
	}

	env := &Env{
		Config:  &conf,
		Manager: iface.NewManager(iface.ManagerConfig{Address: conf.Address, Handler: handler}),
		buses:   make(map[string]*canbus.VirtualBus),
		locks:   make(map[string]*iface.ResourceLock),
	}
	ifaces := conf.Interfaces
	if conf.MQTTBrokerURL != "" {
		ifaces = append(ifaces, InterfaceConfig{Name: "mqtt", Kind: KindMQTT, Device: conf.MQTTBrokerURL})
	}
	for _, ic := range ifaces {
		ifc, err := env.openInterface(ic)
		if err == nil {
			err = env.Manager.Register(ifc)
		}
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
	}
	glog.Infof("node %s address 0x%08x with %d interfaces", conf.Name, conf.Address, len(ifaces))
	return env, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv(handler iface.EventHandler) *Env {
	env, err := c.NewEnv(handler)
	if err != nil {
		log.Fatalln(err)
	}
	return env
}

// VirtualBus returns the named virtual CAN bus, created on first use.
func (e *Env) VirtualBus(name string) *canbus.VirtualBus {
	bus := e.buses[name]
	if bus == nil {
		bus = canbus.NewVirtualBus()
		e.buses[name] = bus
	}
	return bus
}

func (e *Env) lock(name string) *iface.ResourceLock {
	if name == "" {
		return nil
	}
	l := e.locks[name]
	if l == nil {
		l = &iface.ResourceLock{}
		e.locks[name] = l
	}
	return l
}

func (e *Env) newCANInterface(name string, drv canbus.Driver, lock string) iface.Interface {
	ifc := iface.NewCANInterface(name, drv, e.lock(lock))
	ifc.ReassemblyTimeout = e.Config.ReassemblyTimeout
	return ifc
}

func (e *Env) openInterface(ic InterfaceConfig) (iface.Interface, error) {
	switch ic.Kind {
	case KindSim:
		bus := ic.Device
		if bus == "" {
			bus = KindSim
		}
		port := e.VirtualBus(bus).Attach()
		e.closers = append(e.closers, port)
		return e.newCANInterface(ic.Name, port, ic.Lock), nil
	case KindSocketCAN:
		s, err := canbus.OpenSocketCAN(ic.Device, 0)
		if err != nil {
			return nil, err
		}
		e.runners = append(e.runners, fx.NamedRun(ic.Name, s))
		e.closers = append(e.closers, s)
		return e.newCANInterface(ic.Name, s, ic.Lock), nil
	case KindUART:
		var readTimeout time.Duration
		if ic.ReadTimeout != "" {
			var err error
			if readTimeout, err = time.ParseDuration(ic.ReadTimeout); err != nil {
				return nil, fmt.Errorf("parse read_timeout: %w", err)
			}
		}
		baud := ic.Baud
		if baud == 0 {
			baud = DefaultBaud
		}
		port, closer, err := uart.Open(ic.Device, baud, readTimeout)
		if err != nil {
			return nil, err
		}
		e.runners = append(e.runners, fx.NamedRun(ic.Name, port))
		e.closers = append(e.closers, closer)
		return iface.NewUARTInterface(ic.Name, port, e.lock(ic.Lock)), nil
	case KindTCP:
		rw, err := stream.Dial(ic.Device)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, rw)
		return iface.NewLinkInterface(ic.Name, rw), nil
	case KindWebsocket:
		rw, err := websocket.Dial(ic.Device, "http://localhost/")
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, rw)
		return iface.NewLinkInterface(ic.Name, rw), nil
	case KindMQTT:
		bridge, err := mqtt.NewBridge(ic.Device, e.Config.Name, e.nodeMeta())
		if err != nil {
			return nil, err
		}
		return iface.NewLinkInterface(ic.Name, bridge), nil
	}
	return nil, fmt.Errorf("unknown interface kind %q", ic.Kind)
}

func (e *Env) nodeMeta() link.NodeMeta {
	meta := link.NodeMeta{Address: e.Config.Address, Description: "evbus node"}
	for _, ic := range e.Config.Interfaces {
		meta.Interfaces = append(meta.Interfaces, ic.Name)
	}
	return meta
}

// AddToLoop implements framework.LoopAdder.
func (e *Env) AddToLoop(loop *fx.Loop) {
	if e.Config.Interval > 0 {
		loop.Interval = e.Config.Interval
	}
	loop.AddRunnable(e.runners...)
	loop.Add(e.Manager)
}

// Close releases the peripherals.
func (e *Env) Close() error {
	var errs fx.AggregatedError
	for n := len(e.closers) - 1; n >= 0; n-- {
		errs.Add(e.closers[n].Close())
	}
	e.closers = nil
	return errs.Aggregate()
}
