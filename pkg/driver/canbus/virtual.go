package canbus

import (
	"sync"
)

// VirtualBus is an in-memory CAN bus. A frame sent from one port is received
// by every other port attached to the bus, never by the sender itself.
type VirtualBus struct {
	ports []*VirtualPort
	lock  sync.RWMutex
}

// NewVirtualBus creates an empty bus.
func NewVirtualBus() *VirtualBus {
	return &VirtualBus{}
}

// Attach connects a new port to the bus.
func (b *VirtualBus) Attach() *VirtualPort {
	p := &VirtualPort{bus: b}
	b.lock.Lock()
	b.ports = append(b.ports, p)
	b.lock.Unlock()
	return p
}

func (b *VirtualBus) detach(port *VirtualPort) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for n, p := range b.ports {
		if p == port {
			b.ports = append(b.ports[:n], b.ports[n+1:]...)
			return
		}
	}
}

func (b *VirtualBus) transmit(from *VirtualPort, f RawFrame) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	for _, p := range b.ports {
		if p != from {
			p.Inject(f)
		}
	}
}

// VirtualPort is a node's access to a VirtualBus. It implements Driver.
type VirtualPort struct {
	bus      *VirtualBus
	rx       []RawFrame
	failures []error
	sent     int
	closed   bool
	lock     sync.Mutex
}

// IsFrameAvailable implements Driver.
func (p *VirtualPort) IsFrameAvailable() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.rx) > 0
}

// ReceiveFrame implements Driver.
func (p *VirtualPort) ReceiveFrame() (RawFrame, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.rx) == 0 {
		if p.closed {
			return RawFrame{}, ErrClosed
		}
		return RawFrame{}, ErrNoFrame
	}
	f := p.rx[0]
	p.rx[0] = RawFrame{}
	p.rx = p.rx[1:]
	return f, nil
}

// SendFrame implements Driver.
func (p *VirtualPort) SendFrame(f RawFrame) error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return ErrClosed
	}
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		p.lock.Unlock()
		return err
	}
	p.sent++
	p.lock.Unlock()

	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	p.bus.transmit(p, RawFrame{ID: f.ID, Data: data})
	return nil
}

// Inject queues a frame as if it was received from the bus.
func (p *VirtualPort) Inject(f RawFrame) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.closed {
		p.rx = append(p.rx, f)
	}
}

// FailSend makes the next len(errs) SendFrame calls fail with errs in order.
func (p *VirtualPort) FailSend(errs ...error) {
	p.lock.Lock()
	p.failures = append(p.failures, errs...)
	p.lock.Unlock()
}

// Sent returns the number of frames transmitted.
func (p *VirtualPort) Sent() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.sent
}

// Close detaches the port from the bus.
func (p *VirtualPort) Close() error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed, p.rx = true, nil
	p.lock.Unlock()
	p.bus.detach(p)
	return nil
}
