// Package iface implements the transport interfaces of a node and the
// manager multiplexing event packets between them and the application.
//
// Every interface is a cooperative task: the manager calls Step on each of
// them in turn, and a step never blocks waiting for a peripheral, a lock or a
// fragment. It records where it stopped in its State and returns Yielded, to
// be resumed by a later step.
package iface

import (
	"context"
	"fmt"

	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// StepResult is the outcome of advancing a task by one step.
type StepResult int

const (
	// Yielded indicates the task is waiting for a lock, data or a fragment.
	Yielded StepResult = iota
	// Completed indicates the task made progress on a unit of work.
	Completed
)

// String implements fmt.Stringer.
func (r StepResult) String() string {
	if r == Completed {
		return "completed"
	}
	return "yielded"
}

// State is where a task is suspended.
type State int

// Task states
const (
	StateIdle State = iota
	StateAwaitingLock
	StateAwaitingFragment
	StateDraining
)

var stateNames = []string{"idle", "awaiting-lock", "awaiting-fragment", "draining"}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Host is the manager side of an interface.
type Host interface {
	// LocalAddress is the address of this node.
	LocalAddress() uint32
	// DecodePacket deserializes a received packet.
	DecodePacket([]byte) *packet.EventPacket
	// ReportPacket hands over a received packet.
	ReportPacket(ctx context.Context, pkt *packet.EventPacket, source Interface)
}

// Interface is a transport connecting the node to other nodes.
type Interface interface {
	// Name identifies the interface in logs.
	Name() string
	// Init is called once when registered.
	Init(Host) error
	// Enqueue queues a packet for transmission.
	Enqueue(*packet.EventPacket)
	// Step advances the task.
	Step(context.Context) StepResult
	// State returns where the task is suspended.
	State() State
}

// base is the common part of interfaces.
type base struct {
	name  string
	host  Host
	queue PacketQueue
	state State
}

func (b *base) Name() string {
	return b.name
}

func (b *base) State() State {
	return b.state
}

func (b *base) Enqueue(pkt *packet.EventPacket) {
	b.queue.Push(pkt)
}

// Pending returns the number of packets waiting for transmission.
func (b *base) Pending() int {
	return b.queue.Len()
}

func (b *base) init(host Host) error {
	if b.host != nil {
		return fmt.Errorf("interface %s already initialized", b.name)
	}
	b.host = host
	return nil
}
