package iface

import (
	"sync"

	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// PacketQueue is the outbound FIFO of an interface.
// Packets are shared by reference between the queues of all interfaces.
type PacketQueue struct {
	packets []*packet.EventPacket
	lock    sync.Mutex
}

// Push appends a packet.
func (q *PacketQueue) Push(pkt *packet.EventPacket) {
	q.lock.Lock()
	q.packets = append(q.packets, pkt)
	q.lock.Unlock()
}

// Pop removes the oldest packet.
func (q *PacketQueue) Pop() (*packet.EventPacket, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.packets) == 0 {
		return nil, false
	}
	pkt := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	return pkt, true
}

// Len returns the number of queued packets.
func (q *PacketQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.packets)
}
