// Package link defines packet-oriented bridges between nodes over transports
// other than the CAN bus or a serial line, e.g. TCP, websocket or MQTT.
package link

import "fmt"

// PacketReader reads serialized packets.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes serialized packets.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes serialized packets.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

// NodeMeta describes a node announced over a link.
type NodeMeta struct {
	Address     uint32            `json:"address"`
	Description string            `json:"description,omitempty"`
	Interfaces  []string          `json:"interfaces,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// NodeInfo is a node found by discovery.
type NodeInfo struct {
	Name string
	Meta NodeMeta
}

// String implements fmt.Stringer.
func (n NodeInfo) String() string {
	return fmt.Sprintf("%s(0x%08x)", n.Name, n.Meta.Address)
}
