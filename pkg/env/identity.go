package env

import (
	"hash/fnv"

	"github.com/denisbrodbeck/machineid"

	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// MachineID retrieves the unique ID identifying the machine.
func MachineID() (string, error) {
	return machineid.ProtectedID("evbus")
}

// AddressFromID derives a node address from an identifier.
// NullAddress is never returned.
func AddressFromID(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	addr := h.Sum32()
	if addr == packet.NullAddress {
		addr ^= 1
	}
	return addr
}

// NodeAddress derives the address of a node running on the machine. Nodes
// sharing a machine get distinct addresses when they have distinct names.
func NodeAddress(machineID, name string) uint32 {
	if name == "" {
		return AddressFromID(machineID)
	}
	return AddressFromID(machineID + "/" + name)
}
