package events

import (
	"sync"

	"github.com/golang/protobuf/proto"
)

// Registry maps type tags to events and decodes serialized events.
type Registry struct {
	types map[uint16]SerializableEvent
	lock  sync.RWMutex
}

// DefaultRegistry contains the events defined in this package.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[uint16]SerializableEvent)}
}

// Register adds event prototypes keyed by their type tags.
// A later registration replaces an earlier one with the same tag.
func (r *Registry) Register(protos ...SerializableEvent) *Registry {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, p := range protos {
		r.types[p.Type()] = p
	}
	return r
}

// Known reports whether the type tag is registered.
func (r *Registry) Known(typ uint16) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.types[typ]
	return ok
}

// DecodeEvent implements Decoder.
func (r *Registry) DecodeEvent(buf []byte) (Event, error) {
	size, err := Length(buf)
	if err != nil {
		return nil, err
	}
	if size < HeaderLen || size > len(buf) {
		return nil, ErrTruncated
	}
	typ, _ := TypeOf(buf)
	r.lock.RLock()
	p, ok := r.types[typ]
	r.lock.RUnlock()
	if !ok {
		return nil, &ErrUnknownType{Type: typ}
	}
	ev := p.NewEvent()
	if err := proto.Unmarshal(buf[HeaderLen:size], ev.Body()); err != nil {
		return nil, err
	}
	return ev, nil
}
