package events

import (
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	"github.com/golang/protobuf/ptypes/timestamp"
	"github.com/golang/protobuf/ptypes/wrappers"
)

// Type tags
const (
	HeartbeatType uint16 = 0x0001
	TextType      uint16 = 0x0002
	CounterType   uint16 = 0x0003
	BlobType      uint16 = 0x0004
	SwitchType    uint16 = 0x0010
)

// Heartbeat announces a node is alive.
type Heartbeat struct {
	timestamp.Timestamp
}

// NewHeartbeat creates a Heartbeat for the given time.
func NewHeartbeat(t time.Time) *Heartbeat {
	ts, err := ptypes.TimestampProto(t)
	if err != nil {
		ts = ptypes.TimestampNow()
	}
	return &Heartbeat{Timestamp: timestamp.Timestamp{Seconds: ts.Seconds, Nanos: ts.Nanos}}
}

// Time returns the time carried by the heartbeat.
func (e *Heartbeat) Time() time.Time {
	t, _ := ptypes.Timestamp(&e.Timestamp)
	return t
}

// Type implements Event.
func (e *Heartbeat) Type() uint16 { return HeartbeatType }

// Serialize implements Event.
func (e *Heartbeat) Serialize() ([]byte, error) { return Marshal(e) }

// NewEvent implements SerializableEvent.
func (e *Heartbeat) NewEvent() SerializableEvent { return &Heartbeat{} }

// Body implements SerializableEvent.
func (e *Heartbeat) Body() proto.Message { return &e.Timestamp }

// Text carries a free-form message.
type Text struct {
	wrappers.StringValue
}

// NewText creates a Text event.
func NewText(s string) *Text {
	return &Text{StringValue: wrappers.StringValue{Value: s}}
}

// Type implements Event.
func (e *Text) Type() uint16 { return TextType }

// Serialize implements Event.
func (e *Text) Serialize() ([]byte, error) { return Marshal(e) }

// NewEvent implements SerializableEvent.
func (e *Text) NewEvent() SerializableEvent { return &Text{} }

// Body implements SerializableEvent.
func (e *Text) Body() proto.Message { return &e.StringValue }

// Counter reports a numeric reading.
type Counter struct {
	wrappers.Int64Value
}

// NewCounter creates a Counter event.
func NewCounter(v int64) *Counter {
	return &Counter{Int64Value: wrappers.Int64Value{Value: v}}
}

// Type implements Event.
func (e *Counter) Type() uint16 { return CounterType }

// Serialize implements Event.
func (e *Counter) Serialize() ([]byte, error) { return Marshal(e) }

// NewEvent implements SerializableEvent.
func (e *Counter) NewEvent() SerializableEvent { return &Counter{} }

// Body implements SerializableEvent.
func (e *Counter) Body() proto.Message { return &e.Int64Value }

// Blob carries opaque bytes.
type Blob struct {
	wrappers.BytesValue
}

// NewBlob creates a Blob event.
func NewBlob(data []byte) *Blob {
	return &Blob{BytesValue: wrappers.BytesValue{Value: data}}
}

// Type implements Event.
func (e *Blob) Type() uint16 { return BlobType }

// Serialize implements Event.
func (e *Blob) Serialize() ([]byte, error) { return Marshal(e) }

// NewEvent implements SerializableEvent.
func (e *Blob) NewEvent() SerializableEvent { return &Blob{} }

// Body implements SerializableEvent.
func (e *Blob) Body() proto.Message { return &e.BytesValue }

// Switch reports an on/off state change.
type Switch struct {
	wrappers.BoolValue
}

// NewSwitch creates a Switch event.
func NewSwitch(on bool) *Switch {
	return &Switch{BoolValue: wrappers.BoolValue{Value: on}}
}

// Type implements Event.
func (e *Switch) Type() uint16 { return SwitchType }

// Serialize implements Event.
func (e *Switch) Serialize() ([]byte, error) { return Marshal(e) }

// NewEvent implements SerializableEvent.
func (e *Switch) NewEvent() SerializableEvent { return &Switch{} }

// Body implements SerializableEvent.
func (e *Switch) Body() proto.Message { return &e.BoolValue }

func init() {
	DefaultRegistry.Register(
		(*Heartbeat)(nil),
		(*Text)(nil),
		(*Counter)(nil),
		(*Blob)(nil),
		(*Switch)(nil),
	)
}
