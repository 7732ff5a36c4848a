package sh

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/golang/protobuf/jsonpb"

	"github.com/robotalks/evbus/pkg/events"
	"github.com/robotalks/evbus/pkg/link"
	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// EventKinds lists the event names accepted by ParseEvent.
var EventKinds = []string{"heartbeat", "text", "counter", "switch", "blob"}

// ParseEvent builds an event from command arguments.
func ParseEvent(kind string, args []string) (events.Event, error) {
	switch strings.ToLower(kind) {
	case "heartbeat", "hb":
		return events.NewHeartbeat(time.Now()), nil
	case "text":
		if len(args) == 0 {
			return nil, fmt.Errorf("TEXT required")
		}
		return events.NewText(strings.Join(args, " ")), nil
	case "counter":
		if len(args) != 1 {
			return nil, fmt.Errorf("VALUE required")
		}
		val, err := strconv.ParseInt(args[0], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid VALUE: %w", err)
		}
		return events.NewCounter(val), nil
	case "switch":
		if len(args) != 1 {
			return nil, fmt.Errorf("on/off required")
		}
		switch strings.ToLower(args[0]) {
		case "on", "1", "true":
			return events.NewSwitch(true), nil
		case "off", "0", "false":
			return events.NewSwitch(false), nil
		}
		return nil, fmt.Errorf("invalid switch state %q", args[0])
	case "blob":
		data, err := hex.DecodeString(strings.Join(args, ""))
		if err != nil {
			return nil, fmt.Errorf("invalid HEX: %w", err)
		}
		return events.NewBlob(data), nil
	}
	return nil, fmt.Errorf("unknown event %q, expect one of %s", kind, strings.Join(EventKinds, ", "))
}

// EventName returns the display name of an event.
func EventName(ev events.Event) string {
	return reflect.Indirect(reflect.ValueOf(ev)).Type().Name()
}

// PacketJSON is the JSON form of a received packet.
type PacketJSON struct {
	Sender    uint32          `json:"sender"`
	Receiver  *uint32         `json:"receiver,omitempty"`
	Command   bool            `json:"command,omitempty"`
	Type      uint16          `json:"type"`
	EventName string          `json:"event_name,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// FormatPacket prints a received packet for display.
func FormatPacket(pkt *packet.EventPacket, outputJSON bool) (string, error) {
	if pkt.Malformed() {
		return "", pkt.Err()
	}
	ev := pkt.Event()
	var body string
	if se, ok := ev.(events.SerializableEvent); ok {
		var m jsonpb.Marshaler
		out, err := m.MarshalToString(se.Body())
		if err != nil {
			return "", err
		}
		body = out
	}
	if outputJSON {
		obj := PacketJSON{
			Sender:    pkt.Sender(),
			Command:   pkt.IsCommand(),
			Type:      ev.Type(),
			EventName: EventName(ev),
		}
		if !pkt.IsMultiTarget() {
			receiver := pkt.Receiver()
			obj.Receiver = &receiver
		}
		if body != "" {
			obj.Event = json.RawMessage(body)
		}
		out, err := json.Marshal(&obj)
		return string(out), err
	}
	target := "*"
	if !pkt.IsMultiTarget() {
		target = fmt.Sprintf("0x%08x", pkt.Receiver())
	}
	return fmt.Sprintf("0x%08x -> %s [%s] %s", pkt.Sender(), target, EventName(ev), body), nil
}

// FormatInfo prints NodeInfo into friendly string for display.
func FormatInfo(info link.NodeInfo) string {
	var w strings.Builder
	w.WriteString(info.String())
	if info.Meta.Description != "" {
		fmt.Fprintf(&w, ": %s", info.Meta.Description)
	}
	if len(info.Meta.Interfaces) > 0 {
		fmt.Fprintf(&w, " [%s]", strings.Join(info.Meta.Interfaces, ","))
	}
	return w.String()
}
