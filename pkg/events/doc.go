// Package events defines the application event contract carried by packets.
package events

// An event is self-describing on the wire:
//
//   offset 0..2 : total event length (little-endian, includes this header)
//   offset 2..4 : event type tag (little-endian)
//   offset 4..  : event body
//
// The bodies of the events in this package are protobuf messages. Other
// catalogues only need to honor the header layout and implement Decoder.
