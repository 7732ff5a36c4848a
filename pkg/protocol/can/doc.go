// Package can maps event packets onto CAN extended frames.
package can

// Every frame uses a 29-bit extended identifier:
//
//   bit 28      : not-error flag, set on every regular frame
//   bit 27      : first fragment of a packet
//   bit 26      : packet spans multiple frames
//   bits 16..19 : high nibble of the 12-bit sequence value
//   bits 0..15  : transmitter node address
//
// A packet of up to 8 bytes travels in a single frame without any tag.
// Longer packets are cut into 7-byte windows; every frame then starts with
// the low byte of the sequence value, which is the number of fragments on
// the first frame and the fragment index on the following ones.
