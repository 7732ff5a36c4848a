// Package uart carries event packets over a serial byte stream.
//
// Packets are self-delimiting: the first two bytes of each packet hold its
// total length, little-endian, so the stream is a plain concatenation of
// serialized packets without extra framing. The receiving side resynchronizes
// on line idle: when a length header is implausible, bytes are discarded until
// no byte is received for the timeout period.
package uart

import (
	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// Parser parses bytes received.
type Parser struct {
	// MaxLength rejects length headers above it, packet.MaxLength if 0.
	MaxLength int

	state  parseState
	packet []byte
	recv   int
}

// ParseResult is the result after one parsing step.
type ParseResult struct {
	Packet []byte
	Err    error
}

// TimerAction defines what to do with the idle timer.
type TimerAction int

const (
	// TimerNoChange indicates keep the timer as-is.
	TimerNoChange TimerAction = iota
	// TimerRestart to restart the timer.
	TimerRestart
	// TimerStop to stop/cancel the timer.
	TimerStop
)

type parseState int

const (
	stateLenLow  parseState = iota // waiting for the first byte of a packet
	stateLenHigh                   // waiting for the second length byte
	stateData                      // collecting packet bytes
	stateDiscard                   // skipping bytes until line idle
)

// Receiving indicates it's in the middle of a packet or discarding.
func (p *Parser) Receiving() bool {
	return p.state != stateLenLow
}

// WhatAboutTimer decides what to do with the idle timer.
func (p *Parser) WhatAboutTimer() TimerAction {
	if p.Receiving() {
		return TimerRestart
	}
	return TimerStop
}

// Reset resets the internal state of parser.
func (p *Parser) Reset() {
	p.state, p.packet, p.recv = stateLenLow, nil, 0
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	switch p.state {
	case stateLenLow:
		p.packet = []byte{b, 0}
		p.state = stateLenHigh
	case stateLenHigh:
		p.packet[1] = b
		size := int(b)<<8 | int(p.packet[0])
		if size < packet.MultiTargetHeaderLen || size > p.maxLength() {
			p.packet = nil
			p.state = stateDiscard
			pr.Err = ErrBadLength
			return
		}
		p.packet = append(p.packet, make([]byte, size-2)...)
		p.recv, p.state = 2, stateData
	case stateData:
		p.packet[p.recv] = b
		if p.recv++; p.recv >= len(p.packet) {
			pr.Packet = p.packet
			p.Reset()
		}
	}
	return
}

// Timeout notifies the line is idle.
func (p *Parser) Timeout() (pr ParseResult) {
	switch p.state {
	case stateLenHigh, stateData:
		pr.Err = ErrIncomplete
	}
	p.Reset()
	return
}

func (p *Parser) maxLength() int {
	if p.MaxLength > 0 {
		return p.MaxLength
	}
	return packet.MaxLength
}
