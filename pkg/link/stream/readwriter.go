// Package stream carries packets over a reliable byte stream, e.g. TCP.
package stream

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// ReadWriter implements link.PacketReadWriter.
// Packets are self-delimiting by their 2-byte length header, so they're
// written back to back without additional framing.
type ReadWriter struct {
	io.ReadWriter

	writeLock sync.Mutex
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{ReadWriter: s}
}

// Dial connects to a TCP peer.
func Dial(addr string) (*ReadWriter, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// ReadPacket implements link.PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(p.ReadWriter, hdr[:]); err != nil {
		return nil, err
	}
	size, _ := packet.Length(hdr[:])
	if size < packet.MultiTargetHeaderLen {
		return nil, fmt.Errorf("stream: bad packet length %d", size)
	}
	pkt := make([]byte, size)
	copy(pkt, hdr[:])
	if _, err := io.ReadFull(p.ReadWriter, pkt[2:]); err != nil {
		return nil, err
	}
	return pkt, nil
}

// WritePacket implements link.PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	if size, ok := packet.Length(pkt); !ok || size != len(pkt) {
		return fmt.Errorf("stream: packet length mismatch")
	}
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	_, err := p.Write(pkt)
	return err
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	if closer, ok := p.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
