package mqtt

import (
	"context"
	"io"
	"strings"
	"sync"
)

// PacketsTopic returns the topic a node publishes packets to.
func PacketsTopic(node string) string {
	return "bus/" + node + "/packets"
}

// NodeFromPacketsTopic extracts the node name from a packets topic.
func NodeFromPacketsTopic(topic string) (string, bool) {
	items := strings.Split(topic, "/")
	if len(items) != 3 || items[0] != "bus" || items[2] != "packets" {
		return "", false
	}
	return items[1], true
}

// ReadWriter implements link.PacketReadWriter.
// Packets written are published on the node's own topic, and packets
// published by every other node are read.
type ReadWriter struct {
	Client *Client
	Node   string

	packetCh  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewPacketReadWriter creates the ReadWriter.
func NewPacketReadWriter(c *Client, node string) *ReadWriter {
	return &ReadWriter{
		Client:   c,
		Node:     node,
		packetCh: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// ReadPacket implements link.PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.packetCh:
		return pkt, nil
	case <-p.done:
		return nil, io.EOF
	}
}

// WritePacket implements link.PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	token := p.Client.Pub(PacketsTopic(p.Node), pkt)
	token.Wait()
	return token.Error()
}

// Run implements framework.Runnable.
func (p *ReadWriter) Run(ctx context.Context) error {
	sub := p.Client.Sub(PacketsTopic("+"), Handler(p.handleMsg))
	defer sub.Close()
	defer p.Close()
	<-ctx.Done()
	return ctx.Err()
}

// Close implements io.Closer. Pending and further reads fail with io.EOF.
func (p *ReadWriter) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *ReadWriter) handleMsg(topic string, payload []byte) {
	if node, ok := NodeFromPacketsTopic(topic); !ok || node == p.Node {
		return
	}
	select {
	case p.packetCh <- payload:
	case <-p.done:
	}
}
