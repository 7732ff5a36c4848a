package uart

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"
)

// Driver is the access to a packet-oriented serial peripheral.
type Driver interface {
	// IsPacketAvailable indicates a complete packet is pending.
	IsPacketAvailable() bool
	// ReceivePacket takes the pending packet.
	ReceivePacket() ([]byte, error)
	// WriteBlocking writes the whole buffer, blocking until done.
	WriteBlocking([]byte) error
}

// Port parses packets from a byte stream and writes packets to it.
// It implements Driver, and Run must be running for packets to be received.
type Port struct {
	Name        string
	ReadWriter  io.ReadWriter
	Timeout     time.Duration
	ReadTimeout bool // set to true if ReadWriter already supports timeout with Read

	packets   chan []byte
	pending   []byte
	lock      sync.Mutex
	writeLock sync.Mutex

	idleTimer <-chan time.Time
	parser    Parser
}

// NewPort creates a Port.
func NewPort(name string, rw io.ReadWriter) *Port {
	return &Port{
		Name:       name,
		ReadWriter: rw,
		Timeout:    100 * time.Millisecond,
		packets:    make(chan []byte, 16),
	}
}

// Open opens a serial device.
func Open(device string, baud int, readTimeout time.Duration) (*Port, io.Closer, error) {
	sp, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		Parity:      serial.ParityNone,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	p := NewPort(device, sp)
	p.ReadTimeout = readTimeout > 0
	return p, sp, nil
}

// IsPacketAvailable implements Driver.
func (p *Port) IsPacketAvailable() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.pending != nil {
		return true
	}
	select {
	case pkt := <-p.packets:
		p.pending = pkt
		return true
	default:
		return false
	}
}

// ReceivePacket implements Driver.
func (p *Port) ReceivePacket() ([]byte, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if pkt := p.pending; pkt != nil {
		p.pending = nil
		return pkt, nil
	}
	select {
	case pkt := <-p.packets:
		return pkt, nil
	default:
		return nil, ErrNoPacket
	}
}

// WriteBlocking implements Driver.
func (p *Port) WriteBlocking(buf []byte) error {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	for len(buf) > 0 {
		n, err := p.ReadWriter.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// Run reads and parses the stream in the background.
func (p *Port) Run(ctx context.Context) error {
	p.parser.Reset()
	if p.ReadTimeout {
		buf := make([]byte, 1)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.idleTimer:
				if err := p.applyParseResult(ctx, p.parser.Timeout()); err != nil {
					return err
				}
			default:
				n, err := p.ReadWriter.Read(buf)
				switch {
				case n > 0:
					err = p.applyParseResult(ctx, p.parser.Parse(buf[0]))
				case err == nil, err == io.EOF, os.IsTimeout(err):
					// a serial read timing out with nothing received reports io.EOF
					err = p.applyParseResult(ctx, p.parser.Timeout())
				}
				if err != nil {
					return err
				}
			}
		}
	}

	byteCh, errCh := make(chan byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.readLoop(subCtx, byteCh, errCh)
	for {
		select {
		case b := <-byteCh:
			if err := p.applyParseResult(ctx, p.parser.Parse(b)); err != nil {
				return err
			}
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-p.idleTimer:
			if err := p.applyParseResult(ctx, p.parser.Timeout()); err != nil {
				return err
			}
		}
	}
}

func (p *Port) readLoop(ctx context.Context, byteCh chan byte, errCh chan error) {
	buf := make([]byte, 1)
	for {
		n, err := p.ReadWriter.Read(buf)
		if err != nil {
			errCh <- err
			return
		}
		if n == 0 {
			continue
		}
		select {
		case byteCh <- buf[0]:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Port) applyParseResult(ctx context.Context, pr ParseResult) error {
	switch p.parser.WhatAboutTimer() {
	case TimerRestart:
		p.idleTimer = time.After(p.Timeout)
	case TimerStop:
		p.idleTimer = nil
	}
	if pr.Err != nil {
		glog.Warningf("uart %s: %v", p.Name, pr.Err)
	}
	if pr.Packet == nil {
		return nil
	}
	if glog.V(2) {
		glog.Infof("uart %s: received %d bytes", p.Name, len(pr.Packet))
	}
	select {
	case p.packets <- pr.Packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
