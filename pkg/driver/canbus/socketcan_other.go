//go:build !linux

package canbus

import (
	"context"
	"errors"
)

// SocketCAN is only available on Linux.
type SocketCAN struct {
	Name string
}

// OpenSocketCAN always fails outside Linux.
func OpenSocketCAN(name string, backlog int) (*SocketCAN, error) {
	return nil, errors.New("socketcan: not supported on this platform")
}

// IsFrameAvailable implements Driver.
func (s *SocketCAN) IsFrameAvailable() bool { return false }

// ReceiveFrame implements Driver.
func (s *SocketCAN) ReceiveFrame() (RawFrame, error) { return RawFrame{}, ErrClosed }

// SendFrame implements Driver.
func (s *SocketCAN) SendFrame(RawFrame) error { return ErrClosed }

// Run implements framework.Runnable.
func (s *SocketCAN) Run(ctx context.Context) error { return ErrClosed }

// Close is a no-op.
func (s *SocketCAN) Close() error { return nil }
