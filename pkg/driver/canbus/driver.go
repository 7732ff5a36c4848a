// Package canbus provides CAN bus drivers.
package canbus

import (
	"errors"
	"fmt"
)

// RawFrame is a CAN extended frame as seen by the peripheral.
type RawFrame struct {
	ID   uint32
	Data []byte
}

// String implements fmt.Stringer.
func (f RawFrame) String() string {
	return fmt.Sprintf("%08x#%x", f.ID, f.Data)
}

// Driver is the non-blocking access to a CAN peripheral.
type Driver interface {
	// IsFrameAvailable indicates a received frame is pending.
	IsFrameAvailable() bool
	// ReceiveFrame takes the pending frame.
	ReceiveFrame() (RawFrame, error)
	// SendFrame submits a frame for transmission.
	SendFrame(RawFrame) error
}

var (
	// ErrNoFrame indicates ReceiveFrame is called without a pending frame.
	ErrNoFrame = errors.New("canbus: no frame")
	// ErrTxBusy indicates no transmit slot is free. It's back-pressure
	// rather than failure: the frame can be retried later.
	ErrTxBusy = errors.New("canbus: transmitter busy")
	// ErrClosed indicates the driver has been closed.
	ErrClosed = errors.New("canbus: closed")
)
