package canbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// size of struct can_frame
const canFrameLen = 16

// SocketCAN is a Driver over a Linux raw CAN socket.
// Frames are read by Run in the background and buffered until taken by
// ReceiveFrame. The socket is non-blocking and polled by the runtime, so
// Close unblocks Run.
type SocketCAN struct {
	Name string

	file    *os.File
	conn    syscall.RawConn
	frames  chan RawFrame
	pending *RawFrame
	lock    sync.Mutex
}

// OpenSocketCAN binds a raw CAN socket to the named interface, e.g. can0.
func OpenSocketCAN(name string, backlog int) (*SocketCAN, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan %s: %w", name, err)
	}
	if err = unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan %s: %w", name, err)
	}
	return newSocketCAN(name, fd, backlog)
}

func newSocketCAN(name string, fd, backlog int) (*SocketCAN, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan %s: %w", name, err)
	}
	file := os.NewFile(uintptr(fd), "socketcan:"+name)
	conn, err := file.SyscallConn()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("socketcan %s: %w", name, err)
	}
	if backlog <= 0 {
		backlog = 64
	}
	return &SocketCAN{Name: name, file: file, conn: conn, frames: make(chan RawFrame, backlog)}, nil
}

// IsFrameAvailable implements Driver.
func (s *SocketCAN) IsFrameAvailable() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.pending != nil {
		return true
	}
	select {
	case f := <-s.frames:
		s.pending = &f
		return true
	default:
		return false
	}
}

// ReceiveFrame implements Driver.
func (s *SocketCAN) ReceiveFrame() (RawFrame, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if f := s.pending; f != nil {
		s.pending = nil
		return *f, nil
	}
	select {
	case f := <-s.frames:
		return f, nil
	default:
		return RawFrame{}, ErrNoFrame
	}
}

// SendFrame implements Driver.
func (s *SocketCAN) SendFrame(f RawFrame) error {
	if len(f.Data) > 8 {
		return fmt.Errorf("socketcan %s: frame data too long: %d", s.Name, len(f.Data))
	}
	var buf [canFrameLen]byte
	binary.NativeEndian.PutUint32(buf[0:], (f.ID&unix.CAN_EFF_MASK)|unix.CAN_EFF_FLAG)
	buf[4] = byte(len(f.Data))
	copy(buf[8:], f.Data)
	var err error
	ctlErr := s.conn.Write(func(fd uintptr) bool {
		err = unix.Sendto(int(fd), buf[:], unix.MSG_DONTWAIT, nil)
		return true
	})
	if ctlErr != nil {
		// the socket is closing
		return ErrClosed
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS):
		return ErrTxBusy
	case errors.Is(err, unix.EBADF):
		return ErrClosed
	}
	return fmt.Errorf("socketcan %s: %w", s.Name, err)
}

// Run reads frames until the context is cancelled or the socket fails.
func (s *SocketCAN) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	var buf [canFrameLen]byte
	for {
		n, err := s.file.Read(buf[:])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch {
			case err == io.EOF:
				continue
			case errors.Is(err, os.ErrClosed):
				return ErrClosed
			}
			return fmt.Errorf("socketcan %s: %w", s.Name, err)
		}
		if n < canFrameLen {
			continue
		}
		id := binary.NativeEndian.Uint32(buf[0:])
		if id&unix.CAN_EFF_FLAG == 0 || id&(unix.CAN_RTR_FLAG|unix.CAN_ERR_FLAG) != 0 {
			continue
		}
		size := int(buf[4])
		if size > 8 {
			size = 8
		}
		data := make([]byte, size)
		copy(data, buf[8:8+size])
		select {
		case s.frames <- RawFrame{ID: id & unix.CAN_EFF_MASK, Data: data}:
		case <-ctx.Done():
			return ctx.Err()
		default:
			glog.Warningf("socketcan %s: receive backlog full, frame dropped", s.Name)
		}
	}
}

// Close closes the socket. Closing more than once is not an error.
func (s *SocketCAN) Close() error {
	if err := s.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
