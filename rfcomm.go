//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// rfcommTransport talks to the kernel's RFCOMM sockets directly on a fixed
// channel number. There is no SDP lookup: both ends must agree on the
// channel, and the service identifier is only carried on the Channel.
type rfcommTransport struct {
	channel uint8
}

func newRFCOMMTransport(cfg Config) *rfcommTransport {
	return &rfcommTransport{channel: cfg.Channel}
}

func rfcommSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return -1, fmt.Errorf("%w: rfcomm socket: %v", ErrAdapterUnavailable, err)
	}
	return fd, nil
}

// Dial connects without blocking the thread and waits for the socket to
// become writable. On a failed connect the half-open channel is returned with
// the error.
func (t *rfcommTransport) Dial(ctx context.Context, peer PeerDevice, service ServiceID) (*Channel, error) {
	addr, err := ParseAddress(peer.Address)
	if err != nil {
		return nil, err
	}
	fd, err := rfcommSocket()
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "rfcomm:"+peer.Address)
	ch := newChannel(f, peer, service)

	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: t.channel})
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, unix.EINPROGRESS) {
		return ch, fmt.Errorf("connect %s channel %d: %w", peer.Address, t.channel, err)
	}
	if err := waitConnected(ctx, f); err != nil {
		return ch, fmt.Errorf("connect %s channel %d: %w", peer.Address, t.channel, err)
	}
	return ch, nil
}

func waitConnected(ctx context.Context, f *os.File) error {
	if d, ok := ctx.Deadline(); ok {
		f.SetWriteDeadline(d)
	}
	stop := context.AfterFunc(ctx, func() {
		f.SetWriteDeadline(time.Now())
	})
	defer stop()

	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var soErr error
	polled := false
	werr := rc.Write(func(fd uintptr) bool {
		// SO_ERROR reads 0 while the connect is still in flight, so only
		// look after the poller reported the socket writable.
		if !polled {
			polled = true
			return false
		}
		v, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			soErr = err
			return true
		}
		switch unix.Errno(v) {
		case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
			return false
		case 0:
			// spurious wakeup unless the peer is really there
			if _, err := unix.Getpeername(int(fd)); err != nil {
				return false
			}
			return true
		}
		soErr = unix.Errno(v)
		return true
	})
	if werr != nil {
		if errors.Is(werr, os.ErrDeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrConnectTimeout
		}
		return werr
	}
	if soErr != nil {
		return soErr
	}
	f.SetWriteDeadline(time.Time{})
	return nil
}

func (t *rfcommTransport) Listen(service ServiceID) (Listener, error) {
	fd, err := rfcommSocket()
	if err != nil {
		return nil, err
	}
	// zero address is BDADDR_ANY
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: t.channel}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind rfcomm channel %d: %w", t.channel, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen rfcomm channel %d: %w", t.channel, err)
	}
	return &rfcommListener{f: os.NewFile(uintptr(fd), "rfcomm-listener"), service: service}, nil
}

func (t *rfcommTransport) Close() error { return nil }

type rfcommListener struct {
	f       *os.File
	service ServiceID

	once     sync.Once
	closeErr error
}

// Accept waits through the runtime poller, so Close on the listener wakes it.
func (l *rfcommListener) Accept() (*Channel, error) {
	rc, err := l.f.SyscallConn()
	if err != nil {
		return nil, ErrListenerClosed
	}
	var (
		nfd  int
		sa   unix.Sockaddr
		aerr error
	)
	err = rc.Read(func(fd uintptr) bool {
		nfd, sa, aerr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return !errors.Is(aerr, unix.EAGAIN)
	})
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	if aerr != nil {
		return nil, fmt.Errorf("accept: %w", aerr)
	}

	var peer PeerDevice
	if rsa, ok := sa.(*unix.SockaddrRFCOMM); ok {
		peer.Address = formatAddress(rsa.Addr)
	}
	f, err := fdStream(nfd, "rfcomm:"+peer.Address)
	if err != nil {
		return nil, err
	}
	return newChannel(f, peer, l.service), nil
}

func (l *rfcommListener) Close() error {
	l.once.Do(func() {
		l.closeErr = l.f.Close()
	})
	return l.closeErr
}
