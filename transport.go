package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Transport opens channels to paired peers and listens for them.
//
// Dial may return a non-nil, half-open *Channel together with an error; the
// caller is then responsible for closing it.
type Transport interface {
	Dial(ctx context.Context, peer PeerDevice, service ServiceID) (*Channel, error)
	Listen(service ServiceID) (Listener, error)
	Close() error
}

// Listener hands out one accepted channel per call to Accept. Close wakes a
// blocked Accept, which then returns ErrListenerClosed.
type Listener interface {
	Accept() (*Channel, error)
	Close() error
}

func newTransport(cfg Config) (Transport, error) {
	switch cfg.Transport {
	case TransportBluez, "":
		t, err := newBluezTransport(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case TransportRFCOMM:
		return newRFCOMMTransport(cfg), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// fdStream wraps a connected socket descriptor. The descriptor is switched to
// non-blocking so the runtime poller owns it and Close wakes pending reads.
func fdStream(fd int, name string) (*os.File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return os.NewFile(uintptr(fd), name), nil
}
