//go:build !linux

package main

import (
	"context"
	"errors"
	"fmt"
)

// RFCOMM sockets and uinput are Linux kernel interfaces. Elsewhere only the
// bluez transport and the log injector can work.

const uinputPath = "/dev/uinput"

type rfcommTransport struct{}

func newRFCOMMTransport(Config) *rfcommTransport { return &rfcommTransport{} }

func (*rfcommTransport) Dial(context.Context, PeerDevice, ServiceID) (*Channel, error) {
	return nil, fmt.Errorf("rfcomm transport: %w", errors.ErrUnsupported)
}

func (*rfcommTransport) Listen(ServiceID) (Listener, error) {
	return nil, fmt.Errorf("rfcomm transport: %w", errors.ErrUnsupported)
}

func (*rfcommTransport) Close() error { return nil }

type uinputInjector struct{}

func newUinputInjector(path, _ string) (*uinputInjector, error) {
	return nil, fmt.Errorf("open %s: %w", path, errors.ErrUnsupported)
}

func (*uinputInjector) PressAndRelease(Direction) error { return errors.ErrUnsupported }
func (*uinputInjector) Close() error                    { return nil }
