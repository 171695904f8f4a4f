package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultServiceUUID = "04c6093b-0000-1000-8000-00805f9b34fb"
	DefaultServiceName = "RemoteBluetooth"
)

var (
	ErrInvalidServiceID   = errors.New("invalid service identifier")
	ErrInvalidAddress     = errors.New("invalid bluetooth address")
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	ErrConnectTimeout     = errors.New("connect timed out")
	ErrChannelClosed      = errors.New("channel closed")
	ErrListenerClosed     = errors.New("listener closed")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrDeviceNotFound     = errors.New("device not found")
)

// ServiceID is the 128-bit identifier both ends present to find each other.
type ServiceID struct {
	uuid.UUID
}

// ParseServiceID accepts the hyphenated form (and anything else uuid.Parse
// understands).
func ParseServiceID(s string) (ServiceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ServiceID{}, fmt.Errorf("%w %q: %v", ErrInvalidServiceID, s, err)
	}
	return ServiceID{u}, nil
}

// PeerDevice is a previously paired remote endpoint.
type PeerDevice struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (p PeerDevice) String() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name + " (" + p.Address + ")"
}

// ParseAddress converts "AA:BB:CC:DD:EE:FF" into the byte order the kernel
// uses for bdaddr_t, which is reversed.
func ParseAddress(addr string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(addr, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
		out[5-i] = byte(b)
	}
	return out, nil
}

// formatAddress is the inverse of ParseAddress.
func formatAddress(b [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[5], b[4], b[3], b[2], b[1], b[0])
}

// Command is a single byte on the wire. CmdExit is never transmitted: it is
// what a reader sees when the stream ends.
type Command int8

const (
	CmdExit  Command = -1
	CmdLeft  Command = 1
	CmdRight Command = 2
)

func (c Command) String() string {
	switch c {
	case CmdExit:
		return "exit"
	case CmdLeft:
		return "left"
	case CmdRight:
		return "right"
	}
	return fmt.Sprintf("unknown(%d)", int8(c))
}

// DecodeCommand maps a received byte to a Command. Values outside the
// defined set decode to themselves and have no Direction.
func DecodeCommand(b byte) Command {
	return Command(int8(b))
}

// Encode returns the wire byte for c.
func (c Command) Encode() (byte, error) {
	switch c {
	case CmdLeft, CmdRight:
		return byte(c), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, c)
}

// ParseCommand accepts the names used on the command line.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(s) {
	case "left", "l", "prev", "previous":
		return CmdLeft, nil
	case "right", "r", "next":
		return CmdRight, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Direction is the logical key the injector presses.
type Direction string

const (
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

func (c Command) Direction() (Direction, bool) {
	switch c {
	case CmdLeft:
		return DirLeft, true
	case CmdRight:
		return DirRight, true
	}
	return "", false
}

// ConnectOutcome is reported exactly once per connection attempt. It is
// either Ready or Failed.
type ConnectOutcome interface {
	isConnectOutcome()
}

// Ready carries the open channel. Whoever receives it owns the channel.
type Ready struct {
	Peer    PeerDevice
	Channel *Channel
}

// Failed reports a connect attempt that did not produce a channel.
type Failed struct {
	Peer PeerDevice
	Err  error
}

func (Ready) isConnectOutcome()  {}
func (Failed) isConnectOutcome() {}

func (f Failed) Error() string {
	if f.TimedOut() {
		return fmt.Sprintf("connect to %s timed out: %v", f.Peer, f.Err)
	}
	return fmt.Sprintf("connect to %s failed: %v", f.Peer, f.Err)
}

func (f Failed) Unwrap() error { return f.Err }

// TimedOut reports whether the attempt ran out of time rather than being
// refused outright.
func (f Failed) TimedOut() bool {
	if errors.Is(f.Err, ErrConnectTimeout) || errors.Is(f.Err, context.DeadlineExceeded) {
		return true
	}
	return f.Err != nil && isTimeoutText(f.Err.Error())
}

// BlueZ reports timeouts only as text inside org.bluez.Error.Failed.
func isTimeoutText(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"page-timeout", "host is down", "timed out", "timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
