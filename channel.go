package main

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// Channel is an open byte stream to one peer for one service. It reads and
// writes single bytes straight through to the underlying stream.
type Channel struct {
	rwc     io.ReadWriteCloser
	peer    PeerDevice
	service ServiceID

	// reads and writes may be owned by different goroutines
	rbuf [1]byte
	wbuf [1]byte

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newChannel(rwc io.ReadWriteCloser, peer PeerDevice, service ServiceID) *Channel {
	return &Channel{rwc: rwc, peer: peer, service: service}
}

func (c *Channel) Peer() PeerDevice   { return c.peer }
func (c *Channel) Service() ServiceID { return c.service }
func (c *Channel) Closed() bool       { return c.closed.Load() }

// ReadByte blocks for the next byte. It returns io.EOF once the peer has
// closed the stream.
func (c *Channel) ReadByte() (byte, error) {
	if c.closed.Load() {
		return 0, ErrChannelClosed
	}
	for {
		n, err := c.rwc.Read(c.rbuf[:])
		if n == 1 {
			return c.rbuf[0], nil
		}
		if err != nil {
			return 0, c.mapErr(err)
		}
	}
}

func (c *Channel) WriteByte(b byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.wbuf[0] = b
	if _, err := c.rwc.Write(c.wbuf[:]); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// Send encodes cmd and writes it.
func (c *Channel) Send(cmd Command) error {
	b, err := cmd.Encode()
	if err != nil {
		return err
	}
	return c.WriteByte(b)
}

// Close is safe to call any number of times; every call returns the result
// of the first.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// An I/O error caused by our own Close is reported as ErrChannelClosed.
func (c *Channel) mapErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if c.closed.Load() || errors.Is(err, os.ErrClosed) {
		return ErrChannelClosed
	}
	return err
}
