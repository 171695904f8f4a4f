package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

// knownDevices is the configured devices followed by whatever BlueZ lists as
// paired on the adapter. BlueZ being absent only shortens the list.
func knownDevices(cfg Config) []PeerDevice {
	devices := append([]PeerDevice(nil), cfg.Devices...)
	bz, err := newBluez(cfg.Adapter)
	if err != nil {
		logger.Debugf("paired devices unavailable: %v", err)
		return devices
	}
	defer bz.close()
	paired, err := bz.pairedDevices()
	if err != nil {
		logger.Debugf("paired devices unavailable: %v", err)
		return devices
	}
	return mergeDevices(devices, paired)
}

func mergeDevices(a, b []PeerDevice) []PeerDevice {
	out := append([]PeerDevice(nil), a...)
	for _, d := range b {
		dup := false
		for _, e := range out {
			if strings.EqualFold(e.Address, d.Address) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, d)
		}
	}
	return out
}

// dial runs one Connector attempt and waits for its outcome. The transport
// stays open for as long as the channel is used.
func dial(ctx context.Context, cfg Config, peer PeerDevice) (Transport, *Channel, error) {
	tr, err := newTransport(cfg)
	if err != nil {
		return nil, nil, err
	}
	c := NewConnector(tr, cfg.ServiceUUID, time.Duration(cfg.ConnectTimeout), logger.Named("connector"))
	fmt.Fprintf(os.Stderr, "connecting to %s...\n", peer)

	switch o := (<-c.Start(ctx, peer)).(type) {
	case Ready:
		return tr, o.Channel, nil
	case Failed:
		tr.Close()
		return nil, nil, o
	}
	tr.Close()
	return nil, nil, errors.New("connector returned no outcome")
}

func runDevices(cfg Config) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(knownDevices(cfg))
}

// runSend connects, writes each command in order and closes, which the
// server sees as the end of the session.
func runSend(cfg Config, device string, names []string) error {
	cmds := make([]Command, 0, len(names))
	for _, n := range names {
		cmd, err := ParseCommand(n)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}
	peer, err := resolveDevice(knownDevices(cfg), device)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	tr, ch, err := dial(ctx, cfg, peer)
	if err != nil {
		return err
	}
	defer tr.Close()
	defer ch.Close()

	for _, cmd := range cmds {
		if err := ch.Send(cmd); err != nil {
			return fmt.Errorf("send %s: %w", cmd, err)
		}
		logger.Infof("sent %s", cmd)
	}
	return nil
}

// runConnect is the interactive remote: arrow keys (or h/l, a/d, p/n) send
// commands until q, Ctrl-C or Ctrl-D closes the channel.
func runConnect(cfg Config, device string) error {
	peer, err := resolveDevice(knownDevices(cfg), device)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	tr, ch, err := dial(ctx, cfg, peer)
	stop()
	if err != nil {
		return err
	}
	defer tr.Close()
	defer ch.Close()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(fd, state)
	}
	fmt.Fprintf(os.Stderr, "connected to %s: ←/→ to navigate, q to quit\r\n", peer)

	return remoteLoop(os.Stdin, ch)
}

// remoteLoop turns keys read from in into commands on ch. It returns when
// the user quits, in ends, or the server drops the channel.
func remoteLoop(in io.Reader, ch *Channel) error {
	keys := make(chan []byte)
	done := make(chan struct{})
	defer close(done)
	go readKeys(in, keys, done)

	// The protocol never sends anything back, so a read only returns when
	// the channel goes away.
	gone := make(chan error, 1)
	go func() {
		_, err := ch.ReadByte()
		gone <- err
	}()

	var dec keyDecoder
	for {
		select {
		case b, ok := <-keys:
			if !ok {
				return nil
			}
			cmds, quit := dec.feed(b)
			for _, cmd := range cmds {
				if err := ch.Send(cmd); err != nil {
					return fmt.Errorf("send %s: %w", cmd, err)
				}
				logger.Debugf("sent %s", cmd)
			}
			if quit {
				return nil
			}
		case err := <-gone:
			if errors.Is(err, ErrChannelClosed) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return errors.New("server closed the connection")
			}
			return fmt.Errorf("connection lost: %w", err)
		}
	}
}

// readKeys forwards what is read from in until in fails or done is closed.
func readKeys(in io.Reader, keys chan<- []byte, done <-chan struct{}) {
	defer close(keys)
	buf := make([]byte, 16)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			select {
			case keys <- append([]byte(nil), buf[:n]...):
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// keyDecoder maps terminal input to commands, carrying a partial escape
// sequence over between reads.
type keyDecoder struct {
	esc []byte
}

func (d *keyDecoder) feed(b []byte) (cmds []Command, quit bool) {
	for _, c := range b {
		if len(d.esc) == 1 && c != '[' && c != 'O' {
			// a lone Esc; c is an ordinary key
			d.esc = nil
		}
		if len(d.esc) > 0 {
			d.esc = append(d.esc, c)
			if len(d.esc) == 3 {
				switch c {
				case 'D':
					cmds = append(cmds, CmdLeft)
				case 'C':
					cmds = append(cmds, CmdRight)
				}
				d.esc = nil
			}
			continue
		}
		switch c {
		case 0x1b:
			d.esc = []byte{c}
		case 'h', 'a', 'p':
			cmds = append(cmds, CmdLeft)
		case 'l', 'd', 'n', ' ':
			cmds = append(cmds, CmdRight)
		case 'q', 0x03, 0x04:
			return cmds, true
		}
	}
	return cmds, false
}
