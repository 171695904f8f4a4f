package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceID(t *testing.T) {
	id, err := ParseServiceID(DefaultServiceUUID)
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceUUID, id.String())

	for _, bad := range []string{"", "04c6093b", "04c6093b-0000-1000-8000-00805f9b34fz"} {
		_, err := ParseServiceID(bad)
		assert.ErrorIs(t, err, ErrInvalidServiceID, bad)
	}
}

func TestParseAddress(t *testing.T) {
	b, err := ParseAddress("01:23:45:67:89:AB")
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0xAB, 0x89, 0x67, 0x45, 0x23, 0x01}, b)
	assert.Equal(t, "01:23:45:67:89:AB", formatAddress(b))

	lower, err := ParseAddress("01:23:45:67:89:ab")
	require.NoError(t, err)
	assert.Equal(t, b, lower)

	for _, bad := range []string{"", "01:23:45:67:89", "01:23:45:67:89:AB:CD", "1:23:45:67:89:AB", "01:23:45:67:89:G1"} {
		_, err := ParseAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestCommandDecoding(t *testing.T) {
	tests := []struct {
		b      byte
		cmd    Command
		dir    Direction
		hasDir bool
	}{
		{1, CmdLeft, DirLeft, true},
		{2, CmdRight, DirRight, true},
		{0, Command(0), "", false},
		{99, Command(99), "", false},
		{0xFF, CmdExit, "", false},
	}
	for _, tt := range tests {
		cmd := DecodeCommand(tt.b)
		assert.Equal(t, tt.cmd, cmd)
		dir, ok := cmd.Direction()
		assert.Equal(t, tt.hasDir, ok)
		assert.Equal(t, tt.dir, dir)
	}
}

func TestCommandEncode(t *testing.T) {
	b, err := CmdLeft.Encode()
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)

	b, err = CmdRight.Encode()
	require.NoError(t, err)
	assert.Equal(t, byte(2), b)

	_, err = CmdExit.Encode()
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = Command(7).Encode()
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestParseCommand(t *testing.T) {
	for in, want := range map[string]Command{"left": CmdLeft, "PREV": CmdLeft, "right": CmdRight, "next": CmdRight} {
		got, err := ParseCommand(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCommand("exit")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestFailedTimedOut(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrConnectTimeout, true},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("connect profile: %w", context.DeadlineExceeded), true},
		{errors.New("org.bluez.Error.Failed: br-connection-page-timeout"), true},
		{errors.New("Host is down"), true},
		{errors.New("org.bluez.Error.Failed: br-connection-refused"), false},
		{context.Canceled, false},
		{ErrInvalidServiceID, false},
	}
	for _, tt := range tests {
		f := Failed{Peer: testPeer, Err: tt.err}
		assert.Equal(t, tt.want, f.TimedOut(), tt.err.Error())
		assert.ErrorIs(t, f, tt.err)
	}
}
