//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteKeyPress(t *testing.T) {
	var buf bytes.Buffer
	now := time.Unix(1700000000, 250000000)
	require.NoError(t, writeKeyPress(&buf, keyRight, now))
	require.Equal(t, 4*binary.Size(inputEvent{}), buf.Len())

	events := make([]inputEvent, 4)
	require.NoError(t, binary.Read(&buf, binary.NativeEndian, events))

	want := []struct {
		typ, code uint16
		value     int32
	}{
		{evKey, keyRight, 1},
		{evSyn, synReport, 0},
		{evKey, keyRight, 0},
		{evSyn, synReport, 0},
	}
	for i, w := range want {
		assert.Equal(t, w.typ, events[i].Type, "event %d", i)
		assert.Equal(t, w.code, events[i].Code, "event %d", i)
		assert.Equal(t, w.value, events[i].Value, "event %d", i)
		assert.Equal(t, int64(1700000000), int64(events[i].Time.Sec))
		assert.Equal(t, int64(250000), int64(events[i].Time.Usec))
	}
}

func TestUinputUserDevSize(t *testing.T) {
	assert.Equal(t, 1116, binary.Size(uinputUserDev{}))
}

func TestUinputInjectorUnknownDirection(t *testing.T) {
	u := &uinputInjector{w: &bytes.Buffer{}}
	assert.Error(t, u.PressAndRelease(Direction("up")))
}

func TestUinputInjectorWritesPerPress(t *testing.T) {
	var buf bytes.Buffer
	u := &uinputInjector{w: &buf}
	require.NoError(t, u.PressAndRelease(DirLeft))
	require.NoError(t, u.PressAndRelease(DirRight))
	assert.Equal(t, 8*binary.Size(inputEvent{}), buf.Len())
}
