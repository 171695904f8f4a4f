//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const uinputPath = "/dev/uinput"

// linux/uinput.h and linux/input-event-codes.h
const (
	uiDevCreate  = 0x5501     // _IO('U', 1)
	uiDevDestroy = 0x5502     // _IO('U', 2)
	uiSetEvBit   = 0x40045564 // _IOW('U', 100, int)
	uiSetKeyBit  = 0x40045565 // _IOW('U', 101, int)

	evSyn     = 0x00
	evKey     = 0x01
	synReport = 0

	keyLeft  = 105
	keyRight = 106

	busVirtual = 0x06

	uinputMaxNameSize = 80
	absCnt            = 64
)

var directionKeys = map[Direction]uint16{
	DirLeft:  keyLeft,
	DirRight: keyRight,
}

// uinputUserDev mirrors struct uinput_user_dev.
type uinputUserDev struct {
	Name      [uinputMaxNameSize]byte
	BusType   uint16
	Vendor    uint16
	Product   uint16
	Version   uint16
	FFEffects uint32
	AbsMax    [absCnt]int32
	AbsMin    [absCnt]int32
	AbsFuzz   [absCnt]int32
	AbsFlat   [absCnt]int32
}

// inputEvent mirrors struct input_event. unix.Timeval carries the native
// width of struct timeval, so the layout follows the target.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// uinputInjector is a virtual keyboard that only has the arrow keys.
type uinputInjector struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

func newUinputInjector(path, name string) (*uinputInjector, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f := os.NewFile(uintptr(fd), path)

	setup := func() error {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, evKey); err != nil {
			return fmt.Errorf("UI_SET_EVBIT: %w", err)
		}
		for _, k := range []int{keyLeft, keyRight} {
			if err := unix.IoctlSetInt(fd, uiSetKeyBit, k); err != nil {
				return fmt.Errorf("UI_SET_KEYBIT %d: %w", k, err)
			}
		}
		var dev uinputUserDev
		copy(dev.Name[:uinputMaxNameSize-1], name)
		dev.BusType = busVirtual
		dev.Vendor = 0x1209
		dev.Product = 0x0001
		dev.Version = 1
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.NativeEndian, &dev); err != nil {
			return err
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write device setup: %w", err)
		}
		if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
			return fmt.Errorf("UI_DEV_CREATE: %w", err)
		}
		return nil
	}
	if err := setup(); err != nil {
		f.Close()
		return nil, err
	}
	return &uinputInjector{w: f, f: f}, nil
}

// PressAndRelease emits key down, sync, key up, sync. Workers may overlap,
// so the four events go out under one lock.
func (u *uinputInjector) PressAndRelease(dir Direction) error {
	code, ok := directionKeys[dir]
	if !ok {
		return fmt.Errorf("no key for direction %q", dir)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return writeKeyPress(u.w, code, time.Now())
}

func writeKeyPress(w io.Writer, code uint16, now time.Time) error {
	tv := unix.NsecToTimeval(now.UnixNano())
	events := []inputEvent{
		{Time: tv, Type: evKey, Code: code, Value: 1},
		{Time: tv, Type: evSyn, Code: synReport},
		{Time: tv, Type: evKey, Code: code, Value: 0},
		{Time: tv, Type: evSyn, Code: synReport},
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, events); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write key events: %w", err)
	}
	return nil
}

func (u *uinputInjector) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return nil
	}
	unix.IoctlSetInt(int(u.f.Fd()), uiDevDestroy, 0)
	err := u.f.Close()
	u.f = nil
	return err
}
