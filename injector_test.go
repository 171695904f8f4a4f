package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnavailableInjector(t *testing.T) {
	cause := errors.New("open /dev/uinput: permission denied")
	assert.ErrorIs(t, unavailableInjector{err: cause}.PressAndRelease(DirLeft), cause)
}

func TestLogInjector(t *testing.T) {
	assert.NoError(t, logInjector{log: testLogger(t)}.PressAndRelease(DirRight))
}

func TestNewInjectorLogMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Injector = InjectorLog
	inj, closeFn := newInjector(cfg)
	assert.IsType(t, logInjector{}, inj)
	assert.NoError(t, closeFn())
}
