package main

import (
	"go.uber.org/zap"
)

// Injector turns a decoded direction into a simulated key press.
type Injector interface {
	PressAndRelease(dir Direction) error
}

// logInjector only records what would have been pressed.
type logInjector struct {
	log *zap.SugaredLogger
}

func (l logInjector) PressAndRelease(dir Direction) error {
	l.log.Infof("key %s", dir)
	return nil
}

// unavailableInjector fails every press with the error that prevented the
// real injector from starting.
type unavailableInjector struct {
	err error
}

func (u unavailableInjector) PressAndRelease(Direction) error {
	return u.err
}

// newInjector builds the configured injector. A uinput device that cannot be
// created is logged and replaced by one that fails per command, so the
// server still accepts connections.
func newInjector(cfg Config) (Injector, func() error) {
	if cfg.Injector == InjectorLog {
		return logInjector{log: logger.Named("injector")}, func() error { return nil }
	}
	u, err := newUinputInjector(uinputPath, cfg.ServiceName)
	if err != nil {
		logger.Warnf("uinput unavailable, key presses will fail: %v", err)
		return unavailableInjector{err: err}, func() error { return nil }
	}
	return u, u.Close
}
