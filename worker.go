package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// WorkerState is where a Worker is in its read loop.
type WorkerState string

const (
	StateWaiting     WorkerState = "waiting"
	StateDispatching WorkerState = "dispatching"
	StateClosed      WorkerState = "closed"
)

// CommandCounts is what one worker has seen on its channel.
type CommandCounts struct {
	Left           int
	Right          int
	Ignored        int
	InjectFailures int
}

// Worker owns one accepted channel and turns the bytes read from it into key
// presses until the stream ends.
type Worker struct {
	ch       *Channel
	injector Injector
	log      *zap.SugaredLogger

	mu     sync.Mutex
	state  WorkerState
	counts CommandCounts
}

func NewWorker(ch *Channel, injector Injector, log *zap.SugaredLogger) *Worker {
	return &Worker{
		ch:       ch,
		injector: injector,
		log:      log.With("peer", ch.Peer().String()),
		state:    StateWaiting,
	}
}

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) Counts() CommandCounts {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run reads commands until end of stream, which returns nil, or until the
// channel fails, which returns the error. The channel is closed either way.
func (w *Worker) Run() error {
	defer w.close()
	w.log.Info("waiting for commands")
	for {
		b, err := w.ch.ReadByte()
		if errors.Is(err, io.EOF) {
			w.log.Infof("%s: peer disconnected", CmdExit)
			return nil
		}
		if errors.Is(err, ErrChannelClosed) {
			w.log.Info("channel closed")
			return nil
		}
		if err != nil {
			w.log.Errorf("read: %v", err)
			return fmt.Errorf("read from %s: %w", w.ch.Peer(), err)
		}
		w.setState(StateDispatching)
		w.dispatch(DecodeCommand(b))
		w.setState(StateWaiting)
	}
}

func (w *Worker) dispatch(cmd Command) {
	dir, ok := cmd.Direction()
	if !ok {
		w.log.Debugf("ignoring %s", cmd)
		w.count(func(c *CommandCounts) { c.Ignored++ })
		return
	}
	if err := w.press(dir); err != nil {
		w.log.Warnf("inject %s: %v", dir, err)
		w.count(func(c *CommandCounts) { c.InjectFailures++ })
		return
	}
	w.log.Infof("executed %s", cmd)
	w.count(func(c *CommandCounts) {
		if dir == DirLeft {
			c.Left++
		} else {
			c.Right++
		}
	})
}

// press keeps a misbehaving injector from taking the session down.
func (w *Worker) press(dir Direction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("injector panicked: %v", r)
		}
	}()
	return w.injector.PressAndRelease(dir)
}

func (w *Worker) count(f func(*CommandCounts)) {
	w.mu.Lock()
	f(&w.counts)
	w.mu.Unlock()
}

func (w *Worker) close() {
	if err := w.ch.Close(); err != nil {
		w.log.Warnf("close channel: %v", err)
	}
	w.setState(StateClosed)
}
