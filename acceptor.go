package main

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Acceptor takes connections off a Listener one at a time and runs a Worker
// for each, so the next Accept starts right away.
type Acceptor struct {
	ln       Listener
	injector Injector
	log      *zap.SugaredLogger

	wg       sync.WaitGroup
	mu       sync.Mutex
	live     map[*Worker]struct{}
	shutdown bool
}

func NewAcceptor(ln Listener, injector Injector, log *zap.SugaredLogger) *Acceptor {
	return &Acceptor{
		ln:       ln,
		injector: injector,
		log:      log,
		live:     make(map[*Worker]struct{}),
	}
}

// Serve blocks until Shutdown, which makes it return nil, or until Accept
// fails, which ends the loop and returns the error. It is not restarted.
func (a *Acceptor) Serve() error {
	for {
		a.log.Info("waiting for connection")
		ch, err := a.ln.Accept()
		if err != nil {
			if a.isShutdown() || errors.Is(err, ErrListenerClosed) {
				return nil
			}
			a.log.Errorf("accept: %v", err)
			return err
		}
		a.log.Infof("accepted connection from %s", ch.Peer())
		a.spawn(ch)
	}
}

func (a *Acceptor) spawn(ch *Channel) {
	w := NewWorker(ch, a.injector, a.log.Named("worker"))

	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		ch.Close()
		return
	}
	a.live[w] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.Errorf("worker for %s panicked: %v", ch.Peer(), r)
				ch.Close()
			}
			a.mu.Lock()
			delete(a.live, w)
			a.mu.Unlock()
		}()
		if err := w.Run(); err != nil {
			a.log.Errorf("session with %s ended: %v", ch.Peer(), err)
		}
	}()
}

func (a *Acceptor) isShutdown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdown
}

// Shutdown closes the listener and every live channel. Workers notice their
// channel closing and return; Wait blocks until they have.
func (a *Acceptor) Shutdown() error {
	a.mu.Lock()
	a.shutdown = true
	workers := make([]*Worker, 0, len(a.live))
	for w := range a.live {
		workers = append(workers, w)
	}
	a.mu.Unlock()

	err := a.ln.Close()
	for _, w := range workers {
		w.ch.Close()
	}
	return err
}

func (a *Acceptor) Wait() {
	a.wg.Wait()
}

// Active is the number of workers still running.
func (a *Acceptor) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
