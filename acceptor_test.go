package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serving struct {
	tr   *pipeTransport
	a    *Acceptor
	inj  *recordingInjector
	done chan error
}

func startServing(t *testing.T) *serving {
	t.Helper()
	tr := newPipeTransport()
	ln, err := tr.Listen(testServiceID(t))
	require.NoError(t, err)

	s := &serving{tr: tr, inj: &recordingInjector{}, done: make(chan error, 1)}
	s.a = NewAcceptor(ln, s.inj, testLogger(t))
	go func() { s.done <- s.a.Serve() }()
	t.Cleanup(func() {
		s.a.Shutdown()
		s.a.Wait()
	})
	return s
}

func (s *serving) connect(t *testing.T) *Channel {
	t.Helper()
	c := NewConnector(s.tr, DefaultServiceUUID, time.Second, testLogger(t))
	o := <-c.Start(context.Background(), testPeer)
	ready, ok := o.(Ready)
	require.True(t, ok, "outcome %#v", o)
	return ready.Channel
}

func (s *serving) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return s.a.Active() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestSessionLeftRightLeft(t *testing.T) {
	s := startServing(t)
	ch := s.connect(t)

	for _, cmd := range []Command{CmdLeft, CmdRight, CmdLeft} {
		require.NoError(t, ch.Send(cmd))
	}
	require.NoError(t, ch.Close())

	s.waitIdle(t)
	assert.Equal(t, []Direction{DirLeft, DirRight, DirLeft}, s.inj.presses())
}

func TestAcceptorKeepsAccepting(t *testing.T) {
	s := startServing(t)

	first := s.connect(t)
	second := s.connect(t)
	require.NoError(t, first.Send(CmdLeft))
	require.NoError(t, second.Send(CmdRight))
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())

	s.waitIdle(t)
	assert.ElementsMatch(t, []Direction{DirLeft, DirRight}, s.inj.presses())

	third := s.connect(t)
	require.NoError(t, third.Send(CmdRight))
	require.NoError(t, third.Close())
	s.waitIdle(t)
	assert.Len(t, s.inj.presses(), 3)
}

func TestAcceptorShutdownClosesSessions(t *testing.T) {
	s := startServing(t)
	ch := s.connect(t)
	require.Eventually(t, func() bool { return s.a.Active() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.a.Shutdown())
	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	s.a.Wait()

	_, err := ch.ReadByte()
	assert.Error(t, err)
	ch.Close()
}

type failingListener struct {
	err error
}

func (f failingListener) Accept() (*Channel, error) { return nil, f.err }
func (f failingListener) Close() error              { return nil }

func TestAcceptorStopsOnAcceptError(t *testing.T) {
	boom := errors.New("adapter removed")
	a := NewAcceptor(failingListener{err: boom}, &recordingInjector{}, testLogger(t))
	assert.ErrorIs(t, a.Serve(), boom)
}

func TestListenTwiceFails(t *testing.T) {
	tr := newPipeTransport()
	ln, err := tr.Listen(testServiceID(t))
	require.NoError(t, err)
	defer ln.Close()

	_, err = tr.Listen(testServiceID(t))
	assert.Error(t, err)
}
