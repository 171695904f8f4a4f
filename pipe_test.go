package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

// pipeTransport connects dialers to listeners in the same process over
// net.Pipe, keyed by service identifier.
type pipeTransport struct {
	mu        sync.Mutex
	listeners map[ServiceID]*pipeListener
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{listeners: make(map[ServiceID]*pipeListener)}
}

var errNoListener = errors.New("no listener for service")

func (t *pipeTransport) Dial(ctx context.Context, peer PeerDevice, service ServiceID) (*Channel, error) {
	t.mu.Lock()
	l := t.listeners[service]
	t.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("%w %s", errNoListener, service)
	}
	client, server := net.Pipe()
	select {
	case l.incoming <- newChannel(server, PeerDevice{Name: "client", Address: "11:22:33:44:55:66"}, service):
		return newChannel(client, peer, service), nil
	case <-l.done:
		client.Close()
		server.Close()
		return nil, ErrListenerClosed
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

func (t *pipeTransport) Listen(service ServiceID) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[service]; ok {
		return nil, fmt.Errorf("service %s already bound", service)
	}
	l := &pipeListener{t: t, service: service, incoming: make(chan *Channel), done: make(chan struct{})}
	t.listeners[service] = l
	return l, nil
}

func (t *pipeTransport) Close() error { return nil }

type pipeListener struct {
	t        *pipeTransport
	service  ServiceID
	incoming chan *Channel
	done     chan struct{}
	once     sync.Once
}

func (l *pipeListener) Accept() (*Channel, error) {
	select {
	case ch := <-l.incoming:
		return ch, nil
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.t.mu.Lock()
		delete(l.t.listeners, l.service)
		l.t.mu.Unlock()
	})
	return nil
}

// memStream serves a fixed byte sequence, then EOF (or readErr), and counts
// closes.
type memStream struct {
	r       *bytes.Reader
	readErr error
	written bytes.Buffer
	closes  atomic.Int32
}

func newMemStream(data ...byte) *memStream {
	return &memStream{r: bytes.NewReader(data)}
}

func (m *memStream) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if err == io.EOF && m.readErr != nil {
		return n, m.readErr
	}
	return n, err
}

func (m *memStream) Write(p []byte) (int, error) { return m.written.Write(p) }

func (m *memStream) Close() error {
	m.closes.Add(1)
	return nil
}

// recordingInjector remembers every press in order.
type recordingInjector struct {
	mu     sync.Mutex
	got    []Direction
	failOn Direction
	panics bool
}

func (r *recordingInjector) PressAndRelease(dir Direction) error {
	if r.panics && dir == r.failOn {
		panic("synthetic input denied")
	}
	if dir == r.failOn {
		return errors.New("synthetic input denied")
	}
	r.mu.Lock()
	r.got = append(r.got, dir)
	r.mu.Unlock()
	return nil
}

func (r *recordingInjector) presses() []Direction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Direction(nil), r.got...)
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	return zap.NewNop().Sugar()
}

func testServiceID(t *testing.T) ServiceID {
	t.Helper()
	id, err := ParseServiceID(DefaultServiceUUID)
	if err != nil {
		t.Fatalf("parse default service id: %v", err)
	}
	return id
}
