package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const profileRoot = "/org/btremote/profile"

// errProfileReleased is returned by Accept once BlueZ has dropped our
// profile, typically because bluetoothd went away.
var errProfileReleased = errors.New("profile released by bluez")

type profileRole string

const (
	roleClient profileRole = "client"
	roleServer profileRole = "server"
)

type incomingConn struct {
	device dbus.ObjectPath
	fd     int
}

// profile is the org.bluez.Profile1 object BlueZ calls back into with the
// socket of every connection made for our service.
type profile struct {
	path dbus.ObjectPath
	role profileRole
	log  *zap.SugaredLogger

	mu       sync.Mutex
	waiting  map[dbus.ObjectPath]chan int // client: dials in flight, by device
	incoming chan incomingConn            // server: accepted, not yet taken
	released bool
	gone     chan struct{} // closed by Release
}

func newProfile(role profileRole, log *zap.SugaredLogger) *profile {
	return &profile{
		path:     dbus.ObjectPath(profileRoot + "/" + string(role)),
		role:     role,
		log:      log,
		waiting:  make(map[dbus.ObjectPath]chan int),
		incoming: make(chan incomingConn, 4),
		gone:     make(chan struct{}),
	}
}

func (p *profile) Release() *dbus.Error {
	p.log.Warnf("profile %s released by bluez", p.path)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.released {
		p.released = true
		close(p.gone)
	}
	return nil
}

func (p *profile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, props map[string]dbus.Variant) *dbus.Error {
	n := int(fd)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.role == roleClient {
		ch, ok := p.waiting[device]
		if !ok {
			unix.Close(n)
			return dbus.NewError("org.bluez.Error.Rejected", []interface{}{"no connect in progress"})
		}
		delete(p.waiting, device)
		ch <- n
		return nil
	}

	if p.released {
		unix.Close(n)
		return dbus.NewError("org.bluez.Error.Rejected", []interface{}{"not listening"})
	}
	select {
	case p.incoming <- incomingConn{device: device, fd: n}:
		return nil
	default:
		unix.Close(n)
		return dbus.NewError("org.bluez.Error.Rejected", []interface{}{"busy"})
	}
}

func (p *profile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	p.log.Debugf("bluez requested disconnection of %s", device)
	return nil
}

// next waits for a socket handed to the server profile. It fails with
// ErrListenerClosed once done is closed and with errProfileReleased once
// BlueZ releases the profile.
func (p *profile) next(done <-chan struct{}) (incomingConn, error) {
	select {
	case <-done:
		return incomingConn{}, ErrListenerClosed
	default:
	}
	select {
	case in := <-p.incoming:
		return in, nil
	case <-done:
		return incomingConn{}, ErrListenerClosed
	case <-p.gone:
		return incomingConn{}, errProfileReleased
	}
}

// stop refuses further connections and closes sockets nobody will accept.
func (p *profile) stop() {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
	for {
		select {
		case in := <-p.incoming:
			unix.Close(in.fd)
		default:
			return
		}
	}
}

// expect registers a dial in flight for device. The returned channel receives
// the socket if BlueZ delivers one.
func (p *profile) expect(device dbus.ObjectPath) chan int {
	ch := make(chan int, 1)
	p.mu.Lock()
	p.waiting[device] = ch
	p.mu.Unlock()
	return ch
}

// forget drops the waiter for device. A socket that was delivered but never
// taken is closed.
func (p *profile) forget(device dbus.ObjectPath, ch chan int) {
	p.mu.Lock()
	if p.waiting[device] == ch {
		delete(p.waiting, device)
	}
	p.mu.Unlock()
	select {
	case fd := <-ch:
		unix.Close(fd)
	default:
	}
}

// bluezTransport opens channels through BlueZ profiles, so the service
// identifier is resolved by BlueZ's own SDP handling.
type bluezTransport struct {
	bz      *bluez
	name    string
	channel uint8
	log     *zap.SugaredLogger

	mu     sync.Mutex
	client *profile
	server *profile
}

func newBluezTransport(cfg Config) (*bluezTransport, error) {
	bz, err := newBluez(cfg.Adapter)
	if err != nil {
		return nil, err
	}
	return &bluezTransport{
		bz:      bz,
		name:    cfg.ServiceName,
		channel: cfg.Channel,
		log:     logger.Named("bluez"),
	}, nil
}

func (t *bluezTransport) register(p *profile, service ServiceID) error {
	if err := t.bz.conn.Export(p, p.path, profileIface); err != nil {
		return fmt.Errorf("export profile: %w", err)
	}
	opts := map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant(t.name),
		"Role":                  dbus.MakeVariant(string(p.role)),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
		"AutoConnect":           dbus.MakeVariant(false),
	}
	if p.role == roleServer && t.channel != 0 {
		opts["Channel"] = dbus.MakeVariant(uint16(t.channel))
	}
	if err := t.bz.registerProfile(p.path, service, opts); err != nil {
		t.bz.conn.Export(nil, p.path, profileIface)
		return fmt.Errorf("register %s profile for %s: %w", p.role, service, err)
	}
	return nil
}

func (t *bluezTransport) unregister(p *profile) {
	if err := t.bz.unregisterProfile(p.path); err != nil {
		t.log.Warnf("unregister profile %s: %v", p.path, err)
	}
	t.bz.conn.Export(nil, p.path, profileIface)
}

func (t *bluezTransport) clientProfile(service ServiceID) (*profile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	p := newProfile(roleClient, t.log)
	if err := t.register(p, service); err != nil {
		return nil, err
	}
	t.client = p
	return p, nil
}

// Dial asks BlueZ to connect our profile on the device and waits for the
// socket to be handed to the profile object. Cancelling ctx stops waiting
// but BlueZ may still finish the page in the background.
func (t *bluezTransport) Dial(ctx context.Context, peer PeerDevice, service ServiceID) (*Channel, error) {
	if _, err := ParseAddress(peer.Address); err != nil {
		return nil, err
	}
	if err := t.bz.checkAdapter(); err != nil {
		return nil, err
	}
	p, err := t.clientProfile(service)
	if err != nil {
		return nil, err
	}

	dev := deviceObjectPath(t.bz.adapter, peer.Address)
	fdCh := p.expect(dev)
	defer p.forget(dev, fdCh)

	obj := t.bz.conn.Object(busName, dev)
	call := obj.GoWithContext(ctx, deviceIface+".ConnectProfile", 0, make(chan *dbus.Call, 1), service.String())

	select {
	case fd := <-fdCh:
		return t.wrap(fd, peer, service)
	case c := <-call.Done:
		if c.Err != nil {
			return nil, fmt.Errorf("connect profile on %s: %w", peer.Address, c.Err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// ConnectProfile may return before NewConnection is dispatched.
	select {
	case fd := <-fdCh:
		return t.wrap(fd, peer, service)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *bluezTransport) wrap(fd int, peer PeerDevice, service ServiceID) (*Channel, error) {
	f, err := fdStream(fd, "rfcomm:"+peer.Address)
	if err != nil {
		return nil, err
	}
	return newChannel(f, peer, service), nil
}

// Listen registers the server profile. BlueZ refuses a second registration
// of the same identifier, which is reported as the bind failure.
func (t *bluezTransport) Listen(service ServiceID) (Listener, error) {
	if err := t.bz.checkAdapter(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.server != nil {
		return nil, fmt.Errorf("service %s already bound", service)
	}
	p := newProfile(roleServer, t.log)
	if err := t.register(p, service); err != nil {
		return nil, err
	}
	t.server = p
	return &bluezListener{t: t, p: p, service: service, done: make(chan struct{})}, nil
}

func (t *bluezTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client != nil {
		t.unregister(client)
	}
	return t.bz.close()
}

type bluezListener struct {
	t       *bluezTransport
	p       *profile
	service ServiceID

	once sync.Once
	done chan struct{}
}

func (l *bluezListener) Accept() (*Channel, error) {
	in, err := l.p.next(l.done)
	if err != nil {
		return nil, err
	}
	addr := macFromPath(l.t.bz.adapter, in.device)
	peer := PeerDevice{Address: addr}
	if name, err := l.t.bz.getProp(in.device, deviceIface, "Name"); err == nil {
		peer.Name, _ = name.Value().(string)
	}
	return l.t.wrap(in.fd, peer, l.service)
}

func (l *bluezListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.p.stop()
		l.t.unregister(l.p)

		l.t.mu.Lock()
		l.t.server = nil
		l.t.mu.Unlock()
	})
	return nil
}
