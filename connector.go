package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Connector opens one outgoing channel per call in the background and
// reports a single outcome.
type Connector struct {
	transport Transport
	service   string
	timeout   time.Duration
	log       *zap.SugaredLogger
}

// NewConnector keeps the service identifier as text; it is parsed inside each
// attempt so a malformed identifier is reported as a failed outcome.
func NewConnector(transport Transport, service string, timeout time.Duration, log *zap.SugaredLogger) *Connector {
	return &Connector{transport: transport, service: service, timeout: timeout, log: log}
}

// Start begins a connect attempt. The returned channel delivers exactly one
// outcome and is then closed. The receiver owns the Channel of a Ready
// outcome.
func (c *Connector) Start(ctx context.Context, peer PeerDevice) <-chan ConnectOutcome {
	out := make(chan ConnectOutcome, 1)
	go func() {
		defer close(out)
		out <- c.connect(ctx, peer)
	}()
	return out
}

// StartConnect is Start for callers that want a callback. onResult is called
// once, from the connector's goroutine.
func (c *Connector) StartConnect(ctx context.Context, peer PeerDevice, onResult func(ConnectOutcome)) {
	go func() {
		onResult(c.connect(ctx, peer))
	}()
}

func (c *Connector) connect(ctx context.Context, peer PeerDevice) (outcome ConnectOutcome) {
	var ch *Channel
	defer func() {
		if r := recover(); r != nil {
			outcome = c.fail(peer, ch, fmt.Errorf("connect panicked: %v", r))
		}
	}()

	service, err := ParseServiceID(c.service)
	if err != nil {
		return c.fail(peer, nil, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.log.Infof("connecting to %s for service %s", peer, service)
	ch, err = c.transport.Dial(ctx, peer, service)
	if err != nil {
		return c.fail(peer, ch, err)
	}
	if ch == nil {
		return c.fail(peer, nil, fmt.Errorf("transport returned no channel"))
	}
	// The transport may not honor ctx and finish after the deadline anyway.
	if err := ctx.Err(); err != nil {
		return c.fail(peer, ch, err)
	}
	c.log.Infof("connected to %s", peer)
	return Ready{Peer: peer, Channel: ch}
}

// fail closes a half-open channel, if any. A close error is logged and
// dropped: the failure being reported is what matters.
func (c *Connector) fail(peer PeerDevice, ch *Channel, err error) ConnectOutcome {
	f := Failed{Peer: peer, Err: err}
	if f.TimedOut() {
		c.log.Infof("connect to %s timed out: %v", peer, err)
	} else {
		c.log.Warnf("connect to %s failed: %v", peer, err)
	}
	if ch != nil {
		if cerr := ch.Close(); cerr != nil {
			c.log.Warnf("close half-open channel to %s: %v", peer, cerr)
		}
	}
	return f
}
