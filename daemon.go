package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// runServe binds the service and serves until SIGINT/SIGTERM. Only a failure
// to bind is returned before serving starts.
func runServe(cfg Config) error {
	service, err := cfg.serviceID()
	if err != nil {
		return err
	}

	tr, err := newTransport(cfg)
	if err != nil {
		return fmt.Errorf("bind %s: %w", service, err)
	}
	defer tr.Close()

	ln, err := tr.Listen(service)
	if err != nil {
		return fmt.Errorf("bind %s: %w", service, err)
	}

	injector, closeInjector := newInjector(cfg)
	defer func() {
		if err := closeInjector(); err != nil {
			logger.Warnf("close injector: %v", err)
		}
	}()

	a := NewAcceptor(ln, injector, logger.Named("acceptor"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("serving %s (%s) over %s", cfg.ServiceName, service, cfg.Transport)
	return serve(ctx, a)
}

// serve runs the accept loop until ctx is done or the loop ends on its own,
// then shuts the acceptor down and waits for its workers.
func serve(ctx context.Context, a *Acceptor) error {
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return a.Serve()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return a.Shutdown()
	})
	err := g.Wait()
	a.Wait()
	return err
}
