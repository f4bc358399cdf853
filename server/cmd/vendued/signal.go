// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// shutdownRequestChannel is used to request the daemon be shutdown from one
// of the subsystems using the same code paths as when an interrupt signal is
// received.
var shutdownRequestChannel = make(chan struct{})

// interruptSignals defines the signals that are handled to do a clean
// shutdown.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// shutdownRequested is closed by shutdownListener once a shutdown has been
// requested by any means.
var shutdownRequested = make(chan struct{})

// withShutdownCancel returns a copy of the parent context that is canceled
// when a shutdown is requested.
func withShutdownCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-shutdownRequested
		cancel()
	}()
	return ctx
}

// requestShutdown signals for the daemon to stop.
func requestShutdown() {
	shutdownRequestChannel <- struct{}{}
}

// shutdownListener listens for OS signals and shutdown requests, closing
// shutdownRequested on the first of either. Subsequent interrupt signals are
// logged but otherwise ignored while shutdown completes.
func shutdownListener() {
	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, interruptSignals...)

	select {
	case sig := <-interruptChannel:
		log.Infof("Received signal (%s). Shutting down...", sig)
	case <-shutdownRequestChannel:
		log.Info("Shutdown requested. Shutting down...")
	}
	close(shutdownRequested)

	// Drain any further requests so callers of requestShutdown never block.
	for {
		select {
		case <-interruptChannel:
			log.Info("Shutdown signaled. Already shutting down...")
		case <-shutdownRequestChannel:
		}
	}
}
