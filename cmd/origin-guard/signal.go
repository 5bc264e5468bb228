package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// interruptSignals defines the signals that trigger a graceful shutdown.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// shutdownListener returns a context that is canceled when an interrupt
// signal is received.  Repeated signals are logged so the user knows the
// shutdown is in progress and the process is not hung.
func shutdownListener() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		interruptChannel := make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)

		sig := <-interruptChannel
		ogrdLog.Infof("Received signal (%s).  Shutting down...", sig)
		cancel()

		for sig := range interruptChannel {
			ogrdLog.Infof("Received signal (%s).  Already shutting down...", sig)
		}
	}()
	return ctx
}
