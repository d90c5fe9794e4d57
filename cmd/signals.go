package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// TerminationSignals are those signals which are considered to be requesting
// termination. SIGTERM is emulated on Windows.
var TerminationSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}

// WithTermination returns a context that is cancelled when a termination
// signal is received. The returned function stops signal delivery and must be
// called once the context is no longer needed.
func WithTermination(parent context.Context) (context.Context, context.CancelFunc) {
	// Create a channel to track termination signals.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, TerminationSignals...)

	// Cancel the context on receipt of a signal.
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Done.
	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}
