// Package shutdown turns termination signals into context cancellation.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
)

// ErrSignal is the cancellation cause when a signal arrived.
var ErrSignal = errors.New("interrupted by signal")

// Context returns a context cancelled on the first termination signal.
// A second signal exits the process immediately with code 130.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, signals...)
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel(ErrSignal)
		case <-ctx.Done():
			return
		}
		select {
		case <-ch:
			os.Exit(130)
		case <-parent.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}

// Interrupted reports whether ctx was cancelled by a signal.
func Interrupted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSignal)
}
